package eventlog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/agentkernel/kernel/pkg/models"
)

// SlackNotifier posts a subset of EventLog entries to a fixed Slack
// channel, mirroring the teacher's channels/slack adapter's block-message
// construction but as a one-way EventLog Listener rather than a full
// bidirectional channel adapter.
type SlackNotifier struct {
	client    *slack.Client
	channelID string
	log       *slog.Logger
	notify    map[models.EventType]bool
}

// NewSlackNotifier creates a notifier posting to channelID using token.
// Only event types in notify trigger a post; pass nil to default to
// complete/error/policy_denied, the events an operator actually wants to
// know about without watching a dashboard.
func NewSlackNotifier(token, channelID string, notify map[models.EventType]bool, log *slog.Logger) *SlackNotifier {
	if notify == nil {
		notify = map[models.EventType]bool{
			models.EventComplete:     true,
			models.EventError:        true,
			models.EventPolicyDenied: true,
		}
	}
	return &SlackNotifier{
		client:    slack.New(token),
		channelID: channelID,
		log:       log,
		notify:    notify,
	}
}

// Listener returns an eventlog.Listener suitable for Log.Subscribe.
func (n *SlackNotifier) Listener() Listener {
	return func(e models.EventEntry) {
		if !n.notify[e.Type] {
			return
		}
		text := n.render(e)
		textBlock := slack.NewTextBlockObject("mrkdwn", text, false, false)
		section := slack.NewSectionBlock(textBlock, nil, nil)
		_, _, err := n.client.PostMessageContext(context.Background(), n.channelID,
			slack.MsgOptionBlocks(section))
		if err != nil {
			n.log.Warn("slack notify failed", "event_id", e.ID, "error", err)
		}
	}
}

func (n *SlackNotifier) render(e models.EventEntry) string {
	switch e.Type {
	case models.EventComplete:
		reason := ""
		if e.Data.Complete != nil {
			reason = e.Data.Complete.Reason
		}
		return fmt.Sprintf("activation `%s` completed: %s", e.ActivationID, reason)
	case models.EventError:
		return fmt.Sprintf("activation `%s` error: %s", e.ActivationID, e.Data.Message)
	case models.EventPolicyDenied:
		if e.Data.PolicyDenied != nil {
			return fmt.Sprintf("activation `%s` denied tool `%s`: %s",
				e.ActivationID, e.Data.PolicyDenied.ToolName, e.Data.PolicyDenied.Reason)
		}
		return fmt.Sprintf("activation `%s` policy denied", e.ActivationID)
	default:
		return fmt.Sprintf("activation `%s` event `%s`", e.ActivationID, e.Type)
	}
}
