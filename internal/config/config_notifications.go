package config

// NotificationsConfig configures the EventLog's optional Slack listener
// (internal/eventlog.SlackNotifier). Trimmed from the teacher's
// SlackConfig down to what posting a one-way notification needs: no
// AppToken/SigningSecret/DM/Group/Canvas, since the kernel never receives
// inbound Slack events, only posts outbound ones.
type NotificationsConfig struct {
	Slack SlackConfig `yaml:"slack"`
}

type SlackConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}
