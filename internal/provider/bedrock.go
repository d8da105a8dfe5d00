package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	awscfg "github.com/aws/aws-sdk-go-v2/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/agentkernel/kernel/pkg/models"
)

// BedrockProvider wraps AWS Bedrock's ConverseStream API, grounded on the
// teacher's providers.BedrockProvider.Complete/processStream.
type BedrockProvider struct {
	client   *bedrockruntime.Client
	abortReg *abortRegistry
}

// NewBedrockProvider creates a provider using the default AWS credential
// chain for region.
func NewBedrockProvider(ctx context.Context, region string) (*BedrockProvider, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &BedrockProvider{
		client:   bedrockruntime.NewFromConfig(cfg),
		abortReg: newAbortRegistry(),
	}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) Abort(sessionID string) { p.abortReg.abort(sessionID) }

func (p *BedrockProvider) Chat(ctx context.Context, sessionID string, req ChatRequest) (ChatResponse, error) {
	ctx = p.abortReg.track(ctx, sessionID)

	messages, err := toBedrockMessages(req.History)
	if err != nil {
		p.abortReg.untrack(sessionID)
		return ChatResponse{}, err
	}

	converseReq := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(req.Model),
		Messages: messages,
	}
	if req.System != "" {
		converseReq.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}
	if req.MaxTokens > 0 {
		converseReq.InferenceConfig = &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(req.MaxTokens)),
		}
	}
	if len(req.Tools) > 0 {
		converseReq.ToolConfig = toBedrockToolConfig(req.Tools)
	}

	stream, err := p.client.ConverseStream(ctx, converseReq)
	if err != nil {
		p.abortReg.untrack(sessionID)
		return ChatResponse{}, fmt.Errorf("bedrock converse stream: %w", err)
	}

	chunks := make(chan StreamChunk)
	go func() {
		defer close(chunks)
		defer p.abortReg.untrack(sessionID)

		eventStream := stream.GetStream()
		defer eventStream.Close()

		var currentToolCall *models.ToolCall
		var toolInput strings.Builder

		for {
			select {
			case <-ctx.Done():
				chunks <- StreamChunk{Type: ChunkError, Err: ctx.Err()}
				return
			case event, ok := <-eventStream.Events():
				if !ok {
					if err := eventStream.Err(); err != nil {
						chunks <- StreamChunk{Type: ChunkError, Err: err}
					} else {
						chunks <- StreamChunk{Type: ChunkDone}
					}
					return
				}
				switch ev := event.(type) {
				case *types.ConverseStreamOutputMemberContentBlockStart:
					if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
						currentToolCall = &models.ToolCall{
							ID:   aws.ToString(toolUse.Value.ToolUseId),
							Name: aws.ToString(toolUse.Value.Name),
						}
						toolInput.Reset()
					}
				case *types.ConverseStreamOutputMemberContentBlockDelta:
					switch delta := ev.Value.Delta.(type) {
					case *types.ContentBlockDeltaMemberText:
						if delta.Value != "" {
							chunks <- StreamChunk{Type: ChunkText, Text: delta.Value}
						}
					case *types.ContentBlockDeltaMemberToolUse:
						if delta.Value.Input != nil {
							toolInput.WriteString(*delta.Value.Input)
						}
					}
				case *types.ConverseStreamOutputMemberContentBlockStop:
					if currentToolCall != nil {
						currentToolCall.Input = json.RawMessage(toolInput.String())
						chunks <- StreamChunk{Type: ChunkToolCall, ToolCall: currentToolCall}
						currentToolCall = nil
					}
				case *types.ConverseStreamOutputMemberMessageStop:
					chunks <- StreamChunk{Type: ChunkDone}
					return
				}
			}
		}
	}()

	return ChatResponse{
		Chunks:         chunks,
		ModelSideState: func() json.RawMessage { return req.ModelSideState },
	}, nil
}

func toBedrockMessages(history []models.Message) ([]types.Message, error) {
	out := make([]types.Message, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case models.RoleUser:
			out = append(out, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
			})
		case models.RoleAssistant:
			blocks := []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}}
			out = append(out, types.Message{Role: types.ConversationRoleAssistant, Content: blocks})
		case models.RoleTool:
			for _, tr := range m.ToolResults {
				out = append(out, types.Message{
					Role: types.ConversationRoleUser,
					Content: []types.ContentBlock{&types.ContentBlockMemberToolResult{
						Value: types.ToolResultBlock{
							ToolUseId: aws.String(tr.ToolCallID),
							Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: tr.Content}},
						},
					}},
				})
			}
		}
	}
	return out, nil
}

func toBedrockToolConfig(tools []Tool) *types.ToolConfiguration {
	specs := make([]types.Tool, 0, len(tools))
	for _, t := range tools {
		var schemaDoc map[string]interface{}
		_ = json.Unmarshal(t.Schema, &schemaDoc)
		specs = append(specs, &types.ToolMemberToolSpec{
			Value: types.ToolSpec{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schemaDoc)},
			},
		})
	}
	return &types.ToolConfiguration{Tools: specs}
}
