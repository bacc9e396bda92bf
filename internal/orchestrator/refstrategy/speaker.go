package refstrategy

import (
	"context"
	"fmt"
	"strings"
	"sync"

	claudemodel "github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/gatewright/gatewright/internal/obs"
	"github.com/gatewright/gatewright/internal/orchestrator"
)

const defaultModel = "claude-sonnet-4-6"

// modelSpeaker turns the assembled context + tool results into the final
// reply through an eino ChatModel.
type modelSpeaker struct {
	cm model.ToolCallingChatModel

	mu            sync.Mutex
	lastTokensIn  int
	lastTokensOut int
}

func newModelSpeaker(ctx context.Context, cfg Config) (*modelSpeaker, error) {
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	cm, err := claudemodel.NewChatModel(ctx, &claudemodel.Config{
		APIKey:    cfg.APIKey,
		Model:     modelName,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("init chat model: %w", err)
	}
	return &modelSpeaker{cm: cm}, nil
}

// Speak implements orchestrator.Speaker.
func (s *modelSpeaker) Speak(ctx context.Context, pc orchestrator.PromptContext, agg orchestrator.AggregateResult) (string, error) {
	msgs := []*schema.Message{schema.SystemMessage(pc.SystemPrompt)}
	msgs = append(msgs, historyMessages(pc.History)...)

	if len(agg.ToolResults) > 0 {
		msgs = append(msgs, schema.UserMessage("Tool results:\n"+strings.Join(agg.ToolResults, "\n")))
	}

	resp, err := s.cm.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}

	if resp.ResponseMeta != nil && resp.ResponseMeta.Usage != nil {
		s.mu.Lock()
		s.lastTokensIn = resp.ResponseMeta.Usage.PromptTokens
		s.lastTokensOut = resp.ResponseMeta.Usage.CompletionTokens
		s.mu.Unlock()
	}

	return resp.Content, nil
}

func (s *modelSpeaker) lastUsage() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTokensIn, s.lastTokensOut
}

// historyMessages maps recent session Observations into chat messages:
// agent emits become assistant turns, everything else with text becomes a
// user turn. Non-MESSAGE observations are folded in as short user notes so
// alerts and schedule ticks stay visible to the model.
func historyMessages(history []obs.Observation) []*schema.Message {
	var msgs []*schema.Message
	for _, o := range history {
		switch p := o.Payload.(type) {
		case obs.MessagePayload:
			if strings.TrimSpace(p.Text) == "" {
				continue
			}
			if o.IsFromAgent() {
				msgs = append(msgs, schema.AssistantMessage(p.Text, nil))
			} else {
				msgs = append(msgs, schema.UserMessage(p.Text))
			}
		case obs.AlertPayload:
			msgs = append(msgs, schema.UserMessage(fmt.Sprintf("[alert %s/%s] %s", p.AlertType, p.Severity, p.Message)))
		case obs.SchedulePayload:
			msgs = append(msgs, schema.UserMessage(fmt.Sprintf("[schedule fired: %s]", p.ScheduleID)))
		}
	}
	return msgs
}
