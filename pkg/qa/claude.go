package qa

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

const claudeSystemPrompt = "You answer questions about institutional policy. " +
	"Answer concisely in the language of the question. If you are not sure, say so."

// claudeService answers questions directly with a Claude model, for
// deployments without a retrieval backend. Answers carry no citations.
type claudeService struct {
	client    sdk.Client
	model     string
	maxTokens int64
}

// NewClaude creates a Claude-backed QA service.
func NewClaude(apiKey, model string, maxTokens int64) Service {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &claudeService{
		client: sdk.NewClient(
			option.WithAPIKey(apiKey),
		),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (s *claudeService) Ask(ctx context.Context, question, _ string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, eris.New("qa: empty question")
	}

	msg, err := s.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(s.model),
		MaxTokens: s.maxTokens,
		System: []sdk.TextBlockParam{
			{Text: claudeSystemPrompt},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(question)),
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "qa: create message")
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, eris.New("qa: empty answer")
	}

	return &Answer{Text: text}, nil
}

// Health is optimistic: the API is remote and metered, so no probe is sent.
func (s *claudeService) Health(context.Context) bool {
	return true
}
