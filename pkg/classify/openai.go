package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/pipeheal/pipeheal/pkg/types"
)

// OpenAIProvider asks a chat model to classify the failure. A malformed
// or unparseable answer is an error so the chain can fall through to
// the rule-based classifier.
type OpenAIProvider struct {
	client         *openai.Client
	model          string
	knownTypes     []string
}

// NewOpenAIProvider creates the AI provider
func NewOpenAIProvider(apiKey, model string, knownErrorTypes []string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIProvider{
		client:     openai.NewClient(apiKey),
		model:      model,
		knownTypes: knownErrorTypes,
	}, nil
}

// Name implements Provider
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Classify implements Provider
func (p *OpenAIProvider) Classify(ctx context.Context, failure types.FailureEvent) (types.Classification, error) {
	req := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: p.buildPrompt(failure)},
		},
		Temperature: 0.1,
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return types.Classification{}, fmt.Errorf("openai call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return types.Classification{}, fmt.Errorf("openai returned no choices")
	}

	verdict, err := parseResponse(resp.Choices[0].Message.Content)
	if err != nil {
		return types.Classification{}, err
	}
	if !p.knownType(verdict.ErrorType) {
		return types.Classification{}, fmt.Errorf("openai returned unknown error type %q", verdict.ErrorType)
	}
	return verdict, nil
}

const systemPrompt = `You are a data-pipeline incident classifier. ` +
	`Answer with a single JSON object and nothing else.`

func (p *OpenAIProvider) buildPrompt(failure types.FailureEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Classify this %s failure.\n\n", failure.Source)
	fmt.Fprintf(&b, "Error message:\n%s\n\n", failure.ErrorMessage)
	if failure.PipelineName != "" {
		fmt.Fprintf(&b, "Pipeline: %s\n", failure.PipelineName)
	}
	if failure.JobID != "" {
		fmt.Fprintf(&b, "Job: %s\n", failure.JobID)
	}
	fmt.Fprintf(&b, "\nPick error_type from this list:\n%s\n\n", strings.Join(p.knownTypes, "\n"))
	b.WriteString(`Respond with JSON: {"error_type": "...", "auto_heal_possible": true|false, ` +
		`"severity": "low|medium|high", "root_cause": "...", "recommendations": ["..."]}`)
	return b.String()
}

// parseResponse tolerates models that wrap the JSON in a code fence
func parseResponse(content string) (types.Classification, error) {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "{"); idx > 0 {
		content = content[idx:]
	}
	if idx := strings.LastIndex(content, "}"); idx >= 0 {
		content = content[:idx+1]
	}

	var verdict types.Classification
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		return types.Classification{}, fmt.Errorf("unparseable model response: %w", err)
	}
	if verdict.ErrorType == "" {
		return types.Classification{}, fmt.Errorf("model response has no error_type")
	}
	return verdict, nil
}

func (p *OpenAIProvider) knownType(errorType string) bool {
	for _, t := range p.knownTypes {
		if t == errorType {
			return true
		}
	}
	return false
}
