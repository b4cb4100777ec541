// Package gemini adapts the Google GenAI (Gemini) API to model.Model.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/hupe1980/underwriter/model"
)

// Options configures the Gemini model.
type Options struct {
	Model           string
	Temperature     float32
	MaxOutputTokens int32
	APIKey          string
}

// Model implements model.Model with Gemini.
type Model struct {
	client *genai.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:           "gemini-2.5-flash",
		Temperature:     0,
		MaxOutputTokens: 1024,
	}
}

// NewModel creates a model backed by the Gemini API.
func NewModel(ctx context.Context, optFns ...func(o *Options)) (*Model, error) {
	opts := defaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Model{client: client, opts: opts}, nil
}

// NewModelFromClient wraps an existing client.
func NewModelFromClient(client *genai.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Model{client: client, opts: opts}
}

// Generate sends one GenerateContent request.
func (m *Model) Generate(ctx context.Context, req model.Request) (model.Response, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(m.opts.Temperature),
		MaxOutputTokens: m.opts.MaxOutputTokens,
	}

	if req.Instructions != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.Instructions, genai.RoleUser)
	}

	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := m.client.Models.GenerateContent(ctx, m.opts.Model, buildContents(req.Messages), cfg)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.Response{}, ctxErr
		}

		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return model.Response{}, model.ClassifyStatus("gemini", apiErr.Code, err)
		}

		return model.Response{}, model.ClassifyStatus("gemini", 0, err)
	}

	out := model.Response{
		ID:           resp.ResponseID,
		Text:         resp.Text(),
		FinishReason: "stop",
	}

	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
		out.FinishReason = string(resp.Candidates[0].FinishReason)
	}

	if u := resp.UsageMetadata; u != nil {
		out.Usage = &model.TokenUsage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}

	return out, nil
}

func buildContents(msgs []model.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(msgs))

	for _, msg := range msgs {
		role := genai.Role(genai.RoleUser)
		if msg.Role == model.RoleAssistant {
			role = genai.RoleModel
		}

		contents = append(contents, genai.NewContentFromText(msg.Text, role))
	}

	return contents
}

// Info describes the configured model.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:     m.opts.Model,
		Provider: "gemini",
	}
}
