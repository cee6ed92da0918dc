// Package gemini streams replies from the Gemini API into the chat core.
package gemini

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"google.golang.org/genai"

	"quantumchat/chat"
)

const (
	DefaultModel = "gemini-2.5-flash"

	// HistoryLimit caps how many earlier messages are sent as context.
	HistoryLimit = 20
)

type streamFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]

type Config struct {
	APIKey string
	Model  string
}

// Generator implements chat.Generator on top of genai streaming.
type Generator struct {
	model  string
	stream streamFunc
}

// New returns a Generator. With an empty API key the generator reports
// itself unconfigured and the coordinator uses its fallback reply.
func New(ctx context.Context, cfg Config) (*Generator, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	if cfg.APIKey == "" {
		return &Generator{model: model}, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Generator{model: model, stream: client.Models.GenerateContentStream}, nil
}

func (g *Generator) Configured() bool { return g.stream != nil }

func (g *Generator) GenerateStream(ctx context.Context, prompt string, history []chat.Message, token *chat.CancelToken, onChunk chat.ChunkFunc) error {
	if g.stream == nil {
		return fmt.Errorf("gemini: no API key configured")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-token.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	contents := buildContents(prompt, history)
	for resp, err := range g.stream(ctx, g.model, contents, nil) {
		if token.Cancelled() {
			return nil
		}
		if err != nil {
			return fmt.Errorf("gemini stream: %w", err)
		}
		if reason := blockReason(resp); reason != "" {
			onChunk(chat.Chunk{Err: reason})
			return nil
		}
		if text := resp.Text(); text != "" {
			onChunk(chat.Chunk{Text: text})
		}
	}
	if token.Cancelled() {
		return nil
	}
	onChunk(chat.Chunk{Done: true})
	return nil
}

func buildContents(prompt string, history []chat.Message) []*genai.Content {
	if len(history) > HistoryLimit {
		history = history[len(history)-HistoryLimit:]
	}

	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		if m.IsError || m.IsStreaming || m.Text == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if m.Role == chat.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}
	return append(contents, genai.NewContentFromText(prompt, genai.RoleUser))
}

func blockReason(resp *genai.GenerateContentResponse) string {
	if resp == nil || resp.PromptFeedback == nil || resp.PromptFeedback.BlockReason == "" {
		return ""
	}
	fb := resp.PromptFeedback
	slog.Warn("gemini prompt blocked", "reason", fb.BlockReason)
	if fb.BlockReasonMessage != "" {
		return fb.BlockReasonMessage
	}
	return "prompt blocked: " + string(fb.BlockReason)
}
