// Package geminiprov adapts the Gemini GenerateContent API to llm.Provider.
package geminiprov

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	genai "google.golang.org/genai"

	"github.com/manifold-labs/chatmemory/internal/config"
	"github.com/manifold-labs/chatmemory/internal/llm"
	"github.com/manifold-labs/chatmemory/internal/observability"
)

type Client struct {
	client      *genai.Client
	model       string
	httpOptions genai.HTTPOptions
}

// New builds a Gemini client from cfg. httpClient may be nil to use
// http.DefaultClient.
func New(cfg config.ProviderConfig, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.0-flash"
	}

	httpOpts := genai.HTTPOptions{}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		httpOpts.BaseURL = strings.TrimSuffix(base, "/") + "/"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      strings.TrimSpace(cfg.APIKey),
		HTTPClient:  httpClient,
		HTTPOptions: httpOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("geminiprov: init client: %w", err)
	}
	return &Client{client: client, model: model, httpOptions: httpOpts}, nil
}

func (c *Client) pickModel(model string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return c.model
}

// toContents adapts chat-style messages to Gemini's Content list. Unlike the
// teacher's adapter, this never round-trips tool calls or thought
// signatures: tool-use is out of scope here, so every message is either a
// user turn or a model turn.
func toContents(msgs []llm.Message) ([]*genai.Content, error) {
	if len(msgs) == 0 {
		return nil, fmt.Errorf("geminiprov: messages required")
	}
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		var genaiRole string
		text := m.Content
		switch role {
		case "", "user":
			genaiRole = genai.RoleUser
		case "system":
			genaiRole = genai.RoleUser
			text = "[system] " + text
		case "assistant":
			genaiRole = genai.RoleModel
		default:
			return nil, fmt.Errorf("geminiprov: unsupported role %q", m.Role)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		contents = append(contents, genai.NewContentFromParts([]*genai.Part{{Text: text}}, genaiRole))
	}
	return contents, nil
}

func (c *Client) contentConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{HTTPOptions: &c.httpOptions}
}

func (c *Client) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	effectiveModel := c.pickModel(model)
	contents, err := toContents(msgs)
	if err != nil {
		return llm.Message{}, err
	}

	ctx, span := llm.StartRequestSpan(ctx, "Gemini Chat", effectiveModel, len(tools), len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)
	log := observability.LoggerWithTrace(ctx)

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, effectiveModel, contents, c.contentConfig())
	dur := time.Since(start)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("model", effectiveModel).Dur("duration", dur).Msg("gemini_chat_error")
		return llm.Message{}, err
	}

	out, err := messageFromResponse(resp)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Dur("duration", dur).Msg("gemini_chat_response_error")
		return llm.Message{}, err
	}
	llm.LogRedactedResponse(ctx, resp)

	var promptTokens, completionTokens int
	if resp.UsageMetadata != nil {
		promptTokens = int(resp.UsageMetadata.PromptTokenCount)
		completionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	llm.RecordTokenAttributes(span, promptTokens, completionTokens, promptTokens+completionTokens)
	llm.RecordTokenMetrics(effectiveModel, promptTokens, completionTokens)
	log.Debug().Str("model", effectiveModel).Dur("duration", dur).Msg("gemini_chat_ok")
	return out, nil
}

func (c *Client) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	effectiveModel := c.pickModel(model)
	contents, err := toContents(msgs)
	if err != nil {
		return err
	}

	ctx, span := llm.StartRequestSpan(ctx, "Gemini ChatStream", effectiveModel, len(tools), len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)
	log := observability.LoggerWithTrace(ctx)

	start := time.Now()
	var promptTokens, completionTokens int
	for resp, err := range c.client.Models.GenerateContentStream(ctx, effectiveModel, contents, c.contentConfig()) {
		if err != nil {
			span.RecordError(err)
			log.Error().Err(err).Str("model", effectiveModel).Dur("duration", time.Since(start)).Msg("gemini_stream_error")
			return err
		}
		if resp == nil {
			continue
		}
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			err := fmt.Errorf("geminiprov: request blocked: %s", resp.PromptFeedback.BlockReason)
			span.RecordError(err)
			return err
		}
		msg, msgErr := messageFromResponse(resp)
		if msgErr == nil {
			if msg.Content != "" && h != nil {
				h.OnDelta(msg.Content)
			}
			for _, img := range msg.Images {
				if h != nil {
					h.OnImage(img)
				}
			}
		}
		if resp.UsageMetadata != nil {
			promptTokens = int(resp.UsageMetadata.PromptTokenCount)
			completionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}
	}

	llm.RecordTokenAttributes(span, promptTokens, completionTokens, promptTokens+completionTokens)
	if promptTokens > 0 || completionTokens > 0 {
		llm.RecordTokenMetrics(effectiveModel, promptTokens, completionTokens)
	}
	log.Debug().Str("model", effectiveModel).Dur("duration", time.Since(start)).Msg("gemini_stream_ok")
	return nil
}

func messageFromResponse(resp *genai.GenerateContentResponse) (llm.Message, error) {
	if resp == nil {
		return llm.Message{}, fmt.Errorf("geminiprov: nil response")
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return llm.Message{}, fmt.Errorf("geminiprov: request blocked: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return llm.Message{Role: "assistant"}, nil
	}
	candidate := resp.Candidates[0]
	switch candidate.FinishReason {
	case genai.FinishReasonSafety:
		return llm.Message{}, fmt.Errorf("geminiprov: response blocked by safety filters")
	case genai.FinishReasonRecitation:
		return llm.Message{}, fmt.Errorf("geminiprov: response blocked due to recitation")
	}
	if candidate.Content == nil {
		return llm.Message{Role: "assistant"}, nil
	}

	var sb strings.Builder
	var images []llm.GeneratedImage
	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if part.InlineData != nil {
			images = append(images, llm.GeneratedImage{Data: part.InlineData.Data, MIMEType: part.InlineData.MIMEType})
		}
		if part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return llm.Message{Role: "assistant", Content: sb.String(), Images: images}, nil
}
