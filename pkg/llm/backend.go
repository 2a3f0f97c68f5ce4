package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultBackendURL is the managed backend, which proxies requests to a
// model aggregation service and meters usage.
const DefaultBackendURL = "https://api.loom.works/v1"

// httpClientTimeout is the default timeout for streaming HTTP requests.
const httpClientTimeout = 10 * time.Minute

var defaultHTTPClient = &http.Client{
	Timeout: httpClientTimeout,
}

// BackendProvider implements Provider against the managed backend. The
// backend speaks the OpenAI-compatible chat protocol but annotates stream
// chunks with usage and dollar cost, so streaming is read directly off the
// SSE body rather than through the SDK's typed accumulator. The openai-go
// client is kept for the standard endpoints (model listing).
type BackendProvider struct {
	baseURL string
	apiKey  string
	model   string
	client  *openai.Client
}

func NewBackendProvider(baseURL, apiKey, model string) *BackendProvider {
	if baseURL == "" {
		baseURL = DefaultBackendURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	)
	return &BackendProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &client,
	}
}

func (p *BackendProvider) Name() string {
	return fmt.Sprintf("Loom (%s)", p.model)
}

func (p *BackendProvider) Credential() string { return "backend" }

// ModelInfo describes a model available from the backend.
type ModelInfo struct {
	ID      string
	Created int64
	OwnedBy string
}

// ListModels returns the models the backend can route to.
func (p *BackendProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	page, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	var models []ModelInfo
	for _, m := range page.Data {
		models = append(models, ModelInfo{ID: m.ID, Created: m.Created, OwnedBy: m.OwnedBy})
	}
	return models, nil
}

// Chat protocol structures. Tool choice can be string or object, and usage
// carries the backend's non-standard cost field.
type backendChatRequest struct {
	Model         string            `json:"model"`
	Messages      []backendMessage  `json:"messages"`
	Tools         []backendTool     `json:"tools,omitempty"`
	Stop          []string          `json:"stop,omitempty"`
	Temperature   *float64          `json:"temperature,omitempty"`
	TopP          *float64          `json:"top_p,omitempty"`
	MaxTokens     *int              `json:"max_tokens,omitempty"`
	Stream        bool              `json:"stream,omitempty"`
	StreamOptions map[string]bool   `json:"stream_options,omitempty"`
}

type backendMessage struct {
	Role       string            `json:"role"`
	Content    string            `json:"content,omitempty"`
	Reasoning  string            `json:"reasoning,omitempty"`
	ToolCalls  []backendToolCall `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
}

type backendTool struct {
	Type     string          `json:"type"`
	Function backendFunction `json:"function"`
}

type backendFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type backendToolCall struct {
	Index    int    `json:"index,omitempty"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function,omitempty"`
}

type backendChatChunk struct {
	ID      string           `json:"id"`
	Choices []backendChoice  `json:"choices"`
	Usage   *backendUsage    `json:"usage,omitempty"`
	Error   *backendAPIError `json:"error,omitempty"`
}

type backendChoice struct {
	Delta        *backendMessage `json:"delta,omitempty"`
	FinishReason string          `json:"finish_reason"`
}

type backendUsage struct {
	PromptTokens       int     `json:"prompt_tokens"`
	CompletionTokens   int     `json:"completion_tokens"`
	Cost               float64 `json:"cost"`
	PromptTokensCached int     `json:"prompt_tokens_cached"`
}

type backendAPIError struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (p *BackendProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		messages := buildBackendMessages(req.Messages)
		if len(messages) == 0 {
			return fmt.Errorf("no messages provided")
		}

		tools, err := buildBackendTools(req.Tools)
		if err != nil {
			return err
		}

		chatReq := backendChatRequest{
			Model:         chooseModel(req.Model, p.model),
			Messages:      messages,
			Tools:         tools,
			Stop:          req.StopSequences,
			Stream:        true,
			StreamOptions: map[string]bool{"include_usage": true},
		}
		if req.Temperature > 0 {
			v := float64(req.Temperature)
			chatReq.Temperature = &v
		}
		if req.TopP > 0 {
			v := float64(req.TopP)
			chatReq.TopP = &v
		}
		if req.MaxOutputTokens > 0 {
			v := req.MaxOutputTokens
			chatReq.MaxTokens = &v
		}

		body, err := json.Marshal(chatReq)
		if err != nil {
			return err
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

		resp, err := defaultHTTPClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("backend request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			payload, _ := io.ReadAll(resp.Body)
			return &APIError{
				Message: fmt.Sprintf("backend error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(payload))),
				Status:  resp.StatusCode,
			}
		}

		scanner := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)

		toolState := newBackendToolState()
		var lastUsage *Usage

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}

			var chunk backendChatChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}

			if chunk.Error != nil {
				return &APIError{Message: chunk.Error.Message, Status: chunk.Error.Code}
			}

			if chunk.Usage != nil {
				lastUsage = &Usage{
					InputTokens:       chunk.Usage.PromptTokens,
					OutputTokens:      chunk.Usage.CompletionTokens,
					CachedInputTokens: chunk.Usage.PromptTokensCached,
					CostUSD:           chunk.Usage.Cost,
				}
			}

			for _, choice := range chunk.Choices {
				if choice.Delta == nil {
					continue
				}
				if choice.Delta.Reasoning != "" {
					events <- Event{Type: EventReasoningDelta, Text: choice.Delta.Reasoning}
				}
				if choice.Delta.Content != "" {
					events <- Event{Type: EventTextDelta, Text: choice.Delta.Content}
				}
				if len(choice.Delta.ToolCalls) > 0 {
					toolState.Add(choice.Delta.ToolCalls)
				}
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("backend streaming error: %w", err)
		}

		for _, call := range toolState.Calls() {
			call := call
			events <- Event{Type: EventToolCall, Tool: &call}
		}
		if lastUsage != nil {
			events <- Event{Type: EventCost, Use: lastUsage}
		}
		events <- Event{Type: EventDone}
		return nil
	}), nil
}

func buildBackendMessages(messages []Message) []backendMessage {
	var result []backendMessage
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem, RoleUser, RoleAssistant:
			text, toolCalls := splitBackendParts(msg.Parts)
			if msg.Role == RoleAssistant && len(toolCalls) > 0 {
				result = append(result, backendMessage{
					Role:      "assistant",
					Content:   text,
					ToolCalls: toolCalls,
				})
				continue
			}
			if text == "" {
				continue
			}
			result = append(result, backendMessage{Role: string(msg.Role), Content: text})
		case RoleTool:
			for _, part := range msg.Parts {
				if part.Type != PartToolResult || part.ToolResult == nil {
					continue
				}
				result = append(result, backendMessage{
					Role:       "tool",
					Content:    part.ToolResult.Content,
					ToolCallID: part.ToolResult.ID,
				})
			}
		}
	}
	return result
}

func splitBackendParts(parts []Part) (string, []backendToolCall) {
	var textParts []string
	var toolCalls []backendToolCall
	for _, part := range parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				textParts = append(textParts, part.Text)
			}
		case PartToolCall:
			if part.ToolCall == nil {
				continue
			}
			call := backendToolCall{ID: part.ToolCall.ID, Type: "function"}
			call.Function.Name = part.ToolCall.Name
			call.Function.Arguments = string(part.ToolCall.Arguments)
			toolCalls = append(toolCalls, call)
		}
	}
	return strings.Join(textParts, ""), toolCalls
}

func buildBackendTools(specs []ToolSpec) ([]backendTool, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	tools := make([]backendTool, 0, len(specs))
	for _, spec := range specs {
		schema, err := json.Marshal(spec.Schema)
		if err != nil {
			return nil, fmt.Errorf("marshal tool schema %s: %w", spec.Name, err)
		}
		tools = append(tools, backendTool{
			Type: "function",
			Function: backendFunction{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  schema,
			},
		})
	}
	return tools, nil
}

type backendToolState struct {
	byIndex map[int]*partialToolCall
	order   []int
}

type partialToolCall struct {
	id   string
	name string
	args strings.Builder
}

func newBackendToolState() *backendToolState {
	return &backendToolState{byIndex: make(map[int]*partialToolCall)}
}

func (s *backendToolState) Add(calls []backendToolCall) {
	for _, call := range calls {
		idx := call.Index
		state, ok := s.byIndex[idx]
		if !ok {
			state = &partialToolCall{}
			s.byIndex[idx] = state
			s.order = append(s.order, idx)
		}
		if call.ID != "" {
			state.id = call.ID
		}
		if call.Function.Name != "" {
			state.name = call.Function.Name
		}
		if call.Function.Arguments != "" {
			state.args.WriteString(call.Function.Arguments)
		}
	}
}

func (s *backendToolState) Calls() []ToolCall {
	if len(s.order) == 0 {
		return nil
	}
	sort.Ints(s.order)
	calls := make([]ToolCall, 0, len(s.order))
	for _, idx := range s.order {
		state := s.byIndex[idx]
		if state == nil {
			continue
		}
		calls = append(calls, ToolCall{
			ID:        state.id,
			Name:      state.name,
			Arguments: json.RawMessage(state.args.String()),
		})
	}
	return calls
}
