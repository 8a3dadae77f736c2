package aiorchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aristath/tradecore/internal/errs"
)

// Message is one turn in the conversation sent to the LLM.
type Message struct {
	Role    string `json:"role"` // system, user, assistant, tool
	Content string `json:"content,omitempty"`
	// ToolCallID links a tool-role message back to the assistant's request.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolSpec is a catalog entry as sent over the wire to the LLM.
type ToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema string `json:"input_schema"`
}

// CompletionRequest is one step submission to the LLM.
type CompletionRequest struct {
	Model       string     `json:"model"`
	Messages    []Message  `json:"messages"`
	Tools       []ToolSpec `json:"tools,omitempty"`
	Temperature float64    `json:"temperature"`
	MaxTokens   int        `json:"max_tokens"`
}

// CompletionResponse is the LLM's answer to one step: either a final verdict
// payload (FinalJSON non-empty) or a tool-invocation request.
type CompletionResponse struct {
	FinalJSON   json.RawMessage `json:"final,omitempty"`
	ToolCall    *ToolCall       `json:"tool_call,omitempty"`
	ModelID     string          `json:"model_id"`
	TokensUsed  int             `json:"tokens_used"`
}

// Client is the C4 LLM provider contract, §6's "AI provider" interface.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// HTTPClient is a chat-style LLM endpoint with tool-use (function-call)
// semantics, reachable over a bearer-token-authenticated HTTP API. The
// request/response shape is intentionally generic JSON rather than any
// specific vendor's SDK, matching §6's description of the interface as a
// provider-agnostic contract.
type HTTPClient struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// NewHTTPClient builds an HTTP-backed LLM client. apiKey is kept for the
// client's lifetime and sent on every request; the client does not read it
// from the vault itself, and cmd/server passes the LLM_API_KEY environment
// value rather than a vault credential.
func NewHTTPClient(baseURL, apiKey, model string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "marshal llm request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "build llm request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.Cancelled, "llm request cancelled", ctx.Err())
		}
		return nil, errs.Wrap(errs.UpstreamUnavailable, "llm request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.UpstreamUnavailable, "read llm response", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errs.RateLimitedAfter("llm provider rate limit", 5*time.Second)
	}
	if resp.StatusCode >= 500 {
		return nil, errs.New(errs.UpstreamUnavailable, fmt.Sprintf("llm provider returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, errs.New(errs.UpstreamRejected, fmt.Sprintf("llm provider rejected request: %d", resp.StatusCode))
	}

	var out CompletionResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, errs.Wrap(errs.Internal, "parse llm response: LLM free text is never trusted unparsed", err)
	}
	return &out, nil
}
