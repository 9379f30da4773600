package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/richhaase/agentic-task-loop/internal/domain"
)

// Compile-time interface check
var _ Executor = (*APIExecutor)(nil)

// APIExecutor calls an OpenAI-compatible chat-completion endpoint directly.
// One request, one JSON response body, no process, no disk state. It is the
// only executor without a child process; the pipeline streams the HTTP
// response body instead of a PTY.
type APIExecutor struct {
	baseURL string
	model   string
	apiKey  string
}

// APIOptions configures the direct HTTP executor.
type APIOptions struct {
	// BaseURL is the endpoint root, e.g. "https://api.openai.com/v1".
	BaseURL string
	// Model is the model name sent in each request.
	Model string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
}

// NewAPIExecutor creates a new APIExecutor instance.
func NewAPIExecutor(opts APIOptions) *APIExecutor {
	return &APIExecutor{
		baseURL: opts.BaseURL,
		model:   opts.Model,
		apiKey:  opts.APIKey,
	}
}

// Name returns the executor's identifier.
func (a *APIExecutor) Name() string {
	return "api"
}

// IsAvailable checks that the endpoint and model are configured.
func (a *APIExecutor) IsAvailable() error {
	if a.baseURL == "" {
		return fmt.Errorf("api executor requires a base URL (api_base_url)")
	}
	if a.model == "" {
		return fmt.Errorf("api executor requires a model name (api_model)")
	}
	return nil
}

// chatRequest is the OpenAI-compatible chat-completion request body.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildCommand builds the single chat-completion request for one run.
func (a *APIExecutor) BuildCommand(role domain.Role, prompt string) (*Command, error) {
	body, err := json.Marshal(chatRequest{
		Model:    a.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	header := map[string]string{"Content-Type": "application/json"}
	if a.apiKey != "" {
		header["Authorization"] = "Bearer " + a.apiKey
	}

	return &Command{
		HTTP: &HTTPRequest{
			Method: "POST",
			URL:    a.baseURL + "/chat/completions",
			Header: header,
			Body:   body,
		},
	}, nil
}

// NewFramer returns a framer that treats the whole response body as one
// payload.
func (a *APIExecutor) NewFramer() Framer {
	return NewBodyFramer()
}

// Recover reports no salvage; the api executor is stateless.
func (a *APIExecutor) Recover(ctx context.Context, handle SessionHandle) (*domain.RecoveryResult, error) {
	return &domain.RecoveryResult{Recovered: false}, nil
}

// CapturesVCSState reports that the api executor never touches the
// working tree.
func (a *APIExecutor) CapturesVCSState() bool {
	return false
}
