package oracle

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bizpilot/insight-gateway/internal/config"
	"github.com/bizpilot/insight-gateway/internal/types"
)

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	cfg    func() config.OracleConfig
	client *http.Client
}

func NewClient(cfg func() config.OracleConfig) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg().Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequestBody struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatResponseBody struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *Client) buildRequest(ctx context.Context, req Request, stream bool) (*http.Request, error) {
	cfg := c.cfg()

	model := req.Model
	if model == "" {
		model = cfg.Model
	}

	messages := make([]chatMessage, 0, len(req.Turns)+1)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, t := range req.Turns {
		messages = append(messages, chatMessage{Role: t.Role, Content: t.Text})
	}

	body := chatRequestBody{
		Model:       model,
		Messages:    messages,
		Stream:      stream,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = &req.MaxTokens
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal oracle request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create oracle request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	return httpReq, nil
}

func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	httpReq, err := c.buildRequest(ctx, req, false)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var parsed chatResponseBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: unmarshal response: %v", ErrUnavailable, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrUnavailable)
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *Client) StreamCompletion(ctx context.Context, req Request, emit func(delta string) error) error {
	httpReq, err := c.buildRequest(ctx, req, true)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	// Increase scanner buffer for large chunks
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return nil
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		if err := emit(chunk.Choices[0].Delta.Content); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: read stream: %v", ErrUnavailable, err)
	}
	return nil
}

var _ Oracle = (*Client)(nil)

// TurnsWithQuestion appends the current question as a trailing user turn.
func TurnsWithQuestion(turns []types.Turn, question string) []types.Turn {
	out := make([]types.Turn, 0, len(turns)+1)
	out = append(out, turns...)
	out = append(out, types.Turn{Role: types.RoleUser, Text: question})
	return out
}
