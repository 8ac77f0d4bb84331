// Package agent implements the call boundary to the external translation
// service over an OpenAI-compatible chat completions endpoint.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/raawaa/ja-translate/internal/config"
	"github.com/raawaa/ja-translate/internal/domain"
	"github.com/raawaa/ja-translate/internal/ports"
	"github.com/raawaa/ja-translate/internal/retry"
)

const systemPrompt = `あなたは日中翻訳の専門家です。以下を厳守してください：
- 翻訳後の HTML 断片のみを出力し、説明や注釈を一切付けない
- 元の HTML タグ構造を変更しない
- 中文标点（，。！？）を使用する
- 日本語の文字を残さない
- 訳文は自然で流暢な中国語にする`

// Client talks to the translation agent. It frames requests, enforces the
// per-call timeout and classifies transport failures.
type Client struct {
	endpoint string
	model    string
	apiKey   string
	http     *http.Client
	dial     retry.Policy
	logger   *slog.Logger
}

var _ ports.TranslationClient = (*Client)(nil)

// New builds a client from configuration.
func New(cfg config.AgentConfig, logger *slog.Logger) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: cfg.Timeout()},
		dial: retry.Policy{
			MaxAttempts: cfg.ConnectAttempts,
			BaseDelay:   cfg.ConnectBaseDelay(),
			Factor:      cfg.ConnectFactor,
		},
		logger: logger,
	}
}

// Dial verifies the channel is reachable, retrying with geometric backoff.
// Exhausting the attempts surfaces domain.ErrServiceUnavailable: a dead
// channel cannot make progress on any block, so the caller aborts the run.
func (c *Client) Dial(ctx context.Context) error {
	attempt := 0
	err := c.dial.Do(ctx, func(err error) bool {
		return errors.Is(err, domain.ErrConnection)
	}, func(ctx context.Context) error {
		attempt++
		if err := c.ping(ctx); err != nil {
			if c.logger != nil {
				c.logger.Warn("agent unreachable", "attempt", attempt, "error", err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("connect to %s: %w", c.endpoint, domain.ErrServiceUnavailable)
	}
	return nil
}

// ping treats any HTTP response as proof the channel is up; only transport
// errors count as connection failures.
func (c *Client) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%v: %w", err, domain.ErrConnection)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
	return resp.Body.Close()
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Translate performs one remote call. Deadline overruns surface
// domain.ErrTimeout; unreachable or overloaded channels surface
// domain.ErrConnection. Both are retryable at block level.
func (c *Client) Translate(ctx context.Context, tr ports.TranslationRequest) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(tr)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal translation payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classifyTransport(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return "", fmt.Errorf("agent returned %s: %w", resp.Status, domain.ErrTimeout)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return "", fmt.Errorf("agent returned %s: %w", resp.Status, domain.ErrConnection)
	case resp.StatusCode >= http.StatusBadRequest:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("agent error %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode agent response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", nil
	}
	return parsed.Choices[0].Message.Content, nil
}

func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%v: %w", err, domain.ErrTimeout)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%v: %w", err, domain.ErrTimeout)
	}
	return fmt.Errorf("%v: %w", err, domain.ErrConnection)
}

// userPrompt assembles the discourse context, glossary hints and the block
// itself into the agent's user message.
func userPrompt(tr ports.TranslationRequest) string {
	var sb strings.Builder

	if len(tr.Hints) > 0 {
		sb.WriteString("以下の用語は必ず指定どおりに訳してください：\n")
		for _, h := range tr.Hints {
			sb.WriteString(h.Source)
			sb.WriteString(" → ")
			sb.WriteString(h.Target)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if tr.PrevText != "" || tr.NextText != "" {
		sb.WriteString("文脈：")
		if tr.PrevText != "" {
			sb.WriteString("前の段落：")
			sb.WriteString(tr.PrevText)
			sb.WriteString("…")
		}
		if tr.NextText != "" {
			if tr.PrevText != "" {
				sb.WriteString("；")
			}
			sb.WriteString("次の段落：")
			sb.WriteString(tr.NextText)
			sb.WriteString("…")
		}
		sb.WriteString("\n\n")
	}

	sb.WriteString("次の段落を翻訳してください：\n")
	sb.WriteString(tr.Text)
	return sb.String()
}
