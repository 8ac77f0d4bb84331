package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/raawaa/ja-translate/internal/config"
	"github.com/raawaa/ja-translate/internal/domain"
	"github.com/raawaa/ja-translate/internal/ports"
)

func newTestClient(endpoint string) *Client {
	return New(config.AgentConfig{
		Endpoint:        endpoint,
		Model:           "ja-zh-translator",
		APIKey:          "test-key",
		TimeoutSeconds:  5,
		ConnectAttempts: 2,
		ConnectFactor:   2,
	}, nil)
}

func chatReply(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	reply := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": content}},
		},
	}
	if err := json.NewEncoder(w).Encode(reply); err != nil {
		t.Fatalf("encode reply: %v", err)
	}
}

func TestTranslateSendsPromptAndReturnsContent(t *testing.T) {
	t.Parallel()

	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		chatReply(t, w, "<p>你好</p>")
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	out, err := c.Translate(context.Background(), ports.TranslationRequest{
		Text:     "<p>こんにちは</p>",
		PrevText: "前文",
		NextText: "後文",
		Hints:    []domain.Term{{Source: "例えば", Target: "例如"}},
	})
	if err != nil {
		t.Fatalf("Translate returned error: %v", err)
	}
	if out != "<p>你好</p>" {
		t.Fatalf("unexpected content: %q", out)
	}

	if got.Model != "ja-zh-translator" {
		t.Fatalf("unexpected model: %q", got.Model)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("unexpected message frame: %+v", got.Messages)
	}
	user := got.Messages[1].Content
	for _, want := range []string{"<p>こんにちは</p>", "前文", "後文", "例えば", "例如"} {
		if !strings.Contains(user, want) {
			t.Fatalf("user prompt missing %q:\n%s", want, user)
		}
	}
}

func TestTranslateClassifiesServerErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		want   error
	}{
		{http.StatusInternalServerError, domain.ErrConnection},
		{http.StatusTooManyRequests, domain.ErrConnection},
		{http.StatusGatewayTimeout, domain.ErrTimeout},
		{http.StatusRequestTimeout, domain.ErrTimeout},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		c := newTestClient(srv.URL)
		_, err := c.Translate(context.Background(), ports.TranslationRequest{Text: "x"})
		srv.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
	}
}

func TestTranslateBadRequestIsNotRetryable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Translate(context.Background(), ports.TranslationRequest{Text: "x"})
	if err == nil {
		t.Fatalf("expected error for 400 response")
	}
	if errors.Is(err, domain.ErrConnection) || errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("client error must not be classified as retryable, got %v", err)
	}
	if !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("expected server message in error, got %v", err)
	}
}

func TestTranslateTransportFailureIsConnectionError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := newTestClient(srv.URL)
	_, err := c.Translate(context.Background(), ports.TranslationRequest{Text: "x"})
	if !errors.Is(err, domain.ErrConnection) {
		t.Fatalf("expected connection classification, got %v", err)
	}
}

func TestDialSucceedsOnAnyHTTPResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Chat endpoints often reject GET; reachability is all Dial needs.
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if err := c.Dial(context.Background()); err != nil {
		t.Fatalf("Dial returned error: %v", err)
	}
}

func TestDialExhaustionIsServiceUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := newTestClient(srv.URL)
	err := c.Dial(context.Background())
	if !errors.Is(err, domain.ErrServiceUnavailable) {
		t.Fatalf("expected service-unavailable after exhausting attempts, got %v", err)
	}
}

func TestDialRecoversWithinAttemptBudget(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			// Drop the first connection without a response.
			conn, _, err := w.(http.Hijacker).Hijack()
			if err != nil {
				t.Errorf("hijack: %v", err)
				return
			}
			conn.Close()
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if err := c.Dial(context.Background()); err != nil {
		t.Fatalf("Dial must recover on the second attempt: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 ping attempts, got %d", calls)
	}
}
