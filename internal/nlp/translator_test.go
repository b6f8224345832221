package nlp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newCompletionsServer fakes the chat-completions endpoint, replying with
// the given content and recording the last request payload.
func newCompletionsServer(t *testing.T, content string, lastReq *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing api key, got %q", got)
		}
		if lastReq != nil {
			_ = json.NewDecoder(r.Body).Decode(lastReq)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	}))
}

func TestTranslate_ReturnsCommand(t *testing.T) {
	var lastReq map[string]any
	srv := newCompletionsServer(t, `/add lunch pizza ramen`, &lastReq)
	defer srv.Close()

	tr := NewOpenAITranslator(srv.URL, "test-key", "gpt-4o-mini", srv.Client())
	got, err := tr.Translate(context.Background(), "for lunch we could do pizza or ramen")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "/add lunch pizza ramen" {
		t.Fatalf("unexpected command: %q", got)
	}

	if lastReq["model"] != "gpt-4o-mini" {
		t.Fatalf("model not sent: %v", lastReq["model"])
	}
	msgs, _ := lastReq["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system+user messages, got %d", len(msgs))
	}
}

func TestTranslate_StripsQuotes(t *testing.T) {
	srv := newCompletionsServer(t, `"/ls lunch"`, nil)
	defer srv.Close()

	tr := NewOpenAITranslator(srv.URL, "test-key", "gpt-4o-mini", srv.Client())
	got, err := tr.Translate(context.Background(), "what's in the lunch set")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "/ls lunch" {
		t.Fatalf("quotes not stripped: %q", got)
	}
}

func TestTranslate_Unrecognized(t *testing.T) {
	srv := newCompletionsServer(t, "UNRECOGNIZED", nil)
	defer srv.Close()

	tr := NewOpenAITranslator(srv.URL, "test-key", "gpt-4o-mini", srv.Client())
	if _, err := tr.Translate(context.Background(), "how tall is the eiffel tower"); !errors.Is(err, ErrUnrecognized) {
		t.Fatalf("expected ErrUnrecognized, got %v", err)
	}
}

func TestTranslate_UpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tr := NewOpenAITranslator(srv.URL, "test-key", "gpt-4o-mini", srv.Client())
	if _, err := tr.Translate(context.Background(), "anything"); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}
