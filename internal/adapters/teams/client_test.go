package teams

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPostCard_SendsJSONBody(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(5*time.Second, zerolog.Nop())
	card := map[string]any{"@type": "MessageCard", "summary": "2 remediation alert(s)"}
	if err := c.PostCard(context.Background(), srv.URL, card); err != nil {
		t.Fatalf("post: %v", err)
	}
	if got["@type"] != "MessageCard" {
		t.Fatalf("body not delivered: %v", got)
	}
}

func TestPostCard_NonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limited"))
	}))
	defer srv.Close()

	c := NewClient(5*time.Second, zerolog.Nop())
	err := c.PostCard(context.Background(), srv.URL, map[string]any{})
	if err == nil {
		t.Fatalf("429 should be an error")
	}
	if !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("error should carry status and body: %v", err)
	}
}

func TestPostCard_EmptyURL(t *testing.T) {
	c := NewClient(0, zerolog.Nop())
	if err := c.PostCard(context.Background(), "  ", map[string]any{}); err == nil {
		t.Fatalf("empty webhook url should fail fast")
	}
}
