package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/marketbot/relay/internal/config"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(NewEchoProvider())

	p, err := r.Get("echo")
	if err != nil {
		t.Fatalf("Get(echo) error: %v", err)
	}
	if p.Name() != "echo" {
		t.Errorf("Name() = %q", p.Name())
	}

	if _, err := r.Get("missing"); err == nil {
		t.Error("Get(missing) did not fail")
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Providers.Anthropic.APIKey = "sk-test"

	r := FromConfig(cfg)
	names := r.Names()
	if len(names) != 2 || names[0] != "anthropic" || names[1] != "echo" {
		t.Errorf("Names() = %v, want [anthropic echo]", names)
	}
}

func TestEchoProvider(t *testing.T) {
	p := NewEchoProvider()
	got, err := p.GenerateReply(context.Background(), Request{
		Messages: []Message{
			{Role: "user", Content: "first"},
			{Role: "assistant", Content: "reply"},
			{Role: "user", Content: "  second  "},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "second" {
		t.Errorf("GenerateReply() = %q, want last user message", got)
	}
}

// TestOpenAIProvider_GenerateReply runs against a stub chat completions
// endpoint.
func TestOpenAIProvider_GenerateReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"hello there"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", WithOpenAIBaseURL(srv.URL))
	got, err := p.GenerateReply(context.Background(), Request{
		System:   "be brief",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("GenerateReply() error: %v", err)
	}
	if got != "hello there" {
		t.Errorf("GenerateReply() = %q", got)
	}
}

// TestOpenAIProvider_ErrorClassification verifies non-200 responses come
// back as classified provider errors.
func TestOpenAIProvider_ErrorClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad model"}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", WithOpenAIBaseURL(srv.URL))
	_, err := p.GenerateReply(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	perr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type = %T (%v), want *Error", err, err)
	}
	if perr.Code != CodeBadRequest || perr.Retryable {
		t.Errorf("error = %+v, want non-retryable bad_request", perr)
	}
}
