package guard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewChatCallerValidation(t *testing.T) {
	if _, err := NewChatCaller(ChatConfig{}); err == nil {
		t.Fatalf("expected error when api key is missing")
	}
	caller, err := NewChatCaller(ChatConfig{APIKey: "k"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if caller.Model() != defaultChatModel {
		t.Fatalf("unexpected default model: %q", caller.Model())
	}
}

func TestChatCallerSuccess(t *testing.T) {
	var captured struct {
		Authorization string
		Body          struct {
			Model    string        `json:"model"`
			Messages []chatMessage `json:"messages"`
		}
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		captured.Authorization = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": "pong"}}},
		})
	}))
	defer srv.Close()

	caller, err := NewChatCaller(ChatConfig{
		APIKey:       "test",
		BaseURL:      srv.URL + "/v1/",
		Model:        "gpt-4o",
		SystemPrompt: "be brief",
		HTTPClient:   srv.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reply, err := caller.Call(context.Background(), "ping")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if reply != "pong" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if captured.Authorization != "Bearer test" {
		t.Fatalf("unexpected authorization header: %q", captured.Authorization)
	}
	if captured.Body.Model != "gpt-4o" || len(captured.Body.Messages) != 2 || captured.Body.Messages[1].Content != "ping" {
		t.Fatalf("unexpected request body: %+v", captured.Body)
	}
}

func TestChatCallerErrors(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"error status": func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
		},
		"no choices": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[]}`))
		},
		"malformed": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{`))
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()
			caller, err := NewChatCaller(ChatConfig{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if _, err := caller.Call(context.Background(), "ping"); err == nil {
				t.Fatalf("expected error")
			} else if name == "error status" && !strings.Contains(err.Error(), "429") {
				t.Fatalf("status missing from error: %v", err)
			}
		})
	}
}
