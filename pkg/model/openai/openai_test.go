package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/metricsmith/sage/pkg/model"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) model.Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	provider, err := New(Config{
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
		BaseURL: server.URL,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return provider
}

func TestGenerateTextResponse(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Unexpected auth header %q", auth)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "CTR is fine."}},
			},
			"usage": map[string]any{"total_tokens": 42},
		})
	})

	resp, err := provider.Generate(context.Background(), []model.Message{
		{Role: model.RoleUser, Content: "How is my CTR?"},
	}, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Text != "CTR is fine." {
		t.Errorf("Text = %q", resp.Text)
	}
	if len(resp.ToolCalls) != 0 {
		t.Errorf("Expected no tool calls, got %d", len(resp.ToolCalls))
	}
	if resp.TokensUsed != 42 {
		t.Errorf("TokensUsed = %d, want 42", resp.TokensUsed)
	}
}

func TestGenerateToolCallResponse(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Tools) != 1 || req.Tools[0].Function.Name != "ads_list_campaigns" {
			t.Errorf("Expected advertised tool, got %+v", req.Tools)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{
					"role":    "assistant",
					"content": "",
					"tool_calls": []map[string]any{
						{
							"id":   "call_1",
							"type": "function",
							"function": map[string]any{
								"name":      "ads_list_campaigns",
								"arguments": `{"status":"ENABLED"}`,
							},
						},
					},
				}},
			},
		})
	})

	resp, err := provider.Generate(context.Background(), []model.Message{
		{Role: model.RoleUser, Content: "List my campaigns"},
	}, []model.ToolDefinition{
		{Name: "ads_list_campaigns", Description: "List campaigns", Parameters: map[string]any{"type": "object"}},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("Expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "call_1" || tc.Name != "ads_list_campaigns" {
		t.Errorf("Unexpected tool call %+v", tc)
	}
	if got := tc.Arguments["status"]; got != "ENABLED" {
		t.Errorf("Arguments[status] = %v", got)
	}
}

func TestGenerateAPIError(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "invalid model"},
		})
	})

	_, err := provider.Generate(context.Background(), []model.Message{
		{Role: model.RoleUser, Content: "hi"},
	}, nil)
	if err == nil {
		t.Fatal("Expected error for 400 response")
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("Expected error for missing API key")
	}
}
