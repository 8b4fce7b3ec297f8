package pollmcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func TestPollMCPServerReadPoll(t *testing.T) {
	apiHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/polls/checkout":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"phase":"resolved","value":"200 OK"}`))
		case "/v1/polls/checkout/history":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[{"seq":1,"phase":"resolved"}]`))
		default:
			http.NotFound(w, r)
		}
	})
	ts := httptest.NewServer(apiHandler)
	defer ts.Close()

	s := NewServer(ts.URL, []string{"checkout"})

	req := mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "pollwatch://polls/checkout"},
	}

	result, err := s.handleReadPoll(context.Background(), req)
	if err != nil {
		t.Fatalf("handleReadPoll failed: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("expected 1 resource content, got %d", len(result))
	}

	content, ok := result[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents")
	}
	if content.MIMEType != "application/json" {
		t.Errorf("MIMEType = %s, want application/json", content.MIMEType)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(content.Text), &payload); err != nil {
		t.Fatalf("failed to parse result JSON: %v", err)
	}
	if _, ok := payload["current"]; !ok {
		t.Error("expected a current field in the payload")
	}
}

func TestPollMCPServerRefreshPoll(t *testing.T) {
	apiHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/polls/checkout/refresh" && r.Method == http.MethodPost {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"phase":"refresh","value":"204 No Content"}`))
			return
		}
		http.NotFound(w, r)
	})
	ts := httptest.NewServer(apiHandler)
	defer ts.Close()

	s := NewServer(ts.URL, []string{"checkout"})

	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      "refresh_poll",
			Arguments: map[string]interface{}{"name": "checkout"},
		},
	}

	result, err := s.handleRefreshPoll(context.Background(), req)
	if err != nil {
		t.Fatalf("handleRefreshPoll failed: %v", err)
	}
	if result.IsError {
		t.Errorf("expected success, got error")
	}
	if len(result.Content) == 0 {
		t.Fatal("expected content in result")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok || text.Text == "" {
		t.Error("expected non-empty text content")
	}
}

func TestPollMCPServerRefreshPollMissingName(t *testing.T) {
	s := NewServer("http://unused.invalid", nil)

	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: "refresh_poll", Arguments: map[string]interface{}{}},
	}

	result, err := s.handleRefreshPoll(context.Background(), req)
	if err != nil {
		t.Fatalf("handleRefreshPoll failed: %v", err)
	}
	if !result.IsError {
		t.Error("expected an error result when name is missing")
	}
}

func TestPollMCPServerGetPrompt(t *testing.T) {
	s := NewServer("http://unused.invalid", nil)

	req := mcp.GetPromptRequest{Params: mcp.GetPromptParams{Name: "pollwatch-aware"}}
	result, err := s.handleGetPrompt(context.Background(), req)
	if err != nil {
		t.Fatalf("handleGetPrompt failed: %v", err)
	}
	if len(result.Messages) == 0 {
		t.Fatal("expected at least one prompt message")
	}
}
