package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/metricsmith/sage/pkg/agent"
	"github.com/metricsmith/sage/pkg/model"
	"github.com/metricsmith/sage/pkg/session"
	"github.com/metricsmith/sage/pkg/tools"
	"github.com/metricsmith/sage/pkg/utils"
)

type stubProvider struct {
	text string
}

func (p *stubProvider) Generate(ctx context.Context, messages []model.Message, defs []model.ToolDefinition) (*model.Response, error) {
	return &model.Response{Text: p.text}, nil
}

func (p *stubProvider) GetModelName() string { return "stub" }
func (p *stubProvider) Close() error         { return nil }

func newTestServer(t *testing.T, answer string) (*Server, *session.Store) {
	t.Helper()

	counter, err := utils.NewTokenCounter("gpt-4")
	if err != nil {
		t.Fatalf("NewTokenCounter() error = %v", err)
	}
	assembler, err := agent.NewAssembler(counter, agent.DefaultSystemInstruction(time.Now()), 8000)
	if err != nil {
		t.Fatalf("NewAssembler() error = %v", err)
	}

	registry := tools.NewRegistry()
	executor := tools.NewExecutor(registry, tools.ExecutorConfig{}, nil)

	ag, err := agent.New(&stubProvider{text: answer}, registry, executor, nil, assembler, agent.Config{}, nil)
	if err != nil {
		t.Fatalf("agent.New() error = %v", err)
	}

	store, err := session.NewStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("session.NewStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	srv, err := New(Config{}, ag, store, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv, store
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, "ok")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestChatStreamFraming(t *testing.T) {
	srv, _ := newTestServer(t, "Your CTR is up 12% week over week.")

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/stream",
		strings.NewReader(`{"message":"how is my CTR trending?"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	var events []string
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			events = append(events, strings.TrimPrefix(line, "event: "))
		}
		if strings.HasPrefix(line, "data: ") {
			var payload map[string]any
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &payload); err != nil {
				t.Errorf("data line is not valid JSON: %v", err)
			}
		}
	}

	if len(events) != 2 {
		t.Fatalf("events = %v, want [text_delta done]", events)
	}
	if events[0] != string(agent.EventTextDelta) || events[1] != string(agent.EventDone) {
		t.Errorf("events = %v, want [text_delta done]", events)
	}
}

func TestChatStreamRequiresMessage(t *testing.T) {
	srv, _ := newTestServer(t, "ok")

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/stream", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestChatStreamUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t, "ok")

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/stream",
		strings.NewReader(`{"session_id":"nope","message":"hi"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestChatStreamPersistsTurn(t *testing.T) {
	srv, store := newTestServer(t, "Spend is flat.")

	sess, err := store.Create(context.Background(), "weekly review")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/stream",
		strings.NewReader(`{"session_id":"`+sess.ID+`","message":"how is spend?"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	messages, err := store.Messages(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("stored %d messages, want 2", len(messages))
	}
	if messages[0].Role != model.RoleUser || messages[0].Content != "how is spend?" {
		t.Errorf("first message = %+v, want user turn", messages[0])
	}
	if messages[1].Role != model.RoleAssistant || messages[1].Content != "Spend is flat." {
		t.Errorf("second message = %+v, want assistant answer", messages[1])
	}
}

func TestSessionCRUD(t *testing.T) {
	srv, _ := newTestServer(t, "ok")
	router := srv.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sessions",
		strings.NewReader(`{"title":"q3 planning"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", rec.Code)
	}
	var created session.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal created: %v", err)
	}
	if created.ID == "" || created.Title != "q3 planning" {
		t.Fatalf("created = %+v", created)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+created.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+created.ID+"/messages", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("messages status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/sessions/"+created.ID, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+created.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", rec.Code)
	}
}
