package dashboard

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/sessionyard/internal/events"
	"github.com/zulandar/sessionyard/internal/sessiondb"
	"github.com/zulandar/sessionyard/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestStart_NilDB(t *testing.T) {
	err := Start(context.Background(), StartOpts{DB: nil})
	if err == nil {
		t.Fatal("expected error for nil db")
	}
	if !strings.Contains(err.Error(), "db is required") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "db is required")
	}
}

type fixture struct {
	db       *sessiondb.DB
	router   *gin.Engine
	projA    int64
	projB    int64
	sessions []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d, err := sessiondb.Open(filepath.Join(t.TempDir(), "sessions.db"), sessiondb.Options{Register: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	f := &fixture{db: d, router: NewRouter(d)}
	if f.projA, err = d.UpsertProject("alpha", "/work/alpha", ""); err != nil {
		t.Fatalf("UpsertProject: %v", err)
	}
	if f.projB, err = d.UpsertProject("beta", "/work/beta", ""); err != nil {
		t.Fatalf("UpsertProject: %v", err)
	}
	if _, err := d.UpsertSession("sess-alpha-1", f.projA); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	msgs := []store.MessageInput{
		{UUID: "m1", Role: "user", Content: "how do I deploy the service", Timestamp: 1000, Sequence: 0},
		{UUID: "m2", Role: "assistant", Content: "run the deploy script", Timestamp: 2000, Sequence: 1},
		{UUID: "m3", Role: "user", Content: "thanks", Timestamp: 3000, Sequence: 2},
	}
	if _, err := d.InsertMessages("sess-alpha-1", msgs); err != nil {
		t.Fatalf("InsertMessages: %v", err)
	}
	return f
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	w := f.get(t, "/api/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var stats store.Stats
	decode(t, w, &stats)
	if stats.Projects != 2 || stats.Sessions != 1 || stats.Messages != 3 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.LastMessageAt == nil || *stats.LastMessageAt != 3000 {
		t.Errorf("LastMessageAt = %v, want 3000", stats.LastMessageAt)
	}
}

func TestProjectsAndSessions(t *testing.T) {
	f := newFixture(t)

	w := f.get(t, "/api/projects")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var projects struct {
		Projects []store.ProjectSummary `json:"projects"`
	}
	decode(t, w, &projects)
	if len(projects.Projects) != 2 {
		t.Fatalf("projects = %d, want 2", len(projects.Projects))
	}

	w = f.get(t, fmt.Sprintf("/api/projects/%d/sessions", f.projA))
	var sessions struct {
		Sessions []struct {
			SessionID    string `json:"session_id"`
			MessageCount int64  `json:"message_count"`
		} `json:"sessions"`
	}
	decode(t, w, &sessions)
	if len(sessions.Sessions) != 1 || sessions.Sessions[0].SessionID != "sess-alpha-1" || sessions.Sessions[0].MessageCount != 3 {
		t.Errorf("sessions = %+v", sessions.Sessions)
	}

	if w := f.get(t, "/api/projects/abc/sessions"); w.Code != http.StatusBadRequest {
		t.Errorf("non-numeric project id status = %d, want 400", w.Code)
	}
}

func TestSessionByPrefix(t *testing.T) {
	f := newFixture(t)

	w := f.get(t, "/api/sessions/sess-al")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"session_id":"sess-alpha-1"`) {
		t.Errorf("body = %s", w.Body.String())
	}

	if w := f.get(t, "/api/sessions/nope"); w.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", w.Code)
	}
}

func TestMessages(t *testing.T) {
	f := newFixture(t)

	w := f.get(t, "/api/sessions/sess-alpha-1/messages?limit=2&offset=1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var body struct {
		SessionID string `json:"session_id"`
		Messages  []struct {
			UUID string `json:"uuid"`
		} `json:"messages"`
	}
	decode(t, w, &body)
	if len(body.Messages) != 2 || body.Messages[0].UUID != "m2" || body.Messages[1].UUID != "m3" {
		t.Errorf("messages = %+v", body.Messages)
	}

	if w := f.get(t, "/api/sessions/sess-alpha-1/messages?limit=-1"); w.Code != http.StatusBadRequest {
		t.Errorf("negative limit status = %d, want 400", w.Code)
	}
}

func TestSearch(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		query  string
		status int
		count  int
	}{
		{"match", "/api/search?q=deploy", http.StatusOK, 2},
		{"time order", "/api/search?q=deploy&order=time_desc", http.StatusOK, 2},
		{"window", "/api/search?q=deploy&start=1500&end=2500", http.StatusOK, 1},
		{"other project", fmt.Sprintf("/api/search?q=deploy&project=%d&order=time_desc", f.projB), http.StatusOK, 0},
		{"limit", "/api/search?q=deploy&limit=1", http.StatusOK, 1},
		{"missing query", "/api/search", http.StatusBadRequest, 0},
		{"bad order", "/api/search?q=deploy&order=sideways", http.StatusBadRequest, 0},
		{"bad project", "/api/search?q=deploy&project=x", http.StatusBadRequest, 0},
		{"bad start", "/api/search?q=deploy&start=yesterday", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.get(t, tt.query)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}
			var body struct {
				Results []store.SearchResult `json:"results"`
			}
			decode(t, w, &body)
			if len(body.Results) != tt.count {
				t.Errorf("results = %d, want %d", len(body.Results), tt.count)
			}
		})
	}
}

func TestSearch_SnippetHighlights(t *testing.T) {
	f := newFixture(t)
	w := f.get(t, "/api/search?q=script")
	var body struct {
		Results []store.SearchResult `json:"results"`
	}
	decode(t, w, &body)
	if len(body.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(body.Results))
	}
	if !strings.Contains(body.Results[0].Snippet, store.MarkOpen+"script"+store.MarkClose) {
		t.Errorf("snippet = %q", body.Results[0].Snippet)
	}
	if body.Results[0].ProjectName != "alpha" {
		t.Errorf("project name = %q, want alpha", body.Results[0].ProjectName)
	}
}

func TestWriter(t *testing.T) {
	f := newFixture(t)
	w := f.get(t, "/api/writer")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Role   string `json:"role"`
		Health string `json:"health"`
		Lease  struct {
			HolderID string `json:"holder_id"`
		} `json:"lease"`
	}
	decode(t, w, &body)
	if body.Role != "writer" || body.Health != "alive" {
		t.Errorf("writer = %+v", body)
	}
	if body.Lease.HolderID != f.db.Lease().HolderID() {
		t.Errorf("holder = %q", body.Lease.HolderID)
	}
}

func TestSSE_StreamsBusEvents(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events?types=messages_inserted", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q", ct)
	}

	lines := make(chan string, 32)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	expect := func(prefix string) string {
		t.Helper()
		timeout := time.After(3 * time.Second)
		for {
			select {
			case l, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed before %q", prefix)
				}
				if strings.HasPrefix(l, prefix) {
					return l
				}
			case <-timeout:
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}

	expect("event: connected")
	f.db.Events().Publish(events.Event{Type: events.TypeFileChanged, Path: "/filtered"})
	f.db.Events().Publish(events.Event{Type: events.TypeMessagesInserted, SessionID: "sess-alpha-1", Count: 7})

	expect("event: messages_inserted")
	data := expect("data: ")
	var e events.Event
	if err := json.Unmarshal([]byte(strings.TrimPrefix(data, "data: ")), &e); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if e.SessionID != "sess-alpha-1" || e.Count != 7 {
		t.Errorf("event = %+v", e)
	}
}

func TestWriteSSE(t *testing.T) {
	var sb strings.Builder
	writeSSE(&sb, "ping", map[string]int{"n": 1})
	if got, want := sb.String(), "event: ping\ndata: {\"n\":1}\n\n"; got != want {
		t.Errorf("writeSSE = %q, want %q", got, want)
	}
}
