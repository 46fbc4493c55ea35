package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/edmondsbay/consult/dialog"
	"github.com/edmondsbay/consult/formatter"
	"github.com/edmondsbay/consult/generator"
	"github.com/edmondsbay/consult/intent"
	"github.com/edmondsbay/consult/memory"
	"github.com/edmondsbay/consult/monitoring"
	"github.com/edmondsbay/consult/pipeline"
	"github.com/edmondsbay/consult/quality"
	"github.com/edmondsbay/consult/retrieval"
	"github.com/edmondsbay/consult/specialist"
	"github.com/edmondsbay/consult/tokenizer"
)

type okSpecialist struct{}

func (okSpecialist) Reason(context.Context, dialog.RoutedQuery, retrieval.RankedContext, []quality.FailureReason) (specialist.Trace, error) {
	return specialist.Trace{
		Steps:       []specialist.Step{{Thought: "a"}, {Thought: "b"}},
		DraftAnswer: "A helpful answer.",
	}, nil
}

type okChecker struct{}

func (okChecker) Check(context.Context, string, retrieval.RankedContext, dialog.RoutedQuery) (quality.Verdict, error) {
	return quality.Verdict{Passed: true, Score: 0.9}, nil
}

type emptyIndex struct{}

func (emptyIndex) Search(context.Context, string, int) ([]retrieval.Hit, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *memory.Manager) {
	t.Helper()
	mem := memory.NewManager(memory.NewInMemoryStore())
	reg := specialist.NewRegistry()
	for _, label := range dialog.Labels() {
		reg.Register(label, okSpecialist{})
	}
	o, err := pipeline.New(
		mem,
		intent.NewClassifier(),
		emptyIndex{},
		retrieval.NewRanker(tokenizer.NewSimpleTokenizer()),
		reg,
		&generator.PassThrough{},
		okChecker{},
		formatter.New(),
		monitoring.Nop{},
	)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	cfg := DefaultConfig()
	cfg.RequestsPerMinute = 0
	return New(cfg, o, mem, nil), mem
}

func TestChatEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	body := `{"conversation_id": "c1", "text": "How often should I floss?"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	out := rec.Body.String()
	if !strings.Contains(out, "A helpful answer.") {
		t.Errorf("answer missing: %s", out)
	}
	if !strings.Contains(out, `"degraded":false`) {
		t.Errorf("degraded flag missing: %s", out)
	}
}

func TestChatRejectsMissingFields(t *testing.T) {
	s, _ := newTestServer(t)
	for _, body := range []string{
		`{}`,
		`{"text": "hi"}`,
		`{"conversation_id": "c1"}`,
		`not json`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(body))
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestConversationEndpoint(t *testing.T) {
	s, mem := newTestServer(t)
	q := dialog.NewQuery("c7", "question")
	_ = mem.Append(context.Background(), q, dialog.FinalResponse{Text: "answer", ConversationID: "c7"})

	req := httptest.NewRequest(http.MethodGet, "/v1/conversations/c7", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "question") {
		t.Errorf("stored turn missing: %s", rec.Body.String())
	}
}

func TestConversationUnknownIsEmptyNotError(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/conversations/never-seen", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with empty turns", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	limited := 0
	rl := newRateLimiter(3, slog.New(slog.NewTextHandler(io.Discard, nil)))
	for i := 0; i < 5; i++ {
		if !rl.allow("1.2.3.4") {
			limited++
		}
	}
	if limited != 2 {
		t.Fatalf("expected 2 limited requests, got %d", limited)
	}
	if !rl.allow("5.6.7.8") {
		t.Fatal("different IP must have its own window")
	}
}

func TestClientIPUsesFirstForwardedHop(t *testing.T) {
	tests := []struct {
		name   string
		header string
		remote string
		want   string
	}{
		{"no header", "", "10.0.0.1:5000", "10.0.0.1"},
		{"single hop", "1.2.3.4", "10.0.0.1:5000", "1.2.3.4"},
		{"proxy chain", "1.2.3.4, 10.0.0.2, 10.0.0.3", "10.0.0.1:5000", "1.2.3.4"},
		{"padded hop", "  1.2.3.4 , 10.0.0.2", "10.0.0.1:5000", "1.2.3.4"},
		{"blank header falls back", "  ", "10.0.0.1:5000", "10.0.0.1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			req.RemoteAddr = tc.remote
			if tc.header != "" {
				req.Header.Set("X-Forwarded-For", tc.header)
			}
			if got := clientIP(req); got != tc.want {
				t.Errorf("clientIP = %q, want %q", got, tc.want)
			}
		})
	}
}
