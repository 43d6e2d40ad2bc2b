package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/solomid123/marooc/internal/aggregate"
	"github.com/solomid123/marooc/internal/config"
)

func TestSessionRoutes_UnknownID(t *testing.T) {
	srv := newTestServer(config.Config{}, "")
	cases := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/session/nope/pause"},
		{http.MethodPost, "/api/session/nope/resume"},
		{http.MethodPost, "/api/session/nope/generate"},
		{http.MethodGet, "/api/session/nope/transcript"},
		{http.MethodDelete, "/api/session/nope"},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(tc.method, tc.path, nil)
		w := httptest.NewRecorder()
		srv.Router.ServeHTTP(w, r)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", tc.method, tc.path, w.Code)
		}
	}
}

func TestStartSession_InvalidOffer(t *testing.T) {
	srv := newTestServer(config.Config{}, "")
	r := httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader(`{"offer":{"type":"offer","sdp":""}}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestShapeResponse_MultipleChoice(t *testing.T) {
	dto := shapeResponse(aggregate.Response{
		ID:               "r1",
		Question:         "Which option?",
		Answer:           "Option A: maps. Option B: slices. Recommendation: Option A is the best choice.",
		Source:           aggregate.SourceAuto,
		IsMultipleChoice: true,
	})
	if dto.Options["a"] != "maps." || dto.Options["b"] != "slices." {
		t.Errorf("options = %v", dto.Options)
	}
	if _, ok := dto.Options["c"]; ok {
		t.Error("absent option c should be omitted")
	}
	if dto.Recommendation == "" {
		t.Error("recommendation missing")
	}
}

func TestShapeResponse_Simple(t *testing.T) {
	dto := shapeResponse(aggregate.Response{
		ID:       "r2",
		Question: "Why Go?",
		Answer:   "Concurrency.",
		Source:   aggregate.SourceManual,
	})
	if dto.Options != nil || dto.Recommendation != "" {
		t.Error("simple response should carry no multiple-choice shaping")
	}
	if dto.Source != "manual" {
		t.Errorf("source = %q", dto.Source)
	}
}

func TestManagedSession_EmitDropsWhenFull(t *testing.T) {
	ms := &managedSession{events: make(chan liveEvent, 1)}
	ms.emit(liveEvent{Type: "status", Message: "one"})
	ms.emit(liveEvent{Type: "status", Message: "two"}) // buffer full, dropped

	ev := <-ms.events
	if ev.Message != "one" {
		t.Errorf("kept event = %q, want the first", ev.Message)
	}
	select {
	case ev := <-ms.events:
		t.Errorf("unexpected extra event %+v", ev)
	default:
	}
}
