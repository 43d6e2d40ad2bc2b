package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/solomid123/marooc/internal/answer"
	"github.com/solomid123/marooc/internal/config"
)

type providerFunc func(ctx context.Context, prompt string) (string, error)

func (f providerFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func newTestServer(cfg config.Config, reply string) *Server {
	gen := answer.NewGenerator(providerFunc(func(ctx context.Context, prompt string) (string, error) {
		return reply, nil
	}))
	return New(cfg, gen)
}

func TestServer_Healthz(t *testing.T) {
	srv := newTestServer(config.Config{}, "")
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestAssemblyToken_PassesThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "vendor-key" {
			t.Errorf("Authorization = %q, want vendor-key", got)
		}
		var body map[string]int
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode upstream body: %v", err)
		}
		if body["expires_in"] != 3600 {
			t.Errorf("expires_in = %d, want 3600", body["expires_in"])
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tmp-abc"})
	}))
	defer upstream.Close()

	srv := newTestServer(config.Config{AssemblyAIKey: "vendor-key", TokenExpiry: time.Hour}, "")
	srv.tokenEndpoint = upstream.URL

	r := httptest.NewRequest(http.MethodPost, "/api/assembly-token", nil)
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["token"] != "tmp-abc" {
		t.Errorf("token = %q", resp["token"])
	}
}

func TestAssemblyToken_NoKeyConfigured(t *testing.T) {
	srv := newTestServer(config.Config{}, "")
	r := httptest.NewRequest(http.MethodPost, "/api/assembly-token", nil)
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestAssemblyToken_UpstreamAuthFailureForwarded(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer upstream.Close()

	srv := newTestServer(config.Config{AssemblyAIKey: "bad-key", TokenExpiry: time.Hour}, "")
	srv.tokenEndpoint = upstream.URL

	r := httptest.NewRequest(http.MethodPost, "/api/assembly-token", nil)
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestGenerateAnswer_Simple(t *testing.T) {
	srv := newTestServer(config.Config{}, "QUESTION: Why Go?\nANSWER: Concurrency and simplicity.")

	body := `{"question":"why go?"}`
	r := httptest.NewRequest(http.MethodPost, "/api/generate-answer", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp generateAnswerResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Question != "Why Go?" || resp.Answer != "Concurrency and simplicity." {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Options != nil {
		t.Error("non-multiple-choice reply should carry no options")
	}
}

func TestGenerateAnswer_MultipleChoiceShaping(t *testing.T) {
	reply := "QUESTION: Which approach?\nANSWER: Option A: use a map. Option B: sort first. Option C: brute force. Recommendation: Option A is the best choice."
	srv := newTestServer(config.Config{}, reply)

	body := `{"question":"pick option a, b, or c","multiple_choice":true}`
	r := httptest.NewRequest(http.MethodPost, "/api/generate-answer", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp generateAnswerResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Options["a"] != "use a map." {
		t.Errorf("option a = %q", resp.Options["a"])
	}
	if resp.Options["c"] != "brute force." {
		t.Errorf("option c = %q", resp.Options["c"])
	}
	if resp.Recommendation == "" {
		t.Error("recommendation missing")
	}
}

func TestGenerateAnswer_MissingQuestion(t *testing.T) {
	srv := newTestServer(config.Config{}, "")
	r := httptest.NewRequest(http.MethodPost, "/api/generate-answer", strings.NewReader(`{}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
