package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/solomid123/marooc/internal/answer"
	"github.com/solomid123/marooc/internal/config"
)

const defaultTokenEndpoint = "https://api.assemblyai.com/v2/realtime/token"

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients connect from the app origin; restrict in production.
		return true
	},
}

// Server holds the HTTP surface: session lifecycle, the token-minting route
// the realtime client depends on, and server-side answer generation.
type Server struct {
	Router http.Handler

	cfg       config.Config
	generator *answer.Generator

	sessionsMu sync.Mutex
	sessions   map[string]*managedSession

	// tokenEndpoint and httpClient are swappable for tests.
	tokenEndpoint string
	httpClient    *http.Client
}

// New constructs the HTTP server with routes registered.
func New(cfg config.Config, generator *answer.Generator) *Server {
	s := &Server{
		cfg:           cfg,
		generator:     generator,
		sessions:      make(map[string]*managedSession),
		tokenEndpoint: defaultTokenEndpoint,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
	}
	e := newRouter()
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.POST("/api/assembly-token", s.assemblyToken)
	e.POST("/api/generate-answer", s.generateAnswer)

	e.POST("/api/session", s.startSession)
	e.POST("/api/session/:id/pause", s.pauseSession)
	e.POST("/api/session/:id/resume", s.resumeSession)
	e.POST("/api/session/:id/generate", s.triggerGeneration)
	e.PUT("/api/session/:id/background", s.updateBackground)
	e.GET("/api/session/:id/transcript", s.sessionTranscript)
	e.DELETE("/api/session/:id", s.endSession)
	e.GET("/ws/session/:id", s.sessionEvents)
	s.Router = e
	return s
}

// assemblyToken mints a temporary realtime token server-side so the
// long-lived vendor key never reaches a client.
func (s *Server) assemblyToken(c echo.Context) error {
	if s.cfg.AssemblyAIKey == "" {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "transcription key not configured"})
	}

	body, _ := json.Marshal(map[string]int{"expires_in": int(s.cfg.TokenExpiry.Seconds())})
	req, err := http.NewRequestWithContext(c.Request().Context(), http.MethodPost, s.tokenEndpoint, bytes.NewReader(body))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "token request build failed"})
	}
	req.Header.Set("Authorization", s.cfg.AssemblyAIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": fmt.Sprintf("token upstream unreachable: %v", err)})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		status := http.StatusBadGateway
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			status = resp.StatusCode
		}
		return c.JSON(status, map[string]string{"error": fmt.Sprintf("token upstream: status=%d body=%s", resp.StatusCode, string(b))})
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.Token == "" {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "token upstream returned no token"})
	}
	return c.JSON(http.StatusOK, map[string]string{"token": payload.Token})
}

type generateAnswerRequest struct {
	Question           string         `json:"question"`
	Context            string         `json:"context"`
	ResumeText         string         `json:"resume_text"`
	Profile            answer.Profile `json:"profile"`
	JobDescription     string         `json:"job_description"`
	UserAuthoredResume bool           `json:"user_authored_resume"`
	MultipleChoice     bool           `json:"multiple_choice"`
}

type generateAnswerResponse struct {
	Question       string            `json:"question"`
	Answer         string            `json:"answer"`
	Options        map[string]string `json:"options,omitempty"`
	Recommendation string            `json:"recommendation,omitempty"`
}

// generateAnswer runs a generation cycle server-side. Errors from the model
// backend surface as presentable answer text, never as failed requests.
func (s *Server) generateAnswer(c echo.Context) error {
	var req generateAnswerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Question == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "question is required"})
	}
	if req.Context == "" {
		req.Context = req.Question
	}

	res := s.generator.Generate(c.Request().Context(), answer.Request{
		Question:           req.Question,
		Context:            req.Context,
		ResumeText:         req.ResumeText,
		Profile:            req.Profile,
		JobDescription:     req.JobDescription,
		UserAuthoredResume: req.UserAuthoredResume,
		MultipleChoice:     req.MultipleChoice,
	})

	out := generateAnswerResponse{Question: res.Question, Answer: res.Answer}
	if req.MultipleChoice {
		options := map[string]string{}
		for _, letter := range []string{"a", "b", "c"} {
			if text := answer.ExtractOption(res.Answer, letter); text != "" {
				options[letter] = text
			}
		}
		if len(options) > 0 {
			out.Options = options
		}
		out.Recommendation = answer.ExtractRecommendation(res.Answer)
	}
	return c.JSON(http.StatusOK, out)
}
