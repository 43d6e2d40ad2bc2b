package httpserver

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/solomid123/marooc/internal/aggregate"
	"github.com/solomid123/marooc/internal/answer"
	"github.com/solomid123/marooc/internal/capture"
	"github.com/solomid123/marooc/internal/session"
	"github.com/solomid123/marooc/internal/transcript"
)

// liveEvent is one message on a session's live feed.
type liveEvent struct {
	Type      string    `json:"type"` // "item", "response", "status", "generation_finished"
	Timestamp time.Time `json:"timestamp"`

	Item     *transcriptItemDTO `json:"item,omitempty"`
	Response *responseDTO       `json:"response,omitempty"`
	Message  string             `json:"message,omitempty"`
}

type transcriptItemDTO struct {
	ID       string `json:"id"`
	Speaker  string `json:"speaker"`
	Text     string `json:"text"`
	Occurred int64  `json:"occurred_ms"`
}

type responseDTO struct {
	ID               string            `json:"id"`
	Question         string            `json:"question"`
	Answer           string            `json:"answer"`
	Source           string            `json:"source"`
	IsMultipleChoice bool              `json:"is_multiple_choice"`
	Options          map[string]string `json:"options,omitempty"`
	Recommendation   string            `json:"recommendation,omitempty"`
}

// managedSession bundles one interview's pipeline behind an id.
type managedSession struct {
	id     string
	ctrl   *session.Controller
	agg    *aggregate.Aggregator
	events chan liveEvent
}

func (m *managedSession) emit(ev liveEvent) {
	ev.Timestamp = time.Now()
	select {
	case m.events <- ev:
	default:
		// Feed consumer is behind; drop rather than stall the pipeline.
	}
}

type startSessionRequest struct {
	Offer          capture.SessionDescription `json:"offer"`
	ResumeText     string                     `json:"resume_text"`
	Profile        answer.Profile             `json:"profile"`
	JobDescription string                     `json:"job_description"`
}

type startSessionResponse struct {
	SessionID string                     `json:"session_id"`
	Answer    capture.SessionDescription `json:"answer"`
}

// startSession answers a WebRTC offer and spins up the full pipeline:
// capture -> transcription -> aggregation -> answer generation.
func (s *Server) startSession(c echo.Context) error {
	var req startSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	sdpAnswer, stream, err := capture.AcceptOffer(c.Request().Context(), req.Offer)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	ms := &managedSession{
		id:     uuid.New().String(),
		events: make(chan liveEvent, 64),
	}

	attributor := transcript.NewAttributor()
	var ctrl *session.Controller

	agg := aggregate.New(aggregate.Config{
		ContinuationWindow: s.cfg.ContinuationWindow,
		Speaker:            attributor.Current,
		Generate: func(ctx context.Context, greq aggregate.GenerateRequest) (aggregate.GeneratedAnswer, error) {
			resumeText, profile, jobDescription, userAuthored := ctrl.Background()
			res := s.generator.Generate(ctx, answer.Request{
				Question:           greq.Question,
				Context:            greq.Context,
				ResumeText:         resumeText,
				Profile:            profile,
				JobDescription:     jobDescription,
				UserAuthoredResume: userAuthored,
				MultipleChoice:     greq.MultipleChoice,
			})
			return aggregate.GeneratedAnswer{Question: res.Question, Answer: res.Answer}, nil
		},
		HasResume: func() bool { return ctrl.HasResume() },
		HasJobDescription: func() bool {
			_, _, jobDescription, _ := ctrl.Background()
			return jobDescription != ""
		},
		ResetBackend: func() {
			if err := ctrl.Reset(context.Background()); err != nil {
				log.Printf("session %s: backend reset: %v", ms.id, err)
			}
		},
		OnItem: func(it aggregate.Item) {
			ms.emit(liveEvent{Type: "item", Item: &transcriptItemDTO{
				ID:       it.ID,
				Speaker:  string(it.Speaker),
				Text:     aggregate.Redact(it.Text),
				Occurred: it.Timestamp.UnixMilli(),
			}})
		},
		OnResponse: func(r aggregate.Response) {
			ms.emit(liveEvent{Type: "response", Response: shapeResponse(r)})
		},
		OnStatus: func(msg string) {
			ms.emit(liveEvent{Type: "status", Message: msg})
		},
		OnGenerationFinished: func(source aggregate.ResponseSource) {
			// Auto cycles never held the manual gate; only manual
			// completions re-arm it.
			if source == aggregate.SourceManual {
				ctrl.GenerationFinished()
			}
			ms.emit(liveEvent{Type: "generation_finished"})
		},
	})

	ctrl = session.NewController(session.Config{
		Source:     capture.NewSource(stream),
		Aggregator: agg,
		Attributor: attributor,
		SilenceGap: s.cfg.SilenceGap,
		OnStatus: func(msg string) {
			ms.emit(liveEvent{Type: "status", Message: msg})
		},
		NewProvider: func() transcript.Provider {
			return transcript.NewRealtimeClient(transcript.RealtimeConfig{
				TokenURL:   s.cfg.TokenURL,
				SampleRate: capture.SampleRate,
			}, agg.HandleFragment, attributor.Hint)
		},
	})
	ctrl.SetResumeText(req.ResumeText)
	ctrl.SetProfile(req.Profile)
	ctrl.SetJobDescription(req.JobDescription)

	if err := ctrl.Start(c.Request().Context()); err != nil {
		stream.Close()
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}

	ms.ctrl = ctrl
	ms.agg = agg
	s.sessionsMu.Lock()
	s.sessions[ms.id] = ms
	s.sessionsMu.Unlock()

	log.Printf("session %s: started", ms.id)
	return c.JSON(http.StatusOK, startSessionResponse{SessionID: ms.id, Answer: sdpAnswer})
}

func shapeResponse(r aggregate.Response) *responseDTO {
	dto := &responseDTO{
		ID:               r.ID,
		Question:         r.Question,
		Answer:           r.Answer,
		Source:           string(r.Source),
		IsMultipleChoice: r.IsMultipleChoice,
	}
	if r.IsMultipleChoice {
		options := map[string]string{}
		for _, letter := range []string{"a", "b", "c"} {
			if text := answer.ExtractOption(r.Answer, letter); text != "" {
				options[letter] = text
			}
		}
		if len(options) > 0 {
			dto.Options = options
		}
		dto.Recommendation = answer.ExtractRecommendation(r.Answer)
	}
	return dto
}

func (s *Server) lookupSession(c echo.Context) (*managedSession, error) {
	id := c.Param("id")
	s.sessionsMu.Lock()
	ms := s.sessions[id]
	s.sessionsMu.Unlock()
	if ms == nil {
		return nil, c.JSON(http.StatusNotFound, map[string]string{"error": "unknown session"})
	}
	return ms, nil
}

func (s *Server) pauseSession(c echo.Context) error {
	ms, err := s.lookupSession(c)
	if ms == nil {
		return err
	}
	if err := ms.ctrl.Pause(); err != nil {
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) resumeSession(c echo.Context) error {
	ms, err := s.lookupSession(c)
	if ms == nil {
		return err
	}
	if err := ms.ctrl.Resume(); err != nil {
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

// triggerGeneration is the manual trigger: the whole accumulated transcript
// becomes the generation context and is cleared before the call is issued.
func (s *Server) triggerGeneration(c echo.Context) error {
	ms, err := s.lookupSession(c)
	if ms == nil {
		return err
	}
	switch err := ms.ctrl.GenerateAnswer(c.Request().Context()); err {
	case nil:
		return c.NoContent(http.StatusAccepted)
	case session.ErrGenerationInFlight:
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case aggregate.ErrResumeRequired:
		return c.JSON(http.StatusPreconditionFailed, map[string]string{"error": err.Error()})
	case aggregate.ErrEmptyTranscript:
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

type backgroundRequest struct {
	ResumeText     string         `json:"resume_text"`
	Profile        answer.Profile `json:"profile"`
	JobDescription string         `json:"job_description"`
}

func (s *Server) updateBackground(c echo.Context) error {
	ms, err := s.lookupSession(c)
	if ms == nil {
		return err
	}
	var req backgroundRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	ms.ctrl.SetResumeText(req.ResumeText)
	ms.ctrl.SetProfile(req.Profile)
	ms.ctrl.SetJobDescription(req.JobDescription)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) sessionTranscript(c echo.Context) error {
	ms, err := s.lookupSession(c)
	if ms == nil {
		return err
	}
	items := ms.agg.Items()
	dtos := make([]transcriptItemDTO, 0, len(items))
	for _, it := range items {
		dtos = append(dtos, transcriptItemDTO{
			ID:       it.ID,
			Speaker:  string(it.Speaker),
			Text:     aggregate.Redact(it.Text),
			Occurred: it.Timestamp.UnixMilli(),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"items": dtos,
		"live":  aggregate.Redact(ms.agg.LiveText()),
	})
}

func (s *Server) endSession(c echo.Context) error {
	ms, err := s.lookupSession(c)
	if ms == nil {
		return err
	}
	s.sessionsMu.Lock()
	delete(s.sessions, ms.id)
	s.sessionsMu.Unlock()

	ms.ctrl.Teardown()
	log.Printf("session %s: ended", ms.id)
	return c.NoContent(http.StatusNoContent)
}

// sessionEvents drains a session's live feed into a websocket until either
// side goes away.
func (s *Server) sessionEvents(c echo.Context) error {
	ms, err := s.lookupSession(c)
	if ms == nil {
		return err
	}
	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	// Reader goroutine just detects the peer closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return nil
		case ev := <-ms.events:
			if err := conn.WriteJSON(ev); err != nil {
				return nil
			}
		}
	}
}
