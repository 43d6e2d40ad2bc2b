package answer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

// Provider produces a raw model reply for a prompt.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Profile holds structured resume fields. Structured fields take precedence
// over free-form resume text when both are present.
type Profile struct {
	Name       string
	Email      string
	Phone      string
	Summary    string
	Skills     []string
	Experience []string
	Education  []string
}

func (p Profile) empty() bool {
	return p.Name == "" && p.Summary == "" &&
		len(p.Skills) == 0 && len(p.Experience) == 0 && len(p.Education) == 0
}

// Request carries everything needed for one answer.
type Request struct {
	Question           string
	Context            string
	ResumeText         string
	Profile            Profile
	JobDescription     string
	UserAuthoredResume bool
	MultipleChoice     bool
}

// Result is always user-presentable: errors are mapped to fixed messages in
// the Answer field rather than propagated.
type Result struct {
	Question string
	Answer   string
}

const (
	defaultTimeout = 5 * time.Second

	placeholderResume = "An experienced professional with a broad technical background."

	msgTimeout     = "The request took too long. Try again with a shorter transcript."
	msgRateLimited = "The AI service is busy right now. Wait a moment and try again."
	msgAuthFailed  = "The AI service rejected the configured credentials. Check the API key."
	msgUnavailable = "The configured AI model is unavailable. Check the model name."
	msgGeneric     = "Could not generate an answer. Please try again."
)

// Generator turns a detected question plus candidate background into a
// suggested answer, bounded by a hard timeout.
type Generator struct {
	provider Provider
	timeout  time.Duration
}

func NewGenerator(provider Provider) *Generator {
	return &Generator{provider: provider, timeout: defaultTimeout}
}

// WithTimeout overrides the generation deadline; zero keeps the default.
func (g *Generator) WithTimeout(d time.Duration) *Generator {
	if d > 0 {
		g.timeout = d
	}
	return g
}

type generationOutcome struct {
	raw string
	err error
}

// Generate runs the provider against the timeout. A provider that never
// returns still yields the timeout message within the window; the stray
// goroutine's late result is discarded.
func (g *Generator) Generate(ctx context.Context, req Request) Result {
	prompt := buildPrompt(req)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcome := make(chan generationOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("answer: recovered from panic in provider: %v", r)
				outcome <- generationOutcome{err: fmt.Errorf("provider panic: %v", r)}
			}
		}()
		raw, err := g.provider.Generate(ctx, prompt)
		outcome <- generationOutcome{raw: raw, err: err}
	}()

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	var out generationOutcome
	select {
	case out = <-outcome:
	case <-timer.C:
		return Result{Question: fallbackQuestion(req), Answer: msgTimeout}
	case <-ctx.Done():
		return Result{Question: fallbackQuestion(req), Answer: msgTimeout}
	}

	if out.err != nil {
		log.Printf("answer: generation error: %v", out.err)
		return Result{Question: fallbackQuestion(req), Answer: mapError(out.err)}
	}

	question, answerText := ExtractQA(out.raw, req.Question)
	return Result{Question: question, Answer: answerText}
}

func fallbackQuestion(req Request) string {
	if m := interrogativeScan.FindString(req.Question); m != "" {
		return strings.TrimSpace(m)
	}
	return fallbackQuestionLabel
}

func mapError(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return msgRateLimited
	case errors.Is(err, ErrAuthFailed):
		return msgAuthFailed
	case errors.Is(err, ErrModelUnavailable):
		return msgUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	default:
		return msgGeneric
	}
}

// buildPrompt assembles the personalized instruction. Structured profile
// fields win over free-form resume text; with neither, a neutral placeholder
// keeps auto-triggers flowing.
func buildPrompt(req Request) string {
	var sb strings.Builder

	sb.WriteString("You are helping a candidate answer questions during a live job interview.\n")
	sb.WriteString("Reply in exactly this format:\nQUESTION: <the question being asked>\nANSWER: <a concise first-person answer>\n\n")

	resume := resumeSection(req)
	if req.UserAuthoredResume {
		sb.WriteString("Candidate background (written by the candidate):\n")
	} else {
		sb.WriteString("Candidate background:\n")
	}
	sb.WriteString(resume)
	sb.WriteString("\n\n")

	if req.JobDescription != "" {
		sb.WriteString("Job description:\n")
		sb.WriteString(req.JobDescription)
		sb.WriteString("\n\n")
	}

	if req.MultipleChoice {
		sb.WriteString("This is a multiple-choice question. In the ANSWER, restate each option as \"Option A:\", \"Option B:\", \"Option C:\" with a one-line assessment, then finish with \"Recommendation:\" naming the best option.\n\n")
	}

	sb.WriteString("Interview transcript:\n")
	sb.WriteString(req.Context)
	sb.WriteString("\n\nThe question to answer:\n")
	sb.WriteString(req.Question)
	return sb.String()
}

func resumeSection(req Request) string {
	if !req.Profile.empty() {
		var parts []string
		if req.Profile.Name != "" {
			parts = append(parts, "Name: "+req.Profile.Name)
		}
		if req.Profile.Summary != "" {
			parts = append(parts, "Summary: "+req.Profile.Summary)
		}
		if len(req.Profile.Skills) > 0 {
			parts = append(parts, "Skills: "+strings.Join(req.Profile.Skills, ", "))
		}
		if len(req.Profile.Experience) > 0 {
			parts = append(parts, "Experience: "+strings.Join(req.Profile.Experience, "; "))
		}
		if len(req.Profile.Education) > 0 {
			parts = append(parts, "Education: "+strings.Join(req.Profile.Education, "; "))
		}
		return strings.Join(parts, "\n")
	}
	if strings.TrimSpace(req.ResumeText) != "" {
		return req.ResumeText
	}
	return placeholderResume
}
