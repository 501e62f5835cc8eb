// Package questions produces the ordered question list for an interview.
package questions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/loqalabs/loqa-interview/internal/config"
	"github.com/loqalabs/loqa-interview/internal/llm"
)

// ErrNoQuestions is returned when a generator produced nothing usable.
var ErrNoQuestions = errors.New("no questions generated")

// Brief is what a supplier knows about the interview.
type Brief struct {
	CandidateName  string
	JobDescription string
	CV             string
	Count          int
}

// Supplier returns the questions for one interview. The list is fixed once
// returned.
type Supplier interface {
	Questions(ctx context.Context, brief Brief) ([]string, error)
}

var genericSet = []string{
	"Can you walk me through your background and what brought you to apply for this role?",
	"Tell me about a project you are particularly proud of. What was your contribution?",
	"Describe a time you faced a difficult problem at work. How did you approach it?",
	"How do you handle disagreements with teammates or stakeholders?",
	"What do you expect to learn or achieve in the first six months in this position?",
	"Tell me about a time you had to learn something new quickly.",
	"How do you prioritise when several tasks are urgent at once?",
	"Do you have any questions for us about the role or the team?",
}

// Generic serves a fixed local question set.
type Generic struct{}

func (Generic) Questions(_ context.Context, brief Brief) ([]string, error) {
	n := brief.Count
	if n <= 0 || n > len(genericSet) {
		n = len(genericSet)
	}
	return append([]string(nil), genericSet[:n]...), nil
}

// Generated asks a language model for questions tailored to the brief and
// falls back to another supplier when generation fails.
type Generated struct {
	gen         llm.Generator
	fallback    Supplier
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	logger      *slog.Logger
}

func NewGenerated(gen llm.Generator, fallback Supplier, cfg config.QuestionsConfig, logger *slog.Logger) *Generated {
	return &Generated{
		gen:         gen,
		fallback:    fallback,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     time.Duration(cfg.TimeoutMS) * time.Millisecond,
		logger:      logger.With(slog.String("component", "questions")),
	}
}

const systemPrompt = "You are an experienced technical recruiter preparing a spoken screening interview. " +
	"Reply with a numbered list of questions only, one per line, no commentary."

func (g *Generated) Questions(ctx context.Context, brief Brief) ([]string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	start := time.Now()
	out, err := llm.Complete(ctx, g.gen, llm.Request{
		Prompt:      buildPrompt(brief),
		System:      systemPrompt,
		Model:       g.model,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if err == nil {
		qs := Parse(out, brief.Count)
		if len(qs) > 0 {
			g.logger.Info("questions generated", slog.Int("count", len(qs)), slog.Duration("latency", time.Since(start)))
			return qs, nil
		}
		err = ErrNoQuestions
	}
	if g.fallback == nil {
		return nil, fmt.Errorf("generate questions: %w", err)
	}
	g.logger.Warn("question generation failed, using fallback set", slog.String("error", err.Error()))
	return g.fallback.Questions(ctx, brief)
}

func buildPrompt(b Brief) string {
	var sb strings.Builder
	count := b.Count
	if count <= 0 {
		count = 5
	}
	fmt.Fprintf(&sb, "Write %d interview questions", count)
	if b.CandidateName != "" {
		fmt.Fprintf(&sb, " for %s", b.CandidateName)
	}
	sb.WriteString(".\n")
	if jd := strings.TrimSpace(b.JobDescription); jd != "" {
		sb.WriteString("\nJob description:\n")
		sb.WriteString(jd)
		sb.WriteString("\n")
	}
	if cv := strings.TrimSpace(b.CV); cv != "" {
		sb.WriteString("\nCandidate CV:\n")
		sb.WriteString(cv)
		sb.WriteString("\n")
	}
	return sb.String()
}

var listMarker = regexp.MustCompile(`^\s*(?:(?:Q(?:uestion)?\s*)?\d+\s*[.):-]|[-*•])\s*`)

// Parse extracts questions from model output. Numbered or bulleted lines
// win when present; otherwise every non-empty line counts. At most limit
// questions are returned when limit is positive.
func Parse(text string, limit int) []string {
	var marked, plain []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		isMarked := listMarker.MatchString(line)
		q := strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		q = strings.Trim(q, `"*`)
		q = strings.TrimSpace(q)
		if q == "" || seen[strings.ToLower(q)] {
			continue
		}
		seen[strings.ToLower(q)] = true
		if isMarked {
			marked = append(marked, q)
		} else {
			plain = append(plain, q)
		}
	}
	out := plain
	if len(marked) > 0 {
		out = marked
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// New builds the supplier selected by cfg.Mode.
func New(cfg config.QuestionsConfig, logger *slog.Logger) (Supplier, error) {
	switch cfg.Mode {
	case "", "generic":
		return Generic{}, nil
	case "mock":
		return NewGenerated(llm.NewMockGenerator(), Generic{}, cfg, logger), nil
	case "ollama":
		client := &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond}
		return NewGenerated(llm.NewOllamaGenerator(cfg.Endpoint, cfg.Model, client), Generic{}, cfg, logger), nil
	case "exec":
		gen, err := llm.NewExecGenerator(cfg.Command)
		if err != nil {
			return nil, err
		}
		return NewGenerated(gen, Generic{}, cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported questions mode %q", cfg.Mode)
	}
}
