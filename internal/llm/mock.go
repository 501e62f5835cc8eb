package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type mockGenerator struct {
	delay time.Duration
}

// NewMockGenerator answers every prompt with a numbered list of canned
// interview questions.
func NewMockGenerator() Generator { return &mockGenerator{delay: 20 * time.Millisecond} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.delay):
	}
	topic := firstLine(req.Prompt)
	lines := []string{
		fmt.Sprintf("1. What drew you to this role (%s)?", topic),
		"2. Describe a project you are proud of and your part in it.",
		"3. Tell me about a difficult technical problem and how you solved it.",
		"4. How do you handle disagreement within a team?",
		"5. What would you focus on in your first three months?",
	}
	for i, line := range lines {
		if err := consumer(Chunk{Content: line + "\n", Partial: i < len(lines)-1, Latency: m.delay}); err != nil {
			return err
		}
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 60 {
		s = s[:60]
	}
	return s
}
