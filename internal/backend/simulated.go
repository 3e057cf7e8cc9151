package backend

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// simulatedTemplates are the canned replies, the submitted text replaces %s
var simulatedTemplates = [...]string{
	`I've analyzed your request: "%s" and here's my response.`,
	`Based on my understanding, "%s" refers to a common pattern in software development.`,
	`Regarding "%s", I recommend considering these factors...`,
	`Your question about "%s" is interesting. Here's what I think.`,
}

// Simulated answers locally after a fixed delay. It never fails.
type Simulated struct {
	delay time.Duration
	pick  func(n int) int
}

// NewSimulated creates a simulated responder that waits delay before answering
func NewSimulated(delay time.Duration) *Simulated {
	return &Simulated{
		delay: delay,
		pick:  rand.Intn,
	}
}

func (s *Simulated) Name() string { return "simulated" }

// Reply waits for the configured delay and returns one of the templates.
// The delay is not interrupted by ctx.
func (s *Simulated) Reply(_ context.Context, text string) (string, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return SimulatedReply(text, s.pick(len(simulatedTemplates))), nil
}

// SimulatedReply renders template i with text
func SimulatedReply(text string, i int) string {
	return fmt.Sprintf(simulatedTemplates[i], text)
}

// SimulatedReplies lists every reply the simulated responder could give for text
func SimulatedReplies(text string) []string {
	out := make([]string, len(simulatedTemplates))
	for i := range simulatedTemplates {
		out[i] = SimulatedReply(text, i)
	}
	return out
}
