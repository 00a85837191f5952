// Package log carries the CLI-facing progress rendering that sits on top of
// the zerolog event stream: a phase-by-phase step logger with a spinner for
// interactive runs. Structured logging itself stays with zerolog; this
// package only owns the human terminal line.
package log

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// StepLogger renders pipeline phases as a single self-overwriting terminal
// line and logs a structured event per phase transition. It is safe for use
// from the single coordinator goroutine plus the internal spinner ticker.
type StepLogger struct {
	mu        sync.Mutex
	name      string
	steps     []string
	current   int // index into steps, -1 before the first StartStep
	startedAt time.Time
	stepStart time.Time
	durations []time.Duration
	frame     int
	stop      chan struct{}
	done      bool
}

// NewStepLogger starts a step logger over the given ordered phase names and
// begins the spinner ticker immediately.
func NewStepLogger(name string, steps []string) *StepLogger {
	sl := &StepLogger{
		name:      name,
		steps:     steps,
		current:   -1,
		startedAt: time.Now(),
		durations: make([]time.Duration, len(steps)),
		stop:      make(chan struct{}),
	}
	go sl.tick()
	return sl
}

func (sl *StepLogger) tick() {
	ticker := time.NewTicker(120 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-sl.stop:
			return
		case <-ticker.C:
			sl.mu.Lock()
			sl.frame = (sl.frame + 1) % len(spinnerFrames)
			if !sl.done {
				sl.render("")
			}
			sl.mu.Unlock()
		}
	}
}

// StartStep begins the named phase. An unknown name is logged and ignored
// so a renamed phase can't panic a run.
func (sl *StepLogger) StartStep(step string) {
	idx := -1
	for i, s := range sl.steps {
		if s == step {
			idx = i
			break
		}
	}
	if idx == -1 {
		log.Warn().Str("step", step).Msg("unknown pipeline step")
		return
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.current = idx
	sl.stepStart = time.Now()
	sl.render("")

	log.Info().
		Str("step", step).
		Int("step_number", idx+1).
		Int("total_steps", len(sl.steps)).
		Msg("starting pipeline step")
}

// CompleteStep marks the current phase finished and records its duration.
func (sl *StepLogger) CompleteStep() {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.current < 0 {
		return
	}
	d := time.Since(sl.stepStart)
	sl.durations[sl.current] = d

	log.Info().
		Str("step", sl.steps[sl.current]).
		Dur("duration", d).
		Msg("pipeline step completed")
}

// Finish stops the spinner and prints the per-phase timing summary.
func (sl *StepLogger) Finish() {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.done {
		return
	}
	sl.done = true
	close(sl.stop)

	total := time.Since(sl.startedAt)
	fmt.Printf("\r\033[K✅ %s completed in %v\n", sl.name, total.Round(time.Millisecond))
	for i, step := range sl.steps {
		share := 0.0
		if total > 0 {
			share = float64(sl.durations[i]) / float64(total) * 100
		}
		log.Info().
			Str("step", step).
			Dur("duration", sl.durations[i]).
			Float64("share_pct", share).
			Msgf("  %d. %s", i+1, step)
	}
}

// Fail stops the spinner and prints the failure with the phase it died in.
func (sl *StepLogger) Fail(reason string) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.done {
		return
	}
	sl.done = true
	close(sl.stop)

	fmt.Printf("\r\033[K❌ %s failed during %s: %s\n", sl.name, sl.currentName(), reason)
	log.Error().
		Str("failed_step", sl.currentName()).
		Int("completed_steps", sl.current).
		Int("total_steps", len(sl.steps)).
		Str("reason", reason).
		Msg("pipeline failed")
}

// render draws the progress line. Callers hold sl.mu.
func (sl *StepLogger) render(suffix string) {
	var b strings.Builder
	b.WriteString("\r\033[K")
	b.WriteString(spinnerFrames[sl.frame])
	b.WriteString(" ")
	b.WriteString(sl.name)
	if sl.current >= 0 {
		b.WriteString(fmt.Sprintf(" [%d/%d] %s", sl.current+1, len(sl.steps), sl.steps[sl.current]))
	}
	if suffix != "" {
		b.WriteString(" - ")
		b.WriteString(suffix)
	}
	fmt.Print(b.String())
}

func (sl *StepLogger) currentName() string {
	if sl.current >= 0 && sl.current < len(sl.steps) {
		return sl.steps[sl.current]
	}
	return "unknown"
}
