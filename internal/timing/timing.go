// Package timing measures the phases of a lifecycle operation.
package timing

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Timer tracks durations of named phases.
type Timer struct {
	op     string
	start  time.Time
	phases []Phase
}

// Phase represents a timed phase with name and duration.
type Phase struct {
	Name     string
	Duration time.Duration
}

// New creates a Timer for operation op, starting from now.
func New(op string) *Timer {
	return &Timer{op: op, start: time.Now()}
}

// Mark records a named phase ending now.
// Duration is time since last mark (or since start if first mark).
func (t *Timer) Mark(name string) {
	elapsed := time.Since(t.start)
	t.phases = append(t.phases, Phase{Name: name, Duration: elapsed - t.totalDuration()})
}

// Total returns the total elapsed time since timer creation.
func (t *Timer) Total() time.Duration {
	return time.Since(t.start)
}

// Phases returns all recorded phases.
func (t *Timer) Phases() []Phase {
	return t.phases
}

// Report prints a timing report to the given writer.
func (t *Timer) Report(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "=== %s timing ===\n", t.op)
	for _, p := range t.phases {
		fmt.Fprintf(w, "  %-20s %s\n", p.Name+":", formatDuration(p.Duration))
	}
	fmt.Fprintf(w, "  %-20s %s\n", "TOTAL:", formatDuration(t.Total()))
}

// Log emits the phases as one debug event on logger.
func (t *Timer) Log(logger zerolog.Logger) {
	ev := logger.Debug().Str("op", t.op)
	for _, p := range t.phases {
		ev = ev.Dur(p.Name, p.Duration)
	}
	ev.Dur("total", t.Total()).Msg("operation timing")
}

func (t *Timer) totalDuration() time.Duration {
	var total time.Duration
	for _, p := range t.phases {
		total += p.Duration
	}
	return total
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}
