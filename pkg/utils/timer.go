package utils

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// TimerOutput receives the lines of a timing summary.
type TimerOutput interface {
	Output(format string, args ...interface{})
}

// LoggerOutput writes a timing summary to a Logger at info level.
type LoggerOutput struct {
	Logger Logger
}

func (o *LoggerOutput) Output(format string, args ...interface{}) {
	if o.Logger != nil {
		o.Logger.Info(format, args...)
	}
}

// Phase is one timed step. Child phases name their parent.
type Phase struct {
	Name     string
	Parent   string
	Level    int
	Start    time.Time
	Duration time.Duration
	done     bool
}

// PhaseTimer stops one phase. It is meant for defer.
type PhaseTimer struct {
	timer *Timer
	name  string
}

// Stop records the phase duration. Only the first call counts.
func (pt *PhaseTimer) Stop() time.Duration { return pt.timer.stop(pt.name) }

// Timer records the durations of named phases, optionally nested, and
// prints them as a summary. A disabled timer records nothing.
type Timer struct {
	mu      sync.Mutex
	name    string
	start   time.Time
	phases  map[string]*Phase
	order   []string
	output  TimerOutput
	enabled bool
	clock   Clock
}

// TimerOption configures a Timer.
type TimerOption func(*Timer)

// WithOutput sets where PrintSummary writes.
func WithOutput(output TimerOutput) TimerOption {
	return func(t *Timer) { t.output = output }
}

// WithLogger prints summaries through logger.
func WithLogger(logger Logger) TimerOption {
	return func(t *Timer) {
		if logger != nil {
			t.output = &LoggerOutput{Logger: logger}
		}
	}
}

// WithEnabled turns recording on or off.
func WithEnabled(enabled bool) TimerOption {
	return func(t *Timer) { t.enabled = enabled }
}

// WithClock replaces the wall clock.
func WithClock(clock Clock) TimerOption {
	return func(t *Timer) { t.clock = clock }
}

// NewTimer creates an enabled timer.
func NewTimer(name string, opts ...TimerOption) *Timer {
	t := &Timer{
		name:    name,
		phases:  make(map[string]*Phase),
		enabled: true,
		clock:   NewRealClock(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.start = t.clock.Now()
	return t
}

// NullTimer records nothing. A nil *Timer behaves the same.
var NullTimer = NewTimer("", WithEnabled(false))

func (t *Timer) on() bool { return t != nil && t.enabled }

// Start begins a top-level phase.
func (t *Timer) Start(name string) *PhaseTimer { return t.StartChild("", name) }

// StartChild begins a phase nested under parent. An empty parent starts a
// top-level phase.
func (t *Timer) StartChild(parent, name string) *PhaseTimer {
	pt := &PhaseTimer{timer: t, name: name}
	if !t.on() {
		return pt
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	level := 0
	if p, ok := t.phases[parent]; ok && parent != "" {
		level = p.Level + 1
	}
	if _, ok := t.phases[name]; !ok {
		t.order = append(t.order, name)
	}
	t.phases[name] = &Phase{Name: name, Parent: parent, Level: level, Start: t.clock.Now()}
	return pt
}

func (t *Timer) stop(name string) time.Duration {
	if !t.on() {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.phases[name]
	if !ok {
		return 0
	}
	if !p.done {
		p.Duration = t.clock.Since(p.Start)
		p.done = true
	}
	return p.Duration
}

// TimeFunc runs fn as a top-level phase.
func (t *Timer) TimeFunc(name string, fn func()) time.Duration {
	pt := t.Start(name)
	fn()
	return pt.Stop()
}

// TimeFuncWithError runs fn as a top-level phase and returns its error.
func (t *Timer) TimeFuncWithError(name string, fn func() error) (time.Duration, error) {
	pt := t.Start(name)
	err := fn()
	return pt.Stop(), err
}

// Duration returns the recorded duration of a phase.
func (t *Timer) Duration(name string) time.Duration {
	if !t.on() {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.phases[name]; ok {
		return p.Duration
	}
	return 0
}

// Total returns the time since the timer was created.
func (t *Timer) Total() time.Duration {
	if !t.on() {
		return 0
	}
	return t.clock.Since(t.start)
}

// Phases returns copies of the phases in start order.
func (t *Timer) Phases() []Phase {
	if !t.on() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Phase, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, *t.phases[name])
	}
	return out
}

// lines renders the summary, one entry per line.
func (t *Timer) lines() []string {
	phases := t.Phases()
	out := make([]string, 0, len(phases)+2)
	out = append(out, fmt.Sprintf("=== %s timing ===", t.name))
	root := 0
	children := make(map[string]int)
	for _, p := range phases {
		var label string
		if p.Level == 0 {
			root++
			label = fmt.Sprintf("%d. %s", root, p.Name)
		} else {
			children[p.Parent]++
			label = fmt.Sprintf("%s%d.%d %s", strings.Repeat("  ", p.Level), p.Level, children[p.Parent], p.Name)
		}
		if !p.done {
			label += " (running)"
		}
		out = append(out, fmt.Sprintf("%s: %v", label, p.Duration))
	}
	return append(out, fmt.Sprintf("Total: %v", t.Total()))
}

// Summary returns the summary as text, empty when the timer is disabled.
func (t *Timer) Summary() string {
	if !t.on() {
		return ""
	}
	return strings.Join(t.lines(), "\n") + "\n"
}

// PrintSummary writes the summary to the configured output.
func (t *Timer) PrintSummary() {
	if !t.on() || t.output == nil {
		return
	}
	for _, line := range t.lines() {
		t.output.Output("%s", line)
	}
}
