package utils

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureOutput struct {
	lines []string
}

func (c *captureOutput) Output(format string, args ...interface{}) {
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
}

func TestTimer_Phases(t *testing.T) {
	clock := NewMockClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	timer := NewTimer("link", WithClock(clock))

	load := timer.Start("load")
	clock.Advance(30 * time.Millisecond)
	parse := timer.StartChild("load", "parse")
	clock.Advance(10 * time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, parse.Stop())
	clock.Advance(5 * time.Millisecond)
	assert.Equal(t, 45*time.Millisecond, load.Stop())

	t.Run("stop is idempotent", func(t *testing.T) {
		clock.Advance(time.Second)
		assert.Equal(t, 45*time.Millisecond, load.Stop())
	})

	phases := timer.Phases()
	require.Len(t, phases, 2)
	assert.Equal(t, "load", phases[0].Name)
	assert.Equal(t, 0, phases[0].Level)
	assert.Equal(t, "parse", phases[1].Name)
	assert.Equal(t, "load", phases[1].Parent)
	assert.Equal(t, 1, phases[1].Level)
	assert.Equal(t, 10*time.Millisecond, timer.Duration("parse"))
	assert.Zero(t, timer.Duration("missing"))
}

func TestTimer_TimeFunc(t *testing.T) {
	clock := NewMockClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	timer := NewTimer("preload", WithClock(clock))

	d := timer.TimeFunc("resolve", func() { clock.Advance(time.Second) })
	assert.Equal(t, time.Second, d)

	d, err := timer.TimeFuncWithError("publish", func() error {
		clock.Advance(2 * time.Second)
		return fmt.Errorf("boom")
	})
	assert.Equal(t, 2*time.Second, d)
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 3*time.Second, timer.Total())
}

func TestTimer_Summary(t *testing.T) {
	clock := NewMockClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	out := &captureOutput{}
	timer := NewTimer("redefine", WithClock(clock), WithOutput(out))

	timer.TimeFunc("parse", func() { clock.Advance(time.Millisecond) })
	timer.StartChild("parse", "diff")
	timer.Start("commit")

	summary := timer.Summary()
	assert.True(t, strings.HasPrefix(summary, "=== redefine timing ===\n"))
	assert.Contains(t, summary, "1. parse: 1ms")
	assert.Contains(t, summary, "  1.1 diff (running): 0s")
	assert.Contains(t, summary, "2. commit (running): 0s")
	assert.Contains(t, summary, "Total: 1ms")

	timer.PrintSummary()
	assert.Equal(t, strings.Split(strings.TrimSuffix(summary, "\n"), "\n"), out.lines)
}

func TestTimer_WithLogger(t *testing.T) {
	clock := NewMockClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	var buf strings.Builder
	logger := NewDefaultLogger(LevelInfo, &buf)

	timer := NewTimer("vm", WithClock(clock), WithLogger(logger))
	timer.TimeFunc("registries", func() { clock.Advance(time.Millisecond) })
	timer.PrintSummary()

	assert.Contains(t, buf.String(), "=== vm timing ===")
	assert.Contains(t, buf.String(), "1. registries: 1ms")
}

func TestTimer_Disabled(t *testing.T) {
	out := &captureOutput{}
	for name, timer := range map[string]*Timer{
		"disabled": NewTimer("off", WithEnabled(false), WithOutput(out)),
		"null":     NullTimer,
		"nil":      nil,
	} {
		t.Run(name, func(t *testing.T) {
			ran := false
			timer.TimeFunc("work", func() { ran = true })
			assert.True(t, ran)
			timer.Start("other").Stop()
			assert.Empty(t, timer.Phases())
			assert.Empty(t, timer.Summary())
			assert.Zero(t, timer.Total())
			timer.PrintSummary()
		})
	}
	assert.Empty(t, out.lines)
}
