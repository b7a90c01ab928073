package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFanoutDeliversToEverySink(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	f := Fanout{a, nil, Nop{}, b}

	f.Emit(context.Background(), Event{Type: PhaseStarted, SessionID: "s1"})
	f.Emit(context.Background(), Event{Type: PhaseCompleted, SessionID: "s1"})

	assert.Equal(t, []string{PhaseStarted, PhaseCompleted}, a.Types())
	assert.Equal(t, a.Events(), b.Events())
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "brieflow.events.phase_failed", Subject(PhaseFailed))
}
