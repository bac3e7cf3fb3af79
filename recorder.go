package keyscope

import "time"

// Recorder receives the outcome of every store operation a Session performs.
type Recorder interface {
	Observe(op string, elapsed time.Duration, code Code)
	// State receives connectivity transitions.
	State(state State)
}

type nopRecorder struct{}

func (nopRecorder) Observe(string, time.Duration, Code) {}
func (nopRecorder) State(State)                         {}
