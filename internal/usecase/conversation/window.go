package conversation

import "github.com/kailas-cloud/bmae/internal/domain"

// DefaultHistoryK is the number of question/answer pairs kept for retrieval.
const DefaultHistoryK = 4

// Window is a bounded FIFO of turns. It is not safe for concurrent use.
type Window struct {
	k     int
	turns []domain.Turn
}

// NewWindow creates a window holding at most k turns (DefaultHistoryK when k <= 0).
func NewWindow(k int) *Window {
	if k <= 0 {
		k = DefaultHistoryK
	}
	return &Window{k: k, turns: make([]domain.Turn, 0, k)}
}

// Append adds a turn, evicting the oldest when full.
func (w *Window) Append(t domain.Turn) {
	if len(w.turns) == w.k {
		copy(w.turns, w.turns[1:])
		w.turns = w.turns[:w.k-1]
	}
	w.turns = append(w.turns, t)
}

// Turns returns a copy of the kept turns, oldest first.
func (w *Window) Turns() []domain.Turn {
	return append([]domain.Turn(nil), w.turns...)
}

// Len returns the number of kept turns.
func (w *Window) Len() int { return len(w.turns) }

// Clear drops every turn.
func (w *Window) Clear() { w.turns = w.turns[:0] }
