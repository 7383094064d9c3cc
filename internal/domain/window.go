package domain

import (
	"errors"
	"math"
	"time"
)

var ErrInvalidWindow = errors.New("invalid window: from is after to")

// Window is the half-open interval [From, To).
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func NewWindow(from, to time.Time) (Window, error) {
	if from.After(to) {
		return Window{}, ErrInvalidWindow
	}
	return Window{From: from, To: to}, nil
}

// AllTime covers every record any store can hold. The upper bound is the
// largest instant representable in unix nanoseconds.
func AllTime() Window {
	return Window{
		From: time.Unix(0, 0).UTC(),
		To:   time.Unix(0, math.MaxInt64).UTC(),
	}
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

func (w Window) Empty() bool {
	return !w.From.Before(w.To)
}

// Clamp narrows w to AllTime so stores that key on unix nanoseconds never
// see an overflowed bound.
func (w Window) Clamp() Window {
	all := AllTime()
	if w.From.Before(all.From) {
		w.From = all.From
	}
	if w.To.After(all.To) {
		w.To = all.To
	}
	if w.To.Before(w.From) {
		w.To = w.From
	}
	return w
}
