// Package window abstracts the drawable the replayer renders into.
package window

import "sync"

// Window is polled by the replayer; resizes complete asynchronously.
type Window interface {
	// Size returns the current drawable size.
	Size() (width, height int)
	// RequestResize asks the window system for a new size.
	RequestResize(width, height int)
}

// Headless is an off-screen window. A requested size becomes visible after a
// configurable number of Size polls; a negative lag never converges.
type Headless struct {
	mu            sync.Mutex
	width, height int
	wantW, wantH  int
	lag           int
	polls         int
	pending       bool
}

func NewHeadless(width, height int) *Headless {
	return &Headless{width: width, height: height}
}

// SetLag sets how many polls a resize takes to land.
func (w *Headless) SetLag(polls int) {
	w.mu.Lock()
	w.lag = polls
	w.mu.Unlock()
}

func (w *Headless) Size() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending && w.lag >= 0 {
		w.polls++
		if w.polls > w.lag {
			w.width, w.height = w.wantW, w.wantH
			w.pending = false
		}
	}
	return w.width, w.height
}

func (w *Headless) RequestResize(width, height int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.wantW, w.wantH = width, height
	w.polls = 0
	w.pending = width != w.width || height != w.height
}

var _ Window = (*Headless)(nil)
