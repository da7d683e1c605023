package progressbar

import (
	"errors"
	"fmt"
	"sync"
)

// ErrIndicatorMissing is returned by indicators whose visual elements are
// absent. The manager degrades to a no-op renderer when it sees it.
var ErrIndicatorMissing = errors.New("progress indicator elements not found")

// Render is one indicator write: the bar width and the caption.
type Render struct {
	Percentage int    `json:"percentage"`
	Width      string `json:"width"`
	Text       string `json:"text"`
}

// NewRender formats pct for display.
func NewRender(pct int) Render {
	return Render{
		Percentage: pct,
		Width:      fmt.Sprintf("%d%%", pct),
		Text:       fmt.Sprintf("%d%% Complete", pct),
	}
}

// Indicator receives renders.
type Indicator interface {
	Render(r Render) error
}

// IndicatorFunc adapts a function to Indicator.
type IndicatorFunc func(Render) error

// Render calls f(r).
func (f IndicatorFunc) Render(r Render) error {
	return f(r)
}

// Recorder keeps every render in memory. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	renders []Render
}

// Render appends r.
func (r *Recorder) Render(render Render) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renders = append(r.renders, render)
	return nil
}

// Renders returns a copy of the recorded writes.
func (r *Recorder) Renders() []Render {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Render(nil), r.renders...)
}

// Len returns how many writes were recorded.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.renders)
}

// Last returns the most recent render.
func (r *Recorder) Last() (Render, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.renders) == 0 {
		return Render{}, false
	}
	return r.renders[len(r.renders)-1], true
}

// Broadcaster fans renders out to subscribers such as websocket streams. A
// subscriber that falls behind loses renders instead of blocking the form.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Render
	nextID int
	last   *Render
	closed bool
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Render)}
}

// Render delivers r to every subscriber without blocking.
func (b *Broadcaster) Render(r Render) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.last = &r
	for _, ch := range b.subs {
		select {
		case ch <- r:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of renders, primed with the latest one, and a
// cancel func that closes it.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Render, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Render, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	if b.last != nil {
		ch <- *b.last
	}
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscription. Later renders are dropped.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Multi renders into every indicator in order and returns the joined errors.
type Multi []Indicator

// Render implements Indicator.
func (m Multi) Render(r Render) error {
	var errs []error
	for _, ind := range m {
		if ind == nil {
			continue
		}
		if err := ind.Render(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
