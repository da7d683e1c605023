package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// ErrLoopClosed is returned when work is submitted after Close.
var ErrLoopClosed = errors.New("schedule loop closed")

const defaultLoopBuffer = 256

// LoopConfig controls a Loop.
//   - Clock: time source for timers (defaults to the system clock).
//   - FrameInterval: delay used by NextFrame (default 16ms).
//   - Buffer: capacity of the task queue (default 256).
//   - Logger: receives recovered panics.
type LoopConfig struct {
	Clock         clock.Clock
	FrameInterval time.Duration
	Buffer        int
	Logger        *zap.Logger
}

// Loop is a single-threaded cooperative executor. Every timer callback,
// frame callback, and Do/Post task runs on the loop goroutine, so state
// touched only from callbacks needs no locking.
type Loop struct {
	clock  clock.Clock
	frame  time.Duration
	tasks  chan func()
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger
	closed atomic.Bool

	closeOnce sync.Once
}

// NewLoop starts a Loop goroutine. Call Close to stop it.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultLoopBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loop{
		clock:  cfg.Clock,
		frame:  cfg.FrameInterval,
		tasks:  make(chan func(), cfg.Buffer),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
	}
	go l.run()
	return l
}

// Clock exposes the loop's time source.
func (l *Loop) Clock() clock.Clock {
	return l.clock
}

// Post enqueues fn without waiting. It reports false once the loop is closed.
func (l *Loop) Post(fn func()) bool {
	if l.closed.Load() {
		return false
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.stopCh:
		return false
	}
}

// Do runs fn on the loop and waits for it to finish. It must not be called
// from the loop goroutine.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrLoopClosed
	}
	select {
	case <-done:
		return nil
	case <-l.doneCh:
		return ErrLoopClosed
	case <-ctx.Done():
		return fmt.Errorf("schedule loop do: %w", ctx.Err())
	}
}

// AfterFunc runs fn on the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.inner = l.clock.AfterFunc(d, func() {
		l.Post(func() {
			if t.fire() {
				fn()
			}
		})
	})
	return t
}

// NextFrame runs fn on the loop after one frame interval.
func (l *Loop) NextFrame(fn func()) Timer {
	return l.AfterFunc(l.frame, fn)
}

// Close stops the loop. Pending tasks are discarded. It is safe to call more
// than once.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.stopCh)
	})
	<-l.doneCh
}

func (l *Loop) run() {
	defer close(l.doneCh)
	for {
		select {
		case fn := <-l.tasks:
			l.exec(fn)
		case <-l.stopCh:
			return
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("schedule loop task panicked", zap.Any("panic", rec))
		}
	}()
	fn()
}

// loopTimer tracks whether a callback was stopped between the clock firing
// and the loop getting to the posted task.
type loopTimer struct {
	inner *clock.Timer
	state atomic.Int32
}

const (
	timerArmed int32 = iota
	timerFired
	timerStopped
)

func (t *loopTimer) fire() bool {
	return t.state.CompareAndSwap(timerArmed, timerFired)
}

func (t *loopTimer) Stop() bool {
	if !t.state.CompareAndSwap(timerArmed, timerStopped) {
		return false
	}
	if t.inner != nil {
		t.inner.Stop()
	}
	return true
}
