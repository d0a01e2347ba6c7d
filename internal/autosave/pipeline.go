// Package autosave coalesces in-progress answer edits into debounced,
// per-question writes.
package autosave

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mind-engage/mindengage-exams/internal/exam"
)

var ErrClosed = errors.New("autosave: pipeline closed")

// Writer persists one answer. exam.SQLStore satisfies it.
type Writer interface {
	RecordResponse(ctx context.Context, in exam.ResponseInput, now time.Time) error
}

type Options struct {
	Debounce     time.Duration // coalescing window per question; default 500ms
	MaxTries     uint          // write attempts before giving up; default 3
	WriteTimeout time.Duration // per write attempt; default 5s
	Backoff      func() backoff.BackOff
	Now          func() time.Time
}

type key struct{ attemptID, questionID string }

// slot holds the newest pending value for one key. At most one goroutine
// writes a slot at a time, so writes for a key land in order.
type slot struct {
	ev      *exam.ResponseInput
	timer   *time.Timer
	running bool
	done    chan struct{} // closed once the slot drains
}

type Pipeline struct {
	w    Writer
	opts Options

	mu       sync.Mutex
	pending  map[key]*slot
	warnings map[string][]string
	closed   bool
}

func New(w Writer, opts Options) *Pipeline {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.MaxTries == 0 {
		opts.MaxTries = 3
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Backoff == nil {
		opts.Backoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = time.Second
			return b
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		w:        w,
		opts:     opts,
		pending:  map[key]*slot{},
		warnings: map[string][]string{},
	}
}

// Enqueue records in as the latest value for its question. A value still
// waiting in the window is replaced, not queued.
func (p *Pipeline) Enqueue(in exam.ResponseInput) error {
	k := key{in.AttemptID, in.QuestionID}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	s, ok := p.pending[k]
	if !ok {
		s = &slot{done: make(chan struct{})}
		p.pending[k] = s
	}
	s.ev = &in
	if !s.running && s.timer == nil {
		s.timer = time.AfterFunc(p.opts.Debounce, func() { p.fire(k, s) })
	}
	return nil
}

func (p *Pipeline) fire(k key, s *slot) {
	p.mu.Lock()
	if p.pending[k] != s || s.running {
		p.mu.Unlock()
		return
	}
	s.timer = nil
	s.running = true
	p.mu.Unlock()
	p.drain(k, s)
}

// drain writes the slot's latest value until nothing new arrived meanwhile.
func (p *Pipeline) drain(k key, s *slot) {
	for {
		p.mu.Lock()
		ev := s.ev
		s.ev = nil
		if ev == nil {
			s.running = false
			delete(p.pending, k)
			close(s.done)
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
		p.persist(*ev)
	}
}

func (p *Pipeline) persist(in exam.ResponseInput) {
	ctx := context.Background()
	at := in.AcceptedAt
	if at.IsZero() {
		at = p.opts.Now()
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		wctx, cancel := context.WithTimeout(ctx, p.opts.WriteTimeout)
		defer cancel()
		err := p.w.RecordResponse(wctx, in, at)
		if err != nil && permanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(p.opts.Backoff()), backoff.WithMaxTries(p.opts.MaxTries))
	if err == nil {
		return
	}
	msg := fmt.Sprintf("answer for question %s was not saved: %v", in.QuestionID, err)
	log.Printf("autosave attempt %s: %s", in.AttemptID, msg)
	p.mu.Lock()
	p.warnings[in.AttemptID] = append(p.warnings[in.AttemptID], msg)
	p.mu.Unlock()
}

// permanent errors describe the request, so retrying cannot help.
func permanent(err error) bool {
	return errors.Is(err, exam.ErrConflict) || errors.Is(err, exam.ErrValidation) ||
		errors.Is(err, exam.ErrNotFound) || errors.Is(err, exam.ErrForbidden)
}

// Warnings drains the failures recorded for an attempt.
func (p *Pipeline) Warnings(attemptID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.warnings[attemptID]
	delete(p.warnings, attemptID)
	return w
}

// Flush writes pending values for one attempt now and waits for them.
func (p *Pipeline) Flush(ctx context.Context, attemptID string) error {
	return p.flush(ctx, func(k key) bool { return k.attemptID == attemptID })
}

// Close flushes everything and rejects further Enqueue calls.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.flush(ctx, func(key) bool { return true })
}

func (p *Pipeline) flush(ctx context.Context, match func(key) bool) error {
	p.mu.Lock()
	var waits []chan struct{}
	for k, s := range p.pending {
		if !match(k) {
			continue
		}
		waits = append(waits, s.done)
		if s.timer != nil && s.timer.Stop() {
			s.timer = nil
			s.running = true
			go p.drain(k, s)
		}
	}
	p.mu.Unlock()

	for _, done := range waits {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Pending reports how many questions have unsaved values.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
