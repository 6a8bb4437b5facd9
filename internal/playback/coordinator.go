// Package playback guarantees that at most one audio clip plays at a time.
//
// A [Coordinator] owns the single live session. Starting a new clip retires
// the previous one first, and an explicit [Coordinator.Stop] is followed by a
// short cooldown before the next clip may start, so that a backend has
// released its output before new audio is produced.
//
// Failures to decode or start a clip are logged and never returned: the
// completion channel handed back by [Coordinator.PlayAudio] is always closed
// eventually.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/castvoice/internal/observe"
	"github.com/MrWong99/castvoice/pkg/audio"
	"github.com/MrWong99/castvoice/pkg/provider/tts"
)

// ErrDecodeFailure marks a clip that could not be decoded or started. It only
// appears in logs.
var ErrDecodeFailure = errors.New("playback: decode failure")

const (
	// DefaultCooldown is the minimum gap between a stop and the next start.
	DefaultCooldown = 150 * time.Millisecond

	// DefaultSafetyMargin is added to the computed length of a PCM clip
	// before the fallback timer ends it.
	DefaultSafetyMargin = 500 * time.Millisecond

	// MinRate and MaxRate bound the playback rate multiplier.
	MinRate = 0.5
	MaxRate = 2.0
)

// How a session ended, as reported to metrics.
const (
	endNatural    = "ended"
	endStopped    = "stopped"
	endSuperseded = "superseded"
	endTimeout    = "timeout"
	endError      = "error"
)

// Listener is told whenever playback starts or stops.
type Listener func(playing bool)

// Option configures a [Coordinator].
type Option func(*Coordinator)

// WithCooldown sets the gap enforced between a stop and the next start.
func WithCooldown(d time.Duration) Option {
	return func(c *Coordinator) {
		if d >= 0 {
			c.cooldown = d
		}
	}
}

// WithSafetyMargin sets the slack added to the PCM fallback timer.
func WithSafetyMargin(d time.Duration) Option {
	return func(c *Coordinator) {
		if d >= 0 {
			c.safetyMargin = d
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// Coordinator enforces a single live playback session.
//
// All methods are safe for concurrent use.
type Coordinator struct {
	backend      Backend
	cooldown     time.Duration
	safetyMargin time.Duration
	metrics      *observe.Metrics

	mu      sync.Mutex
	current *session
	// guard is non-nil while a start or stop is in progress. It is closed
	// when the transition completes.
	guard     chan struct{}
	lastStop  time.Time
	listeners map[uint64]Listener
	nextID    uint64
}

// session is one live clip.
type session struct {
	messageID string
	format    tts.Format
	handle    Handle
	cancel    context.CancelFunc
	done      chan struct{}
	retired   chan struct{}

	retireOnce sync.Once
	finishOnce sync.Once
}

// New creates a Coordinator playing through backend.
func New(backend Backend, opts ...Option) *Coordinator {
	c := &Coordinator{
		backend:      backend,
		cooldown:     DefaultCooldown,
		safetyMargin: DefaultSafetyMargin,
		listeners:    make(map[uint64]Listener),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// PlayAudio starts a clip and returns a channel that is closed when the clip
// finishes for any reason: natural end, [Coordinator.Stop], being superseded
// by a later call, the PCM fallback timer, or a failure to start.
//
// data is raw little-endian 16-bit mono PCM at sampleRate for [tts.FormatPCM],
// or an encoded stream for [tts.FormatMP3]. rate is the playback rate
// multiplier; zero means 1 and other values are clamped to [MinRate, MaxRate].
//
// If another start or stop is in progress the call waits for it. Cancelling
// ctx abandons the wait; once the clip has started, ctx no longer affects it.
func (c *Coordinator) PlayAudio(ctx context.Context, data []byte, sampleRate int, rate float64, messageID string, format tts.Format) <-chan struct{} {
	log := observe.Logger(ctx).With("message_id", messageID, "format", string(format))

	if err := c.acquire(ctx); err != nil {
		log.Debug("playback abandoned before start", "err", err)
		return closedChan()
	}

	c.mu.Lock()
	prev := c.current
	c.current = nil
	c.mu.Unlock()
	if prev != nil {
		c.retire(prev, endSuperseded)
	}

	if err := c.waitCooldown(ctx); err != nil {
		c.release()
		log.Debug("playback abandoned during cooldown", "err", err)
		return closedChan()
	}

	s, fallback, err := c.start(ctx, data, sampleRate, clampRate(rate), messageID, format)
	if err != nil {
		c.release()
		log.Warn("playback failed to start", "err", err)
		c.metrics.RecordPlayback(ctx, string(format), endError)
		return closedChan()
	}

	c.mu.Lock()
	c.current = s
	c.mu.Unlock()
	c.metrics.ActivePlayback.Add(ctx, 1)
	c.release()

	// Listeners hear the start before watch can report the end.
	c.notify(true)
	go c.watch(s, fallback)
	return s.done
}

// Stop ends the live session, if any, and starts the cooldown window. It is a
// no-op without a session.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	s := c.current
	if s == nil {
		c.mu.Unlock()
		return
	}
	c.current = nil
	owned := false
	if c.guard == nil {
		c.guard = make(chan struct{})
		owned = true
	}
	c.mu.Unlock()

	c.retire(s, endStopped)

	if owned {
		c.release()
	}
}

// IsPlaying reports whether a session is live.
func (c *Coordinator) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// CurrentMessageID returns the message id of the live session, or "".
func (c *Coordinator) CurrentMessageID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ""
	}
	return c.current.messageID
}

// Subscribe registers l and returns a function that removes it. The returned
// function may be called more than once.
func (c *Coordinator) Subscribe(l Listener) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// acquire takes the transition guard, waiting for any holder to finish.
func (c *Coordinator) acquire(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.guard == nil {
			c.guard = make(chan struct{})
			c.mu.Unlock()
			return nil
		}
		g := c.guard
		c.mu.Unlock()

		select {
		case <-g:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Coordinator) release() {
	c.mu.Lock()
	close(c.guard)
	c.guard = nil
	c.mu.Unlock()
}

func (c *Coordinator) waitCooldown(ctx context.Context) error {
	c.mu.Lock()
	last := c.lastStop
	c.mu.Unlock()
	if last.IsZero() {
		return nil
	}
	wait := c.cooldown - time.Since(last)
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// start hands the clip to the backend. For PCM it also returns the duration
// after which the fallback timer ends the session.
func (c *Coordinator) start(ctx context.Context, data []byte, sampleRate int, rate float64, messageID string, format tts.Format) (*session, time.Duration, error) {
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	var (
		h        Handle
		fallback time.Duration
		err      error
	)
	switch format {
	case tts.FormatMP3:
		if len(data) == 0 {
			err = errors.New("empty clip")
			break
		}
		h, err = c.backend.PlayMedia(sctx, data, rate)
	case tts.FormatPCM:
		samples := audio.Samples(data)
		if len(samples) == 0 || sampleRate <= 0 {
			err = fmt.Errorf("%d samples at %d Hz", len(samples), sampleRate)
			break
		}
		h, err = c.backend.PlayPCM(sctx, samples, sampleRate, rate)
		fallback = time.Duration(float64(audio.Duration(len(samples), sampleRate))/rate) + c.safetyMargin
	default:
		err = fmt.Errorf("unsupported format %q", format)
	}
	if err == nil && h == nil {
		err = errors.New("backend returned no handle")
	}
	if err != nil {
		cancel()
		return nil, 0, fmt.Errorf("%w: %w", ErrDecodeFailure, err)
	}

	return &session{
		messageID: messageID,
		format:    format,
		handle:    h,
		cancel:    cancel,
		done:      make(chan struct{}),
		retired:   make(chan struct{}),
	}, fallback, nil
}

// watch ends s when the backend reports the natural end or the fallback
// timer fires. It returns early if s is retired.
func (c *Coordinator) watch(s *session, fallback time.Duration) {
	var timeout <-chan time.Time
	if fallback > 0 {
		t := time.NewTimer(fallback)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-s.handle.Done():
		c.detach(s)
		c.finish(s, endNatural)
	case <-timeout:
		c.detach(s)
		c.stopHandle(s)
		c.finish(s, endTimeout)
	case <-s.retired:
	}
}

// retire stops s, records the stop time and completes it.
func (c *Coordinator) retire(s *session, end string) {
	s.retireOnce.Do(func() {
		close(s.retired)
		c.stopHandle(s)
		c.mu.Lock()
		c.lastStop = time.Now()
		c.mu.Unlock()
		c.finish(s, end)
	})
}

func (c *Coordinator) stopHandle(s *session) {
	if err := s.handle.Stop(); err != nil && !errors.Is(err, ErrAlreadyStopped) {
		slog.Warn("playback: stop failed", "message_id", s.messageID, "err", err)
	}
	s.cancel()
}

// detach clears s as the live session if it still is.
func (c *Coordinator) detach(s *session) {
	c.mu.Lock()
	if c.current == s {
		c.current = nil
	}
	c.mu.Unlock()
}

func (c *Coordinator) finish(s *session, end string) {
	s.finishOnce.Do(func() {
		s.cancel()
		close(s.done)
		ctx := context.Background()
		c.metrics.ActivePlayback.Add(ctx, -1)
		c.metrics.RecordPlayback(ctx, string(s.format), end)
		slog.Debug("playback finished", "message_id", s.messageID, "end", end)
		c.notify(false)
	})
}

// notify calls every listener outside the lock. A panicking listener is
// logged and does not prevent the others from running.
func (c *Coordinator) notify(playing bool) {
	c.mu.Lock()
	ls := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		ls = append(ls, l)
	}
	c.mu.Unlock()

	for _, l := range ls {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("playback: listener panicked", "panic", r)
				}
			}()
			l(playing)
		}()
	}
}

func clampRate(r float64) float64 {
	if r == 0 || math.IsNaN(r) {
		return 1
	}
	return min(max(r, MinRate), MaxRate)
}

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
