package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/castvoice/pkg/audio"
)

// ErrAlreadyStopped is returned by [Handle.Stop] when the clip already ended
// or was stopped before. The coordinator ignores it.
var ErrAlreadyStopped = errors.New("playback: already stopped")

// Handle controls one clip started on a [Backend].
type Handle interface {
	// Done is closed when the clip reaches its natural end. It is not closed
	// by Stop.
	Done() <-chan struct{}

	// Stop halts output. Stopping a clip that already ended returns an error
	// wrapping [ErrAlreadyStopped].
	Stop() error
}

// Backend renders audio. It provides the two paths a clip can take:
// compressed audio goes to a media player, raw PCM to a sample-level source.
type Backend interface {
	// PlayMedia starts an encoded clip at the given playback rate.
	PlayMedia(ctx context.Context, data []byte, rate float64) (Handle, error)

	// PlayPCM starts mono 16-bit samples recorded at sampleRate, played at
	// the given rate multiplier.
	PlayPCM(ctx context.Context, samples []int16, sampleRate int, rate float64) (Handle, error)
}

// DefaultChunk is the amount of audio a [SinkBackend] delivers per write.
const DefaultChunk = 20 * time.Millisecond

// SinkOption configures a [SinkBackend].
type SinkOption func(*SinkBackend)

// WithOutputRate resamples every clip to rate before it reaches the sink.
// Zero keeps each clip's own rate.
func WithOutputRate(rate int) SinkOption {
	return func(b *SinkBackend) { b.outputRate = rate }
}

// WithChunk sets the duration of audio per sink write.
func WithChunk(d time.Duration) SinkOption {
	return func(b *SinkBackend) {
		if d > 0 {
			b.chunk = d
		}
	}
}

// SinkBackend is a [Backend] that paces little-endian 16-bit mono PCM into an
// output callback in real time. MP3 clips are decoded first.
//
// output is called sequentially from one goroutine per clip and must not
// block for long.
type SinkBackend struct {
	output     func([]byte)
	outputRate int
	chunk      time.Duration
}

var _ Backend = (*SinkBackend)(nil)

// NewSinkBackend creates a SinkBackend writing to output.
func NewSinkBackend(output func([]byte), opts ...SinkOption) *SinkBackend {
	b := &SinkBackend{output: output, chunk: DefaultChunk}
	for _, o := range opts {
		o(b)
	}
	return b
}

// PlayMedia implements [Backend]. Only MP3 is understood.
func (b *SinkBackend) PlayMedia(ctx context.Context, data []byte, rate float64) (Handle, error) {
	pcm, sampleRate, err := audio.DecodeMP3(data)
	if err != nil {
		return nil, fmt.Errorf("playback: %w", err)
	}
	return b.PlayPCM(ctx, audio.Samples(pcm), sampleRate, rate)
}

// PlayPCM implements [Backend].
func (b *SinkBackend) PlayPCM(ctx context.Context, samples []int16, sampleRate int, rate float64) (Handle, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("playback: invalid sample rate %d", sampleRate)
	}
	if len(samples) == 0 {
		return nil, errors.New("playback: no samples")
	}
	if rate <= 0 {
		rate = 1
	}
	pcm := audio.Bytes(samples)
	outRate := sampleRate
	if b.outputRate > 0 {
		pcm = audio.ResampleMono16(pcm, sampleRate, b.outputRate)
		outRate = b.outputRate
	}

	chunkBytes := max(2, int(int64(outRate)*int64(b.chunk)/int64(time.Second))*2)
	interval := time.Duration(float64(b.chunk) / rate)

	h := &sinkHandle{done: make(chan struct{}), stop: make(chan struct{})}
	go h.pump(ctx, pcm, chunkBytes, interval, b.output)
	return h, nil
}

// sinkHandle is the [Handle] of a clip playing on a [SinkBackend].
type sinkHandle struct {
	done chan struct{}
	stop chan struct{}

	mu      sync.Mutex
	ended   bool
	stopped bool
}

func (h *sinkHandle) Done() <-chan struct{} { return h.done }

func (h *sinkHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended || h.stopped {
		return ErrAlreadyStopped
	}
	h.stopped = true
	close(h.stop)
	return nil
}

func (h *sinkHandle) pump(ctx context.Context, pcm []byte, chunkBytes int, interval time.Duration, output func([]byte)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for off := 0; off < len(pcm); off += chunkBytes {
		end := min(off+chunkBytes, len(pcm))
		output(pcm[off:end])
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case <-ticker.C:
		}
	}

	h.mu.Lock()
	if !h.stopped {
		h.ended = true
		close(h.done)
	}
	h.mu.Unlock()
}
