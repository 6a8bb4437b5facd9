package enforce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MrWong99/castvoice/internal/observe"
	"github.com/MrWong99/castvoice/internal/synth"
	"github.com/MrWong99/castvoice/pkg/audio"
	"github.com/MrWong99/castvoice/pkg/provider/tts"
)

// SampleExts lists the sample file extensions looked up for a contract, in
// order of preference.
var SampleExts = []string{".wav", ".mp3", ".pcm"}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithThresholds replaces [DefaultThresholds].
func WithThresholds(th Thresholds) Option {
	return func(p *Pipeline) { p.th = th }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline evaluates contracts against the samples in a directory. Samples
// are named after the contract id with one of [SampleExts].
type Pipeline struct {
	samplesDir string
	th         Thresholds
	metrics    *observe.Metrics
}

// NewPipeline creates a pipeline reading samples from samplesDir.
func NewPipeline(samplesDir string, opts ...Option) *Pipeline {
	p := &Pipeline{samplesDir: samplesDir, th: DefaultThresholds()}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Run evaluates every contract in order, one at a time. It always returns
// one result per contract. Only ctx cancellation stops it early, in which
// case the results gathered so far are returned with ctx's error.
func (p *Pipeline) Run(ctx context.Context, contracts []*Contract) ([]Result, error) {
	results := make([]Result, 0, len(contracts))
	for _, c := range contracts {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, p.Evaluate(ctx, c))
	}
	return results, nil
}

// Evaluate scores the sample of one contract.
func (p *Pipeline) Evaluate(ctx context.Context, c *Contract) Result {
	log := observe.Logger(ctx).With("character", c.ID)

	path, ok := p.findSample(c.ID)
	if !ok {
		log.Warn("enforce: sample missing", "dir", p.samplesDir)
		return p.record(ctx, unscored(c, StatusMissingSample, "", nil))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("enforce: read sample", "path", path, "err", err)
		return p.record(ctx, unscored(c, StatusMissingSample, path, err))
	}
	samples, err := audio.DecodeMono16(data, audio.ContainerFromExt(filepath.Ext(path)), AnalysisRate)
	if err == nil && len(samples) == 0 {
		err = errors.New("sample is empty")
	}
	if err != nil {
		log.Warn("enforce: decode sample", "path", path, "err", err)
		return p.record(ctx, unscored(c, StatusDecodeError, path, err))
	}

	res := Score(c, Analyze(samples, AnalysisRate, p.th))
	res.Sample = path
	log.Info("enforce: contract evaluated",
		"status", res.Status,
		"score", res.Score,
		"violations", len(res.Violations),
	)
	return p.record(ctx, res)
}

func (p *Pipeline) record(ctx context.Context, r Result) Result {
	p.metrics.RecordEnforcement(ctx, string(r.Status), r.Score)
	return r
}

func (p *Pipeline) findSample(id string) (string, bool) {
	for _, ext := range SampleExts {
		path := filepath.Join(p.samplesDir, id+ext)
		if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() {
			return path, true
		}
	}
	return "", false
}

// WriteResults writes results to path as an indented JSON array, replacing
// any previous file.
func WriteResults(path string, results []Result) error {
	if results == nil {
		results = []Result{}
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("enforce: encode results: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("enforce: create results dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("enforce: write results: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("enforce: write results: %w", err)
	}
	return nil
}

// Synthesizer renders text in a character's voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, req synth.Request) (*tts.Audio, synth.Outcome)
}

// RenderSamples synthesises the test script of every contract into dir.
// PCM output is written as WAV, MP3 as is. Stale samples of the other
// extensions are removed so the fresh render is the one evaluated.
// Contracts without a script or whose synthesis fails are skipped and
// logged; they show up as missing samples in the next run.
func RenderSamples(ctx context.Context, s Synthesizer, contracts []*Contract, dir string) (rendered int, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("enforce: create samples dir: %w", err)
	}
	for _, c := range contracts {
		if err := ctx.Err(); err != nil {
			return rendered, err
		}
		if c.TestScript == "" {
			slog.Warn("enforce: contract has no test script", "character", c.ID)
			continue
		}
		out, outcome := s.Synthesize(ctx, synth.Request{Text: c.TestScript, CharacterID: c.ID})
		if out == nil {
			slog.Warn("enforce: render failed", "character", c.ID, "outcome", outcome)
			continue
		}

		data, ext := out.Data, ".mp3"
		if out.Format == tts.FormatPCM {
			data, ext = audio.EncodeWAV(out.Data, out.SampleRate, 1), ".wav"
		}
		for _, e := range SampleExts {
			if e == ext {
				continue
			}
			if err := os.Remove(filepath.Join(dir, c.ID+e)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return rendered, fmt.Errorf("enforce: remove stale sample: %w", err)
			}
		}
		if err := os.WriteFile(filepath.Join(dir, c.ID+ext), data, 0o644); err != nil {
			return rendered, fmt.Errorf("enforce: write sample: %w", err)
		}
		rendered++
		slog.Info("enforce: sample rendered", "character", c.ID, "provider", outcome.Provider, "format", out.Format)
	}
	return rendered, nil
}
