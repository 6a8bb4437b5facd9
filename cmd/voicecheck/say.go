package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/castvoice/internal/playback"
	"github.com/MrWong99/castvoice/internal/synth"
)

type sayOptions struct {
	rate     float64
	out      string
	cooldown time.Duration
	outRate  int
}

func newSayCommand(g *globals) *cobra.Command {
	o := &sayOptions{}
	cmd := &cobra.Command{
		Use:   "say <character-id> <text>",
		Short: "Synthesise a line and play it as raw PCM",
		Long: `Synthesises text in the character's voice through the configured provider
order and streams it through the playback coordinator as little-endian 16-bit
mono PCM, paced in real time.`,
		Example: `  voicecheck say vex "You should not have come here." --out line.pcm
  voicecheck say brogan "Ale! More ale!" --out - | aplay -f S16_LE -r 24000`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("cooldown") && cfg.Playback.Cooldown > 0 {
				o.cooldown = cfg.Playback.Cooldown
			}

			var w io.Writer = cmd.OutOrStdout()
			if o.out != "-" {
				f, err := os.Create(o.out)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer f.Close()
				w = f
			}

			ctx := cmd.Context()
			application, err := g.newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer application.Shutdown(context.WithoutCancel(ctx))

			audio, outcome := application.Orchestrator().Synthesize(ctx, synth.Request{CharacterID: args[0], Text: args[1]})
			if audio == nil {
				return fmt.Errorf("synthesis %s after %d attempts", outcome.State, len(outcome.Attempts))
			}
			cmd.PrintErrf("synthesised by %s (%s, %d Hz)\n", outcome.Provider, audio.Format, audio.SampleRate)

			var (
				mu       sync.Mutex
				writeErr error
			)
			backend := playback.NewSinkBackend(func(p []byte) {
				mu.Lock()
				defer mu.Unlock()
				if writeErr == nil {
					_, writeErr = w.Write(p)
				}
			}, playback.WithOutputRate(o.outRate))
			coord := playback.New(backend,
				playback.WithCooldown(o.cooldown),
				playback.WithSafetyMargin(cfg.Playback.SafetyMargin),
			)

			done := coord.PlayAudio(ctx, audio.Data, audio.SampleRate, o.rate, outcome.MessageID, audio.Format)
			select {
			case <-done:
			case <-ctx.Done():
				coord.Stop()
				<-done
				return ctx.Err()
			}
			mu.Lock()
			defer mu.Unlock()
			return writeErr
		},
	}
	cmd.Flags().Float64Var(&o.rate, "rate", 1.0, "playback rate multiplier")
	cmd.Flags().StringVarP(&o.out, "out", "o", "-", "PCM output file, - for stdout")
	cmd.Flags().DurationVar(&o.cooldown, "cooldown", 0, "minimum gap between playbacks (default: playback.cooldown from config)")
	cmd.Flags().IntVar(&o.outRate, "output-rate", 0, "resample to this rate in Hz, 0 keeps the clip rate")
	return cmd
}
