package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/castvoice/internal/config"
	"github.com/MrWong99/castvoice/internal/enforce"
	"github.com/MrWong99/castvoice/internal/observe"
)

// errContractsFailed is returned by --strict runs with a failing contract.
var errContractsFailed = errors.New("one or more voice contracts did not pass")

type enforceOptions struct {
	contractsDir string
	samplesDir   string
	resultsPath  string
	render       bool
	strict       bool
}

func newEnforceCommand(g *globals) *cobra.Command {
	o := &enforceOptions{}
	cmd := &cobra.Command{
		Use:   "enforce",
		Short: "Score rendered samples against the voice contracts",
		Long: `Loads every contract in the contracts directory, analyses the sample named
after each character id and writes the scored results as JSON. With --render
the samples are synthesised first from each contract's test script.`,
		Example: `  voicecheck enforce --contracts contracts --samples samples --results out/results.json
  voicecheck enforce --render --strict`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			o.applyDefaults(cmd, cfg.Enforcement)
			return runEnforce(cmd.Context(), cmd.OutOrStdout(), g, cfg, o)
		},
	}
	cmd.Flags().StringVar(&o.contractsDir, "contracts", "contracts", "directory of voice contract YAML files")
	cmd.Flags().StringVar(&o.samplesDir, "samples", "samples", "directory of rendered samples named <character id>.<wav|mp3|pcm>")
	cmd.Flags().StringVar(&o.resultsPath, "results", "enforcement_results.json", "results file, overwritten on every run")
	cmd.Flags().BoolVar(&o.render, "render", false, "synthesise each contract's test script into the samples directory first")
	cmd.Flags().BoolVar(&o.strict, "strict", false, "exit non-zero when any contract does not pass")
	return cmd
}

// applyDefaults fills flags the user did not set from the config file.
func (o *enforceOptions) applyDefaults(cmd *cobra.Command, ec config.EnforcementConfig) {
	set := func(flag string, dst *string, v string) {
		if v != "" && !cmd.Flags().Changed(flag) {
			*dst = v
		}
	}
	set("contracts", &o.contractsDir, ec.ContractsDir)
	set("samples", &o.samplesDir, ec.SamplesDir)
	set("results", &o.resultsPath, ec.ResultsPath)
}

func runEnforce(ctx context.Context, out io.Writer, g *globals, cfg *config.Config, o *enforceOptions) error {
	contracts, err := enforce.LoadContracts(o.contractsDir)
	if err != nil {
		return err
	}
	if len(contracts) == 0 {
		return fmt.Errorf("no contracts found in %q", o.contractsDir)
	}

	if o.render {
		application, err := g.newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer application.Shutdown(context.WithoutCancel(ctx))

		n, err := enforce.RenderSamples(ctx, application.Orchestrator(), contracts, o.samplesDir)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "rendered %d of %d samples into %s\n", n, len(contracts), o.samplesDir)
	}

	th := enforce.DefaultThresholds()
	if cfg.Enforcement.Thresholds != nil {
		th = *cfg.Enforcement.Thresholds
	}
	p := enforce.NewPipeline(o.samplesDir,
		enforce.WithThresholds(th),
		enforce.WithMetrics(observe.DefaultMetrics()),
	)
	results, err := p.Run(ctx, contracts)
	if err != nil {
		return err
	}
	if err := enforce.WriteResults(o.resultsPath, results); err != nil {
		return err
	}

	passed := printResults(out, results)
	fmt.Fprintf(out, "\n%d/%d passed, results written to %s\n", passed, len(results), o.resultsPath)
	if o.strict && passed < len(results) {
		return errContractsFailed
	}
	return nil
}

// printResults writes a summary table and returns the number of passes.
func printResults(out io.Writer, results []enforce.Result) int {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHARACTER\tSTATUS\tSCORE\tVIOLATIONS")
	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
		}
		codes := make([]string, 0, len(r.Violations))
		for _, v := range r.Violations {
			codes = append(codes, v.Code)
		}
		detail := strings.Join(codes, ",")
		if r.Error != "" {
			detail = r.Error
		}
		if detail == "" {
			detail = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%.0f\t%s\n", r.Character, r.Status, r.Score, detail)
	}
	tw.Flush()
	return passed
}
