package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/castvoice/internal/config"
	"github.com/MrWong99/castvoice/internal/voice"
	"github.com/MrWong99/castvoice/pkg/provider/tts"
)

// registryCmd holds the state shared by the registry subcommands.
type registryCmd struct {
	g    *globals
	path string
}

func newRegistryCommand(g *globals) *cobra.Command {
	rc := &registryCmd{g: g}
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect and edit the voice registry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&rc.path, "registry", "", "registry YAML file (default: registry.path from config)")

	cmd.AddCommand(
		rc.newShowCommand(),
		rc.newAssignCommand(),
		rc.newSetVoiceCommand(),
		rc.newCloneCommand(),
	)
	return cmd
}

func (rc *registryCmd) newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the registry as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, _, err := rc.load(cmd)
			if err != nil {
				return err
			}
			_, err = reg.WriteTo(cmd.OutOrStdout())
			return err
		},
	}
}

func (rc *registryCmd) newAssignCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "assign <character-id> <archetype-id>",
		Short:   "Map a character to a catalog archetype",
		Example: `  voicecheck registry assign vex cold_strategist`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, path, err := rc.load(cmd)
			if err != nil {
				return err
			}
			cfg, err := rc.g.loadConfig(cmd)
			if err != nil {
				return err
			}
			catalog, err := rc.g.loadCatalog(cfg)
			if err != nil {
				return err
			}
			if _, ok := catalog.Get(args[1]); !ok {
				return fmt.Errorf("archetype %q is not in the catalog", args[1])
			}
			if err := reg.Assign(args[0], args[1]); err != nil {
				return err
			}
			if err := reg.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "assigned %s -> %s\n", args[0], args[1])
			return nil
		},
	}
}

func (rc *registryCmd) newSetVoiceCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "set-voice <archetype-id> <provider> <voice-handle>",
		Short:   "Register a provider voice for an archetype",
		Example: `  voicecheck registry set-voice cold_strategist elevenlabs EXAVITQu4vr4xnSDxMaL`,
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, path, err := rc.load(cmd)
			if err != nil {
				return err
			}
			reg.SetVoice(args[0], args[1], args[2])
			if err := reg.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s on %s -> %s\n", args[0], args[1], args[2])
			return nil
		},
	}
}

func (rc *registryCmd) newCloneCommand() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "clone <archetype-id> <provider> <sample-file>...",
		Short: "Clone a voice from recordings and register it for an archetype",
		Long: `Uploads the sample recordings to a provider that supports voice cloning and
registers the returned voice handle for the archetype on that provider.`,
		Example: `  voicecheck registry clone gruff_warrior elevenlabs samples/brogan_1.wav samples/brogan_2.wav`,
		Args:    cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			archetypeID, providerName, files := args[0], args[1], args[2:]

			reg, path, err := rc.load(cmd)
			if err != nil {
				return err
			}
			cfg, err := rc.g.loadConfig(cmd)
			if err != nil {
				return err
			}
			catalog, err := rc.g.loadCatalog(cfg)
			if err != nil {
				return err
			}
			if _, ok := catalog.Get(archetypeID); !ok {
				return fmt.Errorf("archetype %q is not in the catalog", archetypeID)
			}

			p, err := rc.g.provider(cfg, providerName)
			if err != nil {
				return err
			}
			cloner, ok := p.(tts.VoiceCloner)
			if !ok {
				return fmt.Errorf("provider %q cannot clone voices", providerName)
			}

			samples := make([][]byte, 0, len(files))
			for _, f := range files {
				data, err := os.ReadFile(f)
				if err != nil {
					return fmt.Errorf("read sample: %w", err)
				}
				samples = append(samples, data)
			}

			if name == "" {
				name = archetypeID
			}
			handle, err := cloner.CloneVoice(cmd.Context(), name, samples)
			if err != nil {
				return err
			}
			reg.SetVoice(archetypeID, providerName, handle)
			if err := reg.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s on %s -> %s\n", archetypeID, providerName, handle)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "voice name on the provider (default: the archetype id)")
	return cmd
}

// load opens the registry file, returning an empty registry when it does
// not exist yet.
func (rc *registryCmd) load(cmd *cobra.Command) (*voice.Registry, string, error) {
	path := rc.path
	if path == "" {
		cfg, err := rc.g.loadConfig(cmd)
		if err != nil {
			return nil, "", err
		}
		path = registryPath(cfg)
	}
	reg, err := voice.LoadRegistry(path)
	if errors.Is(err, os.ErrNotExist) {
		return voice.NewRegistry(), path, nil
	}
	return reg, path, err
}

func registryPath(cfg *config.Config) string {
	if cfg.Registry.Path != "" {
		return cfg.Registry.Path
	}
	return "voice_registry.yaml"
}
