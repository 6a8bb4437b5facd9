package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/castvoice/internal/archetype"
)

func newMatchCommand(g *globals) *cobra.Command {
	var (
		description string
		keywords    []string
		gender      string
	)
	cmd := &cobra.Command{
		Use:   "match [description]",
		Short: "Preview which archetype a character profile resolves to",
		Example: `  voicecheck match "A grizzled old dwarf smith, gruff but kind"
  voicecheck match --description "She leads the thieves guild" --keyword cunning --gender f`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				description = args[0]
			}
			if description == "" && len(keywords) == 0 {
				return errors.New("a description or at least one --keyword is required")
			}

			var explicit archetype.Gender
			if gender != "" {
				gv, ok := archetype.ParseGender(gender)
				if !ok {
					return fmt.Errorf("unknown gender %q", gender)
				}
				explicit = gv
			}

			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			catalog, err := g.loadCatalog(cfg)
			if err != nil {
				return err
			}

			m := archetype.NewMatcher(catalog).Match(description, keywords, explicit)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(m)
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "free-text character description")
	cmd.Flags().StringArrayVarP(&keywords, "keyword", "k", nil, "extra keyword (repeatable)")
	cmd.Flags().StringVarP(&gender, "gender", "g", "", "explicit gender: m, f or nb")
	return cmd
}
