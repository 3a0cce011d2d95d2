package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/worklens/worklens/pkg/report"
	"github.com/worklens/worklens/pkg/tags"
)

var (
	mappingsCmd = &cobra.Command{
		Use:   "mappings",
		Short: "Inspect or replace the location catalog",
	}

	mappingsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List the stored location catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			rows, err := app.store.LocationMappings(cmd.Context())
			if err != nil {
				return err
			}
			report.Mappings(os.Stdout, rows)
			return nil
		},
	}

	mappingsImportCmd = &cobra.Command{
		Use:   "import FILE",
		Short: "Replace the location catalog from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var rows []tags.LocationMapping
			if err := yaml.Unmarshal(raw, &rows); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			for i, m := range rows {
				if m.Code == "" && m.Name == "" {
					return fmt.Errorf("mapping %d: needs a code or a name", i)
				}
			}

			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.store.ReplaceLocationMappings(cmd.Context(), rows); err != nil {
				return err
			}
			fmt.Printf("imported %d mappings\n", len(rows))
			return nil
		},
	}
)

func init() {
	mappingsCmd.AddCommand(mappingsListCmd, mappingsImportCmd)
	rootCmd.AddCommand(mappingsCmd)
}
