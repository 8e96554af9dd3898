package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(deps serveDeps) *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := deps.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := newLogger(cfg, deps.stderr)

			st, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			applied, err := st.Migrate(cmd.Context())
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(applied) == 0 {
				fmt.Fprintln(out, "no pending migrations")
			}
			for _, m := range applied {
				fmt.Fprintf(out, "applied %d %s (%s)\n", m.Version, m.Path, m.Duration)
			}
			if seed {
				if err := st.SeedDemo(cmd.Context()); err != nil {
					return fmt.Errorf("seed: %w", err)
				}
				fmt.Fprintln(out, "seeded demo catalog")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "insert the demo catalog after migrating")
	return cmd
}
