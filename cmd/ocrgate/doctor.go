package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/example/ocrgate/internal/config"
	"github.com/example/ocrgate/internal/doctor"
	"github.com/example/ocrgate/internal/text"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local environment and upstream checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			result := doctor.Run(doctorConfig(cfg, offline), cmd.OutOrStdout())

			if result.Failed() {
				for _, f := range result.Failures() {
					fmt.Fprintf(os.Stderr, "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "doctor checks passed")

			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Skip the upstream reachability check")

	return cmd
}

func doctorConfig(cfg config.Config, offline bool) doctor.Config {
	return doctor.Config{
		Canonicalization: text.CanonicalizationAvailable,
		UpstreamURL:      cfg.Upstream.URL,
		SkipUpstream:     offline,
		ProbeUpstream: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return newForwarder(cfg).Probe(ctx)
		},
		StorePath:  cfg.Store.Path,
		CheckStore: func() (int, error) { return checkStore(cfg) },
	}
}

// checkStore opens the store, which creates and migrates it if needed, and
// counts its documents.
func checkStore(cfg config.Config) (int, error) {
	st, err := openStore(cfg)
	if err != nil {
		return 0, err
	}
	defer st.Close()

	return st.Count(context.Background())
}
