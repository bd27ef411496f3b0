package main

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/ocrgate/internal/config"
	"github.com/example/ocrgate/internal/ocr"
	"github.com/example/ocrgate/internal/server"
	"github.com/example/ocrgate/internal/store"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ocrgate HTTP server",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			docs, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer docs.Close()

			srv := server.New(cfg, newForwarder(cfg), docs).
				WithShutdownTimeout(time.Duration(cfg.Server.ShutdownTimeout) * time.Second)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.Start(ctx)
		},
	}

	return cmd
}

// newForwarder builds the upstream OCR client from configuration. The
// client timeout backs up the per-request deadline set by the server; zero
// leaves it unbounded.
func newForwarder(cfg config.Config) *ocr.Forwarder {
	client := &http.Client{Timeout: time.Duration(max(cfg.Server.RequestTimeout, 0)) * time.Second}

	return ocr.NewForwarder(cfg.Upstream.URL,
		ocr.WithHTTPClient(client),
		ocr.WithLogger(slog.Default().With(slog.String("component", "ocr"))),
		ocr.WithProcessing(ocr.Processing{
			Lang:          cfg.Upstream.OCRLang,
			IncludeImages: cfg.Upstream.IncludeImages,
			IncludeLinks:  cfg.Upstream.IncludeLinks,
			ForceOCR:      cfg.Upstream.ForceOCR,
		}),
	)
}

func openStore(cfg config.Config) (*store.Store, error) {
	return store.Open(cfg.Store.Path,
		store.WithCompressionThreshold(cfg.Store.CompressionThreshold),
	)
}
