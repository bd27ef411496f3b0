package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/example/ocrgate/internal/ocr"
	"github.com/spf13/cobra"
)

// extractedTextKeys are tried in order when pulling text out of a JSON reply.
var extractedTextKeys = []string{"text", "markdown", "content"}

func newExtractCmd() *cobra.Command {
	var (
		fields []string
		out    string
		save   bool
		title  string
	)

	cmd := &cobra.Command{
		Use:   "extract <file.pdf>",
		Short: "Send a PDF to the OCR service and print its reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read pdf: %w", err)
			}
			if !bytes.HasPrefix(data, []byte("%PDF-")) {
				return fmt.Errorf("%s: %w", args[0], ocr.ErrNotPDF)
			}

			extra, err := parseFields(fields)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if cfg.Server.RequestTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Server.RequestTimeout)*time.Second)
				defer cancel()
			}

			resp, err := newForwarder(cfg).Extract(ctx, ocr.NewFileForm(filepath.Base(args[0]), data, extra))
			if err != nil {
				return err
			}
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return fmt.Errorf("ocr service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(resp.Body)))
			}

			if err := writeOutput(out, cmd.OutOrStdout(), resp.Body); err != nil {
				return err
			}

			if !save {
				return nil
			}

			content, err := extractedText(resp)
			if err != nil {
				return err
			}
			if title == "" {
				title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}

			docs, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer docs.Close()

			doc, created, err := docs.Save(ctx, title, content)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.ErrOrStderr(), "saved %s (created=%t)\n", doc.ID, created)
			return err
		},
	}

	cmd.Flags().StringArrayVar(&fields, "field", nil, "Extra form field sent upstream as name=value (repeatable)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the reply to this file instead of stdout")
	cmd.Flags().BoolVar(&save, "save", false, "Store the extracted text as a document")
	cmd.Flags().StringVar(&title, "title", "", "Document title when --save is set (default: file name)")

	return cmd
}

func parseFields(raw []string) (map[string]string, error) {
	fields := make(map[string]string, len(raw))
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --field %q (want name=value)", kv)
		}
		if name == ocr.FileField {
			return nil, fmt.Errorf("--field cannot override %q", ocr.FileField)
		}
		fields[name] = value
	}
	return fields, nil
}

func writeOutput(path string, stdout io.Writer, body []byte) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(body)
		return err
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// extractedText pulls the document text out of an OCR reply: the first
// string field among extractedTextKeys for JSON, the body for text/*.
func extractedText(resp *ocr.Response) (string, error) {
	mediaType, _, err := mime.ParseMediaType(resp.ContentType)
	if err != nil {
		return "", fmt.Errorf("ocr reply content type %q: %w", resp.ContentType, err)
	}

	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		var payload map[string]any
		if err := json.Unmarshal(resp.Body, &payload); err != nil {
			return "", fmt.Errorf("decode ocr reply: %w", err)
		}
		for _, key := range extractedTextKeys {
			if s, ok := payload[key].(string); ok && s != "" {
				return s, nil
			}
		}
		return "", errors.New("ocr reply has no text field")
	case strings.HasPrefix(mediaType, "text/"):
		return string(resp.Body), nil
	default:
		return "", fmt.Errorf("cannot store ocr reply of type %s", mediaType)
	}
}
