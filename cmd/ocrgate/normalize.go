package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/example/ocrgate/internal/text"
	"github.com/spf13/cobra"
)

var errNotNormalized = errors.New("input is not in normal form")

func newNormalizeCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "normalize [file]",
		Short: "Normalize text from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}

			input, err := readInput(path, cmd.InOrStdin())
			if err != nil {
				return err
			}

			out := text.Normalize(input)
			if check {
				// The print path adds one newline, so accept exactly one back.
				if out != strings.TrimSuffix(input, "\n") {
					return errNotNormalized
				}
				return nil
			}

			if out == "" {
				return nil
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Exit non-zero if the input is not already normalized")

	return cmd
}

// readInput reads path, or stdin when path is empty or "-".
func readInput(path string, stdin io.Reader) (string, error) {
	if path == "" || path == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(b), nil
}
