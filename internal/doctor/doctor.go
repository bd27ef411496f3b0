// Package doctor provides environment preflight checks for ocrgate.
package doctor

import (
	"fmt"
	"io"
	"net/url"
	"strings"
)

// PassMark, WarnMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	WarnMark = "!"
	FailMark = "✗"
)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// Canonicalization reports whether Unicode NFC is available to the normalizer.
	Canonicalization func() bool
	// UpstreamURL is the configured OCR service endpoint.
	UpstreamURL string
	// ProbeUpstream checks that the OCR service accepts connections.
	ProbeUpstream func() error
	// SkipUpstream skips the reachability check (offline use).
	SkipUpstream bool
	// StorePath is the document database location, for display.
	StorePath string
	// CheckStore opens the document store and returns its document count.
	// Nil skips the check.
	CheckStore func() (int, error)
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
	warnings []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// Warnings returns the list of non-fatal findings.
func (r *Result) Warnings() []string { return append([]string(nil), r.warnings...) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) warn(msg string) { r.warnings = append(r.warnings, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark, WarnMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- unicode canonicalization ----------------------------------------
	if cfg.Canonicalization != nil && !cfg.Canonicalization() {
		res.warn("unicode canonicalization: unavailable")
		fmt.Fprintf(w, "%s unicode canonicalization: unavailable (composition forms are kept as is)\n", WarnMark)
	} else {
		fmt.Fprintf(w, "%s unicode canonicalization: NFC\n", PassMark)
	}

	// ---- upstream endpoint -----------------------------------------------
	if err := checkUpstreamURL(cfg.UpstreamURL); err != nil {
		res.fail(fmt.Sprintf("upstream url: %v", err))
		fmt.Fprintf(w, "%s upstream url %q: %v\n", FailMark, cfg.UpstreamURL, err)
	} else {
		fmt.Fprintf(w, "%s upstream url: %s\n", PassMark, cfg.UpstreamURL)

		switch {
		case cfg.SkipUpstream || cfg.ProbeUpstream == nil:
			fmt.Fprintf(w, "%s upstream reachable: skipped\n", PassMark)
		default:
			if err := cfg.ProbeUpstream(); err != nil {
				res.fail(fmt.Sprintf("upstream reachable: %v", err))
				fmt.Fprintf(w, "%s upstream reachable: %v\n", FailMark, err)
			} else {
				fmt.Fprintf(w, "%s upstream reachable\n", PassMark)
			}
		}
	}

	// ---- document store --------------------------------------------------
	if cfg.CheckStore != nil {
		n, err := cfg.CheckStore()
		if err != nil {
			res.fail(fmt.Sprintf("document store %q: %v", cfg.StorePath, err))
			fmt.Fprintf(w, "%s document store %s: %v\n", FailMark, cfg.StorePath, err)
		} else {
			fmt.Fprintf(w, "%s document store: %s (%d documents)\n", PassMark, cfg.StorePath, n)
		}
	}

	return res
}

// checkUpstreamURL returns an error unless raw is an absolute http(s) URL
// with a host.
func checkUpstreamURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("not configured")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("cannot parse: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
