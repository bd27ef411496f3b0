package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeCmd_Stdin(t *testing.T) {
	out, err := runCLI(t, "  Hello\r\n\r\n\r\n  World\t\t!  ", "normalize")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if out != "Hello\n\nWorld !\n" {
		t.Errorf("output = %q", out)
	}
}

func TestNormalizeCmd_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.txt")
	if err := os.WriteFile(path, []byte("a\x00b \r c"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	out, err := runCLI(t, "", "normalize", path)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if out != "ab\nc\n" {
		t.Errorf("output = %q", out)
	}
}

func TestNormalizeCmd_EmptyInputPrintsNothing(t *testing.T) {
	out, err := runCLI(t, " \r\n\t ", "normalize")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if out != "" {
		t.Errorf("output = %q; want empty", out)
	}
}

func TestNormalizeCmd_Check(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"normalized", "Hello\n\nWorld", false},
		{"single trailing newline", "Hello\n\nWorld\n", false},
		{"empty", "", false},
		{"two trailing newlines", "Hello\n\n", true},
		{"trailing crlf", "Hello\r\n", true},
		{"trailing space", "Hello ", true},
		{"crlf", "a\r\nb", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCLI(t, tt.input, "normalize", "--check")
			if tt.wantErr {
				if !errors.Is(err, errNotNormalized) {
					t.Fatalf("err = %v; want errNotNormalized", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalize --check: %v", err)
			}
			if out != "" {
				t.Errorf("--check must not print; got %q", out)
			}
		})
	}
}

func TestNormalizeCmd_CheckAcceptsOwnOutput(t *testing.T) {
	out, err := runCLI(t, "  Hello \r\n World  ", "normalize")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if _, err := runCLI(t, out, "normalize", "--check"); err != nil {
		t.Fatalf("normalize --check on %q: %v", out, err)
	}
}

func TestNormalizeCmd_CheckAcceptsOwnOutputFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.txt")
	if err := os.WriteFile(src, []byte("a\t\tb\r\n\r\n\r\nc  \n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	out, err := runCLI(t, "", "normalize", src)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	dst := filepath.Join(dir, "out.txt")
	if err := os.WriteFile(dst, []byte(out), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := runCLI(t, "", "normalize", "--check", dst); err != nil {
		t.Fatalf("normalize --check %s: %v", dst, err)
	}
}

func TestNormalizeCmd_MissingFile(t *testing.T) {
	if _, err := runCLI(t, "", "normalize", "/nonexistent/input.txt"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
