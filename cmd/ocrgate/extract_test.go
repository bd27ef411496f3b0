package main

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/ocrgate/internal/ocr"
)

func writePDF(t *testing.T, name string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("%PDF-1.7\n%fake\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func fakeOCR(t *testing.T, status int, contentType, body string) (*httptest.Server, <-chan *http.Request) {
	t.Helper()

	reqs := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		select {
		case reqs <- r:
		default:
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	return srv, reqs
}

func TestExtractCmd_PrintsReply(t *testing.T) {
	srv, reqs := fakeOCR(t, http.StatusOK, "application/json", `{"text":"Bonjour"}`)
	pdf := writePDF(t, "scan.pdf")

	out, err := runCLI(t, "", "--upstream-url", srv.URL, "--upstream-ocr-lang", "eng",
		"extract", pdf, "--field", "pages=1-2")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if out != `{"text":"Bonjour"}` {
		t.Errorf("output = %q", out)
	}

	got := <-reqs

	if v := got.Header["ocr_lang"]; len(v) != 1 || v[0] != "eng" {
		t.Errorf("ocr_lang header = %v; want [eng]", v)
	}

	if got.MultipartForm == nil {
		t.Fatal("upstream did not receive a multipart form")
	}

	if files := got.MultipartForm.File[ocr.FileField]; len(files) != 1 || files[0].Filename != "scan.pdf" {
		t.Errorf("file part = %+v", files)
	}

	if v := got.MultipartForm.Value["pages"]; len(v) != 1 || v[0] != "1-2" {
		t.Errorf("pages field = %v", v)
	}

	if v := got.MultipartForm.Value["force_ocr"]; len(v) != 1 || v[0] != "true" {
		t.Errorf("force_ocr field = %v", v)
	}
}

func TestExtractCmd_NonPositiveTimeoutDisablesDeadline(t *testing.T) {
	for _, timeout := range []string{"0", "-1"} {
		t.Run(timeout, func(t *testing.T) {
			srv, _ := fakeOCR(t, http.StatusOK, "application/json", `{"text":"ok"}`)
			pdf := writePDF(t, "scan.pdf")

			out, err := runCLI(t, "", "--upstream-url", srv.URL, "--server-request-timeout="+timeout, "extract", pdf)
			if err != nil {
				t.Fatalf("extract with timeout %s: %v", timeout, err)
			}

			if out != `{"text":"ok"}` {
				t.Errorf("output = %q", out)
			}
		})
	}
}

func TestExtractCmd_UpstreamErrorStatus(t *testing.T) {
	srv, _ := fakeOCR(t, http.StatusBadGateway, "application/json", `{"error":"tesseract crashed"}`)
	pdf := writePDF(t, "scan.pdf")

	_, err := runCLI(t, "", "--upstream-url", srv.URL, "extract", pdf)
	if err == nil {
		t.Fatal("expected error for non-2xx upstream status")
	}

	if !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "tesseract crashed") {
		t.Errorf("error = %v", err)
	}
}

func TestExtractCmd_RejectsNonPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.pdf")
	if err := os.WriteFile(path, []byte("plain text"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := runCLI(t, "", "extract", path)
	if !errors.Is(err, ocr.ErrNotPDF) {
		t.Fatalf("err = %v; want ErrNotPDF", err)
	}
}

func TestExtractCmd_SaveStoresNormalizedText(t *testing.T) {
	srv, _ := fakeOCR(t, http.StatusOK, "application/json; charset=utf-8", `{"text":"  Relevé\r\n\r\n\r\nde  compte "}`)
	pdf := writePDF(t, "releve-2024.pdf")
	dbPath := filepath.Join(t.TempDir(), "docs.db")

	outFile := filepath.Join(t.TempDir(), "reply.json")
	_, err := runCLI(t, "", "--upstream-url", srv.URL, "--store-path", dbPath,
		"extract", pdf, "--save", "--out", outFile)
	if err != nil {
		t.Fatalf("extract --save: %v", err)
	}

	if _, err := os.Stat(outFile); err != nil {
		t.Errorf("reply file not written: %v", err)
	}

	out, err := runCLI(t, "", "--store-path", dbPath, "docs", "list", "--json")
	if err != nil {
		t.Fatalf("docs list: %v", err)
	}

	if !strings.Contains(out, `"title": "releve-2024"`) {
		t.Errorf("list output missing title:\n%s", out)
	}

	if !strings.Contains(out, `"content": "Relevé\n\nde compte"`) {
		t.Errorf("list output missing normalized content:\n%s", out)
	}
}

func TestParseFields(t *testing.T) {
	tests := []struct {
		name    string
		raw     []string
		want    map[string]string
		wantErr bool
	}{
		{"empty", nil, map[string]string{}, false},
		{"pairs", []string{"pages=1-3", "output_format=markdown"}, map[string]string{"pages": "1-3", "output_format": "markdown"}, false},
		{"value with equals", []string{"q=a=b"}, map[string]string{"q": "a=b"}, false},
		{"empty value", []string{"flag="}, map[string]string{"flag": ""}, false},
		{"no equals", []string{"pages"}, nil, true},
		{"empty name", []string{"=x"}, nil, true},
		{"file field", []string{"file=x"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFields(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseFields(%v) = %v; want error", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseFields(%v) error: %v", tt.raw, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseFields(%v) = %v; want %v", tt.raw, got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("field %q = %q; want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestExtractedText(t *testing.T) {
	tests := []struct {
		name    string
		resp    ocr.Response
		want    string
		wantErr bool
	}{
		{"json text", ocr.Response{ContentType: "application/json", Body: []byte(`{"text":"a"}`)}, "a", false},
		{"json markdown", ocr.Response{ContentType: "application/json", Body: []byte(`{"markdown":"# a","images":{}}`)}, "# a", false},
		{"text wins over markdown", ocr.Response{ContentType: "application/json", Body: []byte(`{"markdown":"m","text":"t"}`)}, "t", false},
		{"problem json", ocr.Response{ContentType: "application/problem+json", Body: []byte(`{"content":"c"}`)}, "c", false},
		{"plain text", ocr.Response{ContentType: "text/plain; charset=utf-8", Body: []byte("raw")}, "raw", false},
		{"json without text", ocr.Response{ContentType: "application/json", Body: []byte(`{"pages":3}`)}, "", true},
		{"bad json", ocr.Response{ContentType: "application/json", Body: []byte(`{`)}, "", true},
		{"binary", ocr.Response{ContentType: "application/pdf", Body: []byte("%PDF")}, "", true},
		{"bad content type", ocr.Response{ContentType: "", Body: []byte("x")}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractedText(&tt.resp)
			if (err != nil) != tt.wantErr {
				t.Fatalf("extractedText() error = %v; wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("extractedText() = %q; want %q", got, tt.want)
			}
		})
	}
}
