package doctor

import (
	"testing"
)

func TestCheckUpstreamURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"default", "http://127.0.0.1:5001/extract", false},
		{"https", "https://ocr.example.org/extract", false},
		{"no path", "http://ocr:5001", false},
		{"empty", "", true},
		{"blank", "   ", true},
		{"relative", "/extract", true},
		{"ftp", "ftp://ocr/extract", true},
		{"no host", "http:///extract", true},
		{"bad escape", "http://ocr/%zz", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkUpstreamURL(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("checkUpstreamURL(%q) = %v; wantErr=%v", tt.raw, err, tt.wantErr)
			}
		})
	}
}
