// Package ocr relays PDF uploads to an external OCR extraction service.
package ocr

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"mime"
	"net/http"
	"slices"
)

const (
	// FileField is the form field carrying the uploaded document.
	FileField = "file"

	pdfMediaType = "application/pdf"
)

var (
	// ErrNoFormData is returned when the request carries no usable multipart parts.
	ErrNoFormData = errors.New("No form data provided")

	// ErrNotPDF is returned when the uploaded file is not a PDF. The message
	// is shown to end users as is.
	ErrNotPDF = errors.New("Seuls les fichiers PDF sont acceptés")

	// ErrTooLarge is returned when the upload exceeds the configured limit.
	ErrTooLarge = errors.New("upload exceeds maximum size")
)

// Part is one multipart form part kept for forwarding.
type Part struct {
	Name        string
	Filename    string
	ContentType string
	Data        []byte
}

// IsFile reports whether the part is an uploaded file rather than a text field.
func (p Part) IsFile() bool {
	return p.Filename != "" && p.ContentType != ""
}

// Form holds the parts of an upload in client order.
type Form struct {
	Parts []Part
}

// Has reports whether a part named name is present.
func (f *Form) Has(name string) bool {
	for _, p := range f.Parts {
		if p.Name == name {
			return true
		}
	}
	return false
}

// File returns the uploaded document part, if any.
func (f *Form) File() (Part, bool) {
	for _, p := range f.Parts {
		if p.Name == FileField && p.IsFile() {
			return p, true
		}
	}
	return Part{}, false
}

// ReadForm reads the multipart body of r, keeping every named part, empty
// ones included. The file part must be a PDF. A body with no parts at all is
// ErrNoFormData. Bodies larger than maxBytes are rejected when maxBytes > 0.
func ReadForm(w http.ResponseWriter, r *http.Request, maxBytes int64) (*Form, error) {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, ErrNoFormData
	}

	var (
		form Form
		seen int
	)
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, readErr(err)
		}

		data, err := io.ReadAll(p)
		_ = p.Close()
		if err != nil {
			return nil, readErr(err)
		}
		seen++

		part := Part{
			Name:        p.FormName(),
			Filename:    p.FileName(),
			ContentType: p.Header.Get("Content-Type"),
			Data:        data,
		}
		if part.Name == "" {
			continue
		}

		if part.Name == FileField && part.IsFile() {
			if !isPDF(part.ContentType) {
				return nil, ErrNotPDF
			}
		} else {
			part.Filename = ""
			part.ContentType = ""
		}
		form.Parts = append(form.Parts, part)
	}

	if seen == 0 {
		return nil, ErrNoFormData
	}

	return &form, nil
}

// NewFileForm builds a form around a single PDF document plus text fields.
func NewFileForm(filename string, data []byte, fields map[string]string) *Form {
	form := &Form{Parts: []Part{{
		Name:        FileField,
		Filename:    filename,
		ContentType: pdfMediaType,
		Data:        data,
	}}}
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		form.Parts = append(form.Parts, Part{Name: name, Data: []byte(fields[name])})
	}
	return form
}

func isPDF(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == pdfMediaType
}

func readErr(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return ErrTooLarge
	}
	return fmt.Errorf("read form: %w", err)
}
