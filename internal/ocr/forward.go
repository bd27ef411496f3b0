package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrUpstream wraps every failure talking to the OCR service.
var ErrUpstream = errors.New("ocr upstream")

const defaultContentType = "application/json"

// Processing holds the options sent to the OCR service with every upload.
type Processing struct {
	Lang          string
	IncludeImages bool
	IncludeLinks  bool
	ForceOCR      bool
}

// DefaultProcessing returns French OCR with images and links included and
// reprocessing forced.
func DefaultProcessing() Processing {
	return Processing{
		Lang:          "fra",
		IncludeImages: true,
		IncludeLinks:  true,
		ForceOCR:      true,
	}
}

// Response is the upstream reply, relayed to the caller verbatim.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	client     *http.Client
	processing Processing
	logger     *slog.Logger
}

// Option configures a Forwarder.
type Option func(*options)

// WithHTTPClient sets the client used for upstream requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithProcessing overrides the processing options sent upstream.
func WithProcessing(p Processing) Option {
	return func(o *options) { o.processing = p }
}

// WithLogger sets the slog.Logger used for upstream call logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Forwarder relays upload forms to a fixed OCR extract endpoint.
type Forwarder struct {
	endpoint   string
	client     *http.Client
	processing Processing
	log        *slog.Logger
}

func NewForwarder(endpoint string, optFns ...Option) *Forwarder {
	opts := options{
		client:     http.DefaultClient,
		processing: DefaultProcessing(),
		logger:     slog.Default(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Forwarder{
		endpoint:   endpoint,
		client:     opts.client,
		processing: opts.processing,
		log:        opts.logger,
	}
}

// Extract forwards form upstream and returns the reply. A non-2xx upstream
// status is not an error; it is relayed like any other response.
func (f *Forwarder) Extract(ctx context.Context, form *Form) (*Response, error) {
	body, contentType, err := f.encode(form)
	if err != nil {
		return nil, fmt.Errorf("%w: encode form: %w", ErrUpstream, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	req.Header.Set("Content-Type", contentType)
	// The OCR service reads these names verbatim, so bypass canonicalization.
	req.Header["ocr_lang"] = []string{f.processing.Lang}
	req.Header["include_images"] = []string{strconv.FormatBool(f.processing.IncludeImages)}
	req.Header["include_links"] = []string{strconv.FormatBool(f.processing.IncludeLinks)}
	req.Header["force_ocr"] = []string{strconv.FormatBool(f.processing.ForceOCR)}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrUpstream, err)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = defaultContentType
	}

	f.log.DebugContext(ctx, "ocr upstream replied",
		slog.String("endpoint", f.endpoint),
		slog.Int("status", resp.StatusCode),
		slog.Int("body_bytes", len(payload)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: ct,
		Body:        payload,
	}, nil
}

// encode rebuilds form as a new multipart body. force_ocr is added when the
// client did not send it.
func (f *Forwarder) encode(form *Form) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for _, p := range form.Parts {
		if p.IsFile() {
			w, err := mw.CreatePart(fileHeader(p))
			if err != nil {
				return nil, "", err
			}
			if _, err := w.Write(p.Data); err != nil {
				return nil, "", err
			}
			continue
		}
		if err := mw.WriteField(p.Name, string(p.Data)); err != nil {
			return nil, "", err
		}
	}

	if !form.Has("force_ocr") {
		if err := mw.WriteField("force_ocr", "true"); err != nil {
			return nil, "", err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}

	return &buf, mw.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func fileHeader(p Part) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(p.Name), quoteEscaper.Replace(p.Filename)))
	h.Set("Content-Type", p.ContentType)
	return h
}

// Probe checks that the upstream host accepts TCP connections.
func (f *Forwarder) Probe(ctx context.Context) error {
	u, err := url.Parse(f.endpoint)
	if err != nil {
		return fmt.Errorf("%w: parse endpoint: %w", ErrUpstream, err)
	}

	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return conn.Close()
}
