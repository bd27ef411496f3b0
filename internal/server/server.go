package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/example/ocrgate/internal/config"
	"github.com/example/ocrgate/internal/ocr"
	"github.com/example/ocrgate/internal/store"
	"github.com/example/ocrgate/internal/text"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// Extractor relays an upload form to the OCR service.
type Extractor interface {
	Extract(ctx context.Context, form *ocr.Form) (*ocr.Response, error)
}

// DocumentStore persists normalized documents.
type DocumentStore interface {
	Save(ctx context.Context, title, content string) (store.Document, bool, error)
	Get(ctx context.Context, id string) (store.Document, error)
	List(ctx context.Context, limit int) ([]store.Document, error)
	Delete(ctx context.Context, id string) error
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxUploadBytes int64
	maxTextBytes   int
	workers        int
	requestTimeout time.Duration
	logger         *slog.Logger
}

func defaultOptions() options {
	return options{
		maxUploadBytes: 50 << 20,
		maxTextBytes:   1 << 20,
		workers:        4,
		requestTimeout: 120 * time.Second,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxUploadBytes sets the maximum multipart body size for POST /api/extract.
func WithMaxUploadBytes(n int64) Option {
	return func(o *options) { o.maxUploadBytes = n }
}

// WithMaxTextBytes sets the maximum text length in bytes for the normalize
// and documents endpoints.
func WithMaxTextBytes(n int) Option {
	return func(o *options) { o.maxTextBytes = n }
}

// WithWorkers sets the maximum number of concurrent upstream extractions.
// Zero disables throttling.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request upstream deadline. Zero or less
// leaves extractions bounded only by the client connection.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

type handler struct {
	extractor Extractor
	docs      DocumentStore
	opts      options
	sem       chan struct{} // semaphore for upstream extractions
	log       *slog.Logger
}

// NewHandler returns an http.Handler that serves /health, POST /api/extract,
// POST /api/normalize and /api/documents.
func NewHandler(ex Extractor, docs DocumentStore, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		extractor: ex,
		docs:      docs,
		opts:      opts,
		log:       opts.logger,
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/api/extract", h.handleExtract)
	mux.HandleFunc("/api/normalize", h.handleNormalize)
	mux.HandleFunc("/api/documents", h.handleDocuments)
	mux.HandleFunc("/api/documents/{id}", h.handleDocument)
	return mux
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"version":          buildVersion(),
		"canonicalization": text.CanonicalizationAvailable(),
	})
}

func (h *handler) handleExtract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	form, err := ocr.ReadForm(w, r, h.opts.maxUploadBytes)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ocr.ErrNoFormData), errors.Is(err, ocr.ErrNotPDF):
			status = http.StatusBadRequest
		case errors.Is(err, ocr.ErrTooLarge):
			status = http.StatusRequestEntityTooLarge
		}
		h.log.WarnContext(r.Context(), "upload rejected",
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
		writeError(w, status, err.Error())
		return
	}

	// Acquire a worker slot, honouring cancellation while waiting.
	if h.sem != nil {
		select {
		case h.sem <- struct{}{}:
		case <-r.Context().Done():
			writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
			return
		}
		defer func() { <-h.sem }()
	}

	ctx := r.Context()
	if h.opts.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.requestTimeout)
		defer cancel()
	}

	var filename string
	if f, ok := form.File(); ok {
		filename = f.Filename
	}

	start := time.Now()
	resp, err := h.extractor.Extract(ctx, form)
	durationMS := time.Since(start).Milliseconds()

	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		h.log.ErrorContext(r.Context(), "extraction failed",
			slog.String("filename", filename),
			slog.Int("parts", len(form.Parts)),
			slog.Int64("duration_ms", durationMS),
			slog.String("error", err.Error()),
		)
		writeError(w, status, err.Error())
		return
	}

	h.log.InfoContext(r.Context(), "extraction relayed",
		slog.String("filename", filename),
		slog.Int("parts", len(form.Parts)),
		slog.Int("status", resp.StatusCode),
		slog.Int("body_bytes", len(resp.Body)),
		slog.Int64("duration_ms", durationMS),
	)

	w.Header().Set("Content-Type", resp.ContentType)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

type normalizeRequest struct {
	Text string `json:"text"`
}

func (h *handler) handleNormalize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req normalizeRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	if len(req.Text) > h.opts.maxTextBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("text exceeds maximum size of %d bytes", h.opts.maxTextBytes))
		return
	}

	writeJSON(w, http.StatusOK, normalizeRequest{Text: text.Normalize(req.Text)})
}

type saveRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (h *handler) handleDocuments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listDocuments(w, r)
	case http.MethodPost:
		h.saveDocument(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	docs, err := h.docs.List(r.Context(), limit)
	if err != nil {
		h.log.ErrorContext(r.Context(), "list documents failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *handler) saveDocument(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	if len(req.Content)+len(req.Title) > h.opts.maxTextBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("document exceeds maximum size of %d bytes", h.opts.maxTextBytes))
		return
	}

	doc, created, err := h.docs.Save(r.Context(), req.Title, req.Content)
	if err != nil {
		if errors.Is(err, store.ErrEmptyContent) {
			writeError(w, http.StatusBadRequest, "content is empty after normalization")
			return
		}
		h.log.ErrorContext(r.Context(), "save document failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.log.InfoContext(r.Context(), "document saved",
		slog.String("id", doc.ID),
		slog.Bool("created", created),
		slog.Int("content_len", len(doc.Content)),
	)

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, doc)
}

func (h *handler) handleDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	switch r.Method {
	case http.MethodGet:
		doc, err := h.docs.Get(r.Context(), id)
		if err != nil {
			h.writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodDelete:
		if err := h.docs.Delete(r.Context(), id); err != nil {
			h.writeStoreError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	h.log.ErrorContext(r.Context(), "document lookup failed",
		slog.String("id", r.PathValue("id")),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, err.Error())
}

// decodeJSON reads a JSON body bounded by the text limit plus envelope slack.
func (h *handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is required")
		return false
	}

	// JSON escaping can grow text up to 6x (\uXXXX).
	r.Body = http.MaxBytesReader(w, r.Body, int64(h.opts.maxTextBytes)*6+4096)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	extractor       Extractor
	docs            DocumentStore
	shutdownTimeout time.Duration
}

func New(cfg config.Config, ex Extractor, docs DocumentStore) *Server {
	return &Server{
		cfg:             cfg,
		extractor:       ex,
		docs:            docs,
		shutdownTimeout: 30 * time.Second,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// Handler builds the HTTP handler from the server configuration.
func (s *Server) Handler() http.Handler {
	return NewHandler(s.extractor, s.docs,
		WithWorkers(s.cfg.Server.Workers),
		WithMaxUploadBytes(s.cfg.Server.MaxUploadBytes),
		WithMaxTextBytes(s.cfg.Server.MaxTextBytes),
		WithRequestTimeout(time.Duration(s.cfg.Server.RequestTimeout)*time.Second),
	)
}

func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	slog.InfoContext(ctx, "http server listening",
		slog.String("addr", s.cfg.Server.ListenAddr),
		slog.String("upstream", s.cfg.Upstream.URL),
	)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

func ProbeHTTP(addr string) error {
	resp, err := http.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}
