// Package store persists normalized text documents in SQLite.
//
// Content is passed through text.Normalize before it is fingerprinted or
// written, so two submissions that differ only in whitespace, line endings
// or Unicode composition land on the same row.
package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
	_ "modernc.org/sqlite"

	"github.com/example/ocrgate/internal/text"
)

var (
	// ErrNotFound is returned when no document has the requested ID.
	ErrNotFound = errors.New("store: document not found")

	// ErrEmptyContent is returned when content normalizes to the empty string.
	ErrEmptyContent = errors.New("store: content is empty after normalization")

	// ErrDecompressionFailed indicates a stored zstd payload could not be decoded.
	ErrDecompressionFailed = errors.New("store: decompression failed")

	// ErrUnknownEncoding indicates a row written with an unsupported content encoding.
	ErrUnknownEncoding = errors.New("store: unknown content encoding")
)

const defaultListLimit = 50

// Document is a stored, normalized text.
type Document struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Fingerprint returns the hex BLAKE2b-256 digest of normalized content.
func Fingerprint(normalized string) string {
	if normalized == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Option configures a Store.
type Option func(*Store)

// WithCompressionThreshold sets the content size from which zstd is tried.
// A value <= 0 disables compression.
func WithCompressionThreshold(n int) Option {
	return func(s *Store) { s.threshold = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	db        *sql.DB
	now       func() time.Time
	threshold int
}

func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	// One connection serializes writers and keeps per-connection pragmas in effect.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now, threshold: defaultCompressionThreshold}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragmas %s: %w", path, err)
	}

	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS documents (
  id          TEXT PRIMARY KEY,
  title       TEXT NOT NULL DEFAULT '',
  content     BLOB NOT NULL,
  encoding    TEXT NOT NULL DEFAULT 'raw',
  fingerprint TEXT NOT NULL UNIQUE,
  created_at  INTEGER NOT NULL,
  updated_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_updated_at ON documents(updated_at DESC);
`)
	return err
}

// Save normalizes and stores a document. When a document with the same
// normalized content exists, its updated_at (and title, if a non-empty one
// is given) is refreshed and created is false.
func (s *Store) Save(ctx context.Context, title, content string) (doc Document, created bool, err error) {
	content = text.Normalize(content)
	if content == "" {
		return Document{}, false, ErrEmptyContent
	}
	title = text.Normalize(title)
	fp := Fingerprint(content)
	now := s.now().UTC().Truncate(time.Millisecond)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, false, fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := scanOne(tx.QueryRowContext(ctx, selectColumns+` WHERE fingerprint=?`, fp))
	switch {
	case err == nil:
		if title == "" {
			title = existing.Title
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET title=?, updated_at=? WHERE id=?`,
			title, now.UnixMilli(), existing.ID); err != nil {
			return Document{}, false, fmt.Errorf("refresh %s: %w", existing.ID, err)
		}
		existing.Title = title
		existing.UpdatedAt = now
		doc = existing
	case errors.Is(err, ErrNotFound):
		doc = Document{
			ID:          uuid.NewString(),
			Title:       title,
			Content:     content,
			Fingerprint: fp,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		data, encoding := encodeContent(content, s.threshold)

		_, err = tx.ExecContext(ctx, `
INSERT INTO documents(id, title, content, encoding, fingerprint, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?)
`, doc.ID, doc.Title, data, encoding, doc.Fingerprint, now.UnixMilli(), now.UnixMilli())
		if err != nil {
			return Document{}, false, fmt.Errorf("insert document: %w", err)
		}
		created = true
	default:
		return Document{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return Document{}, false, fmt.Errorf("commit save: %w", err)
	}

	return doc, created, nil
}

const selectColumns = `SELECT id, title, content, encoding, fingerprint, created_at, updated_at FROM documents`

func (s *Store) Get(ctx context.Context, id string) (Document, error) {
	return scanOne(s.db.QueryRowContext(ctx, selectColumns+` WHERE id=?`, id))
}

// List returns documents most recently updated first. limit <= 0 means 50.
func (s *Store) List(ctx context.Context, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY updated_at DESC, created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make([]Document, 0, limit)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM documents`)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row *sql.Row) (Document, error) {
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	return doc, err
}

func scanDocument(sc scanner) (Document, error) {
	var (
		doc      Document
		data     []byte
		encoding string
		cAt, uAt int64
	)
	if err := sc.Scan(&doc.ID, &doc.Title, &data, &encoding, &doc.Fingerprint, &cAt, &uAt); err != nil {
		return Document{}, err
	}

	content, err := decodeContent(data, encoding)
	if err != nil {
		return Document{}, fmt.Errorf("document %s: %w", doc.ID, err)
	}
	doc.Content = content
	doc.CreatedAt = time.UnixMilli(cAt).UTC()
	doc.UpdatedAt = time.UnixMilli(uAt).UTC()

	return doc, nil
}
