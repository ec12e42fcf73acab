// Package sqlitestore keeps patents, their section text, chunks and embeddings
// in a SQLite database using the pure-Go modernc driver.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"priorart/internal/adapter/sqlitestore/migrations"
	"priorart/internal/domain"
	"priorart/internal/port"
)

const dateLayout = "2006-01-02"

// Store implements port.Store on SQLite.
type Store struct {
	db   *sql.DB
	path string
}

var _ port.Store = (*Store)(nil)

// New opens (creating if needed) the database at path and applies migrations.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Single connection: streaming callbacks must not call back into the store.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	return v, err
}

// ==================== Documents ====================

// PutDocument replaces the patent row, its section text and its chunks in one
// transaction.
func (s *Store) PutDocument(ctx context.Context, doc domain.Document, chunks []domain.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Cascades to doc_text and chunks.
	if _, err := tx.ExecContext(ctx, "DELETE FROM patents WHERE patent_id = ?", doc.ID); err != nil {
		return fmt.Errorf("removing previous version: %w", err)
	}

	var pubDate sql.NullString
	if !doc.PublicationDate.IsZero() {
		pubDate = sql.NullString{String: doc.PublicationDate.Format(dateLayout), Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO patents (patent_id, title, publication_date, cpc_class, inventor, assignee, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.Title, pubDate, doc.Class, doc.Inventor, doc.Assignee, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("inserting patent: %w", err)
	}

	for i, section := range doc.Sections {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO doc_text (patent_id, position, section, content) VALUES (?, ?, ?, ?)",
			doc.ID, i, section.Name, section.Text)
		if err != nil {
			return fmt.Errorf("inserting section %s: %w", section.Name, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (chunk_id, patent_id, section, cpc_class, chunk_text, char_start, char_end, seq, token_count, terms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		terms, err := json.Marshal(c.Terms)
		if err != nil {
			return fmt.Errorf("marshalling terms: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocID, c.Section, c.Class, c.Text, c.Start, c.End, c.Seq, c.TokenCount, string(terms)); err != nil {
			return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	doc, err := scanPatent(s.db.QueryRowContext(ctx, `
		SELECT patent_id, title, publication_date, cpc_class, inventor, assignee
		FROM patents WHERE patent_id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("querying patent: %w", err)
	}

	doc.Sections, err = s.sections(ctx, id)
	if err != nil {
		return domain.Document{}, err
	}
	return doc, nil
}

func (s *Store) sections(ctx context.Context, id string) ([]domain.Section, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT section, content FROM doc_text WHERE patent_id = ? ORDER BY position", id)
	if err != nil {
		return nil, fmt.Errorf("querying sections: %w", err)
	}
	defer rows.Close()

	var sections []domain.Section
	for rows.Next() {
		var sec domain.Section
		if err := rows.Scan(&sec.Name, &sec.Text); err != nil {
			return nil, fmt.Errorf("scanning section: %w", err)
		}
		sections = append(sections, sec)
	}
	return sections, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPatent(row scanner) (domain.Document, error) {
	var (
		doc                       domain.Document
		pubDate                   sql.NullString
		class, inventor, assignee sql.NullString
	)
	if err := row.Scan(&doc.ID, &doc.Title, &pubDate, &class, &inventor, &assignee); err != nil {
		return domain.Document{}, err
	}
	if pubDate.Valid && pubDate.String != "" {
		// modernc returns DATE columns verbatim.
		if t, err := time.Parse(dateLayout, pubDate.String[:min(len(pubDate.String), len(dateLayout))]); err == nil {
			doc.PublicationDate = t
		}
	}
	doc.Class = class.String
	doc.Inventor = inventor.String
	doc.Assignee = assignee.String
	return doc, nil
}

func (s *Store) DeleteDocument(ctx context.Context, id string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT chunk_id FROM chunks WHERE patent_id = ? ORDER BY section, seq", id)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	var removed []string
	for rows.Next() {
		var cid string
		if err := rows.Scan(&cid); err != nil {
			rows.Close()
			return nil, err
		}
		removed = append(removed, cid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM patents WHERE patent_id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("deleting patent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return removed, tx.Commit()
}

func (s *Store) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT patent_id, title, publication_date, cpc_class, inventor, assignee
		FROM patents ORDER BY patent_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying patents: %w", err)
	}
	var docs []domain.Document
	for rows.Next() {
		doc, err := scanPatent(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning patent: %w", err)
		}
		docs = append(docs, doc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Sections are loaded after the cursor is closed; the pool has one connection.
	for i := range docs {
		if docs[i].Sections, err = s.sections(ctx, docs[i].ID); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// ==================== Chunks ====================

const chunkColumns = "chunk_id, patent_id, section, cpc_class, chunk_text, char_start, char_end, seq, token_count, terms"

func scanChunk(row scanner) (domain.Chunk, error) {
	var (
		c     domain.Chunk
		class sql.NullString
		terms string
	)
	if err := row.Scan(&c.ID, &c.DocID, &c.Section, &class, &c.Text, &c.Start, &c.End, &c.Seq, &c.TokenCount, &terms); err != nil {
		return domain.Chunk{}, err
	}
	c.Class = class.String
	if terms != "" && terms != "null" {
		if err := json.Unmarshal([]byte(terms), &c.Terms); err != nil {
			return domain.Chunk{}, fmt.Errorf("unmarshalling terms: %w", err)
		}
	}
	return c, nil
}

func (s *Store) GetChunk(ctx context.Context, id string) (domain.Chunk, error) {
	c, err := scanChunk(s.db.QueryRowContext(ctx, "SELECT "+chunkColumns+" FROM chunks WHERE chunk_id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Chunk{}, fmt.Errorf("chunk %s: %w", id, domain.ErrNotFound)
	}
	return c, err
}

func (s *Store) ChunksBySection(ctx context.Context, docID, section string) ([]domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+chunkColumns+" FROM chunks WHERE patent_id = ? AND section = ? ORDER BY seq", docID, section)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *Store) ChunkIDs(ctx context.Context, docID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT chunk_id FROM chunks WHERE patent_id = ?", docID)
	if err != nil {
		return nil, fmt.Errorf("querying chunk ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AllChunks streams every chunk. fn must not call back into the store.
func (s *Store) AllChunks(ctx context.Context, fn func(domain.Chunk) error) error {
	rows, err := s.db.QueryContext(ctx, "SELECT "+chunkColumns+" FROM chunks ORDER BY patent_id, section, seq")
	if err != nil {
		return fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ==================== Embeddings ====================

func (s *Store) PutEmbeddings(ctx context.Context, records []domain.EmbeddingRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO embeddings (chunk_id, patent_id, section, cpc_class, seq, dimension, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing embedding insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ChunkID, r.DocID, r.Section, r.Class, r.Seq, len(r.Vector), encodeVector(r.Vector)); err != nil {
			return fmt.Errorf("inserting embedding %s: %w", r.ChunkID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) DeleteEmbeddings(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range chunkIDs {
		if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings WHERE chunk_id = ?", id); err != nil {
			return fmt.Errorf("deleting embedding %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *Store) LoadEmbeddings(ctx context.Context, fn func(domain.EmbeddingRecord) error) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT chunk_id, patent_id, section, cpc_class, seq, vector FROM embeddings")
	if err != nil {
		return fmt.Errorf("querying embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r     domain.EmbeddingRecord
			class sql.NullString
			blob  []byte
		)
		if err := rows.Scan(&r.ChunkID, &r.DocID, &r.Section, &class, &r.Seq, &blob); err != nil {
			return fmt.Errorf("scanning embedding: %w", err)
		}
		r.Class = class.String
		r.Vector = decodeVector(blob)
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// encodeVector stores float32 values little-endian.
func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) []float32 {
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
