// Package vector implements the collection-per-scope vector store on
// SQLite with the sqlite-vec extension. Embeddings are unit-normalized
// before storage so the vec0 L2 metric converts exactly to cosine
// distance (cosine_dist = L2²/2), which is what Query reports.
package vector

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vthunder/temple/internal/logging"
)

func init() {
	sqlite_vec.Auto() // registers the vec0 virtual table with go-sqlite3
}

// Document is one stored memory entry.
type Document struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Tags      []string          `json:"tags"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Match is a query hit with its cosine distance in [0, 2].
type Match struct {
	Document
	Distance float64 `json:"distance"`
}

// Store wraps one SQLite database holding every collection.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the vector database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open vector db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping vector db: %w", err)
	}

	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec not available: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS collections (
			name TEXT PRIMARY KEY,
			dim INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS documents (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			collection TEXT NOT NULL,
			doc_id TEXT NOT NULL,
			content TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(collection, doc_id)
		);
		CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init vector schema: %w", err)
	}

	logging.Info("vector", "opened %s (sqlite-vec %s)", path, vecVersion)
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the backend is reachable.
func (s *Store) Ping() error {
	return s.db.Ping()
}

var vecTableSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// vecTable maps a collection name to its vec0 table name.
func vecTable(collection string) string {
	return "vec_" + vecTableSanitizer.ReplaceAllString(collection, "_")
}

// ensureCollection registers the collection and creates its vec0 table
// on first use. The dimension is fixed by the first embedding added.
func (s *Store) ensureCollection(tx *sql.Tx, collection string, dim int) error {
	var existing int
	err := tx.QueryRow(`SELECT dim FROM collections WHERE name = ?`, collection).Scan(&existing)
	switch err {
	case nil:
		if existing != dim {
			return fmt.Errorf("collection %s has dim %d, got embedding dim %d", collection, existing, dim)
		}
		return nil
	case sql.ErrNoRows:
	default:
		return fmt.Errorf("failed to check collection %s: %w", collection, err)
	}

	if _, err := tx.Exec(fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(embedding float[%d])`,
		vecTable(collection), dim,
	)); err != nil {
		return fmt.Errorf("failed to create vec table for %s: %w", collection, err)
	}
	if _, err := tx.Exec(
		`INSERT INTO collections (name, dim, created_at) VALUES (?, ?, ?)`,
		collection, dim, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("failed to register collection %s: %w", collection, err)
	}
	return nil
}

// Add upserts documents with their embeddings. Re-adding an existing id
// overwrites content, tags, metadata and embedding (last write wins).
func (s *Store) Add(collection string, docs []Document, embeddings [][]float64) error {
	if len(docs) == 0 {
		return nil
	}
	if len(docs) != len(embeddings) {
		return fmt.Errorf("doc/embedding count mismatch: %d vs %d", len(docs), len(embeddings))
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin add: %w", err)
	}
	defer tx.Rollback()

	if err := s.ensureCollection(tx, collection, len(embeddings[0])); err != nil {
		return err
	}
	table := vecTable(collection)

	for i, doc := range docs {
		emb := normalize(float64ToFloat32(embeddings[i]))
		blob, err := sqlite_vec.SerializeFloat32(emb)
		if err != nil {
			return fmt.Errorf("failed to serialize embedding for %s: %w", doc.ID, err)
		}

		tags, _ := json.Marshal(doc.Tags)
		meta, _ := json.Marshal(doc.Metadata)
		created := doc.CreatedAt.UTC().Format(time.RFC3339)
		updated := doc.UpdatedAt.UTC().Format(time.RFC3339)

		var rowid int64
		err = tx.QueryRow(
			`SELECT rowid FROM documents WHERE collection = ? AND doc_id = ?`,
			collection, doc.ID,
		).Scan(&rowid)

		switch err {
		case nil:
			if _, err := tx.Exec(
				`UPDATE documents SET content = ?, tags = ?, metadata = ?, updated_at = ? WHERE rowid = ?`,
				doc.Content, string(tags), string(meta), updated, rowid,
			); err != nil {
				return fmt.Errorf("failed to update document %s: %w", doc.ID, err)
			}
			// vec0 does not support UPDATE; DELETE + INSERT instead.
			if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE rowid = ?`, table), rowid); err != nil {
				return fmt.Errorf("failed to delete old embedding for %s: %w", doc.ID, err)
			}
			if _, err := tx.Exec(
				fmt.Sprintf(`INSERT INTO %s(rowid, embedding) VALUES (?, ?)`, table),
				rowid, blob,
			); err != nil {
				return fmt.Errorf("failed to re-insert embedding for %s: %w", doc.ID, err)
			}
		case sql.ErrNoRows:
			res, err := tx.Exec(
				`INSERT INTO documents (collection, doc_id, content, tags, metadata, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				collection, doc.ID, doc.Content, string(tags), string(meta), created, updated,
			)
			if err != nil {
				return fmt.Errorf("failed to insert document %s: %w", doc.ID, err)
			}
			rowid, err = res.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to get rowid for %s: %w", doc.ID, err)
			}
			if _, err := tx.Exec(
				fmt.Sprintf(`INSERT INTO %s(rowid, embedding) VALUES (?, ?)`, table),
				rowid, blob,
			); err != nil {
				return fmt.Errorf("failed to insert embedding for %s: %w", doc.ID, err)
			}
		default:
			return fmt.Errorf("failed to check document %s: %w", doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit add: %w", err)
	}
	logging.Debug("vector", "added %d docs to %s", len(docs), collection)
	return nil
}

// Query returns up to k nearest documents by cosine distance. A missing
// or empty collection yields an empty result, not an error.
func (s *Store) Query(collection string, embedding []float64, k int) ([]Match, error) {
	if k <= 0 {
		k = 5
	}
	if !s.collectionExists(collection) {
		return nil, nil
	}

	blob, err := sqlite_vec.SerializeFloat32(normalize(float64ToFloat32(embedding)))
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query embedding: %w", err)
	}

	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT d.doc_id, d.content, d.tags, d.metadata, d.created_at, d.updated_at, v.distance
		FROM %s v
		INNER JOIN documents d ON d.rowid = v.rowid
		WHERE v.embedding MATCH ?
			AND v.k = ?
		ORDER BY v.distance
	`, vecTable(collection)), blob, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var l2 float64
		if err := scanDocument(rows, &m.Document, &l2); err != nil {
			return nil, err
		}
		// L2 on unit vectors back to cosine distance.
		m.Distance = (l2 * l2) / 2.0
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// GetByIDs fetches documents by id; missing ids are silently absent.
func (s *Store) GetByIDs(collection string, ids []string) ([]Document, error) {
	if len(ids) == 0 || !s.collectionExists(collection) {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, collection)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT doc_id, content, tags, metadata, created_at, updated_at
		FROM documents WHERE collection = ? AND doc_id IN (%s)
		ORDER BY rowid
	`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get documents: %w", err)
	}
	defer rows.Close()
	return collectDocuments(rows)
}

// GetAll pages through a collection in stable insertion order.
func (s *Store) GetAll(collection string, limit, offset int) ([]Document, error) {
	if !s.collectionExists(collection) {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT doc_id, content, tags, metadata, created_at, updated_at
		FROM documents WHERE collection = ?
		ORDER BY rowid LIMIT ? OFFSET ?
	`, collection, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to page %s: %w", collection, err)
	}
	defer rows.Close()
	return collectDocuments(rows)
}

// Delete removes documents by id. Unknown ids are ignored.
func (s *Store) Delete(collection string, ids []string) error {
	if len(ids) == 0 || !s.collectionExists(collection) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	table := vecTable(collection)
	for _, id := range ids {
		var rowid int64
		err := tx.QueryRow(
			`SELECT rowid FROM documents WHERE collection = ? AND doc_id = ?`,
			collection, id,
		).Scan(&rowid)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to look up %s: %w", id, err)
		}
		if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE rowid = ?`, table), rowid); err != nil {
			return fmt.Errorf("failed to delete embedding %s: %w", id, err)
		}
		if _, err := tx.Exec(`DELETE FROM documents WHERE rowid = ?`, rowid); err != nil {
			return fmt.Errorf("failed to delete document %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of documents in a collection.
func (s *Store) Count(collection string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM documents WHERE collection = ?`, collection,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", collection, err)
	}
	return n, nil
}

// ListCollections returns every registered collection name.
func (s *Store) ListCollections() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM collections ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DeleteCollection drops a collection and its vec table. Deleting a
// collection that does not exist is a no-op.
func (s *Store) DeleteCollection(collection string) error {
	if !s.collectionExists(collection) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin drop: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, vecTable(collection))); err != nil {
		return fmt.Errorf("failed to drop vec table for %s: %w", collection, err)
	}
	if _, err := tx.Exec(`DELETE FROM documents WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("failed to drop documents for %s: %w", collection, err)
	}
	if _, err := tx.Exec(`DELETE FROM collections WHERE name = ?`, collection); err != nil {
		return fmt.Errorf("failed to unregister %s: %w", collection, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logging.Info("vector", "deleted collection %s", collection)
	return nil
}

func (s *Store) collectionExists(collection string) bool {
	var one int
	return s.db.QueryRow(`SELECT 1 FROM collections WHERE name = ?`, collection).Scan(&one) == nil
}

type docScanner interface {
	Scan(dest ...any) error
}

func scanDocument(rows docScanner, doc *Document, distance *float64) error {
	var tags, meta, created, updated string
	dest := []any{&doc.ID, &doc.Content, &tags, &meta, &created, &updated}
	if distance != nil {
		dest = append(dest, distance)
	}
	if err := rows.Scan(dest...); err != nil {
		return fmt.Errorf("failed to scan document: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &doc.Tags); err != nil {
		doc.Tags = nil
	}
	if err := json.Unmarshal([]byte(meta), &doc.Metadata); err != nil {
		doc.Metadata = nil
	}
	doc.CreatedAt, _ = time.Parse(time.RFC3339, created)
	doc.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return nil
}

func collectDocuments(rows *sql.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		var doc Document
		if err := scanDocument(rows, &doc, nil); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func float64ToFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

// normalize returns a unit-length copy so L2 distance maps to cosine.
func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
