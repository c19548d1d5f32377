package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/krira-ai/rag-engine/internal/apperr"
	"github.com/krira-ai/rag-engine/internal/dataset"
	"github.com/krira-ai/rag-engine/internal/observability"
)

func init() {
	sqlite_vec.Auto()
}

// LocalStore is the embedded vector store: one SQLite database with a
// vec0 virtual table per collection. Collections are created lazily on
// first upsert and pin their dimension from that first batch.
type LocalStore struct {
	db     *sql.DB
	logger *observability.Logger

	mu sync.Mutex // serializes schema changes and replace-by-dataset writes
}

// NewLocalStore opens (or creates) the store under dir.
func NewLocalStore(dir string, logger *observability.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating vector store directory: %w", err)
	}

	dbPath := filepath.Join(dir, "vectors.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		name      TEXT PRIMARY KEY,
		dimension INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS records (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		collection      TEXT NOT NULL,
		vector_id       TEXT NOT NULL,
		dataset_id      TEXT NOT NULL,
		dataset_label   TEXT NOT NULL DEFAULT '',
		dataset_type    TEXT NOT NULL DEFAULT '',
		chunk_order     INTEGER NOT NULL DEFAULT 0,
		embedding_model TEXT NOT NULL DEFAULT '',
		document        TEXT NOT NULL DEFAULT '',
		UNIQUE(collection, vector_id)
	);
	CREATE INDEX IF NOT EXISTS idx_records_dataset ON records(collection, dataset_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// vec0 virtual tables dislike concurrent writers; keep one connection.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &LocalStore{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *LocalStore) Close() error {
	return s.db.Close()
}

// vecTable returns the vec0 table name for a collection.
func vecTable(collection string) string {
	return `"vec_` + collection + `"`
}

// ensureCollection creates the collection on first use and verifies the
// dimension on later ones. Caller holds s.mu.
func (s *LocalStore) ensureCollection(ctx context.Context, name string, dimension int) error {
	var existing int
	err := s.db.QueryRowContext(ctx, "SELECT dimension FROM collections WHERE name = ?", name).Scan(&existing)
	if err == nil {
		if existing != dimension {
			return apperr.Newf(apperr.KindValidation,
				"Collection '%s' dimension %d does not match embedding dimension %d",
				name, existing, dimension)
		}
		return nil
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("lookup collection: %w", err)
	}

	create := fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(embedding float[%d])",
		vecTable(name), dimension)
	if _, err := s.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create collection table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO collections(name, dimension) VALUES (?, ?)", name, dimension); err != nil {
		return fmt.Errorf("register collection: %w", err)
	}
	return nil
}

// Upsert replaces the dataset's records in the model's collection and
// inserts the new vectors.
func (s *LocalStore) Upsert(ctx context.Context, ds dataset.Dataset, embeddings [][]float32, embeddingModel string, _ *PineconeSettings) (int, error) {
	if len(embeddings) == 0 {
		return 0, nil
	}

	collection := CollectionName(embeddingModel)
	dimension := len(embeddings[0])

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureCollection(ctx, collection, dimension); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Replace-by-dataset: drop the dataset's old vectors before adding.
	deleteVecs := fmt.Sprintf(
		"DELETE FROM %s WHERE rowid IN (SELECT id FROM records WHERE collection = ? AND dataset_id = ?)",
		vecTable(collection))
	if _, err := tx.ExecContext(ctx, deleteVecs, collection, ds.ID); err != nil {
		return 0, fmt.Errorf("delete dataset vectors: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM records WHERE collection = ? AND dataset_id = ?", collection, ds.ID); err != nil {
		return 0, fmt.Errorf("delete dataset records: %w", err)
	}

	count := len(ds.Chunks)
	if len(embeddings) < count {
		count = len(embeddings)
	}

	insertVec := fmt.Sprintf("INSERT INTO %s (rowid, embedding) VALUES (?, ?)", vecTable(collection))
	for i := 0; i < count; i++ {
		chunk := ds.Chunks[i]
		if len(embeddings[i]) != dimension {
			return 0, apperr.Newf(apperr.KindValidation,
				"Collection '%s' dimension %d does not match embedding dimension %d",
				collection, dimension, len(embeddings[i]))
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO records (collection, vector_id, dataset_id, dataset_label, dataset_type, chunk_order, embedding_model, document)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			collection, VectorID(ds.ID, chunk.Order), ds.ID, ds.Label, ds.Type, chunk.Order, embeddingModel, chunk.Text)
		if err != nil {
			return 0, fmt.Errorf("insert record: %w", err)
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("record id: %w", err)
		}

		if _, err := tx.ExecContext(ctx, insertVec, rowID, serializeFloat32(embeddings[i])); err != nil {
			return 0, fmt.Errorf("insert vector: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	s.logger.Info().
		Str("collection", collection).
		Str("dataset", ds.ID).
		Int("count", count).
		Msg("Persisted vectors to local store")

	return count, nil
}

// Query runs a KNN search over the model's collection. Results come back in
// ascending distance order; scores are the raw distances.
func (s *LocalStore) Query(ctx context.Context, queryVector []float32, embeddingModel string, topK int, _ *PineconeSettings, datasetIDs []string) ([]RetrievedContext, error) {
	collection := CollectionName(embeddingModel)

	var dimension int
	err := s.db.QueryRowContext(ctx, "SELECT dimension FROM collections WHERE name = ?", collection).Scan(&dimension)
	if err == sql.ErrNoRows {
		return []RetrievedContext{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup collection: %w", err)
	}
	if dimension != len(queryVector) {
		return nil, apperr.Newf(apperr.KindValidation,
			"Collection '%s' dimension %d does not match embedding dimension %d",
			collection, dimension, len(queryVector))
	}

	query := fmt.Sprintf(`
		SELECT r.document, v.distance, r.dataset_id, r.dataset_label, r.dataset_type, r.chunk_order, r.embedding_model
		FROM %s v
		JOIN records r ON r.id = v.rowid
		WHERE v.embedding MATCH ? AND k = ?`, vecTable(collection))
	args := []interface{}{serializeFloat32(queryVector), topK}

	if len(datasetIDs) > 0 {
		placeholders := strings.Repeat("?,", len(datasetIDs))
		placeholders = placeholders[:len(placeholders)-1]
		query += fmt.Sprintf(
			" AND v.rowid IN (SELECT id FROM records WHERE collection = ? AND dataset_id IN (%s))",
			placeholders)
		args = append(args, collection)
		for _, id := range datasetIDs {
			args = append(args, id)
		}
	}
	query += " ORDER BY v.distance"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Local vector query failed", err)
	}
	defer rows.Close()

	var results []RetrievedContext
	for rows.Next() {
		var (
			document   string
			distance   float64
			datasetID  string
			label      string
			dsType     string
			chunkOrder int
			model      string
		)
		if err := rows.Scan(&document, &distance, &datasetID, &label, &dsType, &chunkOrder, &model); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		score := distance
		results = append(results, RetrievedContext{
			Text:  document,
			Score: &score,
			Metadata: map[string]interface{}{
				"dataset_id":      datasetID,
				"dataset_label":   label,
				"dataset_type":    dsType,
				"chunk_order":     chunkOrder,
				"embedding_model": model,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	if results == nil {
		results = []RetrievedContext{}
	}
	return results, nil
}

// serializeFloat32 converts a float32 slice to little-endian bytes for
// sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

var _ Backend = (*LocalStore)(nil)
