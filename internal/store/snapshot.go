package store

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register sqlite-vec extension
	sqlite_vec.Auto()
}

// PathFor returns the snapshot location for a corpus. Distinct corpus names
// never share a file.
func PathFor(dir, corpusName string) string {
	return filepath.Join(dir, fmt.Sprintf("%016x.db", xxhash.Sum64String(corpusName)))
}

// Open loads a snapshot. A missing or unreadable snapshot yields ErrNotFound
// so callers can fall back to NewIndex.
func Open(path string) (*Index, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}

	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("failed to lock snapshot: %w", err)
	}
	defer lock.Unlock()

	x, err := load(path)
	if err != nil {
		log.Warn("Discarding unreadable index snapshot", "path", path, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	log.Debug("Loaded index snapshot", "path", path, "records", x.Len())
	return x, nil
}

func load(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	schema, err := readSchema(db)
	if err != nil {
		return nil, err
	}

	vectors, err := loadVectors(db, schema.Dimensions)
	if err != nil {
		return nil, err
	}

	x, err := NewIndex(schema)
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`
		SELECT id, record_id, path, title, content, embedding_model, extension, tags, metadata, created_at, mtime, ctime
		FROM records ORDER BY path
	`)
	if err != nil {
		x.Close()
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rowID int64
		var rec Record
		var tags, metadata string
		var createdAt, mtime, ctime int64

		if err := rows.Scan(
			&rowID, &rec.ID, &rec.Path, &rec.Title, &rec.Content,
			&rec.EmbeddingModel, &rec.Extension, &tags, &metadata,
			&createdAt, &mtime, &ctime,
		); err != nil {
			x.Close()
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
			x.Close()
			return nil, fmt.Errorf("invalid tags for %s: %w", rec.Path, err)
		}
		if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
			x.Close()
			return nil, fmt.Errorf("invalid metadata for %s: %w", rec.Path, err)
		}
		rec.CreatedAt = time.Unix(0, createdAt)
		rec.MTime = time.Unix(0, mtime)
		rec.CTime = time.Unix(0, ctime)

		vec, ok := vectors[rowID]
		if !ok {
			x.Close()
			return nil, fmt.Errorf("record %s has no vector", rec.Path)
		}
		rec.Embedding = vec

		if err := x.Upsert(rec); err != nil {
			x.Close()
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		x.Close()
		return nil, err
	}

	return x, nil
}

func loadVectors(db *sql.DB, dimensions int) (map[int64][]float32, error) {
	rows, err := db.Query("SELECT record_rowid, embedding FROM record_vectors")
	if err != nil {
		return nil, fmt.Errorf("failed to read vectors: %w", err)
	}
	defer rows.Close()

	vectors := make(map[int64][]float32)
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan vector: %w", err)
		}
		vec, err := deserializeEmbedding(blob)
		if err != nil {
			return nil, err
		}
		if len(vec) != dimensions {
			return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, dimensions, len(vec))
		}
		vectors[id] = vec
	}
	return vectors, rows.Err()
}

// Persist writes the whole index to path, replacing any previous snapshot.
// The containing directory is created if needed.
func Persist(x *Index, path string) error {
	if x.Schema().Dimensions <= 0 {
		return fmt.Errorf("index has no vector dimensions yet")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock snapshot: %w", err)
	}
	defer lock.Unlock()

	tmp := path + ".tmp"
	_ = os.Remove(tmp)

	if err := write(x, tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	log.Debug("Persisted index snapshot", "path", path, "records", x.Len())
	return nil
}

func write(x *Index, path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	schema, records := x.snapshot()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := initSchema(tx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	for _, rec := range records {
		tags, err := json.Marshal(emptyIfNil(rec.Tags))
		if err != nil {
			return fmt.Errorf("failed to encode tags for %s: %w", rec.Path, err)
		}
		metadata, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", rec.Path, err)
		}

		result, err := tx.Exec(`
			INSERT INTO records (record_id, path, title, content, embedding_model, extension, tags, metadata, created_at, mtime, ctime)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.ID, rec.Path, rec.Title, rec.Content, rec.EmbeddingModel, rec.Extension,
			string(tags), string(metadata),
			rec.CreatedAt.UnixNano(), rec.MTime.UnixNano(), rec.CTime.UnixNano())
		if err != nil {
			return fmt.Errorf("failed to insert record %s: %w", rec.Path, err)
		}

		rowID, _ := result.LastInsertId()
		if _, err := tx.Exec(`
			INSERT INTO record_vectors (record_rowid, embedding)
			VALUES (?, ?)
		`, rowID, serializeEmbedding(rec.Embedding)); err != nil {
			return fmt.Errorf("failed to insert vector for %s: %w", rec.Path, err)
		}
	}

	return tx.Commit()
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// serializeEmbedding converts a float32 slice to bytes for sqlite-vec.
func serializeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func deserializeEmbedding(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob of %d bytes", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}
