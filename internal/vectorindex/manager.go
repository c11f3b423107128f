package vectorindex

import (
	"database/sql"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"ferret/internal/store"
)

func init() {
	sqlite_vec.Auto()
}

// MaxK is the largest supported result count for a single query.
const MaxK = 100

// DefaultDim is the embedding dimension when none is configured.
const DefaultDim = 768

// Hit is one nearest-neighbor match. Score is a similarity: higher is closer.
type Hit struct {
	ChunkID int64
	FileID  int64
	Score   float64
}

// Manager owns the vector index: a sqlite-vec vec0 virtual table keyed by
// chunk-mapping id. No other component writes to it.
type Manager struct {
	db *sql.DB
}

// New creates the vec0 table (dimension dim) if needed and returns the manager.
func New(db *sql.DB, dim int) (*Manager, error) {
	if dim <= 0 {
		dim = DefaultDim
	}
	ddl := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
		chunk_id INTEGER PRIMARY KEY,
		embedding float[%d]
	)`, dim)
	if _, err := db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("create vec_chunks: %w", err)
	}
	return &Manager{db: db}, nil
}

// Add stores one vector per chunk mapping, keyed by the mapping's id.
func (m *Manager) Add(mappings []store.ChunkMapping, vectors [][]float32) error {
	if len(mappings) != len(vectors) {
		return fmt.Errorf("mismatched mappings (%d) and vectors (%d)", len(mappings), len(vectors))
	}
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, cm := range mappings {
		blob, err := sqlite_vec.SerializeFloat32(vectors[i])
		if err != nil {
			return fmt.Errorf("serialize embedding for chunk %d: %w", cm.ID, err)
		}
		if _, err := stmt.Exec(cm.ID, blob); err != nil {
			return fmt.Errorf("insert embedding for chunk %d: %w", cm.ID, err)
		}
	}
	return tx.Commit()
}

// RemoveByFile deletes every vector belonging to the file. The delete commits
// before returning, so a subsequent Query can never see the file.
func (m *Manager) RemoveByFile(fileID int64) error {
	_, err := m.db.Exec(
		"DELETE FROM vec_chunks WHERE chunk_id IN (SELECT id FROM chunk_map WHERE file_id = ?)",
		fileID)
	if err != nil {
		return fmt.Errorf("remove vectors for file %d: %w", fileID, err)
	}
	return nil
}

// Query returns the k nearest chunks to the query vector, best first. The
// join against chunk_map guarantees a removed file's ids are never returned.
// Distances are converted to similarity scores as 1/(1+distance).
func (m *Manager) Query(vector []float32, k int) ([]Hit, error) {
	if k <= 0 || k > MaxK {
		k = MaxK
	}
	blob, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return nil, fmt.Errorf("serialize query embedding: %w", err)
	}
	rows, err := m.db.Query(`
		SELECT v.chunk_id, c.file_id, v.distance
		FROM vec_chunks v
		JOIN chunk_map c ON c.id = v.chunk_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance`,
		blob, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var distance float64
		if err := rows.Scan(&h.ChunkID, &h.FileID, &distance); err != nil {
			return nil, err
		}
		h.Score = 1 / (1 + distance)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
