package fulltext

import (
	"database/sql"
	"fmt"
)

// MaxK is the largest supported result count for a single query.
const MaxK = 100

// Hit is one full-text match. Score is derived from bm25 (higher is better)
// and Snippet highlights the best matching span for UI consumption.
type Hit struct {
	FileID  int64
	Score   float64
	Snippet string
}

// Manager owns the inverted index: an FTS5 virtual table holding one row per
// file, keyed by file id. No other component writes to it.
type Manager struct {
	db *sql.DB
}

// New creates the FTS5 table if needed and returns the manager.
func New(db *sql.DB) (*Manager, error) {
	_, err := db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS fts_files USING fts5(
		content,
		file_id UNINDEXED,
		tokenize = 'unicode61 remove_diacritics 2'
	)`)
	if err != nil {
		return nil, fmt.Errorf("create fts_files: %w", err)
	}
	return &Manager{db: db}, nil
}

// AddOrUpdate replaces the file's indexed text in one transaction, keeping
// re-indexing idempotent without a separate delete step for the modify case.
func (m *Manager) AddOrUpdate(fileID int64, text string) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM fts_files WHERE file_id = ?", fileID); err != nil {
		return fmt.Errorf("fulltext delete for file %d: %w", fileID, err)
	}
	if _, err := tx.Exec("INSERT INTO fts_files (content, file_id) VALUES (?, ?)", Segment(text), fileID); err != nil {
		return fmt.Errorf("fulltext insert for file %d: %w", fileID, err)
	}
	return tx.Commit()
}

// RemoveByFile deletes the file's row. The delete commits before returning,
// so a subsequent Query can never see the file.
func (m *Manager) RemoveByFile(fileID int64) error {
	if _, err := m.db.Exec("DELETE FROM fts_files WHERE file_id = ?", fileID); err != nil {
		return fmt.Errorf("fulltext remove for file %d: %w", fileID, err)
	}
	return nil
}

// Query runs a bm25-ranked match and returns up to k files, best first.
// bm25() reports lower-is-better negative values; the sign is flipped so
// callers see monotonically higher-is-better scores.
func (m *Manager) Query(queryText string, k int) ([]Hit, error) {
	if k <= 0 || k > MaxK {
		k = MaxK
	}
	match := matchQuery(queryText)
	if match == "" {
		return nil, nil
	}
	rows, err := m.db.Query(`
		SELECT file_id, bm25(fts_files), snippet(fts_files, 0, '<mark>', '</mark>', '…', 16)
		FROM fts_files
		WHERE fts_files MATCH ?
		ORDER BY bm25(fts_files)
		LIMIT ?`,
		match, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var rank float64
		if err := rows.Scan(&h.FileID, &rank, &h.Snippet); err != nil {
			return nil, err
		}
		h.Score = -rank
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
