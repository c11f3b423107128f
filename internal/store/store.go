package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the metadata store: the single source of truth for files,
// directories, chunk mappings, and index jobs. The vector and full-text
// indexes are derived state owned by their manager packages; they share this
// database but never touch these tables.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dbPath and initializes the
// metadata schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := Init(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying connection so the index managers can create and
// own their virtual tables in the same database file.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// --- directories ---

// UpsertDirectory inserts or updates a watched root and returns its ID.
func (s *Store) UpsertDirectory(d DirectoryRecord) (int64, error) {
	exts := strings.Join(d.Extensions, ",")
	_, err := s.db.Exec(`
		INSERT INTO directories (path, recursive, extensions) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET recursive = excluded.recursive, extensions = excluded.extensions`,
		d.Path, d.Recursive, exts,
	)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRow("SELECT id FROM directories WHERE path = ?", d.Path).Scan(&id)
	return id, err
}

// GetDirectoryByPath returns the watched root for path, or ErrNotFound.
func (s *Store) GetDirectoryByPath(path string) (*DirectoryRecord, error) {
	return s.scanDirectory(s.db.QueryRow(
		"SELECT id, path, recursive, extensions, last_scan_at FROM directories WHERE path = ?", path))
}

// GetDirectory returns the watched root by id, or ErrNotFound.
func (s *Store) GetDirectory(id int64) (*DirectoryRecord, error) {
	return s.scanDirectory(s.db.QueryRow(
		"SELECT id, path, recursive, extensions, last_scan_at FROM directories WHERE id = ?", id))
}

func (s *Store) scanDirectory(row *sql.Row) (*DirectoryRecord, error) {
	var d DirectoryRecord
	var exts string
	var lastScan sql.NullTime
	err := row.Scan(&d.ID, &d.Path, &d.Recursive, &exts, &lastScan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if exts != "" {
		d.Extensions = strings.Split(exts, ",")
	}
	if lastScan.Valid {
		d.LastScanAt = lastScan.Time
	}
	return &d, nil
}

// TouchDirectoryScan records that a scan of the directory finished now.
func (s *Store) TouchDirectoryScan(id int64) error {
	_, err := s.db.Exec("UPDATE directories SET last_scan_at = ? WHERE id = ?", time.Now().UTC(), id)
	return err
}

// DeleteDirectory removes a watched root. Its files and their chunk mappings
// cascade away with it.
func (s *Store) DeleteDirectory(id int64) error {
	_, err := s.db.Exec("DELETE FROM directories WHERE id = ?", id)
	return err
}

// --- files ---

const fileColumns = "id, directory_id, path, hash, size_bytes, content_type, status, error, modified_at, indexed_at"

// GetFileByPath returns the file record for path, or ErrNotFound.
func (s *Store) GetFileByPath(path string) (*FileRecord, error) {
	return scanFile(s.db.QueryRow("SELECT "+fileColumns+" FROM files WHERE path = ?", path))
}

// GetFile returns the file record by id, or ErrNotFound.
func (s *Store) GetFile(id int64) (*FileRecord, error) {
	return scanFile(s.db.QueryRow("SELECT "+fileColumns+" FROM files WHERE id = ?", id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*FileRecord, error) {
	var f FileRecord
	var dirID sql.NullInt64
	var modified, indexed sql.NullTime
	err := row.Scan(&f.ID, &dirID, &f.Path, &f.Hash, &f.SizeBytes, &f.ContentType,
		&f.Status, &f.Error, &modified, &indexed)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	f.DirectoryID = dirID.Int64
	if modified.Valid {
		f.ModifiedAt = modified.Time
	}
	if indexed.Valid {
		f.IndexedAt = indexed.Time
	}
	return &f, nil
}

// UpsertFile inserts or updates a file record keyed by path and returns its ID.
// Status is reset to the record's status; chunk mappings are left untouched.
func (s *Store) UpsertFile(f FileRecord) (int64, error) {
	if f.Status == "" {
		f.Status = FileStatusPending
	}
	var dirID any
	if f.DirectoryID != 0 {
		dirID = f.DirectoryID
	}
	_, err := s.db.Exec(`
		INSERT INTO files (directory_id, path, hash, size_bytes, content_type, status, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			directory_id = excluded.directory_id,
			hash         = excluded.hash,
			size_bytes   = excluded.size_bytes,
			content_type = excluded.content_type,
			status       = excluded.status,
			modified_at  = excluded.modified_at,
			error        = ''`,
		dirID, f.Path, f.Hash, f.SizeBytes, f.ContentType, f.Status, f.ModifiedAt,
	)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRow("SELECT id FROM files WHERE path = ?", f.Path).Scan(&id)
	return id, err
}

// SetFileStatus transitions a file from expect to next. The update is guarded
// by the expected prior status so two workers cannot double-process the same
// file after a retry race; a mismatch returns ErrStale. Transitioning to
// indexed also stamps indexed_at.
func (s *Store) SetFileStatus(id int64, expect, next, errMsg string) error {
	var res sql.Result
	var err error
	if next == FileStatusIndexed {
		res, err = s.db.Exec(
			"UPDATE files SET status = ?, error = ?, indexed_at = ? WHERE id = ? AND status = ?",
			next, errMsg, time.Now().UTC(), id, expect)
	} else {
		res, err = s.db.Exec(
			"UPDATE files SET status = ?, error = ? WHERE id = ? AND status = ?",
			next, errMsg, id, expect)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("file %d: %s -> %s: %w", id, expect, next, ErrStale)
	}
	return nil
}

// ListFiles returns files matching the filter plus the unpaginated total.
func (s *Store) ListFiles(filter FileFilter) ([]FileRecord, int, error) {
	var where []string
	var args []any
	if filter.DirectoryID != 0 {
		where = append(where, "directory_id = ?")
		args = append(args, filter.DirectoryID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.ContentType != "" {
		where = append(where, "content_type = ?")
		args = append(args, filter.ContentType)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM files"+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + fileColumns + " FROM files" + clause + " ORDER BY path"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var files []FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, 0, err
		}
		files = append(files, *f)
	}
	return files, total, rows.Err()
}

// FilesInDirectory returns every file owned by the directory.
func (s *Store) FilesInDirectory(dirID int64) ([]FileRecord, error) {
	files, _, err := s.ListFiles(FileFilter{DirectoryID: dirID})
	return files, err
}

// DeleteFile removes a file record; its chunk mappings cascade away.
func (s *Store) DeleteFile(id int64) error {
	_, err := s.db.Exec("DELETE FROM files WHERE id = ?", id)
	return err
}

// --- chunk mappings ---

// ReplaceChunkMappings atomically swaps the file's chunk mappings for the
// given set and returns the new vector-index ids in input order. Callers must
// remove the old ids from the vector index first.
func (s *Store) ReplaceChunkMappings(fileID int64, mappings []ChunkMapping) ([]int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM chunk_map WHERE file_id = ?", fileID); err != nil {
		return nil, err
	}

	stmt, err := tx.Prepare(
		"INSERT INTO chunk_map (file_id, ordinal, start_offset, end_offset, content) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(mappings))
	for _, m := range mappings {
		res, err := stmt.Exec(fileID, m.Ordinal, m.StartOffset, m.EndOffset, m.Content)
		if err != nil {
			return nil, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// ChunkMappingsByFile returns the file's chunk mappings ordered by ordinal.
func (s *Store) ChunkMappingsByFile(fileID int64) ([]ChunkMapping, error) {
	rows, err := s.db.Query(
		"SELECT id, file_id, ordinal, start_offset, end_offset, content FROM chunk_map WHERE file_id = ? ORDER BY ordinal",
		fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []ChunkMapping
	for rows.Next() {
		var m ChunkMapping
		if err := rows.Scan(&m.ID, &m.FileID, &m.Ordinal, &m.StartOffset, &m.EndOffset, &m.Content); err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// --- jobs ---

const jobColumns = "id, target, op, priority, status, retries, error, error_count, processed, total, current_file, created_at, updated_at"

// CreateJob inserts a new job row.
func (s *Store) CreateJob(j *IndexJob) error {
	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now
	if j.Status == "" {
		j.Status = JobStatusPending
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, target, op, priority, status, retries, error, error_count, processed, total, current_file, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Target, j.Op, j.Priority, j.Status, j.Retries, j.Error, j.ErrorCount,
		j.Processed, j.Total, j.CurrentFile, j.CreatedAt, j.UpdatedAt,
	)
	return err
}

// GetJob returns the job by id, or ErrNotFound.
func (s *Store) GetJob(id string) (*IndexJob, error) {
	return scanJob(s.db.QueryRow("SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
}

// ListJobs returns jobs, optionally filtered by status, newest first.
func (s *Store) ListJobs(status string) ([]IndexJob, error) {
	query := "SELECT " + jobColumns + " FROM jobs"
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []IndexJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func scanJob(row rowScanner) (*IndexJob, error) {
	var j IndexJob
	err := row.Scan(&j.ID, &j.Target, &j.Op, &j.Priority, &j.Status, &j.Retries,
		&j.Error, &j.ErrorCount, &j.Processed, &j.Total, &j.CurrentFile, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// HasActiveJobForTarget reports whether a non-terminal job exists for the
// target path. The enqueue-time conflict guard rests on this.
func (s *Store) HasActiveJobForTarget(target string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM jobs WHERE target = ? AND status IN (?, ?)",
		target, JobStatusPending, JobStatusProcessing).Scan(&n)
	return n > 0, err
}

// SetJobStatus transitions a job from expect to next under an optimistic
// check; a mismatch returns ErrStale.
func (s *Store) SetJobStatus(id, expect, next, errMsg string) error {
	res, err := s.db.Exec(
		"UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ? AND status = ?",
		next, errMsg, time.Now().UTC(), id, expect)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s: %s -> %s: %w", id, expect, next, ErrStale)
	}
	return nil
}

// UpdateJobProgress records per-file progress for an in-flight job.
func (s *Store) UpdateJobProgress(id string, processed, total int, currentFile string) error {
	_, err := s.db.Exec(
		"UPDATE jobs SET processed = ?, total = ?, current_file = ?, updated_at = ? WHERE id = ?",
		processed, total, currentFile, time.Now().UTC(), id)
	return err
}

// AddJobError bumps the job's error counter and keeps the latest sample
// message for the final summary.
func (s *Store) AddJobError(id, sample string) error {
	_, err := s.db.Exec(
		"UPDATE jobs SET error_count = error_count + 1, error = ?, updated_at = ? WHERE id = ?",
		sample, time.Now().UTC(), id)
	return err
}

// BumpJobRetry increments the job's retry counter.
func (s *Store) BumpJobRetry(id string) error {
	_, err := s.db.Exec(
		"UPDATE jobs SET retries = retries + 1, updated_at = ? WHERE id = ?",
		time.Now().UTC(), id)
	return err
}

// DeleteJob removes a job row.
func (s *Store) DeleteJob(id string) error {
	_, err := s.db.Exec("DELETE FROM jobs WHERE id = ?", id)
	return err
}

// --- meta ---

// GetMeta returns a metadata value by key, or "" if not set.
func (s *Store) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetMeta sets a metadata key-value pair.
func (s *Store) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	return err
}
