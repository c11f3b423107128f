package store

import "time"

// File index statuses.
const (
	FileStatusPending  = "pending"
	FileStatusIndexing = "indexing"
	FileStatusIndexed  = "indexed"
	FileStatusFailed   = "failed"
)

// Job statuses. Pending and processing are non-terminal.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Job operations.
const (
	JobOpCreate = "create"
	JobOpUpdate = "update"
	JobOpDelete = "delete"
)

// DirectoryRecord is a watched root directory.
type DirectoryRecord struct {
	ID         int64
	Path       string
	Recursive  bool
	Extensions []string
	LastScanAt time.Time
}

// FileRecord is one indexed file. Path is unique; a file whose content hash
// is unchanged is never re-chunked on re-index.
type FileRecord struct {
	ID          int64
	DirectoryID int64
	Path        string
	Hash        string
	SizeBytes   int64
	ContentType string
	Status      string
	Error       string
	ModifiedAt  time.Time
	IndexedAt   time.Time
}

// ChunkMapping links a vector-index id back to its owning file and character
// span. The row id doubles as the vector-index id and is stable for the life
// of the chunk.
type ChunkMapping struct {
	ID          int64
	FileID      int64
	Ordinal     int
	StartOffset int
	EndOffset   int
	Content     string
}

// IndexJob is a unit of work in the scheduler's queue.
type IndexJob struct {
	ID          string
	Target      string
	Op          string
	Priority    int
	Status      string
	Retries     int
	Error       string
	ErrorCount  int
	Processed   int
	Total       int
	CurrentFile string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Terminal reports whether the job has finished, successfully or not.
func (j *IndexJob) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// FileFilter narrows ListFiles results. Zero values mean no constraint.
type FileFilter struct {
	DirectoryID int64
	Status      string
	ContentType string
	Limit       int
	Offset      int
}
