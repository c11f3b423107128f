package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"

	"ferret/internal/extract"
	"ferret/internal/store"
	"ferret/internal/walker"
)

// execute runs the job body. Per-file failures inside a directory scan are
// accumulated on the job, not returned; only infrastructure failures and
// cancellation surface as errors.
func (s *Scheduler) execute(ctx context.Context, job *store.IndexJob) error {
	switch job.Op {
	case store.JobOpCreate, store.JobOpUpdate:
		return s.runScan(ctx, job)
	case store.JobOpDelete:
		return s.runDelete(ctx, job)
	default:
		return fmt.Errorf("unknown job op %q", job.Op)
	}
}

// runScan indexes the target path. A directory fans out into one file-level
// step per discovered file; files whose content hash is unchanged are skipped
// inside the indexer. Files that vanished from disk since the last scan are
// pruned from the store and both indexes.
func (s *Scheduler) runScan(ctx context.Context, job *store.IndexJob) error {
	info, err := os.Stat(job.Target)
	if err != nil {
		return fmt.Errorf("stat target: %w", err)
	}

	if !info.IsDir() {
		if err := s.store.UpdateJobProgress(job.ID, 0, 1, job.Target); err != nil {
			return err
		}
		if _, err := s.indexer.IndexFile(ctx, 0, walker.FileInfo{
			Path: job.Target, Size: info.Size(), ModTime: info.ModTime(),
		}); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		return s.store.UpdateJobProgress(job.ID, 1, 1, "")
	}

	dir, err := s.store.GetDirectoryByPath(job.Target)
	if err != nil {
		return fmt.Errorf("directory record: %w", err)
	}

	exts := extract.SupportedExtensions()
	if len(dir.Extensions) > 0 {
		exts = make(map[string]bool, len(dir.Extensions))
		for _, e := range dir.Extensions {
			exts[e] = true
		}
	}

	// Collect first so progress has a stable total.
	fileCh, walkErrCh := walker.Walk(ctx, dir.Path, dir.Recursive, exts, s.logger)
	var files []walker.FileInfo
	for fi := range fileCh {
		files = append(files, fi)
	}
	if err := <-walkErrCh; err != nil {
		return fmt.Errorf("walk %s: %w", dir.Path, err)
	}

	if err := s.store.UpdateJobProgress(job.ID, 0, len(files), ""); err != nil {
		return err
	}

	seen := make(map[string]bool, len(files))
	for i, fi := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.store.UpdateJobProgress(job.ID, i, len(files), fi.Path); err != nil {
			return err
		}

		seen[fi.Path] = true
		if _, err := s.indexer.IndexFile(ctx, dir.ID, fi); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// The indexer already marked the file failed; record the sample
			// and keep going with the remaining files.
			s.logger.Warn("file indexing failed", "job_id", job.ID, "path", fi.Path, "error", err)
			if aerr := s.store.AddJobError(job.ID, err.Error()); aerr != nil {
				return aerr
			}
		}
	}

	if err := s.pruneMissing(ctx, dir.ID, seen); err != nil {
		return err
	}

	if err := s.store.TouchDirectoryScan(dir.ID); err != nil {
		return err
	}
	return s.store.UpdateJobProgress(job.ID, len(files), len(files), "")
}

// pruneMissing removes records for files the scan no longer found on disk.
func (s *Scheduler) pruneMissing(ctx context.Context, dirID int64, seen map[string]bool) error {
	known, err := s.store.FilesInDirectory(dirID)
	if err != nil {
		return err
	}
	for _, f := range known {
		if err := ctx.Err(); err != nil {
			return err
		}
		if seen[f.Path] {
			continue
		}
		s.logger.Info("pruning vanished file", "path", f.Path)
		if err := s.indexer.RemoveFile(f.ID); err != nil {
			return fmt.Errorf("prune %s: %w", f.Path, err)
		}
	}
	return nil
}

// runDelete cascades the target out of the store and both indexes. Deleting
// something that is already gone succeeds.
func (s *Scheduler) runDelete(ctx context.Context, job *store.IndexJob) error {
	dir, err := s.store.GetDirectoryByPath(job.Target)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if dir != nil {
		files, err := s.store.FilesInDirectory(dir.ID)
		if err != nil {
			return err
		}
		if err := s.store.UpdateJobProgress(job.ID, 0, len(files), ""); err != nil {
			return err
		}
		for i, f := range files {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.indexer.RemoveFile(f.ID); err != nil {
				return fmt.Errorf("remove %s: %w", f.Path, err)
			}
			if err := s.store.UpdateJobProgress(job.ID, i+1, len(files), f.Path); err != nil {
				return err
			}
		}
		return s.store.DeleteDirectory(dir.ID)
	}

	f, err := s.store.GetFileByPath(job.Target)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.indexer.RemoveFile(f.ID)
}
