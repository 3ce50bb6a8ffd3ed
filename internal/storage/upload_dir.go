package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

const uploadDirWorkers = 4

type uploadItem struct {
	file, key string
}

type putFunc func(ctx context.Context, key string, data io.Reader) error

// uploadDir puts every file below src under prefix, keeping the relative
// layout. A failed file is logged and does not stop the others; the joined
// failures are returned once all uploads have finished.
func uploadDir(ctx context.Context, put putFunc, prefix, src string) error {
	var items []uploadItem
	err := filepath.WalkDir(src, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(src, file)
		if err != nil {
			return err
		}
		items = append(items, uploadItem{file: file, key: joinKey(prefix, rel)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk directory %s: %w", src, err)
	}

	queue := make(chan uploadItem, len(items))
	for _, item := range items {
		queue <- item
	}
	close(queue)

	completed := make(chan completedTask[uploadItem], len(items))
	runInPool(func(item uploadItem) error {
		f, err := os.Open(item.file)
		if err != nil {
			return err
		}
		defer f.Close()
		return put(ctx, item.key, f)
	}, queue, completed, uploadDirWorkers)

	var errs []error
	for task := range completed {
		if task.Error != nil {
			slog.Error("failed to upload file", "file", task.Input.file, "key", task.Input.key, "error", task.Error)
			errs = append(errs, fmt.Errorf("%s: %w", task.Input.key, task.Error))
			continue
		}
		slog.Info("uploaded file", "file", filepath.Base(task.Input.file), "key", task.Input.key)
	}

	return errors.Join(errs...)
}
