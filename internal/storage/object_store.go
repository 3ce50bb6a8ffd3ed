package storage

import (
	"context"
	"errors"
	"io"
)

var ErrObjectNotFound = errors.New("object not found")

type Object struct {
	Name string
	Size int64
}

type ObjectIterator func(yield func(obj Object, err error) bool)

// ObjectStore is bound to a single bucket (or base directory); keys are
// slash separated regardless of the backing implementation.
type ObjectStore interface {
	ListObjects(ctx context.Context, prefix string) ([]Object, error)

	// DownloadObject writes the object to filename. A missing key is reported
	// as ErrObjectNotFound and leaves no file behind.
	DownloadObject(ctx context.Context, key, filename string) error

	PutObject(ctx context.Context, key string, data io.Reader) error

	UploadDir(ctx context.Context, prefix, src string) error
}
