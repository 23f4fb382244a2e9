// Package blob stores the original uploaded files.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Open for a path that holds no file.
var ErrNotFound = errors.New("blob not found")

// Store keeps uploaded files by opaque storage path.
type Store interface {
	// Put writes data for documentID and returns the storage path.
	Put(ctx context.Context, documentID, filename string, data io.Reader) (string, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}

// Backend names accepted by New.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// Options selects and configures a blob backend.
type Options struct {
	Backend   string
	LocalPath string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string // non-empty for S3-compatible services such as MinIO
	S3AccessKey string
	S3SecretKey string
}

// New resolves opts.Backend to a Store. Unknown backends fail here.
func New(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendLocal, "":
		return NewLocal(opts.LocalPath)
	case BackendS3:
		return NewS3(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown blob backend %q (want %s or %s)", opts.Backend, BackendLocal, BackendS3)
	}
}

// storagePath builds "<first two id chars>/<id>_<sanitized name><ext>".
func storagePath(documentID, filename string) string {
	filename = filepath.Base(filename)
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	base = strings.NewReplacer(" ", "_", "/", "_", "\\", "_", "..", "_").Replace(base)
	prefix := documentID
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return fmt.Sprintf("%s/%s_%s%s", prefix, documentID, base, strings.ToLower(ext))
}

// ContentType guesses a MIME type from the file extension.
func ContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	case ".md", ".markdown":
		return "text/markdown"
	default:
		return "application/octet-stream"
	}
}
