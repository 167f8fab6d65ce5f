package printing

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/mmdatafocus/order_printer/utils"
)

// Archiver keeps a copy of a rendered receipt after it was spooled.
type Archiver interface {
	Archive(ctx context.Context, name, path string) error
}

type GCSArchiver struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGCSArchiver(ctx context.Context, bucket, prefix string) (*GCSArchiver, error) {
	client, err := utils.GetGCSClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GCSArchiver{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (a *GCSArchiver) Archive(ctx context.Context, name, path string) error {
	object := name
	if a.prefix != "" {
		object = a.prefix + "/" + name
	}
	return utils.UploadFileToGCS(ctx, a.client, a.bucket, object, path, "application/pdf")
}

func (a *GCSArchiver) Close() error { return a.client.Close() }

// DirArchiver copies receipts into a local directory.
type DirArchiver struct {
	Dir string
}

func (a DirArchiver) Archive(_ context.Context, name, path string) error {
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return err
	}
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(a.Dir, filepath.Base(name)))
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("archive %s: %w", name, err)
	}
	return dst.Close()
}
