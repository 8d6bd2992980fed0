// Package publish copies finished daily files to object storage.
package publish

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
)

// GCS uploads files to a Google Cloud Storage bucket.
type GCS struct {
	logger *slog.Logger
	client *storage.Client
	bucket string
	prefix string
}

// NewGCS creates a publisher for the bucket using application default
// credentials.
func NewGCS(ctx context.Context, logger *slog.Logger, bucket, prefix string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client (check gcloud auth): %w", err)
	}
	return &GCS{logger: logger, client: client, bucket: bucket, prefix: prefix}, nil
}

// ObjectName returns the object a local file is published as. The prefix is
// a directory: "era5/daily" and "era5/daily/" both give
// "era5/daily/cleaned_197903.nc".
func ObjectName(prefix, filePath string) string {
	return path.Join(prefix, filepath.Base(filePath))
}

// Publish uploads the file at filePath. The object only becomes visible once
// the upload completes.
func (g *GCS) Publish(ctx context.Context, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	name := ObjectName(g.prefix, filePath)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/x-netcdf"
	if err := upload(w, f, cancel); err != nil {
		return fmt.Errorf("uploading %s to gs://%s/%s: %w", filePath, g.bucket, name, err)
	}
	g.logger.Info("Published", "object", "gs://"+g.bucket+"/"+name, "bytes", w.Attrs().Size)
	return nil
}

// upload copies r to w and commits it with Close. A failed copy cancels the
// writer's context instead, which discards the partial object.
func upload(w io.WriteCloser, r io.Reader, cancel context.CancelFunc) error {
	if _, err := io.Copy(w, r); err != nil {
		cancel()
		return err
	}
	return w.Close()
}

// Close releases the storage client.
func (g *GCS) Close() error {
	return g.client.Close()
}
