package utils

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GetGCSClient prefers ADC and falls back to explicit JSON in GCS_CREDENTIALS_JSON.
func GetGCSClient(ctx context.Context) (*storage.Client, error) {
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

// UploadFileToGCS copies the local file at path into bucket/objectName.
func UploadFileToGCS(ctx context.Context, client *storage.Client, bucketName, objectName, path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	wc := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := io.Copy(wc, f); err != nil {
		_ = wc.Close()
		return fmt.Errorf("upload %s to gcs: %w", objectName, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("upload %s to gcs: %w", objectName, err)
	}
	return nil
}
