package ingestion

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"

	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/model"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/partition"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/retry"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/storage"
)

const csvContentType = "text/csv"

// ObjectStorage writes files to the destination store.
type ObjectStorage interface {
	CreateObject(ctx context.Context, meta storage.ObjectMeta, content io.Reader) (storage.Object, error)
}

// UploadResult describes what Upload did with a file.
type UploadResult struct {
	Skipped bool
	Object  storage.Object
}

// Uploader places each file in its partition at most once.
type Uploader struct {
	store  ObjectStorage
	policy retry.Policy
}

func NewUploader(store ObjectStorage, policy retry.Policy) *Uploader {
	return &Uploader{store: store, policy: policy}
}

// Upload stores content as name inside p, with the canonical header line
// prepended, unless p's index already lists name.
func (u *Uploader) Upload(ctx context.Context, name string, content []byte, p *partition.Partition) (UploadResult, error) {
	if p.Index.Contains(name) {
		slog.InfoContext(ctx, "file already uploaded", "name", name, "partition", p.Name)
		return UploadResult{Skipped: true}, nil
	}

	body, err := withHeader(content)
	if err != nil {
		return UploadResult{}, err
	}

	meta := storage.ObjectMeta{
		Name:        name,
		ParentID:    p.ID,
		ContentType: csvContentType,
		Size:        int64(len(body)),
	}
	obj, err := retry.Value(ctx, u.policy, func(ctx context.Context) (storage.Object, error) {
		// fresh reader per attempt
		return u.store.CreateObject(ctx, meta, bytes.NewReader(body))
	})
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload %s: %w", name, err)
	}

	p.Index.MarkUploaded(name)
	slog.InfoContext(ctx, "file uploaded",
		"name", obj.Name, "id", obj.ID, "mime_type", obj.ContentType, "link", obj.Link)

	return UploadResult{Object: obj}, nil
}

func withHeader(content []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(model.Header); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	buf.Write(content)
	return buf.Bytes(), nil
}
