// Package objectstore archives generated artifacts in a NATS JetStream
// object store bucket.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/book-expert/music-service/internal/core"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Metadata keys attached to archived artifacts.
const (
	MetaSourceName = "source_name"
	MetaFormat     = "format"
)

var _ core.ArtifactStore = (*ArtifactStore)(nil)

// ArtifactStore implements core.ArtifactStore on a JetStream object store bucket.
type ArtifactStore struct {
	bucket string
	store  nats.ObjectStore
}

// New binds to bucketName, creating the bucket if it does not exist yet.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*ArtifactStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: "Generated music artifacts.",
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &ArtifactStore{bucket: bucketName, store: store}, nil
}

// Bucket returns the bucket name.
func (s *ArtifactStore) Bucket() string {
	return s.bucket
}

// Download retrieves an object from the bucket.
func (s *ArtifactStore) Download(_ context.Context, key string) ([]byte, error) {
	obj, err := s.store.Get(key)
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, s.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Archive streams the artifact at path into the bucket under key and records
// its original file name and format as object metadata.
func (s *ArtifactStore) Archive(_ context.Context, key, path string) error {
	// #nosec G304 -- path is an artifact produced inside the outputs directory
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open artifact '%s': %w", path, err)
	}
	defer file.Close()

	base := filepath.Base(path)

	_, err = s.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "music artifact " + base,
		Metadata: map[string]string{
			MetaSourceName: base,
			MetaFormat:     filepath.Ext(base),
		},
	}, file)
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, s.bucket, err)
	}

	return nil
}

// Metadata returns the metadata recorded for key.
func (s *ArtifactStore) Metadata(key string) (map[string]string, error) {
	info, err := s.store.GetInfo(key)
	if err != nil {
		return nil, fmt.Errorf("failed to get info for object '%s': %w", key, err)
	}

	return info.Metadata, nil
}
