// Package objstore stores photo originals, renditions and face crops in
// S3-compatible object storage.
package objstore

import (
	"context"
	"fmt"
)

// Store is the object storage used by the ingestion pipeline. Keys are
// opaque; Keys builds the canonical layout for an event.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	PresignURL(ctx context.Context, key string, expirySeconds int64) (string, error)
}

// Keys builds object keys for an event's photo artifacts.
type Keys struct {
	EventID string
}

func (k Keys) Original(photoID string) string {
	return k.key("original", photoID+".jpg")
}

func (k Keys) Web(photoID string) string {
	return k.key("web", photoID+".jpg")
}

func (k Keys) Thumb(photoID string) string {
	return k.key("thumb", photoID+".jpg")
}

func (k Keys) FaceCrop(photoID string, faceIndex int) string {
	return k.key("crops", fmt.Sprintf("%s-%d.jpg", photoID, faceIndex))
}

func (k Keys) key(kind, name string) string {
	return fmt.Sprintf("events/%s/%s/%s", k.EventID, kind, name)
}
