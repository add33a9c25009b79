package filestore

import (
	"io"
	"time"
)

// ObjectInfo describes a single object stored in a bucket.
type ObjectInfo struct {
	// Key is the full object path within the bucket (e.g. "snapshots/shop.yaml").
	Key string `json:"key"`

	// Size is the byte size of the object. -1 if unknown.
	Size int64 `json:"size"`

	// ContentType is the MIME type (e.g. "application/yaml").
	ContentType string `json:"content_type,omitempty"`

	// ETag is the object's entity tag / hash, as returned by the backend.
	ETag string `json:"etag,omitempty"`

	// LastModified is when the object was last written.
	LastModified time.Time `json:"last_modified"`
}

// Object is a streaming handle to an object's content.
// The caller MUST call Close() after reading to avoid resource leaks.
type Object interface {
	io.ReadCloser

	// Info returns the metadata for this object.
	Info() *ObjectInfo
}
