// Package objstore is the narrow interface the core depends on for talking
// to an S3-compatible object store (section 4.4 of the design). A real
// implementation wraps the AWS SDK; tests use the in-memory FakeStore in
// this package.
package objstore

import (
	"context"
	"sync"

	"github.com/presslabs/z3/internal/zerr"
)

// KeyRef identifies an object without its metadata, as returned by List.
type KeyRef struct {
	Key string
}

// ObjectMeta is the result of a GetKey call: an object's name, size and
// user metadata.
type ObjectMeta struct {
	Name     string
	Size     int64
	Metadata map[string]string
}

// PartUploadResult is what UploadPart returns on success.
type PartUploadResult struct {
	MD5Hex string
}

// Handle is the opaque multi-part upload handle returned by Initiate. It
// terminates exactly once, via Complete or Cancel; the owning supervisor is
// the only writer, workers only hold a read-only reference to it.
type Handle struct {
	UploadID string
	KeyName  string

	mu   sync.Mutex
	done bool
}

// markComplete marks the handle terminated via Complete, returning
// zerr.AlreadyCompleted if it already was.
func (h *Handle) markComplete() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return zerr.AlreadyCompleted()
	}
	h.done = true
	return nil
}

// markCancelled marks the handle terminated via Cancel, returning
// zerr.AlreadyCancelled if it already was.
func (h *Handle) markCancelled() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return zerr.AlreadyCancelled()
	}
	h.done = true
	return nil
}

// Store is the object-store client adapter the core depends on.
type Store interface {
	// InitiateMultipart begins a multi-part upload. headers may include
	// x-amz-acl, x-amz-storage-class and x-amz-meta-* entries.
	InitiateMultipart(ctx context.Context, keyName string, headers map[string]string) (*Handle, error)

	// UploadPart idempotently replaces the part at index (1-based) with
	// chunk's contents.
	UploadPart(ctx context.Context, h *Handle, index int, chunk []byte) (PartUploadResult, error)

	// Complete commits the upload and returns the composite ETag. Fails
	// with zerr.AlreadyCompleted if called a second time.
	Complete(ctx context.Context, h *Handle) (string, error)

	// Cancel abandons the upload. Fails with zerr.AlreadyCancelled if
	// called a second time.
	Cancel(ctx context.Context, h *Handle) error

	// List returns every key under prefix.
	List(ctx context.Context, prefix string) ([]KeyRef, error)

	// GetKey fetches an object's size and metadata.
	GetKey(ctx context.Context, ref KeyRef) (ObjectMeta, error)
}
