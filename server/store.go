package server

import (
	"context"
	"io"
	"time"
)

// BlobFilter selects blob metadata rows. Zero-valued fields are not
// applied. Time filters hold one element for an exact match or two for
// an inclusive range.
type BlobFilter struct {
	ID               string
	CorrelationID    string
	Profiles         []string
	ContentType      string
	States           []BlobState
	CreationTime     []time.Time
	ModificationTime []time.Time
}

// BlobPatch is a field-level update applied atomically to one blob.
// Nil pointers leave the field untouched. ModificationTime is always
// set by the engine on every patch.
type BlobPatch struct {
	State               *BlobState
	TransformationError interface{}
	NumberOfRecords     *int
	FailedRecords       []string
	ModificationTime    time.Time
}

// MetadataStore is the persistent collection of blob metadata.
type MetadataStore interface {
	// Find returns up to limit rows matching the filter, ordered by
	// creation time, starting at offset.
	Find(ctx context.Context, filter BlobFilter, offset, limit int) ([]Blob, error)

	// FindOne looks up a blob by id. Fails with ErrNotFound when absent.
	FindOne(ctx context.Context, id string) (*Blob, error)

	// Insert stores a new metadata row.
	Insert(ctx context.Context, blob *Blob) error

	// Update applies a field-level patch. Fails with ErrNotFound when
	// no row matches id.
	Update(ctx context.Context, id string, patch BlobPatch) error

	// AppendImportResult atomically appends one import result, bumps
	// the modification time, and recomputes the state: PROCESSED once
	// importResults plus failedRecords reach numberOfRecords, else
	// TRANSFORMED. The append and the recount must be a single store
	// operation so that concurrent record completions cannot race the
	// PROCESSED threshold. Returns the state after the append.
	AppendImportResult(ctx context.Context, id string, result ImportResult) (BlobState, error)

	// Delete removes the metadata row. Fails with ErrNotFound when absent.
	Delete(ctx context.Context, id string) error

	// CountByProfile reports how many blobs reference a profile.
	CountByProfile(ctx context.Context, profile string) (int64, error)
}

// ProfileStore maps profile names to their permitted groups.
type ProfileStore interface {
	// FindByName fails with ErrNotFound when the profile does not exist.
	FindByName(ctx context.Context, name string) (*Profile, error)

	// Upsert creates or replaces a profile. Returns true when the
	// profile was newly created.
	Upsert(ctx context.Context, profile *Profile) (bool, error)

	FindAll(ctx context.Context) ([]Profile, error)

	// Delete fails with ErrNotFound when the profile does not exist.
	Delete(ctx context.Context, name string) error
}

// ContentStore is content-addressed binary storage keyed by blob id.
type ContentStore interface {
	Exists(ctx context.Context, id string) (bool, error)

	// Write streams r into the object for id. Implementations must
	// relay chunks as they arrive, not buffer the whole payload, and
	// must fail rather than keep a partial object when r errors.
	Write(ctx context.Context, id, contentType string, r io.Reader) error

	// OpenRead returns a stream over the stored object and its size.
	// Fails with ErrNotFound when the object is absent.
	OpenRead(ctx context.Context, id string) (io.ReadCloser, int64, error)

	// Delete fails with ErrNotFound when the object is absent.
	Delete(ctx context.Context, id string) error
}
