package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// In-memory store fakes used across the engine and handler tests. The
// metadata fake mirrors the atomic append-and-recount contract with a
// mutex so concurrency-sensitive assertions hold.

type memMetadataStore struct {
	mu    sync.Mutex
	blobs map[string]*Blob
}

func newMemMetadataStore() *memMetadataStore {
	return &memMetadataStore{blobs: make(map[string]*Blob)}
}

func matchesFilter(blob *Blob, filter BlobFilter) bool {
	if filter.ID != "" && blob.ID != filter.ID {
		return false
	}
	if filter.CorrelationID != "" && blob.CorrelationID != filter.CorrelationID {
		return false
	}
	if len(filter.Profiles) > 0 && !containsString(filter.Profiles, blob.Profile) {
		return false
	}
	if filter.ContentType != "" && blob.ContentType != filter.ContentType {
		return false
	}
	if len(filter.States) > 0 {
		found := false
		for _, s := range filter.States {
			if blob.State == s {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	if !matchesTime(blob.CreationTime, filter.CreationTime) {
		return false
	}
	if !matchesTime(blob.ModificationTime, filter.ModificationTime) {
		return false
	}
	return true
}

func matchesTime(t time.Time, window []time.Time) bool {
	switch len(window) {
	case 1:
		return t.Equal(window[0])
	case 2:
		return !t.Before(window[0]) && !t.After(window[1])
	default:
		return true
	}
}

func (s *memMetadataStore) Find(ctx context.Context, filter BlobFilter, offset, limit int) ([]Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []Blob
	for _, blob := range s.blobs {
		if matchesFilter(blob, filter) {
			matched = append(matched, *blob)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreationTime.Equal(matched[j].CreationTime) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreationTime.Before(matched[j].CreationTime)
	})

	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *memMetadataStore) FindOne(ctx context.Context, id string) (*Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.blobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: blob %s", ErrNotFound, id)
	}
	copied := *blob
	return &copied, nil
}

func (s *memMetadataStore) Insert(ctx context.Context, blob *Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *blob
	s.blobs[blob.ID] = &copied
	return nil
}

func (s *memMetadataStore) Update(ctx context.Context, id string, patch BlobPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.blobs[id]
	if !ok {
		return fmt.Errorf("%w: blob %s", ErrNotFound, id)
	}
	blob.ModificationTime = patch.ModificationTime
	if patch.State != nil {
		blob.State = *patch.State
	}
	if patch.TransformationError != nil {
		blob.ProcessingInfo.TransformationError = patch.TransformationError
	}
	if patch.NumberOfRecords != nil {
		blob.ProcessingInfo.NumberOfRecords = *patch.NumberOfRecords
	}
	if patch.FailedRecords != nil {
		blob.ProcessingInfo.FailedRecords = patch.FailedRecords
	}
	return nil
}

func (s *memMetadataStore) AppendImportResult(ctx context.Context, id string, result ImportResult) (BlobState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.blobs[id]
	if !ok {
		return "", fmt.Errorf("%w: blob %s", ErrNotFound, id)
	}

	blob.ProcessingInfo.ImportResults = append(blob.ProcessingInfo.ImportResults, result)
	blob.ModificationTime = result.Timestamp

	done := len(blob.ProcessingInfo.ImportResults) + len(blob.ProcessingInfo.FailedRecords)
	if blob.ProcessingInfo.NumberOfRecords > 0 && done >= blob.ProcessingInfo.NumberOfRecords {
		blob.State = StateProcessed
	} else {
		blob.State = StateTransformed
	}
	return blob.State, nil
}

func (s *memMetadataStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[id]; !ok {
		return fmt.Errorf("%w: blob %s", ErrNotFound, id)
	}
	delete(s.blobs, id)
	return nil
}

func (s *memMetadataStore) CountByProfile(ctx context.Context, profile string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, blob := range s.blobs {
		if blob.Profile == profile {
			count++
		}
	}
	return count, nil
}

type memContentStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemContentStore() *memContentStore {
	return &memContentStore{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (s *memContentStore) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[id]
	return ok, nil
}

func (s *memContentStore) Write(ctx context.Context, id, contentType string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return storeErr("upload content", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[id] = data
	s.types[id] = contentType
	return nil
}

func (s *memContentStore) OpenRead(ctx context.Context, id string) (io.ReadCloser, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[id]
	if !ok {
		return nil, 0, fmt.Errorf("%w: content %s", ErrNotFound, id)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (s *memContentStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[id]; !ok {
		return fmt.Errorf("%w: content %s", ErrNotFound, id)
	}
	delete(s.objects, id)
	delete(s.types, id)
	return nil
}

type memProfileStore struct {
	mu       sync.Mutex
	profiles map[string]Profile
}

func newMemProfileStore(seed ...Profile) *memProfileStore {
	s := &memProfileStore{profiles: make(map[string]Profile)}
	for _, p := range seed {
		s.profiles[p.Name] = p
	}
	return s
}

func (s *memProfileStore) FindByName(ctx context.Context, name string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: profile %s", ErrNotFound, name)
	}
	return &profile, nil
}

func (s *memProfileStore) Upsert(ctx context.Context, profile *Profile) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.profiles[profile.Name]
	s.profiles[profile.Name] = *profile
	return !existed, nil
}

func (s *memProfileStore) FindAll(ctx context.Context) ([]Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []Profile
	for _, profile := range s.profiles {
		all = append(all, profile)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all, nil
}

func (s *memProfileStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[name]; !ok {
		return fmt.Errorf("%w: profile %s", ErrNotFound, name)
	}
	delete(s.profiles, name)
	return nil
}

// errReader fails after yielding a prefix, simulating a client
// disconnect mid-upload.
type errReader struct {
	data []byte
	read bool
}

func (r *errReader) Read(p []byte) (int, error) {
	if !r.read {
		r.read = true
		n := copy(p, r.data)
		return n, nil
	}
	return 0, fmt.Errorf("connection reset")
}
