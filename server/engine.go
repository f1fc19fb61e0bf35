package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Engine orchestrates the blob lifecycle against the metadata, content
// and profile stores. Every operation resolves the owning profile and
// evaluates permission before touching blob state. Engine instances
// hold only injected handles; there is no ambient shared state.
type Engine struct {
	logger    *slog.Logger
	metadata  MetadataStore
	content   ContentStore
	profiles  ProfileStore
	cache     ProfileCache
	perms     Permissions
	baseURL   string
	pageLimit int
}

// NewEngine wires an engine from its collaborators. pageLimit caps the
// query page size; baseURL is the prefix for constructed resource URLs.
func NewEngine(logger *slog.Logger, metadata MetadataStore, content ContentStore, profiles ProfileStore, cache ProfileCache, perms Permissions, baseURL string, pageLimit int) *Engine {
	if cache == nil {
		cache = &NoOpCache{}
	}
	if pageLimit <= 0 {
		pageLimit = 100
	}
	return &Engine{
		logger:    logger,
		metadata:  metadata,
		content:   content,
		profiles:  profiles,
		cache:     cache,
		perms:     perms,
		baseURL:   baseURL,
		pageLimit: pageLimit,
	}
}

// QueryParams are the validated filters of a blob query.
type QueryParams struct {
	ID               string
	CorrelationID    string
	Profiles         []string
	ContentType      string
	States           []BlobState
	CreationTime     []time.Time
	ModificationTime []time.Time
	ActiveOnly       bool
	Offset           int
	Limit            int
}

// QueryResult is one page of blob references. HasMore signals that
// another page exists starting at NextOffset.
type QueryResult struct {
	Results    []BlobRef
	NextOffset int
	HasMore    bool
}

// resolveProfile looks a profile up through the cache, falling back to
// the store and populating the cache on a miss.
func (e *Engine) resolveProfile(ctx context.Context, name string) (*Profile, error) {
	if profile, err := e.cache.Get(ctx, name); err == nil {
		return profile, nil
	}

	profile, err := e.profiles.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := e.cache.Set(ctx, profile); err != nil {
		e.logger.Warn("failed to cache profile", "profile", name, "error", err)
	}
	return profile, nil
}

// checkPermission resolves the owning profile of a blob and verifies
// the user may operate on it. Called after the existence check so the
// engine can tell "exists but forbidden" from "does not exist".
func (e *Engine) checkPermission(ctx context.Context, user User, profileName string) error {
	profile, err := e.resolveProfile(ctx, profileName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// The blob references a profile that no longer exists;
			// nobody but a superuser may touch it.
			if e.perms.IsSuperuser(user.Groups) {
				return nil
			}
			return fmt.Errorf("%w: profile %s is gone", ErrForbidden, profileName)
		}
		return err
	}
	if !e.perms.Has(user.Groups, profile.Groups) {
		return fmt.Errorf("%w: no permission on profile %s", ErrForbidden, profileName)
	}
	return nil
}

// permittedProfiles returns the names of every profile the user may
// read. A nil result with ok=true means unrestricted (superuser).
func (e *Engine) permittedProfiles(ctx context.Context, user User) ([]string, bool, error) {
	if e.perms.IsSuperuser(user.Groups) {
		return nil, true, nil
	}

	all, err := e.profiles.FindAll(ctx)
	if err != nil {
		return nil, false, err
	}
	var names []string
	for _, profile := range all {
		if e.perms.Has(user.Groups, profile.Groups) {
			names = append(names, profile.Name)
		}
	}
	return names, false, nil
}

// Query returns one page of blob references matching the filters,
// restricted to profiles the user may read. The permission restriction
// applies even when the caller passed an explicit profile filter, so a
// query can never widen access.
func (e *Engine) Query(ctx context.Context, user User, params QueryParams) (*QueryResult, error) {
	filter := BlobFilter{
		ID:               params.ID,
		CorrelationID:    params.CorrelationID,
		Profiles:         params.Profiles,
		ContentType:      params.ContentType,
		States:           params.States,
		CreationTime:     params.CreationTime,
		ModificationTime: params.ModificationTime,
	}
	if params.ActiveOnly && len(filter.States) == 0 {
		for _, state := range AllStates {
			if !state.Terminal() {
				filter.States = append(filter.States, state)
			}
		}
	}

	allowed, unrestricted, err := e.permittedProfiles(ctx, user)
	if err != nil {
		return nil, err
	}
	if !unrestricted {
		filter.Profiles = intersectProfiles(filter.Profiles, allowed)
		if len(filter.Profiles) == 0 {
			return &QueryResult{Results: []BlobRef{}}, nil
		}
	}

	limit := e.pageLimit
	if params.Limit > 0 && params.Limit < limit {
		limit = params.Limit
	}

	// Fetch one row beyond the page to learn whether more exist.
	rows, err := e.metadata.Find(ctx, filter, params.Offset, limit+1)
	if err != nil {
		return nil, err
	}

	result := &QueryResult{Results: []BlobRef{}}
	if len(rows) > limit {
		rows = rows[:limit]
		result.HasMore = true
		result.NextOffset = params.Offset + limit
	}
	for _, blob := range rows {
		result.Results = append(result.Results, BlobRef{
			ID:  blob.ID,
			URL: fmt.Sprintf("%s/blobs/%s", e.baseURL, blob.ID),
		})
	}

	return result, nil
}

// intersectProfiles restricts requested to allowed; with no explicit
// request the whole allowed set applies.
func intersectProfiles(requested, allowed []string) []string {
	if len(requested) == 0 {
		return allowed
	}
	var out []string
	for _, name := range requested {
		if containsString(allowed, name) {
			out = append(out, name)
		}
	}
	return out
}

// Read returns the metadata of one blob. The mongo row id never leaves
// the store layer, so the returned record is already sanitized.
func (e *Engine) Read(ctx context.Context, user User, id string) (*Blob, error) {
	blob, err := e.metadata.FindOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.checkPermission(ctx, user, blob.Profile); err != nil {
		return nil, err
	}
	return blob, nil
}

// ReadContent returns the blob's content type and a stream over its
// stored payload. The caller owns the stream and must close it.
func (e *Engine) ReadContent(ctx context.Context, user User, id string) (string, io.ReadCloser, int64, error) {
	blob, err := e.Read(ctx, user, id)
	if err != nil {
		return "", nil, 0, err
	}

	exists, err := e.content.Exists(ctx, id)
	if err != nil {
		return "", nil, 0, err
	}
	if !exists {
		return "", nil, 0, fmt.Errorf("%w: content for blob %s has been removed", ErrNotFound, id)
	}

	reader, size, err := e.content.OpenRead(ctx, id)
	if err != nil {
		return "", nil, 0, err
	}
	return blob.ContentType, reader, size, nil
}

// CreateRequest carries the inputs of a blob creation.
type CreateRequest struct {
	Profile       string
	ContentType   string
	CorrelationID string
	Cataloger     string
	Body          io.Reader
}

// Create allocates a blob id, writes the initial metadata row and
// streams the payload into the content store. A creation against an
// unknown profile fails with ErrBadRequest. When the upload stream
// fails mid-transfer the partial object is discarded and the metadata
// row is left in UPLOADING with no content, a detectable recoverable
// condition.
func (e *Engine) Create(ctx context.Context, user User, req CreateRequest) (string, error) {
	profile, err := e.resolveProfile(ctx, req.Profile)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("%w: profile %s does not exist", ErrBadRequest, req.Profile)
		}
		return "", err
	}
	if !e.perms.Has(user.Groups, profile.Groups) {
		return "", fmt.Errorf("%w: no permission on profile %s", ErrForbidden, req.Profile)
	}

	now := time.Now().UTC()
	blob := &Blob{
		ID:               uuid.NewString(),
		CorrelationID:    req.CorrelationID,
		Profile:          req.Profile,
		ContentType:      req.ContentType,
		Cataloger:        req.Cataloger,
		State:            StateUploading,
		CreationTime:     now,
		ModificationTime: now,
		ProcessingInfo: ProcessingInfo{
			FailedRecords: []string{},
			ImportResults: []ImportResult{},
		},
	}
	if err := e.metadata.Insert(ctx, blob); err != nil {
		return "", err
	}

	if err := e.content.Write(ctx, blob.ID, req.ContentType, req.Body); err != nil {
		if delErr := e.content.Delete(ctx, blob.ID); delErr != nil && !errors.Is(delErr, ErrNotFound) {
			e.logger.Error("failed to discard partial content", "id", blob.ID, "error", delErr)
		}
		return "", fmt.Errorf("upload of blob %s failed: %w", blob.ID, err)
	}

	e.logger.Info("blob created", "id", blob.ID, "profile", req.Profile, "contentType", req.ContentType)
	return blob.ID, nil
}

// Update applies one state-machine operation to a blob. Terminal blobs
// reject every op with ErrConflict: a completed lifecycle never
// reopens.
func (e *Engine) Update(ctx context.Context, user User, id string, op UpdateOp) error {
	blob, err := e.metadata.FindOne(ctx, id)
	if err != nil {
		return err
	}
	// The terminal guard comes first: a completed lifecycle rejects
	// every op regardless of who asks.
	if blob.State.Terminal() {
		return fmt.Errorf("%w: blob %s is already %s", ErrConflict, id, blob.State)
	}
	if err := e.checkPermission(ctx, user, blob.Profile); err != nil {
		return err
	}

	now := time.Now().UTC()
	switch v := op.(type) {
	case AbortOp:
		return e.metadata.Update(ctx, id, statePatch(StateAborted, now))

	case TransformationStartedOp:
		return e.metadata.Update(ctx, id, statePatch(StateTransformationInProgress, now))

	case TransformationFailedOp:
		patch := statePatch(StateTransformationFailed, now)
		patch.TransformationError = v.Error
		return e.metadata.Update(ctx, id, patch)

	case TransformationDoneOp:
		state := StateTransformed
		if len(v.FailedRecords) == v.NumberOfRecords {
			state = StateProcessed
		}
		patch := statePatch(state, now)
		patch.NumberOfRecords = &v.NumberOfRecords
		patch.FailedRecords = v.FailedRecords
		return e.metadata.Update(ctx, id, patch)

	case RecordProcessedOp:
		result := ImportResult{
			Status:    v.Status,
			Timestamp: now,
			Metadata:  v.Metadata,
		}
		state, err := e.metadata.AppendImportResult(ctx, id, result)
		if err != nil {
			return err
		}
		if state == StateProcessed {
			e.logger.Info("blob fully processed", "id", id)
		}
		return nil

	default:
		return fmt.Errorf("%w: unsupported op %s", ErrUnprocessable, op.Name())
	}
}

func statePatch(state BlobState, now time.Time) BlobPatch {
	return BlobPatch{State: &state, ModificationTime: now}
}

// Remove deletes a blob and its content. Content goes first, so a
// failed removal can never orphan a payload; content already gone is
// tolerated.
func (e *Engine) Remove(ctx context.Context, user User, id string) error {
	if _, err := e.metadata.FindOne(ctx, id); err != nil {
		return err
	}
	if !e.perms.HasAdmin(user) {
		return fmt.Errorf("%w: removing blob %s requires admin permission", ErrForbidden, id)
	}

	if err := e.content.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return e.metadata.Delete(ctx, id)
}

// RemoveContent deletes only the stored payload; the metadata row
// persists. A blob whose payload vanishes before transformation began
// can never progress, so UPLOADING and PENDING_TRANSFORMATION move to
// ABORTED here.
func (e *Engine) RemoveContent(ctx context.Context, user User, id string) error {
	blob, err := e.metadata.FindOne(ctx, id)
	if err != nil {
		return err
	}
	if !e.perms.HasAdmin(user) {
		return fmt.Errorf("%w: removing content of blob %s requires admin permission", ErrForbidden, id)
	}

	if err := e.content.Delete(ctx, id); err != nil {
		return err
	}

	if blob.State == StateUploading || blob.State == StatePendingTransformation {
		return e.metadata.Update(ctx, id, statePatch(StateAborted, time.Now().UTC()))
	}
	return nil
}
