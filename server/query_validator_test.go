package server

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/uuid"
)

var (
	validatorPerms = Permissions{SuperuserGroup: "import-admin"}
	validatorUser  = User{ID: "alice", Groups: []string{"p1", "p2"}}
)

func validate(params url.Values) []string {
	return ValidateQueryParams(params, validatorUser, validatorPerms)
}

func TestValidateUUIDParams(t *testing.T) {
	for _, param := range []string{"id", "correlationId"} {
		assert.Empty(t, validate(url.Values{param: {uuid.NewString()}}))
		assert.Equal(t, []string{param}, validate(url.Values{param: {"not-a-uuid"}}))
		assert.Equal(t, []string{param}, validate(url.Values{param: {""}}))

		// Version matters: a v1-style UUID parses but is not v4.
		v1 := "c232ab00-9414-11ec-b3c8-9f68deced846"
		assert.Equal(t, []string{param}, validate(url.Values{param: {v1}}))

		// Non-canonical spellings parse but are not accepted.
		v4 := uuid.NewString()
		assert.Equal(t, []string{param}, validate(url.Values{param: {"urn:uuid:" + v4}}))
		assert.Equal(t, []string{param}, validate(url.Values{param: {"{" + v4 + "}"}}))
		assert.Equal(t, []string{param}, validate(url.Values{param: {strings.ReplaceAll(v4, "-", "")}}))
	}
}

func TestValidateProfileParam(t *testing.T) {
	assert.Empty(t, validate(url.Values{"profile": {"p1"}}))
	assert.Empty(t, validate(url.Values{"profile": {"p1,p2"}}))

	// Character class violation.
	assert.Equal(t, []string{"profile"}, validate(url.Values{"profile": {"p1;drop"}}))

	// Membership pre-filter: a profile outside the user's groups fails.
	assert.Equal(t, []string{"profile"}, validate(url.Values{"profile": {"p3"}}))
	assert.Equal(t, []string{"profile"}, validate(url.Values{"profile": {"p1,p3"}}))

	// Superusers skip the membership pre-filter.
	failed := ValidateQueryParams(url.Values{"profile": {"p3"}}, User{Groups: []string{"import-admin"}}, validatorPerms)
	assert.Empty(t, failed)
}

func TestValidateContentTypeParam(t *testing.T) {
	assert.Empty(t, validate(url.Values{"contentType": {"application/xml"}}))
	assert.Empty(t, validate(url.Values{"contentType": {"application/vnd.marc+json"}}))
	assert.Equal(t, []string{"contentType"}, validate(url.Values{"contentType": {"no-slash"}}))
	assert.Equal(t, []string{"contentType"}, validate(url.Values{"contentType": {"bad type/xml"}}))

	long := make([]byte, maxContentTypeLength+1)
	for i := range long {
		long[i] = 'a'
	}
	assert.Equal(t, []string{"contentType"}, validate(url.Values{"contentType": {string(long) + "/xml"}}))
}

func TestValidateStateParam(t *testing.T) {
	assert.Empty(t, validate(url.Values{"state": {"ABORTED"}}))
	assert.Empty(t, validate(url.Values{"state": {"UPLOADING,PROCESSED"}}))
	assert.Equal(t, []string{"state"}, validate(url.Values{"state": {"NOT_A_STATE"}}))
	assert.Equal(t, []string{"state"}, validate(url.Values{"state": {"UPLOADING,NOT_A_STATE"}}))
	assert.Equal(t, []string{"state"}, validate(url.Values{"state": {""}}))
}

func TestValidateTimeParams(t *testing.T) {
	for _, param := range []string{"creationTime", "modificationTime"} {
		assert.Empty(t, validate(url.Values{param: {"2026-03-01T12:00:00Z"}}))
		assert.Empty(t, validate(url.Values{param: {"2026-03-01T12:00:00+02:00"}}))
		assert.Empty(t, validate(url.Values{param: {"2026-03-01"}}))
		assert.Empty(t, validate(url.Values{param: {"2026-03-01,2026-03-02"}}))

		assert.Equal(t, []string{param}, validate(url.Values{param: {"2026-03-01,2026-03-02,2026-03-03"}}))
		assert.Equal(t, []string{param}, validate(url.Values{param: {"yesterday"}}))
		assert.Equal(t, []string{param}, validate(url.Values{param: {"2026-13-01"}}))
	}
}

func TestValidatePaginationParams(t *testing.T) {
	for _, param := range []string{"skip", "limit", "offset"} {
		assert.Empty(t, validate(url.Values{param: {"0"}}))
		assert.Empty(t, validate(url.Values{param: {"1234567890"}}))
		assert.Equal(t, []string{param}, validate(url.Values{param: {"12345678901"}}))
		assert.Equal(t, []string{param}, validate(url.Values{param: {"-1"}}))
		assert.Equal(t, []string{param}, validate(url.Values{param: {"ten"}}))
	}
}

func TestValidateGetAllParam(t *testing.T) {
	assert.Empty(t, validate(url.Values{"getAll": {"0"}}))
	assert.Empty(t, validate(url.Values{"getAll": {"1"}}))
	assert.Equal(t, []string{"getAll"}, validate(url.Values{"getAll": {"2"}}))
	assert.Equal(t, []string{"getAll"}, validate(url.Values{"getAll": {"true"}}))
}

func TestValidateUnknownParam(t *testing.T) {
	assert.Equal(t, []string{"bogus"}, validate(url.Values{"bogus": {"x"}}))
}

func TestValidateCollectsAllFailures(t *testing.T) {
	failed := validate(url.Values{
		"id":      {"nope"},
		"state":   {"NOPE"},
		"getAll":  {"maybe"},
		"profile": {"p1"},
	})
	assert.ElementsMatch(t, []string{"id", "state", "getAll"}, failed)
}

func TestParseQueryParams(t *testing.T) {
	params := url.Values{
		"profile":      {"p1,p2"},
		"state":        {"UPLOADING,ABORTED"},
		"creationTime": {"2026-03-01,2026-03-02"},
		"offset":       {"40"},
		"limit":        {"20"},
		"getAll":       {"0"},
	}
	require.Empty(t, validate(params))

	q := ParseQueryParams(params)
	assert.Equal(t, []string{"p1", "p2"}, q.Profiles)
	assert.Equal(t, []BlobState{StateUploading, StateAborted}, q.States)
	assert.Len(t, q.CreationTime, 2)
	assert.Equal(t, 40, q.Offset)
	assert.Equal(t, 20, q.Limit)
	assert.True(t, q.ActiveOnly)
}
