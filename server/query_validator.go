package server

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	profilePattern     = regexp.MustCompile(`^[A-Za-z0-9\-. ,/]+$`)
	contentTypePattern = regexp.MustCompile(`^[0-9A-Za-z!#$&^_.+-]+/[0-9A-Za-z!#$&^_.+-]+$`)
	numeralPattern     = regexp.MustCompile(`^[0-9]{1,10}$`)
)

const maxContentTypeLength = 100

// ValidateQueryParams checks every raw query parameter against its
// rule and returns the names of the ones that failed. All rules run;
// nothing short-circuits, so the caller gets the full failure set. An
// empty result means the query is safe to hand to the store layer.
//
// Parameter names outside the allow list are reported as failures.
func ValidateQueryParams(params url.Values, user User, perms Permissions) []string {
	var failed []string

	for name, values := range params {
		value := strings.Join(values, ",")
		switch name {
		case "id", "correlationId":
			if !validUUIDv4(value) {
				failed = append(failed, name)
			}
		case "profile":
			if !validProfileFilter(value, user, perms) {
				failed = append(failed, name)
			}
		case "contentType":
			if len(value) > maxContentTypeLength || !contentTypePattern.MatchString(value) {
				failed = append(failed, name)
			}
		case "state":
			if !validStateList(value) {
				failed = append(failed, name)
			}
		case "creationTime", "modificationTime":
			if !validTimeRange(value) {
				failed = append(failed, name)
			}
		case "skip", "limit", "offset":
			if !numeralPattern.MatchString(value) {
				failed = append(failed, name)
			}
		case "getAll":
			if value != "0" && value != "1" {
				failed = append(failed, name)
			}
		default:
			failed = append(failed, name)
		}
	}

	return failed
}

// validUUIDv4 accepts only the canonical 36-char hyphenated form;
// uuid.Parse alone also tolerates braces, urn prefixes and bare hex.
func validUUIDv4(s string) bool {
	if len(s) != 36 {
		return false
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return u.Version() == 4
}

// validProfileFilter checks the character class, then pre-filters by
// group membership: a non-superuser may only name profiles matching
// their own groups. This is membership screening, not the full
// permission decision the engine makes per blob.
func validProfileFilter(value string, user User, perms Permissions) bool {
	if !profilePattern.MatchString(value) {
		return false
	}
	if perms.IsSuperuser(user.Groups) {
		return true
	}
	for _, name := range strings.Split(value, ",") {
		if !containsString(user.Groups, name) {
			return false
		}
	}
	return true
}

func validStateList(value string) bool {
	if value == "" {
		return false
	}
	for _, token := range strings.Split(value, ",") {
		if !ValidState(BlobState(token)) {
			return false
		}
	}
	return true
}

// validTimeRange accepts one or two comma-separated timestamps, each
// in Z-suffixed or offset ISO-8601 form, or as a bare calendar date.
func validTimeRange(value string) bool {
	parts := strings.Split(value, ",")
	if len(parts) > 2 {
		return false
	}
	for _, part := range parts {
		if _, err := parseTimestamp(part); err != nil {
			return false
		}
	}
	return true
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func containsString(set []string, s string) bool {
	for _, member := range set {
		if member == s {
			return true
		}
	}
	return false
}

// ParseQueryParams turns already-validated query parameters into the
// engine's query shape. It must only be called on parameters that
// passed ValidateQueryParams.
func ParseQueryParams(params url.Values) QueryParams {
	q := QueryParams{ActiveOnly: params.Get("getAll") == "0"}

	if v := params.Get("correlationId"); v != "" {
		q.CorrelationID = v
	}
	if v := params.Get("id"); v != "" {
		q.ID = v
	}
	if v := params.Get("profile"); v != "" {
		q.Profiles = strings.Split(v, ",")
	}
	if v := params.Get("contentType"); v != "" {
		q.ContentType = v
	}
	if v := params.Get("state"); v != "" {
		for _, token := range strings.Split(v, ",") {
			q.States = append(q.States, BlobState(token))
		}
	}
	q.CreationTime = parseTimeList(params.Get("creationTime"))
	q.ModificationTime = parseTimeList(params.Get("modificationTime"))
	if v := params.Get("offset"); v != "" {
		q.Offset, _ = strconv.Atoi(v)
	} else if v := params.Get("skip"); v != "" {
		q.Offset, _ = strconv.Atoi(v)
	}
	if v := params.Get("limit"); v != "" {
		q.Limit, _ = strconv.Atoi(v)
	}

	return q
}

func parseTimeList(value string) []time.Time {
	if value == "" {
		return nil
	}
	var times []time.Time
	for _, part := range strings.Split(value, ",") {
		t, err := parseTimestamp(part)
		if err != nil {
			return nil
		}
		times = append(times, t)
	}
	return times
}
