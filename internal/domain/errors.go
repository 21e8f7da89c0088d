package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind is the closed set of remote-error classifications. Infrastructure
// clients translate HTTP status codes and remote error wording into a Kind
// exactly once, at the boundary; everything above dispatches on the Kind and
// never inspects message text.
type Kind int

const (
	KindUnknown Kind = iota
	KindRateLimited
	KindUnknownAlias
	KindRefExists
	KindUnauthorized
	KindNotFound
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindUnknownAlias:
		return "unknown_alias"
	case KindRefExists:
		return "ref_exists"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// RemoteError carries a classified failure from a remote API call.
type RemoteError struct {
	Kind       Kind
	Status     int
	RetryAfter time.Duration
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("remote error (%s, http %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("remote error (%s): %s", e.Kind, e.Message)
}

// KindOf extracts the classification from an error chain. Anything that is
// not a RemoteError is KindUnknown.
func KindOf(err error) Kind {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}

// RetryAfterOf returns a server-supplied retry delay, if the error carries one.
func RetryAfterOf(err error) time.Duration {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.RetryAfter
	}
	return 0
}

var (
	ErrTimeout     = errors.New("deployment did not complete within expected time")
	ErrPatchFailed = errors.New("failed to apply patch")
)

// FailureClass selects the recovery strategy for a failed deployment.
type FailureClass int

const (
	// FailureOther recovers from the latest completed deployment's change-set.
	FailureOther FailureClass = iota
	// FailureVersionConflict recovers from the failed deployment's own change-set.
	FailureVersionConflict
	// FailureUnrecoverableRestore short-circuits recovery: a dependency
	// restore failure is a credential or feed problem a patch cannot fix.
	FailureUnrecoverableRestore
)

func (c FailureClass) String() string {
	switch c {
	case FailureVersionConflict:
		return "version_conflict"
	case FailureUnrecoverableRestore:
		return "unrecoverable_restore"
	default:
		return "other"
	}
}

// Remote wording the deployment service uses in failure detail. Kept in one
// place so a change to the service's phrasing is a one-line fix here.
var (
	restoreFailureMarkers = []string{
		"error NU1301",
		"unable to load the service index",
		"failed to restore the project dependencies",
	}
	versionConflictMarkers = []string{
		"error NU1605",
		"version conflict detected",
		"conflicting versions of the package",
	}
)

// ClassifyFailure scans failure detail text for known signatures.
// Classification is case-insensitive; restore failures win over conflicts
// because they make any patch attempt pointless.
func ClassifyFailure(detail string) FailureClass {
	lower := strings.ToLower(detail)
	for _, m := range restoreFailureMarkers {
		if strings.Contains(lower, strings.ToLower(m)) {
			return FailureUnrecoverableRestore
		}
	}
	for _, m := range versionConflictMarkers {
		if strings.Contains(lower, strings.ToLower(m)) {
			return FailureVersionConflict
		}
	}
	return FailureOther
}
