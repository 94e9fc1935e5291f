package engine

import "errors"

// Error taxonomy for event processing. Duplicates and claim conflicts are
// recoverable sentinels the caller ignores; store and send failures
// propagate so the caller decides retry policy. An unmatched rule is not an
// error at all: it degrades to the fallback reply or silence.
var (
	ErrDuplicateEvent   = errors.New("event already processed")
	ErrSendFailed       = errors.New("outbound send failed")
	ErrClaimConflict    = errors.New("conversation claimed by another worker")
	ErrStoreUnavailable = errors.New("store unavailable")
)
