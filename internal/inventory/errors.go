package inventory

import "errors"

var (
	// ErrSourceUnavailable means a site could not be polled this cycle, none of
	// its items should be considered observed.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrMalformedUpstreamItem means a single variant was missing required
	// fields and was excluded.
	ErrMalformedUpstreamItem = errors.New("malformed upstream item")
	ErrUnsupportedEventKind  = errors.New("unsupported event kind")
	// ErrStoreUnavailable means the previous snapshot could not be read or
	// written, the item must be skipped.
	ErrStoreUnavailable = errors.New("store unavailable")
)
