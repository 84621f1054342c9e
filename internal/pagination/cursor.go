// Package pagination implements the before-id cursor used to walk the
// archive backwards, newest first.
package pagination

import "strconv"

const (
	// DefaultLimit is the page size when the caller does not ask for one.
	DefaultLimit = 20
	// MaxLimit caps the page size.
	MaxLimit = 100
)

// NextCursor returns the before-id for the page following one that started
// at beforeID, and whether such a page can exist. Ids start at 1, so a
// cursor of 1 or less means the archive is exhausted.
func NextCursor(limit int, beforeID int64) (next int64, more bool) {
	next = beforeID - int64(limit)
	return next, next > 1
}

// ParseLimit reads a page size from a query value, clamping it to
// [1, MaxLimit] and falling back to DefaultLimit on empty or bad input.
func ParseLimit(raw string) int {
	if raw == "" {
		return DefaultLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return DefaultLimit
	}
	return min(n, MaxLimit)
}

// ParseBefore reads a before-id from a query value. ok is false when the
// value is absent or invalid, meaning "start from the newest unit".
func ParseBefore(raw string) (id int64, ok bool) {
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
