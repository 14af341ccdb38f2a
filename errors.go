package retrofitgki

import (
	"errors"
	"fmt"
)

// Sentinel causes carried inside a FormatError, matchable with errors.Is.
var (
	ErrInvalidMagic       = errors.New("invalid magic")
	ErrTruncatedHeader    = errors.New("truncated header")
	ErrTruncatedSegment   = errors.New("truncated segment")
	ErrUnsupportedVersion = errors.New("unsupported header version")
)

// FormatError reports a defect in an input image: bad magic, a truncated
// header or segment, or an unsupported header version. It is fatal and
// non-retriable.
type FormatError struct {
	File   string
	Offset int64
	Err    error
}

func (e *FormatError) Error() string {
	if e.Offset > 0 {
		return fmt.Sprintf("%s: offset %#x: %v", e.File, e.Offset, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// SpecViolation reports a retrofit rule broken by the combination of source
// images and requested destination version.
type SpecViolation struct {
	Rule string
}

func (e *SpecViolation) Error() string {
	return "spec violation: " + e.Rule
}

// CapacityError reports a segment whose combined source size exceeds what
// the destination layout can represent.
type CapacityError struct {
	Segment string
	Size    uint64
	Limit   uint64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s segment size %d exceeds limit %d", e.Segment, e.Size, e.Limit)
}
