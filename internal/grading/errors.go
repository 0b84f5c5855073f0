package grading

import "errors"

// Sentinel errors surfaced by the grading service. Callers match them with
// errors.Is; none of them is retried or recovered internally.
var (
	// ErrReleaseNotFound means the supplied release id did not resolve to a
	// release with a usable test id. A release-scoped id is authoritative,
	// so this never falls back to the sheet-embedded id.
	ErrReleaseNotFound = errors.New("release not found")

	// ErrTestIDNotFound means neither a release nor the sheet itself yielded
	// a non-empty test id. Grading cannot proceed.
	ErrTestIDNotFound = errors.New("test ID not found")

	// ErrTestNotFound means the resolved test id matches no stored test.
	ErrTestNotFound = errors.New("test not found")

	// ErrResultNotFound means the result id matches no stored result.
	ErrResultNotFound = errors.New("result not found")

	// ErrOptionNotFound means the correction's new option does not belong to
	// the named question.
	ErrOptionNotFound = errors.New("option not found for question")

	// ErrReasonRequired means a correction was submitted without a reason.
	ErrReasonRequired = errors.New("correction reason is required")
)
