package report

import "errors"

var (
	ErrReportNotFound = errors.New("health report not found")
	// ErrDuplicateActiveReport is returned by the store when an insert
	// collides with the one-unresolved-report-per-phone constraint. The
	// pipeline converts it into a follow-up update.
	ErrDuplicateActiveReport = errors.New("an unresolved report already exists for this phone")
	ErrInvalidCategory       = errors.New("invalid triage category")
	ErrInvalidOutcome        = errors.New("invalid resolve outcome")
)
