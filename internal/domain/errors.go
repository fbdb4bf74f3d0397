package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrAlreadySettled = errors.New("position already settled")
	ErrLockHeld       = errors.New("lock already held")
	ErrNotSettled     = errors.New("market not settled")
)

// RejectionKind separates the normal decision outcomes from real faults in
// the audit trail.
type RejectionKind string

const (
	KindFilterReject RejectionKind = "filter-reject"
	KindRiskReject   RejectionKind = "risk-reject"
	KindInputError   RejectionKind = "input-error"
	KindAdmitted     RejectionKind = "admitted"
)

// FilterRejection is a named edge-filter failure. It is a normal decision
// outcome, not an error; the reason is recorded for observability and is
// never silently dropped.
type FilterRejection struct {
	Filter string // e.g. "spread-cap", "edge-too-small"
	Detail string
}

func (r *FilterRejection) Error() string {
	if r.Detail == "" {
		return "filter rejected: " + r.Filter
	}
	return "filter rejected: " + r.Filter + " (" + r.Detail + ")"
}

// RiskRejection is a named admission-check failure from the risk manager.
type RiskRejection struct {
	Reason string // e.g. "circuit-breaker-tripped", "duplicate-location-date"
	Detail string
}

func (r *RiskRejection) Error() string {
	if r.Detail == "" {
		return "risk rejected: " + r.Reason
	}
	return "risk rejected: " + r.Reason + " (" + r.Detail + ")"
}

// AsFilterRejection unwraps err into a FilterRejection if it is one.
func AsFilterRejection(err error) (*FilterRejection, bool) {
	var fr *FilterRejection
	if errors.As(err, &fr) {
		return fr, true
	}
	return nil, false
}

// AsRiskRejection unwraps err into a RiskRejection if it is one.
func AsRiskRejection(err error) (*RiskRejection, bool) {
	var rr *RiskRejection
	if errors.As(err, &rr) {
		return rr, true
	}
	return nil, false
}
