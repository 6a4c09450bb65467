package recon

import "time"

// Row compares one GL account's cached balance against the float balances
// mapped to it. Variance = GLBalance - FloatBalance.
type Row struct {
	GLAccountID   int64
	GLAccountCode string
	GLBalance     float64
	FloatBalance  float64
	Variance      float64
}

// Report is the outcome of one reconciliation run. The snapshot may be
// transiently inconsistent with in-flight postings; it is reported as of a
// timestamp, never auto-corrected.
type Report struct {
	SnapshotID int64
	AsOf       time.Time
	Rows       []Row
}

// MappedAccount is a GL account together with the float accounts mapped to
// it.
type MappedAccount struct {
	AccountID       int64
	Code            string
	Balance         float64
	FloatAccountIDs []int64
}
