package domain

import "time"

// MintIntentState tracks the saga between an irreversible ledger mint and the
// local ticket record.
type MintIntentState string

const (
	// MintIntentPending: recorded before the mint call is submitted.
	MintIntentPending MintIntentState = "PENDING"
	// MintIntentRecorded: mint confirmed and local ticket persisted.
	MintIntentRecorded MintIntentState = "RECORDED"
	// MintIntentReconcile: the mint may have confirmed but no local record
	// exists - the outcome is unknown or local persistence failed. Picked up
	// by the reconciliation worker; never treated as a plain failure.
	MintIntentReconcile MintIntentState = "RECONCILE"
	// MintIntentClosed: resolved without a local ticket (mint never landed,
	// or the token was reclaimed to the custodian).
	MintIntentClosed MintIntentState = "CLOSED"
)

// MintIntent is written before every mint submission so that a confirmed
// external write can always be matched back to the purchase that caused it.
type MintIntent struct {
	ID        string
	UserID    string
	EventID   string
	TokenID   *int64  // nil until the confirmed token id is known
	TxRef     *string // nil until submission
	State     MintIntentState
	Reason    *string
	Attempts  int
	CreatedAt time.Time
	UpdatedAt time.Time
}
