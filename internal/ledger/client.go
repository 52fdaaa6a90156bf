// Package ledger wraps the external token ledger. Every mutating call is
// blocking: it is not considered successful until the write is confirmed, and
// a timeout after submission is an unknown outcome, never a failure.
package ledger

import (
	"context"
	"errors"
	"math/big"
)

// Sentinel errors for ledger operations.
var (
	// ErrUnavailable: transient transport or node failure. Safe to retry;
	// retries must observe a fresh nonce.
	ErrUnavailable = errors.New("ledger unavailable")
	// ErrRejected: the ledger's program refused the call. Not retryable
	// without changing inputs.
	ErrRejected = errors.New("ledger rejected the call")
	// ErrOutcomeUnknown: the transaction was broadcast but confirmation was
	// not observed in time. The write may still land; callers must route to
	// reconciliation, never treat this as a definite failure.
	ErrOutcomeUnknown = errors.New("ledger outcome unknown")
	// ErrNotOwner: the supplied credential does not own the token.
	ErrNotOwner = errors.New("credential is not the current token owner")
	// ErrInsufficientFunds: the signing account cannot cover execution cost.
	// The caller is expected to top up and retry.
	ErrInsufficientFunds = errors.New("insufficient funds for execution cost")
	// ErrNotFound: the token identifier was never minted.
	ErrNotFound = errors.New("token not found on ledger")
	// ErrMintConfirmationAmbiguous: the mint transaction confirmed but no
	// matching issuance log was found in the receipt.
	ErrMintConfirmationAmbiguous = errors.New("confirmed mint has no matching issuance log")
)

// MintResult is the outcome of a confirmed mint.
type MintResult struct {
	TokenID int64
	TxRef   string
}

// TicketInfo is the on-chain view of a token. Label, EventTime and Price are
// immutable once minted; Used and Owner reflect live state.
type TicketInfo struct {
	Label     string
	EventTime int64
	Price     int64
	Used      bool
	Owner     string
}

// Client is the call surface the coordination core depends on. The production
// implementation is EVM (evm.go); tests substitute fakes.
type Client interface {
	// Mint issues a new token to recipient and blocks until the write is
	// confirmed. The token id is recovered from confirmed event logs, not
	// from the submission response.
	Mint(ctx context.Context, recipient, eventLabel string, eventTime, price int64) (MintResult, error)

	// TransferToCustodian moves a token from the credential's wallet back to
	// the platform custodian and blocks until confirmed.
	TransferToCustodian(ctx context.Context, credentialHex string, tokenID int64) (string, error)

	// TicketInfo reads a token's metadata and current owner. No side effect.
	TicketInfo(ctx context.Context, tokenID int64) (TicketInfo, error)

	// BalanceOf reads the native-unit balance of an address.
	BalanceOf(ctx context.Context, address string) (*big.Int, error)

	// TopUpGas sends the configured execution subsidy from the custodian to
	// address and blocks until confirmed.
	TopUpGas(ctx context.Context, address string) (string, error)

	// MintedTokenIDs lists token ids ever minted to address, recovered from
	// confirmed issuance logs. Reconciliation query.
	MintedTokenIDs(ctx context.Context, address string) ([]int64, error)

	// CustodianAddress is the platform's wallet on the ledger.
	CustodianAddress() string
}
