package wallet

import "errors"

var (
	ErrInvalidMintURL      = errors.New("invalid mint url")
	ErrMintNotKnown        = errors.New("mint not known to wallet")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrQuoteNotFound       = errors.New("quote not found")
	ErrQuoteNotPaid        = errors.New("quote not paid yet")
	ErrQuoteExpired        = errors.New("quote expired")
	ErrProofAlreadySpent   = errors.New("proof already spent")

	// ErrAmbiguousMeltState means the mint timed out during a melt without
	// stating success or failure. The proofs stay reserved and the pending
	// record stays on disk until RecoverPending observes a terminal state.
	// Never assume failure here: respending the same proofs elsewhere
	// double-spends if the mint actually completed the payment.
	ErrAmbiguousMeltState = errors.New("melt state unknown, check later")

	// ErrMeltFailed means the mint could not route the payment.
	// The submitted proofs were returned to the spendable set.
	ErrMeltFailed = errors.New("mint could not pay invoice")
)
