package wallet

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut07"
	"github.com/silentius-satoshi/ZapTok-sub006/wallet/storage"
)

// RecoveryResult reports what a recovery sweep did.
type RecoveryResult struct {
	// quote ids whose outcome was settled (claimed, committed or
	// rolled back)
	Settled []string

	// quote ids still without a terminal outcome. they stay pending
	// and a later sweep will pick them up again.
	StillPending []string
}

// RecoverPending settles transactions interrupted by a crash or
// network failure. Incoming quotes are re-driven through the claim
// path, outgoing melts are settled from the mint's quote state, and
// reserved proofs orphaned by a failed swap are reconciled against
// the mint's view of which ones were actually spent.
//
// The sweep is idempotent, running it twice settles nothing twice.
func (w *Wallet) RecoverPending(ctx context.Context) (*RecoveryResult, error) {
	result := &RecoveryResult{}

	w.mu.Lock()
	pendingTxs := w.db.GetPendingTransactions()
	w.mu.Unlock()

	pendingIds := make(map[string]bool)
	for _, pendingTx := range pendingTxs {
		pendingIds[pendingTx.Id] = true

		var err error
		switch pendingTx.Direction {
		case storage.In:
			_, err = w.CheckAndClaim(ctx, pendingTx.QuoteId)
		case storage.Out:
			_, err = w.MeltQuoteState(ctx, pendingTx.QuoteId)
		}

		switch {
		case err == nil, errors.Is(err, ErrQuoteExpired), errors.Is(err, ErrMeltFailed):
			result.Settled = append(result.Settled, pendingTx.QuoteId)
		case errors.Is(err, ErrQuoteNotPaid):
			result.StillPending = append(result.StillPending, pendingTx.QuoteId)
		default:
			w.logger.Warn("could not settle pending transaction",
				zap.String("quote", pendingTx.QuoteId), zap.Error(err))
			result.StillPending = append(result.StillPending, pendingTx.QuoteId)
		}
	}

	// reserved proofs without a pending record come from an
	// interrupted swap. ask the mint which of them were spent.
	w.mu.Lock()
	reserved := w.db.GetAllReservedProofs()
	w.mu.Unlock()

	for id, proofs := range reserved {
		if pendingIds[id] || len(proofs) == 0 {
			continue
		}

		w.mu.Lock()
		mintURL, ok := w.mintURLForKeyset(proofs[0].Id)
		w.mu.Unlock()
		if !ok {
			w.logger.Warn("reserved proofs reference unknown keyset",
				zap.String("reservation", id), zap.String("keyset", proofs[0].Id))
			result.StillPending = append(result.StillPending, id)
			continue
		}

		proofStates, err := w.checkProofStates(ctx, mintURL, proofs)
		if err != nil {
			result.StillPending = append(result.StillPending, id)
			continue
		}

		w.mu.Lock()
		anySpent := false
		for i, state := range proofStates {
			if state.State == nut07.Spent {
				anySpent = true
			} else {
				if err := w.db.SaveProofs(proofs[i : i+1]); err != nil {
					w.mu.Unlock()
					return result, err
				}
			}
		}
		if err := w.db.DeleteReservedProofs(id); err != nil {
			w.mu.Unlock()
			return result, err
		}
		w.mu.Unlock()

		if anySpent {
			w.logger.Info("dropped spent proofs from interrupted operation",
				zap.String("reservation", id))
		}
		result.Settled = append(result.Settled, id)
	}

	return result, nil
}

// PendingTransactions lists the in-flight transactions recorded in
// the wallet.
func (w *Wallet) PendingTransactions() []storage.PendingTransaction {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.db.GetPendingTransactions()
}

// expiredPendingCutoff is how long an expired incoming quote is kept
// before a sweep drops it.
const expiredPendingCutoff = 24 * time.Hour

// DropExpiredPending removes pending incoming transactions whose
// quotes expired long enough ago that they can no longer be paid.
func (w *Wallet) DropExpiredPending() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := uint64(time.Now().Add(-expiredPendingCutoff).Unix())
	dropped := 0
	for _, pendingTx := range w.db.GetPendingTransactions() {
		if pendingTx.Direction != storage.In {
			continue
		}
		if pendingTx.QuoteExpiry > 0 && pendingTx.QuoteExpiry < now && len(pendingTx.ClaimData) == 0 {
			if err := w.db.DeletePendingTransaction(pendingTx.Id); err != nil {
				return dropped, err
			}
			dropped++
		}
	}
	return dropped, nil
}
