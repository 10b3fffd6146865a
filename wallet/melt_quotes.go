package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	decodepay "github.com/nbd-wtf/ln-decodepay"
	"go.uber.org/zap"

	"github.com/silentius-satoshi/ZapTok-sub006/cashu"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut05"
	"github.com/silentius-satoshi/ZapTok-sub006/wallet/client"
	"github.com/silentius-satoshi/ZapTok-sub006/wallet/storage"
)

// MeltResult is the outcome of paying a bolt11 invoice with ecash.
type MeltResult struct {
	QuoteId  string
	Amount   uint64
	FeePaid  uint64
	Preimage string
	State    nut05.State
}

// Melt pays a bolt11 invoice with ecash from the given mint.
//
// The proofs covering the invoice amount plus the mint's fee reserve
// are set aside before the payment is submitted. On success they are
// discarded, on a clean failure they return to the spendable set. If
// the outcome cannot be determined (a transport timeout, or the mint
// reporting the payment as in flight) they stay set aside and the
// operation is left pending for RecoverPending to settle later.
func (w *Wallet) Melt(ctx context.Context, invoice, mintURL string) (*MeltResult, error) {
	mint, err := w.mintByURL(mintURL)
	if err != nil {
		return nil, err
	}

	bolt11, err := decodepay.Decodepay(invoice)
	if err != nil {
		return nil, fmt.Errorf("invalid invoice: %v", err)
	}
	if bolt11.MSatoshi == 0 {
		return nil, errors.New("invoice has no amount")
	}

	meltQuoteRequest := nut05.PostMeltQuoteBolt11Request{Request: invoice, Unit: w.unit.String()}
	meltQuote, err := client.PostMeltQuoteBolt11(ctx, mint.mintURL, meltQuoteRequest)
	if err != nil {
		return nil, err
	}

	// swap down to the exact quote amount so a successful melt burns
	// no more than amount plus fee reserve
	proofs, err := w.proofsForAmount(ctx, meltQuote.Amount+meltQuote.FeeReserve, mint, nil)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	if err := w.db.AddReservedProofs(meltQuote.Quote, proofs); err != nil {
		w.db.SaveProofs(proofs)
		w.mu.Unlock()
		return nil, err
	}
	pendingTx := storage.PendingTransaction{
		Id:             meltQuote.Quote,
		Direction:      storage.Out,
		QuoteId:        meltQuote.Quote,
		Mint:           mint.mintURL,
		Amount:         meltQuote.Amount,
		PaymentRequest: invoice,
		QuoteExpiry:    meltQuote.Expiry,
		CreatedAt:      time.Now().Unix(),
	}
	if err := w.db.SavePendingTransaction(pendingTx); err != nil {
		w.releaseReserved(meltQuote.Quote)
		w.mu.Unlock()
		return nil, err
	}
	w.mu.Unlock()

	meltRequest := nut05.PostMeltBolt11Request{Quote: meltQuote.Quote, Inputs: proofs}
	meltResponse, err := client.PostMeltBolt11(ctx, mint.mintURL, meltRequest)
	if err != nil {
		var cashuErr cashu.Error
		if errors.As(err, &cashuErr) {
			// the mint rejected the melt outright, nothing was spent
			w.mu.Lock()
			defer w.mu.Unlock()
			if rollbackErr := w.releaseReserved(meltQuote.Quote); rollbackErr != nil {
				return nil, rollbackErr
			}
			if rollbackErr := w.db.DeletePendingTransaction(meltQuote.Quote); rollbackErr != nil {
				return nil, rollbackErr
			}
			return nil, fmt.Errorf("%w: %v", ErrMeltFailed, err)
		}

		// transport failure after submitting: the mint may still be
		// paying the invoice. leave everything reserved.
		w.logger.Warn("melt outcome unknown, leaving quote pending",
			zap.String("quote", meltQuote.Quote), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrAmbiguousMeltState, err)
	}

	return w.settleMelt(meltQuote.Quote, proofs.Amount(), meltResponse)
}

// MeltQuoteState checks the state of a previously submitted melt and
// settles the reserved proofs if it reached a terminal state.
func (w *Wallet) MeltQuoteState(ctx context.Context, quoteId string) (*MeltResult, error) {
	w.mu.Lock()
	pendingTx, ok := w.findPendingQuote(quoteId, storage.Out)
	reservedAmount := w.db.GetReservedProofs(quoteId).Amount()
	w.mu.Unlock()
	if !ok {
		return nil, ErrQuoteNotFound
	}

	meltQuote, err := client.GetMeltQuoteState(ctx, pendingTx.Mint, quoteId)
	if err != nil {
		return nil, err
	}
	return w.settleMelt(quoteId, reservedAmount, meltQuote)
}

// settleMelt applies a melt quote response to the wallet state.
func (w *Wallet) settleMelt(quoteId string, inputAmount uint64,
	meltQuote *nut05.PostMeltQuoteBolt11Response) (*MeltResult, error) {

	result := &MeltResult{
		QuoteId:  quoteId,
		Amount:   meltQuote.Amount,
		Preimage: meltQuote.Preimage,
		State:    meltQuote.State,
	}

	switch meltQuote.State {
	case nut05.Paid:
		w.mu.Lock()
		defer w.mu.Unlock()
		if err := w.commitReserved(quoteId); err != nil {
			return nil, err
		}
		if err := w.db.DeletePendingTransaction(quoteId); err != nil {
			return nil, err
		}
		if inputAmount > meltQuote.Amount {
			result.FeePaid = inputAmount - meltQuote.Amount
		}
		w.logger.Info("paid invoice with ecash",
			zap.String("quote", quoteId),
			zap.Uint64("amount", meltQuote.Amount),
			zap.Uint64("fee", result.FeePaid))
		return result, nil

	case nut05.Unpaid:
		// payment failed, the proofs were not spent
		w.mu.Lock()
		defer w.mu.Unlock()
		if err := w.releaseReserved(quoteId); err != nil {
			return nil, err
		}
		if err := w.db.DeletePendingTransaction(quoteId); err != nil {
			return nil, err
		}
		return result, ErrMeltFailed

	case nut05.Pending:
		// payment still in flight, nothing to settle yet
		return result, nil

	default:
		return nil, fmt.Errorf("mint returned unknown melt state for '%v'", quoteId)
	}
}
