package wallet

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"go.uber.org/zap"

	"github.com/silentius-satoshi/ZapTok-sub006/cashu"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut04"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut09"
	"github.com/silentius-satoshi/ZapTok-sub006/wallet/client"
	"github.com/silentius-satoshi/ZapTok-sub006/wallet/storage"
)

// claimOutputs is the serialized form of the blinded outputs persisted
// in a pending transaction before signatures are requested.
type claimOutputs struct {
	KeysetId string   `json:"keysetId"`
	Amounts  []uint64 `json:"amounts"`
	Secrets  []string `json:"secrets"`
	Rs       []string `json:"rs"`
}

func marshalClaimOutputs(keysetId string, messages cashu.BlindedMessages,
	secrets []string, rs []*secp256k1.PrivateKey) ([]byte, error) {

	outputs := claimOutputs{
		KeysetId: keysetId,
		Amounts:  make([]uint64, len(messages)),
		Secrets:  secrets,
		Rs:       make([]string, len(rs)),
	}
	for i, msg := range messages {
		outputs.Amounts[i] = msg.Amount
	}
	for i, r := range rs {
		outputs.Rs[i] = hex.EncodeToString(r.Serialize())
	}
	return json.Marshal(outputs)
}

func unmarshalClaimOutputs(data []byte) (string, []uint64, []string, []*secp256k1.PrivateKey, error) {
	var outputs claimOutputs
	if err := json.Unmarshal(data, &outputs); err != nil {
		return "", nil, nil, nil, err
	}

	rs := make([]*secp256k1.PrivateKey, len(outputs.Rs))
	for i, rhex := range outputs.Rs {
		rbytes, err := hex.DecodeString(rhex)
		if err != nil {
			return "", nil, nil, nil, err
		}
		rs[i] = secp256k1.PrivKeyFromBytes(rbytes)
	}
	return outputs.KeysetId, outputs.Amounts, outputs.Secrets, rs, nil
}

// RequestMint requests a quote from the wallet's current mint for
// minting the given amount and records it as a pending incoming
// transaction. The returned quote carries the bolt11 invoice to pay.
func (w *Wallet) RequestMint(ctx context.Context, amount uint64) (*nut04.PostMintQuoteBolt11Response, error) {
	mintRequest := nut04.PostMintQuoteBolt11Request{Amount: amount, Unit: w.unit.String()}
	mintResponse, err := client.PostMintQuoteBolt11(ctx, w.currentMint.mintURL, mintRequest)
	if err != nil {
		return nil, err
	}

	pendingTx := storage.PendingTransaction{
		Id:             mintResponse.Quote,
		Direction:      storage.In,
		QuoteId:        mintResponse.Quote,
		Mint:           w.currentMint.mintURL,
		Amount:         amount,
		PaymentRequest: mintResponse.Request,
		QuoteExpiry:    mintResponse.Expiry,
		CreatedAt:      time.Now().Unix(),
	}

	w.mu.Lock()
	err = w.db.SavePendingTransaction(pendingTx)
	w.mu.Unlock()
	if err != nil {
		return nil, err
	}

	w.logger.Info("requested mint quote",
		zap.String("quote", mintResponse.Quote),
		zap.Uint64("amount", amount))
	return mintResponse, nil
}

// MintQuoteState returns the current state of a mint quote.
func (w *Wallet) MintQuoteState(ctx context.Context, quoteId string) (*nut04.PostMintQuoteBolt11Response, error) {
	return client.GetMintQuoteState(ctx, w.currentMint.mintURL, quoteId)
}

// CheckAndClaim checks whether the invoice behind the quote was paid
// and if so claims the ecash, adding the new proofs to the wallet.
// It returns the amount claimed.
//
// The call is idempotent: the blinded outputs are persisted before the
// signature request so a crash at any point can be repaired by calling
// it again (or through RecoverPending). A quote is never claimed
// twice since the pending record is removed with the stored proofs.
func (w *Wallet) CheckAndClaim(ctx context.Context, quoteId string) (uint64, error) {
	w.mu.Lock()
	pendingTx, ok := w.findPendingQuote(quoteId, storage.In)
	w.mu.Unlock()
	if !ok {
		return 0, ErrQuoteNotFound
	}

	quoteState, err := client.GetMintQuoteState(ctx, pendingTx.Mint, quoteId)
	if err != nil {
		return 0, err
	}

	switch quoteState.State {
	case nut04.Unpaid:
		if pendingTx.QuoteExpiry > 0 && uint64(time.Now().Unix()) > pendingTx.QuoteExpiry {
			w.mu.Lock()
			err := w.db.DeletePendingTransaction(pendingTx.Id)
			w.mu.Unlock()
			if err != nil {
				return 0, err
			}
			return 0, ErrQuoteExpired
		}
		return 0, ErrQuoteNotPaid

	case nut04.Paid, nut04.Issued:
		return w.claimQuote(ctx, pendingTx, quoteState.State)

	default:
		return 0, fmt.Errorf("mint returned unknown quote state for '%v'", quoteId)
	}
}

func (w *Wallet) claimQuote(ctx context.Context, pendingTx storage.PendingTransaction,
	state nut04.State) (uint64, error) {

	mint, err := w.mintByURL(pendingTx.Mint)
	if err != nil {
		return 0, err
	}

	var blindedMessages cashu.BlindedMessages
	var secrets []string
	var rs []*secp256k1.PrivateKey
	keysetId := mint.activeKeyset.Id

	if len(pendingTx.ClaimData) == 0 {
		if state == nut04.Issued {
			// signatures were issued but the outputs were never
			// persisted here. nothing left to claim.
			w.mu.Lock()
			defer w.mu.Unlock()
			if err := w.db.DeletePendingTransaction(pendingTx.Id); err != nil {
				return 0, err
			}
			return 0, errors.New("quote already issued")
		}

		blindedMessages, secrets, rs, err = createBlindedMessages(pendingTx.Amount, keysetId)
		if err != nil {
			return 0, err
		}
		claimData, err := marshalClaimOutputs(keysetId, blindedMessages, secrets, rs)
		if err != nil {
			return 0, err
		}

		// write-ahead: the outputs have to hit disk before the mint
		// sees them, otherwise a crash after issuance loses the funds
		pendingTx.ClaimData = claimData
		w.mu.Lock()
		err = w.db.SavePendingTransaction(pendingTx)
		w.mu.Unlock()
		if err != nil {
			return 0, err
		}
	} else {
		var amounts []uint64
		keysetId, amounts, secrets, rs, err = unmarshalClaimOutputs(pendingTx.ClaimData)
		if err != nil {
			return 0, err
		}
		blindedMessages, err = blindedMessagesFromSecrets(keysetId, amounts, secrets, rs)
		if err != nil {
			return 0, err
		}
	}

	var signatures cashu.BlindedSignatures
	if state == nut04.Issued {
		signatures, err = w.restoreSignatures(ctx, pendingTx.Mint, blindedMessages)
	} else {
		mintTokensRequest := nut04.PostMintBolt11Request{
			Quote:   pendingTx.QuoteId,
			Outputs: blindedMessages,
		}
		var mintResponse *nut04.PostMintBolt11Response
		mintResponse, err = client.PostMintBolt11(ctx, pendingTx.Mint, mintTokensRequest)
		if err == nil {
			signatures = mintResponse.Signatures
		} else {
			var cashuErr cashu.Error
			if errors.As(err, &cashuErr) && cashuErr.Code == cashu.MintQuoteAlreadyIssuedErrCode {
				// a previous attempt reached the mint. recover the
				// signatures it already issued for these outputs.
				signatures, err = w.restoreSignatures(ctx, pendingTx.Mint, blindedMessages)
			}
		}
	}
	if err != nil {
		return 0, err
	}

	keyset, err := w.getKeysetKeys(ctx, pendingTx.Mint, keysetId)
	if err != nil {
		return 0, err
	}
	proofs, err := constructProofs(signatures, blindedMessages, secrets, rs, keyset)
	if err != nil {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.db.SaveProofs(proofs); err != nil {
		return 0, err
	}
	if err := w.db.DeletePendingTransaction(pendingTx.Id); err != nil {
		return 0, err
	}

	w.logger.Info("claimed ecash for mint quote",
		zap.String("quote", pendingTx.QuoteId),
		zap.Uint64("amount", proofs.Amount()))
	return proofs.Amount(), nil
}

// restoreSignatures asks the mint to re-issue the signatures it
// already made for the given outputs.
func (w *Wallet) restoreSignatures(ctx context.Context, mintURL string,
	blindedMessages cashu.BlindedMessages) (cashu.BlindedSignatures, error) {

	restoreResponse, err := client.PostRestore(ctx, mintURL,
		nut09.PostRestoreRequest{Outputs: blindedMessages})
	if err != nil {
		return nil, err
	}
	if len(restoreResponse.Outputs) != len(restoreResponse.Signatures) {
		return nil, errors.New("mint returned misaligned restore response")
	}

	// the mint only returns the outputs it signed, align signatures
	// back to the requested order
	signaturesByB_ := make(map[string]cashu.BlindedSignature)
	for i, output := range restoreResponse.Outputs {
		signaturesByB_[output.B_] = restoreResponse.Signatures[i]
	}

	signatures := make(cashu.BlindedSignatures, len(blindedMessages))
	for i, msg := range blindedMessages {
		signature, ok := signaturesByB_[msg.B_]
		if !ok {
			return nil, fmt.Errorf("mint has no signature for output '%v'", msg.B_)
		}
		signatures[i] = signature
	}
	return signatures, nil
}

// findPendingQuote looks up the pending transaction for a quote.
// Callers must hold w.mu.
func (w *Wallet) findPendingQuote(quoteId string, direction storage.TransactionDirection) (
	storage.PendingTransaction, bool) {

	for _, pendingTx := range w.db.GetPendingTransactions() {
		if pendingTx.QuoteId == quoteId && pendingTx.Direction == direction {
			return pendingTx, true
		}
	}
	return storage.PendingTransaction{}, false
}
