package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/silentius-satoshi/ZapTok-sub006/cashu"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut10"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut11"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut12"
	"github.com/silentius-satoshi/ZapTok-sub006/crypto"
)

// Send prepares a token for the given amount from the given mint.
// The proofs backing the token leave the spendable balance when this
// returns. If no stored proofs add up to the exact amount, the wallet
// swaps for it and keeps the change.
func (w *Wallet) Send(ctx context.Context, amount uint64, mintURL string, includeDLEQ bool) (cashu.Token, error) {
	if amount == 0 {
		return nil, errors.New("amount has to be positive")
	}

	mint, err := w.mintByURL(mintURL)
	if err != nil {
		return nil, err
	}

	sendProofs, err := w.proofsForAmount(ctx, amount, mint, nil)
	if err != nil {
		return nil, err
	}

	token, err := cashu.NewTokenV4(sendProofs, mint.mintURL, w.unit, includeDLEQ)
	if err != nil {
		return nil, err
	}

	w.logger.Info("prepared token",
		zap.String("mint", mint.mintURL),
		zap.Uint64("amount", amount))
	return token, nil
}

// SendToPubkey prepares a token whose proofs are locked to the given
// public key. Only the holder of the matching private key can redeem
// it, so the token can travel over untrusted channels.
func (w *Wallet) SendToPubkey(ctx context.Context, amount uint64, mintURL string,
	pubkey *btcec.PublicKey, includeDLEQ bool) (cashu.Token, error) {

	if pubkey == nil {
		return nil, errors.New("no public key to lock ecash to")
	}

	mint, err := w.mintByURL(mintURL)
	if err != nil {
		return nil, err
	}

	lockProofs, err := w.proofsForAmount(ctx, amount, mint, pubkey)
	if err != nil {
		return nil, err
	}
	return cashu.NewTokenV4(lockProofs, mint.mintURL, w.unit, includeDLEQ)
}

// proofsForAmount returns proofs worth exactly the amount, swapping
// with the mint when the stored denominations do not line up or when
// the result has to be locked to a public key.
func (w *Wallet) proofsForAmount(ctx context.Context, amount uint64, mint *walletMint,
	lockTo *btcec.PublicKey) (cashu.Proofs, error) {

	w.mu.Lock()
	selected, err := w.selectProofs(amount, mint)
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}

	fees := w.feesForProofs(selected, mint)
	if lockTo == nil && selected.Amount() == amount {
		// exact match, hand the proofs over as they are
		for _, proof := range selected {
			if err := w.db.DeleteProof(proof.Secret); err != nil {
				w.mu.Unlock()
				return nil, err
			}
		}
		w.mu.Unlock()
		return selected, nil
	}

	reservationId := uuid.NewString()
	if err := w.reserveProofs(reservationId, selected); err != nil {
		w.mu.Unlock()
		return nil, err
	}
	w.mu.Unlock()

	changeAmount := selected.Amount() - amount - fees

	// outputs for the amount to send, plus outputs for the change
	var sendOutputs cashu.BlindedMessages
	var sendSecrets []string
	var sendRs []*secp256k1.PrivateKey
	if lockTo != nil {
		sendOutputs, sendSecrets, sendRs, err = blindLockedMessages(amount, mint.activeKeyset.Id, lockTo)
	} else {
		sendOutputs, sendSecrets, sendRs, err = createBlindedMessages(amount, mint.activeKeyset.Id)
	}
	if err != nil {
		w.rollbackReservation(reservationId)
		return nil, err
	}

	var changeOutputs cashu.BlindedMessages
	var changeSecrets []string
	var changeRs []*secp256k1.PrivateKey
	if changeAmount > 0 {
		changeOutputs, changeSecrets, changeRs, err = createBlindedMessages(changeAmount, mint.activeKeyset.Id)
		if err != nil {
			w.rollbackReservation(reservationId)
			return nil, err
		}
	}

	sendSecretSet := make(map[string]bool, len(sendSecrets))
	for _, secret := range sendSecrets {
		sendSecretSet[secret] = true
	}

	// interleave send and change outputs so the mint cannot tell the
	// payment split from the change split
	outputs := append(sendOutputs, changeOutputs...)
	secrets := append(sendSecrets, changeSecrets...)
	rs := append(sendRs, changeRs...)
	cashu.SortBlindedMessages(outputs, secrets, rs)

	newProofs, err := w.swapProofs(ctx, mint, selected, outputs, secrets, rs)
	if err != nil {
		var cashuErr cashu.Error
		if errors.As(err, &cashuErr) && cashuErr.Code == cashu.ProofAlreadyUsedErrCode {
			// inputs were burned on a previous attempt that did not
			// make it back here. they are unrecoverable.
			w.mu.Lock()
			w.commitReserved(reservationId)
			w.mu.Unlock()
			return nil, fmt.Errorf("%w: %v", ErrProofAlreadySpent, err)
		}
		// swap did not happen, inputs are still valid
		w.rollbackReservation(reservationId)
		return nil, err
	}

	var sendProofs, changeProofs cashu.Proofs
	for _, proof := range newProofs {
		if sendSecretSet[proof.Secret] {
			sendProofs = append(sendProofs, proof)
		} else {
			changeProofs = append(changeProofs, proof)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(changeProofs) > 0 {
		if err := w.db.SaveProofs(changeProofs); err != nil {
			return nil, err
		}
	}
	if err := w.commitReserved(reservationId); err != nil {
		return nil, err
	}
	return sendProofs, nil
}

func (w *Wallet) rollbackReservation(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.releaseReserved(id); err != nil {
		w.logger.Error("could not release reserved proofs",
			zap.String("reservation", id), zap.Error(err))
	}
}

// blindLockedMessages builds blinded messages whose secrets lock the
// outputs to the given public key.
func blindLockedMessages(amount uint64, keysetId string, lockTo *btcec.PublicKey) (
	cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {

	pubkey := hex.EncodeToString(lockTo.SerializeCompressed())
	splitAmounts := cashu.AmountSplit(amount)

	blindedMessages := make(cashu.BlindedMessages, len(splitAmounts))
	secrets := make([]string, len(splitAmounts))
	rs := make([]*secp256k1.PrivateKey, len(splitAmounts))

	for i, amt := range splitAmounts {
		secret, err := nut11.P2PKSecret(pubkey)
		if err != nil {
			return nil, nil, nil, err
		}
		r, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, nil, nil, err
		}
		B_, r, err := crypto.BlindMessage(secret, r)
		if err != nil {
			return nil, nil, nil, err
		}
		blindedMessages[i] = cashu.NewBlindedMessage(keysetId, amt, B_)
		secrets[i] = secret
		rs[i] = r
	}
	return blindedMessages, secrets, rs, nil
}

// Receive redeems a token, swapping its proofs at the issuing mint for
// fresh ones only this wallet knows. The issuing mint is added to the
// wallet's list of mints if not already known. Returns the amount
// added to the balance, after the mint's swap fee.
func (w *Wallet) Receive(ctx context.Context, token cashu.Token) (uint64, error) {
	proofs := token.Proofs()
	if len(proofs) == 0 {
		return 0, errors.New("token has no proofs")
	}
	if cashu.CheckDuplicateProofs(proofs) {
		return 0, errors.New("token has duplicate proofs")
	}

	tokenMintURL, err := normalizeMintURL(token.Mint())
	if err != nil {
		return 0, err
	}

	mint, err := w.mintByURL(tokenMintURL)
	if err != nil {
		if mint, err = w.AddMint(ctx, tokenMintURL); err != nil {
			return 0, err
		}
	}

	// verify any attached DLEQ proofs against the signing keysets
	keysetIds := make(map[string]bool)
	for _, proof := range proofs {
		keysetIds[proof.Id] = true
	}
	for keysetId := range keysetIds {
		keyset, err := w.getKeysetKeys(ctx, mint.mintURL, keysetId)
		if err != nil {
			return 0, err
		}
		if !nut12.VerifyProofsDLEQ(proofs, *keyset) {
			return 0, errors.New("token has invalid DLEQ proof")
		}
	}

	// locked ecash has to be signed before the mint will swap it
	if nut10.SecretType(proofs[0]) == nut10.P2PK {
		proofs, err = nut11.AddSignatureToInputs(proofs, w.p2pkKey)
		if err != nil {
			return 0, err
		}
	}

	w.mu.Lock()
	fees := w.feesForProofs(proofs, mint)
	w.mu.Unlock()
	if proofs.Amount() <= fees {
		return 0, errors.New("token amount does not cover the swap fee")
	}

	outputs, secrets, rs, err := createBlindedMessages(proofs.Amount()-fees, mint.activeKeyset.Id)
	if err != nil {
		return 0, err
	}
	newProofs, err := w.swapProofs(ctx, mint, proofs, outputs, secrets, rs)
	if err != nil {
		var cashuErr cashu.Error
		if errors.As(err, &cashuErr) && cashuErr.Code == cashu.ProofAlreadyUsedErrCode {
			return 0, fmt.Errorf("%w: %v", ErrProofAlreadySpent, err)
		}
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.db.SaveProofs(newProofs); err != nil {
		return 0, err
	}

	w.logger.Info("received token",
		zap.String("mint", mint.mintURL),
		zap.Uint64("amount", newProofs.Amount()))
	return newProofs.Amount(), nil
}
