package wallet

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"go.uber.org/zap"

	"github.com/silentius-satoshi/ZapTok-sub006/cashu"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut03"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut07"
	"github.com/silentius-satoshi/ZapTok-sub006/crypto"
	"github.com/silentius-satoshi/ZapTok-sub006/wallet/client"
)

// feesForProofs returns the input fee the mint charges for spending
// the proofs, derived from the fee ppk of each proof's keyset.
// Callers must hold w.mu.
func (w *Wallet) feesForProofs(proofs cashu.Proofs, mint *walletMint) uint64 {
	var feePpk uint64
	for _, proof := range proofs {
		if proof.Id == mint.activeKeyset.Id {
			feePpk += uint64(mint.activeKeyset.InputFeePpk)
		} else if keyset, ok := mint.inactiveKeysets[proof.Id]; ok {
			feePpk += uint64(keyset.InputFeePpk)
		}
	}
	return (feePpk + 999) / 1000
}

// selectProofs picks proofs from the mint worth at least the target
// amount plus the fees their own spending incurs. Smaller proofs are
// preferred so that change stays small. Callers must hold w.mu.
func (w *Wallet) selectProofs(targetAmount uint64, mint *walletMint) (cashu.Proofs, error) {
	var mintProofs cashu.Proofs
	for _, proof := range w.db.GetProofs() {
		if proof.Id == mint.activeKeyset.Id {
			mintProofs = append(mintProofs, proof)
		} else if _, ok := mint.inactiveKeysets[proof.Id]; ok {
			mintProofs = append(mintProofs, proof)
		}
	}

	sort.Slice(mintProofs, func(i, j int) bool {
		return mintProofs[i].Amount < mintProofs[j].Amount
	})

	var selected cashu.Proofs
	var selectedAmount uint64
	for _, proof := range mintProofs {
		if selectedAmount >= targetAmount+w.feesForProofs(selected, mint) {
			break
		}
		selected = append(selected, proof)
		selectedAmount += proof.Amount
	}

	if selectedAmount < targetAmount+w.feesForProofs(selected, mint) {
		return nil, ErrInsufficientBalance
	}
	return selected, nil
}

// reserveProofs moves the proofs out of the spendable set under the
// given reservation id. They no longer count toward the balance and
// cannot be selected again until released.
// Callers must hold w.mu.
func (w *Wallet) reserveProofs(id string, proofs cashu.Proofs) error {
	if err := w.db.AddReservedProofs(id, proofs); err != nil {
		return err
	}
	for _, proof := range proofs {
		if err := w.db.DeleteProof(proof.Secret); err != nil {
			return err
		}
	}
	return nil
}

// releaseReserved returns reserved proofs to the spendable set.
// Used when the operation that reserved them failed cleanly.
// Callers must hold w.mu.
func (w *Wallet) releaseReserved(id string) error {
	proofs := w.db.GetReservedProofs(id)
	if len(proofs) == 0 {
		return w.db.DeleteReservedProofs(id)
	}
	if err := w.db.SaveProofs(proofs); err != nil {
		return err
	}
	return w.db.DeleteReservedProofs(id)
}

// commitReserved discards reserved proofs for good. Used when the
// operation that reserved them is known to have spent them.
// Callers must hold w.mu.
func (w *Wallet) commitReserved(id string) error {
	return w.db.DeleteReservedProofs(id)
}

// swapProofs swaps the input proofs at the mint for fresh outputs and
// returns the new proofs. The inputs are consumed by the mint whether
// or not this call manages to store the result, so callers are
// expected to have the inputs reserved already.
func (w *Wallet) swapProofs(ctx context.Context, mint *walletMint, inputs cashu.Proofs,
	outputs cashu.BlindedMessages, secrets []string, rs []*secp256k1.PrivateKey) (cashu.Proofs, error) {

	swapRequest := nut03.PostSwapRequest{Inputs: inputs, Outputs: outputs}
	swapResponse, err := client.PostSwap(ctx, mint.mintURL, swapRequest)
	if err != nil {
		return nil, err
	}

	keyset, err := w.getKeysetKeys(ctx, mint.mintURL, mint.activeKeyset.Id)
	if err != nil {
		return nil, err
	}
	return constructProofs(swapResponse.Signatures, outputs, secrets, rs, keyset)
}

// RefreshProofStates asks the mint for the state of every stored proof
// belonging to it and drops the ones already spent elsewhere, for
// example by another wallet restored from the same seed. It returns
// the amount removed.
func (w *Wallet) RefreshProofStates(ctx context.Context, mintURL string) (uint64, error) {
	mint, err := w.mintByURL(mintURL)
	if err != nil {
		return 0, err
	}

	w.mu.Lock()
	var mintProofs cashu.Proofs
	for _, proof := range w.db.GetProofs() {
		if proof.Id == mint.activeKeyset.Id {
			mintProofs = append(mintProofs, proof)
		} else if _, ok := mint.inactiveKeysets[proof.Id]; ok {
			mintProofs = append(mintProofs, proof)
		}
	}
	w.mu.Unlock()

	if len(mintProofs) == 0 {
		return 0, nil
	}

	proofStates, err := w.checkProofStates(ctx, mint.mintURL, mintProofs)
	if err != nil {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var removedAmount uint64
	for i, state := range proofStates {
		if state.State == nut07.Spent {
			if err := w.db.DeleteProof(mintProofs[i].Secret); err != nil {
				return removedAmount, err
			}
			removedAmount += mintProofs[i].Amount
		}
	}
	if removedAmount > 0 {
		w.logger.Info("removed spent proofs from wallet",
			zap.String("mint", mint.mintURL),
			zap.Uint64("amount", removedAmount))
	}
	return removedAmount, nil
}

// checkProofStates queries the mint for the state of each proof.
// The returned slice is aligned with the input proofs.
func (w *Wallet) checkProofStates(ctx context.Context, mintURL string, proofs cashu.Proofs) (
	[]nut07.ProofState, error) {

	Ys := make([]string, len(proofs))
	for i, proof := range proofs {
		Y, err := crypto.HashToCurve([]byte(proof.Secret))
		if err != nil {
			return nil, err
		}
		Ys[i] = hex.EncodeToString(Y.SerializeCompressed())
	}

	stateResponse, err := client.PostCheckProofState(ctx, mintURL, nut07.PostCheckStateRequest{Ys: Ys})
	if err != nil {
		return nil, err
	}
	if len(stateResponse.States) != len(proofs) {
		return nil, fmt.Errorf("mint returned %d states for %d proofs",
			len(stateResponse.States), len(proofs))
	}
	return stateResponse.States, nil
}
