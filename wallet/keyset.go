package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/silentius-satoshi/ZapTok-sub006/cashu"
	"github.com/silentius-satoshi/ZapTok-sub006/crypto"
	"github.com/silentius-satoshi/ZapTok-sub006/wallet/client"
)

// GetMintActiveKeyset returns the mint's active keyset for the unit,
// verifying that the keyset id matches the keys it advertises.
func GetMintActiveKeyset(ctx context.Context, mintURL string, unit cashu.Unit) (*crypto.WalletKeyset, error) {
	keysetsResponse, err := client.GetAllKeysets(ctx, mintURL)
	if err != nil {
		return nil, err
	}

	for _, keyset := range keysetsResponse.Keysets {
		if keyset.Active && keyset.Unit == unit.String() {
			keysResponse, err := client.GetKeysetById(ctx, mintURL, keyset.Id)
			if err != nil {
				return nil, err
			}
			if len(keysResponse.Keysets) == 0 {
				return nil, errors.New("mint returned no keys for active keyset")
			}

			publicKeys, err := crypto.MapPubKeys(keysResponse.Keysets[0].Keys)
			if err != nil {
				return nil, err
			}
			if derivedId := crypto.DeriveKeysetId(publicKeys); derivedId != keyset.Id {
				return nil, fmt.Errorf("mint keyset id '%v' does not match derived id '%v'",
					keyset.Id, derivedId)
			}

			return &crypto.WalletKeyset{
				Id:          keyset.Id,
				MintURL:     mintURL,
				Unit:        keyset.Unit,
				Active:      true,
				PublicKeys:  publicKeys,
				InputFeePpk: keyset.InputFeePpk,
			}, nil
		}
	}

	return nil, fmt.Errorf("mint has no active keyset for unit '%v'", unit)
}

// GetMintInactiveKeysets returns the mint's inactive keysets for the
// unit. Only ids and fees are fetched, the keys of an inactive keyset
// are looked up lazily when a proof referencing it is handled.
func GetMintInactiveKeysets(ctx context.Context, mintURL string, unit cashu.Unit) (map[string]crypto.WalletKeyset, error) {
	keysetsResponse, err := client.GetAllKeysets(ctx, mintURL)
	if err != nil {
		return nil, err
	}

	inactiveKeysets := make(map[string]crypto.WalletKeyset)
	for _, keysetRes := range keysetsResponse.Keysets {
		if !keysetRes.Active && keysetRes.Unit == unit.String() {
			keyset := crypto.WalletKeyset{
				Id:          keysetRes.Id,
				MintURL:     mintURL,
				Unit:        keysetRes.Unit,
				Active:      false,
				InputFeePpk: keysetRes.InputFeePpk,
			}
			inactiveKeysets[keyset.Id] = keyset
		}
	}
	return inactiveKeysets, nil
}

// getKeysetKeys returns the public keys for the given keyset id,
// fetching them from the mint if the cached copy does not have them.
func (w *Wallet) getKeysetKeys(ctx context.Context, mintURL, keysetId string) (*crypto.WalletKeyset, error) {
	w.mu.Lock()
	mint, ok := w.mints[mintURL]
	if !ok {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrMintNotKnown, mintURL)
	}
	if mint.activeKeyset.Id == keysetId {
		keyset := mint.activeKeyset
		w.mu.Unlock()
		return &keyset, nil
	}
	if keyset, ok := mint.inactiveKeysets[keysetId]; ok && len(keyset.PublicKeys) > 0 {
		w.mu.Unlock()
		return &keyset, nil
	}
	w.mu.Unlock()

	keysResponse, err := client.GetKeysetById(ctx, mintURL, keysetId)
	if err != nil {
		return nil, err
	}
	if len(keysResponse.Keysets) == 0 {
		return nil, fmt.Errorf("mint has no keyset with id '%v'", keysetId)
	}
	publicKeys, err := crypto.MapPubKeys(keysResponse.Keysets[0].Keys)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	mint, ok = w.mints[mintURL]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMintNotKnown, mintURL)
	}
	keyset, ok := mint.inactiveKeysets[keysetId]
	if !ok {
		keyset = crypto.WalletKeyset{
			Id:      keysetId,
			MintURL: mintURL,
			Unit:    w.unit.String(),
		}
	}
	keyset.PublicKeys = publicKeys
	mint.inactiveKeysets[keysetId] = keyset
	w.mints[mintURL] = mint
	if err := w.db.SaveKeyset(&keyset); err != nil {
		return nil, err
	}
	return &keyset, nil
}
