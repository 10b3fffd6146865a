package wallet

import (
	"encoding/json"
	"errors"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"

	"github.com/silentius-satoshi/ZapTok-sub006/cashu"
	"github.com/silentius-satoshi/ZapTok-sub006/crypto"
)

// walletBackup is a portable snapshot of everything needed to rebuild
// the wallet on another device: the seed phrase, the known mints with
// their keysets and the unspent proofs.
type walletBackup struct {
	Mnemonic string            `json:"mnemonic"`
	Keysets  crypto.KeysetsMap `json:"keysets"`
	Proofs   cashu.Proofs      `json:"proofs"`
}

// Backup serializes the wallet state. The result contains the seed
// phrase and bearer proofs, anyone holding it holds the funds.
func (w *Wallet) Backup() ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	backup := walletBackup{
		Mnemonic: w.db.GetMnemonic(),
		Keysets:  w.db.GetKeysets(),
		Proofs:   w.db.GetProofs(),
	}
	return json.Marshal(backup)
}

// RestoreBackup loads a snapshot produced by Backup into the wallet.
// It only applies to a fresh wallet, restoring over existing funds is
// refused so a stale snapshot cannot clobber newer proofs.
func (w *Wallet) RestoreBackup(data []byte) error {
	var backup walletBackup
	if err := json.Unmarshal(data, &backup); err != nil {
		return err
	}
	if !bip39.IsMnemonicValid(backup.Mnemonic) {
		return errors.New("backup has an invalid seed phrase")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.db.GetProofs()) > 0 {
		return errors.New("refusing to restore over a wallet with funds")
	}

	seed := bip39.NewSeed(backup.Mnemonic, "")
	if err := w.db.SaveMnemonicSeed(backup.Mnemonic, seed); err != nil {
		return err
	}
	masterKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return err
	}
	p2pkKey, err := DeriveP2PK(masterKey)
	if err != nil {
		return err
	}
	w.masterKey = masterKey
	w.p2pkKey = p2pkKey

	for _, mintKeysets := range backup.Keysets {
		for _, keyset := range mintKeysets {
			keyset := keyset
			if err := w.db.SaveKeyset(&keyset); err != nil {
				return err
			}
		}
	}
	if err := w.db.SaveProofs(backup.Proofs); err != nil {
		return err
	}

	// rebuild the in-memory mint map from the restored keysets
	for mintURL, mintKeysets := range backup.Keysets {
		mint := walletMint{
			mintURL:         mintURL,
			inactiveKeysets: make(map[string]crypto.WalletKeyset),
		}
		for _, keyset := range mintKeysets {
			if keyset.Active {
				mint.activeKeyset = keyset
			} else {
				mint.inactiveKeysets[keyset.Id] = keyset
			}
		}
		w.mints[mintURL] = mint
	}
	return nil
}
