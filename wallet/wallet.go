// Package wallet implements an ecash wallet over the Cashu protocol.
// It owns the local proof database, tracks quotes against one or more
// mints and exposes the value-transfer operations the application
// layer builds on: minting, melting, sending and receiving tokens.
package wallet

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip39"
	"go.uber.org/zap"

	"github.com/silentius-satoshi/ZapTok-sub006/cashu"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut06"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut12"
	"github.com/silentius-satoshi/ZapTok-sub006/crypto"
	"github.com/silentius-satoshi/ZapTok-sub006/wallet/client"
	"github.com/silentius-satoshi/ZapTok-sub006/wallet/storage"
)

type Config struct {
	WalletPath     string
	CurrentMintURL string

	// Logger is optional. A nop logger is used when nil.
	Logger *zap.Logger
}

type walletMint struct {
	mintURL         string
	activeKeyset    crypto.WalletKeyset
	inactiveKeysets map[string]crypto.WalletKeyset
}

type Wallet struct {
	// mu guards the proof database mutations and the mint map.
	// Network calls are made outside of it.
	mu sync.Mutex

	db     storage.WalletDB
	logger *zap.Logger

	unit cashu.Unit

	// mints that this wallet has keysets for
	mints map[string]walletMint

	// default mint for operations that do not name one
	currentMint *walletMint

	masterKey *hdkeychain.ExtendedKey

	// key used for P2PK-locked ecash
	p2pkKey *btcec.PrivateKey
}

func InitStorage(path string) (storage.WalletDB, error) {
	// bolt db atm
	return storage.InitBolt(path)
}

func LoadWallet(config Config) (*Wallet, error) {
	db, err := InitStorage(config.WalletPath)
	if err != nil {
		return nil, fmt.Errorf("InitStorage: %v", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	seed := db.GetSeed()
	if len(seed) == 0 {
		entropy, err := bip39.NewEntropy(128)
		if err != nil {
			return nil, err
		}
		mnemonic, err := bip39.NewMnemonic(entropy)
		if err != nil {
			return nil, err
		}
		seed = bip39.NewSeed(mnemonic, "")
		if err := db.SaveMnemonicSeed(mnemonic, seed); err != nil {
			return nil, err
		}
	}

	masterKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}
	p2pkKey, err := DeriveP2PK(masterKey)
	if err != nil {
		return nil, err
	}

	wallet := &Wallet{
		db:        db,
		logger:    logger,
		unit:      cashu.Sat,
		mints:     make(map[string]walletMint),
		masterKey: masterKey,
		p2pkKey:   p2pkKey,
	}

	// load previously known mints from the stored keysets
	for mintURL, mintKeysets := range db.GetKeysets() {
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
		wallet.mints[mintURL] = mint
	}

	mintURL, err := normalizeMintURL(config.CurrentMintURL)
	if err != nil {
		return nil, err
	}
	currentMint, err := wallet.AddMint(context.Background(), mintURL)
	if err != nil {
		return nil, fmt.Errorf("error setting up wallet: %v", err)
	}
	wallet.currentMint = currentMint

	return wallet, nil
}

func normalizeMintURL(mintURL string) (string, error) {
	parsed, err := url.Parse(mintURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidMintURL, mintURL)
	}
	return cashu.NormalizeMintURL(parsed.String()), nil
}

// AddMint fetches the keysets of the mint at the given url and adds it
// to the wallet's list of trusted mints. It is a refresh if the mint
// was already known.
func (w *Wallet) AddMint(ctx context.Context, mintURL string) (*walletMint, error) {
	mintURL, err := normalizeMintURL(mintURL)
	if err != nil {
		return nil, err
	}

	activeKeyset, err := GetMintActiveKeyset(ctx, mintURL, w.unit)
	if err != nil {
		return nil, err
	}
	inactiveKeysets, err := GetMintInactiveKeysets(ctx, mintURL, w.unit)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.db.SaveKeyset(activeKeyset); err != nil {
		return nil, err
	}
	for _, keyset := range inactiveKeysets {
		if err := w.db.SaveKeyset(&keyset); err != nil {
			return nil, err
		}
	}

	// a previously active keyset that is no longer active rotated out.
	// keep it around as inactive since stored proofs may reference it.
	if previous, ok := w.mints[mintURL]; ok {
		if previous.activeKeyset.Id != "" && previous.activeKeyset.Id != activeKeyset.Id {
			if _, ok := inactiveKeysets[previous.activeKeyset.Id]; !ok {
				rotated := previous.activeKeyset
				rotated.Active = false
				inactiveKeysets[rotated.Id] = rotated
				if err := w.db.SaveKeyset(&rotated); err != nil {
					return nil, err
				}
			}
		}
		for id, keyset := range previous.inactiveKeysets {
			if _, ok := inactiveKeysets[id]; !ok {
				inactiveKeysets[id] = keyset
			}
		}
	}

	mint := walletMint{
		mintURL:         mintURL,
		activeKeyset:    *activeKeyset,
		inactiveKeysets: inactiveKeysets,
	}
	w.mints[mintURL] = mint
	return &mint, nil
}

// CurrentMint returns the url of the wallet's default mint.
func (w *Wallet) CurrentMint() string {
	return w.currentMint.mintURL
}

func (w *Wallet) TrustedMints() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	mints := make([]string, 0, len(w.mints))
	for mintURL := range w.mints {
		mints = append(mints, mintURL)
	}
	return mints
}

// GetBalance returns the wallet's spendable balance across all mints.
// Proofs reserved by in-flight operations are not counted.
func (w *Wallet) GetBalance() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.db.GetProofs().Amount()
}

// GetBalanceByMints returns the spendable balance per mint.
func (w *Wallet) GetBalanceByMints() map[string]uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	balances := make(map[string]uint64)
	for mintURL := range w.mints {
		balances[mintURL] = 0
	}
	for _, proof := range w.db.GetProofs() {
		if mintURL, ok := w.mintURLForKeyset(proof.Id); ok {
			balances[mintURL] += proof.Amount
		}
	}
	return balances
}

// mintURLForKeyset maps a keyset id back to the mint it belongs to.
// Callers must hold w.mu.
func (w *Wallet) mintURLForKeyset(keysetId string) (string, bool) {
	for mintURL, mint := range w.mints {
		if mint.activeKeyset.Id == keysetId {
			return mintURL, true
		}
		if _, ok := mint.inactiveKeysets[keysetId]; ok {
			return mintURL, true
		}
	}
	return "", false
}

func (w *Wallet) mintByURL(mintURL string) (*walletMint, error) {
	mintURL, err := normalizeMintURL(mintURL)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if mint, ok := w.mints[mintURL]; ok {
		return &mint, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrMintNotKnown, mintURL)
}

// MintInfo fetches the NUT-06 info document of a known mint.
func (w *Wallet) MintInfo(ctx context.Context, mintURL string) (*nut06.MintInfo, error) {
	mint, err := w.mintByURL(mintURL)
	if err != nil {
		return nil, err
	}
	return client.GetMintInfo(ctx, mint.mintURL)
}

func (w *Wallet) Mnemonic() string {
	return w.db.GetMnemonic()
}

func (w *Wallet) Shutdown() error {
	return w.db.Close()
}

// createBlindedMessages splits the amount into powers of two and
// blinds a fresh random secret for each part.
func createBlindedMessages(amount uint64, keysetId string) (
	cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {

	splitAmounts := cashu.AmountSplit(amount)
	splitLen := len(splitAmounts)

	blindedMessages := make(cashu.BlindedMessages, splitLen)
	secrets := make([]string, splitLen)
	rs := make([]*secp256k1.PrivateKey, splitLen)

	for i, amt := range splitAmounts {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return nil, nil, nil, err
		}
		secret := hex.EncodeToString(secretBytes)

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

// blindedMessagesFromSecrets rebuilds blinded messages from previously
// persisted secrets and blinding factors.
func blindedMessagesFromSecrets(keysetId string, amounts []uint64, secrets []string, rs []*secp256k1.PrivateKey) (
	cashu.BlindedMessages, error) {

	if len(amounts) != len(secrets) || len(secrets) != len(rs) {
		return nil, errors.New("mismatched outputs")
	}

	blindedMessages := make(cashu.BlindedMessages, len(secrets))
	for i, secret := range secrets {
		B_, _, err := crypto.BlindMessage(secret, rs[i])
		if err != nil {
			return nil, err
		}
		blindedMessages[i] = cashu.NewBlindedMessage(keysetId, amounts[i], B_)
	}
	return blindedMessages, nil
}

// constructProofs unblinds the signatures and builds the proofs.
// If the mint attached DLEQ proofs they are verified and an invalid
// one rejects the whole batch.
func constructProofs(
	blindedSignatures cashu.BlindedSignatures,
	blindedMessages cashu.BlindedMessages,
	secrets []string,
	rs []*secp256k1.PrivateKey,
	keyset *crypto.WalletKeyset,
) (cashu.Proofs, error) {

	sigsLen := len(blindedSignatures)
	if sigsLen != len(secrets) || sigsLen != len(rs) {
		return nil, errors.New("mismatch between number of signatures and secrets")
	}

	proofs := make(cashu.Proofs, sigsLen)
	for i, blindedSignature := range blindedSignatures {
		C_bytes, err := hex.DecodeString(blindedSignature.C_)
		if err != nil {
			return nil, err
		}
		C_, err := secp256k1.ParsePubKey(C_bytes)
		if err != nil {
			return nil, err
		}

		K, ok := keyset.PublicKeys[blindedSignature.Amount]
		if !ok {
			return nil, errors.New("mint keyset has no key for signature amount")
		}

		if blindedSignature.DLEQ != nil {
			if !nut12.VerifyBlindSignatureDLEQ(
				*blindedSignature.DLEQ, K, blindedMessages[i].B_, blindedSignature.C_) {
				return nil, errors.New("mint returned invalid DLEQ proof")
			}
		}

		C := crypto.UnblindSignature(C_, rs[i], K)

		var dleq *cashu.DLEQProof
		if blindedSignature.DLEQ != nil {
			dleq = &cashu.DLEQProof{
				E: blindedSignature.DLEQ.E,
				S: blindedSignature.DLEQ.S,
				R: hex.EncodeToString(rs[i].Serialize()),
			}
		}

		proofs[i] = cashu.Proof{
			Amount: blindedSignature.Amount,
			Secret: secrets[i],
			C:      hex.EncodeToString(C.SerializeCompressed()),
			Id:     blindedSignature.Id,
			DLEQ:   dleq,
		}
	}

	return proofs, nil
}
