package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"slices"
	"strconv"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const maxOrder = 64

// mint url to map of keyset id to keyset
type KeysetsMap map[string]map[string]WalletKeyset

// WalletKeyset holds the public keys the wallet knows for a mint keyset.
type WalletKeyset struct {
	Id          string
	MintURL     string
	Unit        string
	Active      bool
	PublicKeys  map[uint64]*secp256k1.PublicKey
	InputFeePpk uint
}

// MarshalJSON has a value receiver so keysets held as map values still
// encode through it.
func (wk WalletKeyset) MarshalJSON() ([]byte, error) {
	keys := make(map[uint64]string, len(wk.PublicKeys))
	for amount, pubkey := range wk.PublicKeys {
		keys[amount] = hex.EncodeToString(pubkey.SerializeCompressed())
	}

	temp := struct {
		Id          string
		MintURL     string
		Unit        string
		Active      bool
		PublicKeys  map[uint64]string
		InputFeePpk uint
	}{
		Id:          wk.Id,
		MintURL:     wk.MintURL,
		Unit:        wk.Unit,
		Active:      wk.Active,
		PublicKeys:  keys,
		InputFeePpk: wk.InputFeePpk,
	}
	return json.Marshal(temp)
}

func (wk *WalletKeyset) UnmarshalJSON(data []byte) error {
	var temp struct {
		Id          string
		MintURL     string
		Unit        string
		Active      bool
		PublicKeys  map[uint64]string
		InputFeePpk uint
	}

	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}

	wk.Id = temp.Id
	wk.MintURL = temp.MintURL
	wk.Unit = temp.Unit
	wk.Active = temp.Active
	wk.InputFeePpk = temp.InputFeePpk

	wk.PublicKeys = make(map[uint64]*secp256k1.PublicKey, len(temp.PublicKeys))
	for amount, key := range temp.PublicKeys {
		keyBytes, err := hex.DecodeString(key)
		if err != nil {
			return err
		}
		pubkey, err := secp256k1.ParsePubKey(keyBytes)
		if err != nil {
			return err
		}
		wk.PublicKeys[amount] = pubkey
	}

	return nil
}

// MapPubKeys parses the hex keys in a NUT-01 keys map.
func MapPubKeys(keys map[uint64]string) (map[uint64]*secp256k1.PublicKey, error) {
	parsedKeys := make(map[uint64]*secp256k1.PublicKey, len(keys))
	for amount, key := range keys {
		pkbytes, err := hex.DecodeString(key)
		if err != nil {
			return nil, err
		}
		pubkey, err := secp256k1.ParsePubKey(pkbytes)
		if err != nil {
			return nil, err
		}
		parsedKeys[amount] = pubkey
	}
	return parsedKeys, nil
}

// DeriveKeysetId returns the id derived from the keyset public keys
// as specified in NUT-02.
func DeriveKeysetId(keys map[uint64]*secp256k1.PublicKey) string {
	amounts := make([]uint64, len(keys))
	i := 0
	for amount := range keys {
		amounts[i] = amount
		i++
	}
	slices.Sort(amounts)

	pubkeys := make([]byte, 0)
	for _, amount := range amounts {
		pubkeys = append(pubkeys, keys[amount].SerializeCompressed()...)
	}
	hash := sha256.Sum256(pubkeys)

	return "00" + hex.EncodeToString(hash[:])[:14]
}

// MintKeyset carries private keys. It is only used by the in-process
// fake mint in testutils.
type MintKeyset struct {
	Id          string
	Unit        string
	Active      bool
	Keys        map[uint64]KeyPair
	InputFeePpk uint
}

type KeyPair struct {
	PrivateKey *secp256k1.PrivateKey
	PublicKey  *secp256k1.PublicKey
}

func GenerateMintKeyset(seed, derivationPath string) *MintKeyset {
	keys := make(map[uint64]KeyPair, maxOrder)

	pubkeys := make(map[uint64]*secp256k1.PublicKey, maxOrder)
	for i := 0; i < maxOrder; i++ {
		amount := uint64(math.Pow(2, float64(i)))
		hash := sha256.Sum256([]byte(seed + derivationPath + strconv.FormatUint(amount, 10)))
		privKey := secp256k1.PrivKeyFromBytes(hash[:])
		keys[amount] = KeyPair{PrivateKey: privKey, PublicKey: privKey.PubKey()}
		pubkeys[amount] = privKey.PubKey()
	}

	return &MintKeyset{
		Id:     DeriveKeysetId(pubkeys),
		Unit:   "sat",
		Active: true,
		Keys:   keys,
	}
}

// PublicKeys returns the public part of the keyset in NUT-01 form.
func (ks *MintKeyset) PublicKeys() map[uint64]string {
	pubKeys := make(map[uint64]string, len(ks.Keys))
	for amount, key := range ks.Keys {
		pubKeys[amount] = hex.EncodeToString(key.PublicKey.SerializeCompressed())
	}
	return pubKeys
}
