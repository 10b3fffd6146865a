package crypto

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func TestWalletKeysetJSONRoundTrip(t *testing.T) {
	mintKeyset := GenerateMintKeyset("testseed", "0/0/0")
	publicKeys := make(map[uint64]*secp256k1.PublicKey, len(mintKeyset.Keys))
	for amount, keypair := range mintKeyset.Keys {
		publicKeys[amount] = keypair.PublicKey
	}

	keyset := WalletKeyset{
		Id:          mintKeyset.Id,
		MintURL:     "https://mint.example.com",
		Unit:        "sat",
		Active:      true,
		PublicKeys:  publicKeys,
		InputFeePpk: 100,
	}

	// keysets are serialized as plain map values, so the custom
	// encoding has to apply without taking an address
	keysets := KeysetsMap{
		keyset.MintURL: {keyset.Id: keyset},
	}
	data, err := json.Marshal(keysets)
	if err != nil {
		t.Fatalf("error marshaling keysets: %v", err)
	}

	var decoded KeysetsMap
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("error unmarshaling keysets: %v", err)
	}

	got, ok := decoded[keyset.MintURL][keyset.Id]
	if !ok {
		t.Fatal("decoded keysets map is missing the keyset")
	}
	if got.Id != keyset.Id || got.Unit != keyset.Unit || !got.Active ||
		got.InputFeePpk != keyset.InputFeePpk {
		t.Errorf("expected '%+v' but got '%+v' instead", keyset, got)
	}
	if len(got.PublicKeys) != len(keyset.PublicKeys) {
		t.Fatalf("expected %v public keys but got %v", len(keyset.PublicKeys), len(got.PublicKeys))
	}
	for amount, pubkey := range keyset.PublicKeys {
		if !reflect.DeepEqual(got.PublicKeys[amount].SerializeCompressed(), pubkey.SerializeCompressed()) {
			t.Errorf("public key for amount %v did not survive the round trip", amount)
		}
	}
}
