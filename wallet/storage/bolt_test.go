package storage

import (
	"reflect"
	"testing"

	"github.com/silentius-satoshi/ZapTok-sub006/cashu"
	"github.com/silentius-satoshi/ZapTok-sub006/crypto"
)

func testDB(t *testing.T) *BoltDB {
	t.Helper()
	db, err := InitBolt(t.TempDir())
	if err != nil {
		t.Fatalf("InitBolt: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestProofs(t *testing.T) {
	db := testDB(t)

	proofs := cashu.Proofs{
		{Amount: 2, Id: "009a1f293253e41e", Secret: "secret1", C: "c1"},
		{Amount: 8, Id: "009a1f293253e41e", Secret: "secret2", C: "c2"},
	}
	if err := db.SaveProofs(proofs); err != nil {
		t.Fatalf("SaveProofs: %v", err)
	}

	stored := db.GetProofs()
	if stored.Amount() != 10 {
		t.Errorf("expected '%v' but got '%v' instead", 10, stored.Amount())
	}

	if err := db.DeleteProof("secret1"); err != nil {
		t.Fatalf("DeleteProof: %v", err)
	}
	stored = db.GetProofs()
	if len(stored) != 1 || stored[0].Secret != "secret2" {
		t.Errorf("expected only 'secret2' to remain but got '%v'", stored)
	}

	// deleting a missing proof is a no-op
	if err := db.DeleteProof("secret1"); err != nil {
		t.Errorf("expected deleting absent proof to succeed but got '%v'", err)
	}
}

func TestReservedProofs(t *testing.T) {
	db := testDB(t)

	proofs := cashu.Proofs{{Amount: 4, Id: "009a1f293253e41e", Secret: "reserved1", C: "c1"}}
	if err := db.AddReservedProofs("quote-1", proofs); err != nil {
		t.Fatalf("AddReservedProofs: %v", err)
	}

	reserved := db.GetReservedProofs("quote-1")
	if !reflect.DeepEqual(reserved, proofs) {
		t.Errorf("expected '%v' but got '%v' instead", proofs, reserved)
	}
	if got := db.GetReservedProofs("missing"); len(got) != 0 {
		t.Errorf("expected no proofs for unknown id but got '%v'", got)
	}

	all := db.GetAllReservedProofs()
	if len(all) != 1 || !reflect.DeepEqual(all["quote-1"], proofs) {
		t.Errorf("expected one reservation but got '%v'", all)
	}

	if err := db.DeleteReservedProofs("quote-1"); err != nil {
		t.Fatalf("DeleteReservedProofs: %v", err)
	}
	if got := db.GetReservedProofs("quote-1"); len(got) != 0 {
		t.Errorf("expected reservation to be gone but got '%v'", got)
	}
}

func TestPendingTransactions(t *testing.T) {
	db := testDB(t)

	tx := PendingTransaction{
		Id:        "quote-1",
		Direction: In,
		QuoteId:   "quote-1",
		Mint:      "http://127.0.0.1:3338",
		Amount:    100,
		ClaimData: []byte(`{"secrets":["a"]}`),
	}
	if err := db.SavePendingTransaction(tx); err != nil {
		t.Fatalf("SavePendingTransaction: %v", err)
	}

	pending := db.GetPendingTransactions()
	if len(pending) != 1 || !reflect.DeepEqual(pending[0], tx) {
		t.Errorf("expected '%v' but got '%v' instead", tx, pending)
	}

	// overwrite with claim data keeps a single record
	tx.Amount = 200
	if err := db.SavePendingTransaction(tx); err != nil {
		t.Fatalf("SavePendingTransaction: %v", err)
	}
	pending = db.GetPendingTransactions()
	if len(pending) != 1 || pending[0].Amount != 200 {
		t.Errorf("expected updated record but got '%v'", pending)
	}

	if err := db.SavePendingTransaction(PendingTransaction{}); err == nil {
		t.Error("expected error saving pending transaction without id")
	}

	if err := db.DeletePendingTransaction("quote-1"); err != nil {
		t.Fatalf("DeletePendingTransaction: %v", err)
	}
	if pending = db.GetPendingTransactions(); len(pending) != 0 {
		t.Errorf("expected no pending transactions but got '%v'", pending)
	}
}

func TestKeysets(t *testing.T) {
	db := testDB(t)

	keyset := crypto.GenerateMintKeyset("testseed", "0/0/0")
	walletKeyset := &crypto.WalletKeyset{
		Id:          keyset.Id,
		MintURL:     "http://127.0.0.1:3338",
		Unit:        "sat",
		Active:      true,
		InputFeePpk: 100,
	}
	if err := db.SaveKeyset(walletKeyset); err != nil {
		t.Fatalf("SaveKeyset: %v", err)
	}

	keysets := db.GetKeysets()
	mintKeysets, ok := keysets["http://127.0.0.1:3338"]
	if !ok {
		t.Fatalf("expected keysets for mint but got '%v'", keysets)
	}
	stored, ok := mintKeysets[keyset.Id]
	if !ok {
		t.Fatalf("expected keyset '%v' but got '%v'", keyset.Id, mintKeysets)
	}
	if stored.InputFeePpk != 100 || !stored.Active {
		t.Errorf("expected active keyset with fee 100 but got '%+v'", stored)
	}
}

func TestMnemonicSeed(t *testing.T) {
	db := testDB(t)

	if got := db.GetMnemonic(); got != "" {
		t.Errorf("expected empty mnemonic but got '%v'", got)
	}

	mnemonic := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	seed := []byte{1, 2, 3, 4}
	if err := db.SaveMnemonicSeed(mnemonic, seed); err != nil {
		t.Fatalf("SaveMnemonicSeed: %v", err)
	}

	if got := db.GetMnemonic(); got != mnemonic {
		t.Errorf("expected '%v' but got '%v' instead", mnemonic, got)
	}
	if got := db.GetSeed(); !reflect.DeepEqual(got, seed) {
		t.Errorf("expected '%v' but got '%v' instead", seed, got)
	}
}
