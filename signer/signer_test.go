package signer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

func TestLocalSigner(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("error generating key: %v", err)
	}
	s := NewLocalSigner(key)
	ctx := context.Background()

	if s.Type() != LocalKey {
		t.Errorf("expected '%v' but got '%v' instead", LocalKey, s.Type())
	}

	pubkeyHex, err := s.PublicKey(ctx)
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}
	pubkeyBytes, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		t.Fatalf("public key is not hex: %v", err)
	}
	pubkey, err := schnorr.ParsePubKey(pubkeyBytes)
	if err != nil {
		t.Fatalf("public key is not a valid x-only key: %v", err)
	}

	digest := sha256.Sum256([]byte("message"))
	signatureHex, err := s.Sign(ctx, digest[:])
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	signatureBytes, err := hex.DecodeString(signatureHex)
	if err != nil {
		t.Fatalf("signature is not hex: %v", err)
	}
	signature, err := schnorr.ParseSignature(signatureBytes)
	if err != nil {
		t.Fatalf("error parsing signature: %v", err)
	}

	if !signature.Verify(digest[:], pubkey) {
		t.Error("signature did not verify against the signer's public key")
	}

	otherDigest := sha256.Sum256([]byte("other message"))
	if signature.Verify(otherDigest[:], pubkey) {
		t.Error("signature verified against a different digest")
	}
}

type stubBunker struct {
	pubkey string
	err    error
}

func (b *stubBunker) PublicKey(ctx context.Context) (string, error) {
	return b.pubkey, b.err
}

func (b *stubBunker) Sign(ctx context.Context, digest []byte) (string, error) {
	return "signed:" + hex.EncodeToString(digest), b.err
}

func TestBunkerSigner(t *testing.T) {
	ctx := context.Background()

	s := NewBunkerSigner(&stubBunker{pubkey: "abc123"})
	if s.Type() != RemoteBunker {
		t.Errorf("expected '%v' but got '%v' instead", RemoteBunker, s.Type())
	}
	pubkey, err := s.PublicKey(ctx)
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}
	if pubkey != "abc123" {
		t.Errorf("expected '%v' but got '%v' instead", "abc123", pubkey)
	}

	bunkerErr := errors.New("bunker unreachable")
	s = NewBunkerSigner(&stubBunker{err: bunkerErr})
	if _, err := s.Sign(ctx, []byte{0x01}); !errors.Is(err, bunkerErr) {
		t.Errorf("expected '%v' but got '%v' instead", bunkerErr, err)
	}
}

func TestTypeString(t *testing.T) {
	tests := []struct {
		signerType Type
		expected   string
	}{
		{LocalKey, "local"},
		{RemoteBunker, "bunker"},
		{BrowserExtension, "extension"},
		{Type(42), "unknown"},
	}

	for _, test := range tests {
		if s := test.signerType.String(); s != test.expected {
			t.Errorf("expected '%v' but got '%v' instead", test.expected, s)
		}
	}
}
