// Package signer abstracts over where the user's nostr identity key
// lives. Events are signed through a Signer so the rest of the code
// does not care whether the key is held locally, by a remote bunker
// or by a browser extension.
package signer

import (
	"context"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

type Type int

const (
	LocalKey Type = iota
	RemoteBunker
	BrowserExtension
)

func (t Type) String() string {
	switch t {
	case LocalKey:
		return "local"
	case RemoteBunker:
		return "bunker"
	case BrowserExtension:
		return "extension"
	default:
		return "unknown"
	}
}

// Signer produces schnorr signatures with the user's identity key.
// PublicKey returns the 32-byte x-only public key in hex.
type Signer interface {
	Type() Type
	PublicKey(ctx context.Context) (string, error)
	Sign(ctx context.Context, digest []byte) (string, error)
}

// LightningBridge is implemented by signers whose backing context can
// also pay bolt11 invoices directly, like a browser extension with a
// webln provider. It returns the payment preimage.
type LightningBridge interface {
	SendPayment(ctx context.Context, bolt11 string) (string, error)
}

// LocalSigner signs with a private key held in memory.
type LocalSigner struct {
	key *btcec.PrivateKey
}

func NewLocalSigner(key *btcec.PrivateKey) *LocalSigner {
	return &LocalSigner{key: key}
}

func (s *LocalSigner) Type() Type {
	return LocalKey
}

func (s *LocalSigner) PublicKey(ctx context.Context) (string, error) {
	return hex.EncodeToString(schnorr.SerializePubKey(s.key.PubKey())), nil
}

func (s *LocalSigner) Sign(ctx context.Context, digest []byte) (string, error) {
	signature, err := schnorr.Sign(s.key, digest)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(signature.Serialize()), nil
}

// Bunker is the wire to a remote signer holding the key, as set up
// through a nostrconnect uri.
type Bunker interface {
	PublicKey(ctx context.Context) (string, error)
	Sign(ctx context.Context, digest []byte) (string, error)
}

// BunkerSigner signs through a remote bunker. Every call crosses the
// network, so callers should pass a context with a deadline.
type BunkerSigner struct {
	bunker Bunker
}

func NewBunkerSigner(bunker Bunker) *BunkerSigner {
	return &BunkerSigner{bunker: bunker}
}

func (s *BunkerSigner) Type() Type {
	return RemoteBunker
}

func (s *BunkerSigner) PublicKey(ctx context.Context) (string, error) {
	return s.bunker.PublicKey(ctx)
}

func (s *BunkerSigner) Sign(ctx context.Context, digest []byte) (string, error) {
	return s.bunker.Sign(ctx, digest)
}

// ExtensionBridge is the wire to a key-holding browser extension.
// SendPayment is optional and returns an error when the extension has
// no lightning provider.
type ExtensionBridge interface {
	PublicKey(ctx context.Context) (string, error)
	Sign(ctx context.Context, digest []byte) (string, error)
	SendPayment(ctx context.Context, bolt11 string) (string, error)
}

// ExtensionSigner signs through a browser extension bridge.
type ExtensionSigner struct {
	bridge ExtensionBridge
}

func NewExtensionSigner(bridge ExtensionBridge) *ExtensionSigner {
	return &ExtensionSigner{bridge: bridge}
}

func (s *ExtensionSigner) Type() Type {
	return BrowserExtension
}

func (s *ExtensionSigner) PublicKey(ctx context.Context) (string, error) {
	return s.bridge.PublicKey(ctx)
}

func (s *ExtensionSigner) Sign(ctx context.Context, digest []byte) (string, error) {
	return s.bridge.Sign(ctx, digest)
}

func (s *ExtensionSigner) SendPayment(ctx context.Context, bolt11 string) (string, error) {
	return s.bridge.SendPayment(ctx, bolt11)
}
