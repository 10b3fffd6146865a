package storage

import (
	"github.com/silentius-satoshi/ZapTok-sub006/cashu"
	"github.com/silentius-satoshi/ZapTok-sub006/crypto"
)

type TransactionDirection int

const (
	In TransactionDirection = iota
	Out
)

// PendingTransaction is the write-ahead record for an in-flight mint
// operation. It is persisted before the network call it tracks is
// issued and deleted only once the quote reached a terminal state and
// the wallet was mutated accordingly.
type PendingTransaction struct {
	Id             string
	Direction      TransactionDirection
	QuoteId        string
	Mint           string
	Amount         uint64
	PaymentRequest string
	QuoteExpiry    uint64
	CreatedAt      int64

	// ClaimData holds the serialized blinded outputs (secrets and
	// blinding factors included) for an incoming transaction. It is
	// written before signatures are requested so that a crash between
	// the request and the local save of the resulting proofs can be
	// repaired through the mint's restore endpoint.
	ClaimData []byte
}

type WalletDB interface {
	SaveMnemonicSeed(mnemonic string, seed []byte) error
	GetSeed() []byte
	GetMnemonic() string

	SaveProofs(cashu.Proofs) error
	GetProofs() cashu.Proofs
	DeleteProof(secret string) error

	// reserved proofs are in flight and excluded from the spendable set
	AddReservedProofs(id string, proofs cashu.Proofs) error
	GetReservedProofs(id string) cashu.Proofs
	GetAllReservedProofs() map[string]cashu.Proofs
	DeleteReservedProofs(id string) error

	SaveKeyset(*crypto.WalletKeyset) error
	GetKeysets() crypto.KeysetsMap

	SavePendingTransaction(PendingTransaction) error
	GetPendingTransactions() []PendingTransaction
	DeletePendingTransaction(id string) error

	Close() error
}
