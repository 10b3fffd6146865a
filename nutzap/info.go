// Package nutzap sends and redeems ecash tips over nostr events.
// A recipient announces the mints they trust and a P2PK key in a
// kind 10019 event. Senders lock proofs to that key and publish them
// in a kind 9321 event, so the tip can only be redeemed by the
// recipient no matter who relays it.
package nutzap

import (
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/silentius-satoshi/ZapTok-sub006/cashu"
)

const (
	KindNutzapInfo = 10019
	KindNutzap     = 9321
)

var (
	// ErrRecipientHasNoWallet means no nutzap announcement was found
	// for the recipient, so there is nowhere to send ecash to.
	ErrRecipientHasNoWallet = errors.New("recipient has not published a nutzap wallet")

	// ErrNoCompatibleMint means none of the sender's mints appear in
	// the recipient's trusted list. Surfaced before any proof moves.
	ErrNoCompatibleMint = errors.New("no mint in common with recipient")
)

// Info is a recipient's published nutzap announcement.
type Info struct {
	// Pubkey is the recipient's nostr identity key.
	Pubkey string

	// P2PKPubkey is the compressed public key ecash gets locked to.
	P2PKPubkey string

	TrustedMints []string
	Relays       []string
}

// ParseInfo reads a kind 10019 announcement event.
func ParseInfo(event *nostr.Event) (*Info, error) {
	if event.Kind != KindNutzapInfo {
		return nil, fmt.Errorf("expected kind %d event, got %d", KindNutzapInfo, event.Kind)
	}

	info := &Info{Pubkey: event.PubKey}
	for _, tag := range event.Tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case "mint":
			info.TrustedMints = append(info.TrustedMints, cashu.NormalizeMintURL(tag[1]))
		case "relay":
			info.Relays = append(info.Relays, tag[1])
		case "pubkey":
			info.P2PKPubkey = tag[1]
		}
	}

	if info.P2PKPubkey == "" {
		// announcements may omit the tag and lock to the identity key
		info.P2PKPubkey = "02" + event.PubKey
	}
	if len(info.TrustedMints) == 0 {
		return nil, errors.New("announcement lists no mints")
	}
	return info, nil
}

// InfoEvent builds the unsigned announcement event for the given
// lock key, mints and relays.
func InfoEvent(p2pkPubkey string, trustedMints, relays []string) *nostr.Event {
	event := &nostr.Event{
		Kind: KindNutzapInfo,
		Tags: nostr.Tags{},
	}
	for _, relay := range relays {
		event.Tags = append(event.Tags, nostr.Tag{"relay", relay})
	}
	for _, mint := range trustedMints {
		event.Tags = append(event.Tags, nostr.Tag{"mint", mint, "sat"})
	}
	event.Tags = append(event.Tags, nostr.Tag{"pubkey", p2pkPubkey})
	return event
}
