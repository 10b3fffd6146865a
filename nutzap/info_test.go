package nutzap

import (
	"reflect"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func TestParseInfo(t *testing.T) {
	identity := "93c1f72dbfd4d443f77e84e5165e05b3f2e08397a4441fd1a0a5022b38cf0cf3"
	lockKey := "02a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90"

	tests := []struct {
		name     string
		event    *nostr.Event
		expected *Info
		wantErr  bool
	}{
		{
			name: "full announcement",
			event: &nostr.Event{
				PubKey: identity,
				Kind:   KindNutzapInfo,
				Tags: nostr.Tags{
					{"relay", "wss://relay.example.com"},
					{"mint", "https://mint.example.com/", "sat"},
					{"mint", "https://other.example.com"},
					{"pubkey", lockKey},
				},
			},
			expected: &Info{
				Pubkey:     identity,
				P2PKPubkey: lockKey,
				TrustedMints: []string{
					"https://mint.example.com",
					"https://other.example.com",
				},
				Relays: []string{"wss://relay.example.com"},
			},
		},
		{
			name: "missing pubkey tag falls back to identity key",
			event: &nostr.Event{
				PubKey: identity,
				Kind:   KindNutzapInfo,
				Tags: nostr.Tags{
					{"mint", "https://mint.example.com"},
				},
			},
			expected: &Info{
				Pubkey:       identity,
				P2PKPubkey:   "02" + identity,
				TrustedMints: []string{"https://mint.example.com"},
			},
		},
		{
			name: "no mints",
			event: &nostr.Event{
				PubKey: identity,
				Kind:   KindNutzapInfo,
				Tags: nostr.Tags{
					{"relay", "wss://relay.example.com"},
					{"pubkey", lockKey},
				},
			},
			wantErr: true,
		},
		{
			name: "wrong kind",
			event: &nostr.Event{
				PubKey: identity,
				Kind:   KindNutzap,
				Tags: nostr.Tags{
					{"mint", "https://mint.example.com"},
				},
			},
			wantErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			info, err := ParseInfo(test.event)
			if test.wantErr {
				if err == nil {
					t.Fatal("expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseInfo: %v", err)
			}
			if !reflect.DeepEqual(info, test.expected) {
				t.Errorf("expected '%+v' but got '%+v' instead", test.expected, info)
			}
		})
	}
}

func TestInfoEventRoundTrip(t *testing.T) {
	lockKey := "02a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90"
	mints := []string{"https://mint.example.com"}
	relays := []string{"wss://relay.example.com", "wss://nos.lol"}

	event := InfoEvent(lockKey, mints, relays)
	event.PubKey = "93c1f72dbfd4d443f77e84e5165e05b3f2e08397a4441fd1a0a5022b38cf0cf3"

	info, err := ParseInfo(event)
	if err != nil {
		t.Fatalf("ParseInfo: %v", err)
	}
	if info.P2PKPubkey != lockKey {
		t.Errorf("expected '%v' but got '%v' instead", lockKey, info.P2PKPubkey)
	}
	if !reflect.DeepEqual(info.TrustedMints, mints) {
		t.Errorf("expected '%v' but got '%v' instead", mints, info.TrustedMints)
	}
	if !reflect.DeepEqual(info.Relays, relays) {
		t.Errorf("expected '%v' but got '%v' instead", relays, info.Relays)
	}
}
