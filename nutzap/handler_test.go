package nutzap

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/nbd-wtf/go-nostr"

	"github.com/silentius-satoshi/ZapTok-sub006/signer"
	"github.com/silentius-satoshi/ZapTok-sub006/testutils"
	"github.com/silentius-satoshi/ZapTok-sub006/wallet"
)

// fakeTransport keeps events in memory instead of talking to relays.
type fakeTransport struct {
	infos  map[string]*nostr.Event
	events []*nostr.Event
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{infos: make(map[string]*nostr.Event)}
}

func (t *fakeTransport) FetchInfo(ctx context.Context, pubkey string) (*nostr.Event, error) {
	return t.infos[pubkey], nil
}

func (t *fakeTransport) Publish(ctx context.Context, event *nostr.Event) error {
	if event.Kind == KindNutzapInfo {
		t.infos[event.PubKey] = event
	}
	t.events = append(t.events, event)
	return nil
}

func (t *fakeTransport) FetchNutzaps(ctx context.Context, pubkey string, since nostr.Timestamp) (
	[]*nostr.Event, error) {

	var matches []*nostr.Event
	for _, event := range t.events {
		if event.Kind != KindNutzap {
			continue
		}
		for _, tag := range event.Tags {
			if len(tag) >= 2 && tag[0] == "p" && tag[1] == pubkey {
				matches = append(matches, event)
				break
			}
		}
	}
	return matches, nil
}

func testWallet(t *testing.T, mintURL string) *wallet.Wallet {
	t.Helper()
	w, err := wallet.LoadWallet(wallet.Config{WalletPath: t.TempDir(), CurrentMintURL: mintURL})
	if err != nil {
		t.Fatalf("LoadWallet: %v", err)
	}
	t.Cleanup(func() { w.Shutdown() })
	return w
}

func testSigner(t *testing.T) signer.Signer {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("error generating key: %v", err)
	}
	return signer.NewLocalSigner(key)
}

func fundWallet(t *testing.T, w *wallet.Wallet, fm *testutils.FakeMint, amount uint64) {
	t.Helper()
	ctx := context.Background()

	mintResponse, err := w.RequestMint(ctx, amount)
	if err != nil {
		t.Fatalf("RequestMint: %v", err)
	}
	fm.PayMintQuote(mintResponse.Quote)
	if _, err := w.CheckAndClaim(ctx, mintResponse.Quote); err != nil {
		t.Fatalf("CheckAndClaim: %v", err)
	}
}

func TestSendAndRedeem(t *testing.T) {
	fm, err := testutils.NewFakeMint()
	if err != nil {
		t.Fatalf("NewFakeMint: %v", err)
	}
	defer fm.Close()
	ctx := context.Background()

	transport := newFakeTransport()
	sender := NewHandler(testWallet(t, fm.URL()), transport, testSigner(t), nil)
	receiverSigner := testSigner(t)
	receiver := NewHandler(testWallet(t, fm.URL()), transport, receiverSigner, nil)

	fundWallet(t, sender.wallet, fm, 100)

	infoEvent, err := receiver.PublishInfo(ctx, []string{"wss://relay.example.com"})
	if err != nil {
		t.Fatalf("PublishInfo: %v", err)
	}
	if ok, _ := infoEvent.CheckSignature(); !ok {
		t.Error("expected announcement event to carry a valid signature")
	}

	recipientPubkey, _ := receiverSigner.PublicKey(ctx)
	event, err := sender.Send(ctx, recipientPubkey, 21, "someevent", "gm")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if event.Kind != KindNutzap {
		t.Errorf("expected kind %d event but got %d", KindNutzap, event.Kind)
	}
	if balance := sender.wallet.GetBalance(); balance != 79 {
		t.Errorf("expected sender balance 79 but got %v", balance)
	}

	amount, err := receiver.RedeemAll(ctx, 0)
	if err != nil {
		t.Fatalf("RedeemAll: %v", err)
	}
	if amount != 21 {
		t.Errorf("expected '%v' but got '%v' instead", 21, amount)
	}
	if balance := receiver.wallet.GetBalance(); balance != 21 {
		t.Errorf("expected receiver balance 21 but got %v", balance)
	}

	// redeeming again finds only already-spent proofs
	amount, err = receiver.RedeemAll(ctx, 0)
	if err != nil {
		t.Fatalf("RedeemAll: %v", err)
	}
	if amount != 0 {
		t.Errorf("expected nothing redeemed but got %v", amount)
	}
}

func TestSendNoRecipientWallet(t *testing.T) {
	fm, err := testutils.NewFakeMint()
	if err != nil {
		t.Fatalf("NewFakeMint: %v", err)
	}
	defer fm.Close()
	ctx := context.Background()

	sender := NewHandler(testWallet(t, fm.URL()), newFakeTransport(), testSigner(t), nil)
	fundWallet(t, sender.wallet, fm, 100)

	_, err = sender.Send(ctx, "deadbeef", 21, "", "")
	if !errors.Is(err, ErrRecipientHasNoWallet) {
		t.Errorf("expected '%v' but got '%v' instead", ErrRecipientHasNoWallet, err)
	}
	if balance := sender.wallet.GetBalance(); balance != 100 {
		t.Errorf("expected balance 100 but got %v", balance)
	}
}

func TestSendNoCompatibleMint(t *testing.T) {
	fm, err := testutils.NewFakeMint()
	if err != nil {
		t.Fatalf("NewFakeMint: %v", err)
	}
	defer fm.Close()
	ctx := context.Background()

	transport := newFakeTransport()
	sender := NewHandler(testWallet(t, fm.URL()), transport, testSigner(t), nil)
	fundWallet(t, sender.wallet, fm, 100)

	// recipient only trusts a mint the sender does not use
	recipientPubkey := "93c1f72dbfd4d443f77e84e5165e05b3f2e08397a4441fd1a0a5022b38cf0cf3"
	transport.infos[recipientPubkey] = &nostr.Event{
		PubKey: recipientPubkey,
		Kind:   KindNutzapInfo,
		Tags: nostr.Tags{
			{"mint", "https://other-mint.example.com"},
			{"pubkey", "02" + recipientPubkey},
		},
	}

	_, err = sender.Send(ctx, recipientPubkey, 21, "", "")
	if !errors.Is(err, ErrNoCompatibleMint) {
		t.Errorf("expected '%v' but got '%v' instead", ErrNoCompatibleMint, err)
	}
	if balance := sender.wallet.GetBalance(); balance != 100 {
		t.Errorf("expected balance 100 but got %v", balance)
	}
}
