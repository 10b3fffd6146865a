package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut05"
	"github.com/silentius-satoshi/ZapTok-sub006/signer"
	"github.com/silentius-satoshi/ZapTok-sub006/testutils"
)

// fakeBridge is an extension bridge with a canned payment result.
type fakeBridge struct {
	preimage string
	err      error
	paid     []string
}

func (b *fakeBridge) PublicKey(ctx context.Context) (string, error) {
	return "abc123", nil
}

func (b *fakeBridge) Sign(ctx context.Context, digest []byte) (string, error) {
	return "", errors.New("not implemented")
}

func (b *fakeBridge) SendPayment(ctx context.Context, bolt11 string) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	b.paid = append(b.paid, bolt11)
	return b.preimage, nil
}

func TestPayInvoiceThroughBridge(t *testing.T) {
	fm, err := testutils.NewFakeMint()
	if err != nil {
		t.Fatalf("NewFakeMint: %v", err)
	}
	defer fm.Close()
	ctx := context.Background()

	w := testWallet(t, fm.URL())
	fundWallet(t, w, fm, 1000)

	bridge := &fakeBridge{preimage: "bridgepreimage"}
	result, err := w.PayInvoice(ctx, testutils.Bolt11Invoice, w.CurrentMint(),
		signer.NewExtensionSigner(bridge))
	if err != nil {
		t.Fatalf("PayInvoice: %v", err)
	}
	if result.State != nut05.Paid {
		t.Errorf("expected '%v' but got '%v' instead", nut05.Paid, result.State)
	}
	if result.Preimage != "bridgepreimage" {
		t.Errorf("expected '%v' but got '%v' instead", "bridgepreimage", result.Preimage)
	}
	if result.Amount != 250000 {
		t.Errorf("expected '%v' but got '%v' instead", 250000, result.Amount)
	}
	if len(bridge.paid) != 1 || bridge.paid[0] != testutils.Bolt11Invoice {
		t.Errorf("expected the invoice to go through the bridge, got %v", bridge.paid)
	}

	// the bridge rail moves no ecash
	if balance := w.GetBalance(); balance != 1000 {
		t.Errorf("expected balance 1000 but got %v", balance)
	}
	if pending := w.PendingTransactions(); len(pending) != 0 {
		t.Errorf("expected no pending transactions but got %v", len(pending))
	}
}

func TestPayInvoiceBridgeFailure(t *testing.T) {
	fm, err := testutils.NewFakeMint()
	if err != nil {
		t.Fatalf("NewFakeMint: %v", err)
	}
	defer fm.Close()
	ctx := context.Background()

	w := testWallet(t, fm.URL())
	fundWallet(t, w, fm, 1000)

	bridgeErr := errors.New("provider rejected the payment")
	_, err = w.PayInvoice(ctx, testutils.Bolt11Invoice, w.CurrentMint(),
		signer.NewExtensionSigner(&fakeBridge{err: bridgeErr}))
	if !errors.Is(err, bridgeErr) {
		t.Errorf("expected '%v' but got '%v' instead", bridgeErr, err)
	}
	if balance := w.GetBalance(); balance != 1000 {
		t.Errorf("expected balance 1000 but got %v", balance)
	}
}

func TestPayInvoiceFallsBackToMelt(t *testing.T) {
	fm, err := testutils.NewFakeMint()
	if err != nil {
		t.Fatalf("NewFakeMint: %v", err)
	}
	defer fm.Close()
	ctx := context.Background()

	w := testWallet(t, fm.URL())
	fundWallet(t, w, fm, 300000)

	key, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("error generating key: %v", err)
	}

	// a local signer has no payment rail of its own
	result, err := w.PayInvoice(ctx, testutils.Bolt11Invoice, w.CurrentMint(),
		signer.NewLocalSigner(key))
	if err != nil {
		t.Fatalf("PayInvoice: %v", err)
	}
	if result.State != nut05.Paid {
		t.Errorf("expected '%v' but got '%v' instead", nut05.Paid, result.State)
	}
	if result.Preimage == "" {
		t.Error("expected a preimage from the melt")
	}
	if balance := w.GetBalance(); balance >= 300000 {
		t.Errorf("expected the melt to spend ecash, balance still %v", balance)
	}
}
