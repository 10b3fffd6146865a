package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut05"
	"github.com/silentius-satoshi/ZapTok-sub006/testutils"
	"github.com/silentius-satoshi/ZapTok-sub006/wallet/storage"
)

func testWallet(t *testing.T, mintURL string) *Wallet {
	t.Helper()
	w, err := LoadWallet(Config{WalletPath: t.TempDir(), CurrentMintURL: mintURL})
	if err != nil {
		t.Fatalf("LoadWallet: %v", err)
	}
	t.Cleanup(func() { w.Shutdown() })
	return w
}

func fundWallet(t *testing.T, w *Wallet, fm *testutils.FakeMint, amount uint64) {
	t.Helper()
	ctx := context.Background()

	mintResponse, err := w.RequestMint(ctx, amount)
	if err != nil {
		t.Fatalf("RequestMint: %v", err)
	}
	if !fm.PayMintQuote(mintResponse.Quote) {
		t.Fatalf("could not pay quote '%v'", mintResponse.Quote)
	}
	minted, err := w.CheckAndClaim(ctx, mintResponse.Quote)
	if err != nil {
		t.Fatalf("CheckAndClaim: %v", err)
	}
	if minted != amount {
		t.Fatalf("expected '%v' minted but got '%v' instead", amount, minted)
	}
}

func TestMintFlow(t *testing.T) {
	fm, err := testutils.NewFakeMint()
	if err != nil {
		t.Fatalf("NewFakeMint: %v", err)
	}
	defer fm.Close()
	w := testWallet(t, fm.URL())
	ctx := context.Background()

	mintResponse, err := w.RequestMint(ctx, 1000)
	if err != nil {
		t.Fatalf("RequestMint: %v", err)
	}
	if len(mintResponse.Request) == 0 {
		t.Error("expected an invoice in the quote response")
	}

	// nothing to claim before the invoice is paid
	if _, err := w.CheckAndClaim(ctx, mintResponse.Quote); !errors.Is(err, ErrQuoteNotPaid) {
		t.Errorf("expected '%v' but got '%v' instead", ErrQuoteNotPaid, err)
	}
	if balance := w.GetBalance(); balance != 0 {
		t.Errorf("expected balance 0 but got %v", balance)
	}

	fm.PayMintQuote(mintResponse.Quote)

	amount, err := w.CheckAndClaim(ctx, mintResponse.Quote)
	if err != nil {
		t.Fatalf("CheckAndClaim: %v", err)
	}
	if amount != 1000 {
		t.Errorf("expected '%v' but got '%v' instead", 1000, amount)
	}
	if balance := w.GetBalance(); balance != 1000 {
		t.Errorf("expected balance 1000 but got %v", balance)
	}

	// claiming again does not double-credit
	if _, err := w.CheckAndClaim(ctx, mintResponse.Quote); !errors.Is(err, ErrQuoteNotFound) {
		t.Errorf("expected '%v' but got '%v' instead", ErrQuoteNotFound, err)
	}
	if balance := w.GetBalance(); balance != 1000 {
		t.Errorf("expected balance 1000 but got %v", balance)
	}
}

func TestSendExactAmount(t *testing.T) {
	fm, err := testutils.NewFakeMint()
	if err != nil {
		t.Fatalf("NewFakeMint: %v", err)
	}
	defer fm.Close()
	w := testWallet(t, fm.URL())
	ctx := context.Background()

	fundWallet(t, w, fm, 64)

	token, err := w.Send(ctx, 64, w.CurrentMint(), true)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if token.Amount() != 64 {
		t.Errorf("expected token amount 64 but got %v", token.Amount())
	}
	if balance := w.GetBalance(); balance != 0 {
		t.Errorf("expected balance 0 but got %v", balance)
	}
}

func TestSendWithChange(t *testing.T) {
	fm, err := testutils.NewFakeMint()
	if err != nil {
		t.Fatalf("NewFakeMint: %v", err)
	}
	defer fm.Close()
	w := testWallet(t, fm.URL())
	ctx := context.Background()

	fundWallet(t, w, fm, 100)

	token, err := w.Send(ctx, 10, w.CurrentMint(), true)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if token.Amount() != 10 {
		t.Errorf("expected token amount 10 but got %v", token.Amount())
	}
	if balance := w.GetBalance(); balance != 90 {
		t.Errorf("expected balance 90 but got %v", balance)
	}
}

func TestSendInsufficientBalance(t *testing.T) {
	fm, err := testutils.NewFakeMint()
	if err != nil {
		t.Fatalf("NewFakeMint: %v", err)
	}
	defer fm.Close()
	w := testWallet(t, fm.URL())
	ctx := context.Background()

	fundWallet(t, w, fm, 10)

	if _, err := w.Send(ctx, 100, w.CurrentMint(), true); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected '%v' but got '%v' instead", ErrInsufficientBalance, err)
	}
	if balance := w.GetBalance(); balance != 10 {
		t.Errorf("expected balance 10 but got %v", balance)
	}
}

func TestConcurrentSendNoDoubleSelect(t *testing.T) {
	fm, err := testutils.NewFakeMint()
	if err != nil {
		t.Fatalf("NewFakeMint: %v", err)
	}
	defer fm.Close()
	w := testWallet(t, fm.URL())
	ctx := context.Background()

	fundWallet(t, w, fm, 64)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = w.Send(ctx, 64, w.CurrentMint(), true)
		}(i)
	}
	wg.Wait()

	succeeded, failed := 0, 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if errors.Is(err, ErrInsufficientBalance) {
			failed++
		} else {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || failed != 1 {
		t.Errorf("expected exactly one send to succeed but got %v successes and %v failures",
			succeeded, failed)
	}
	if balance := w.GetBalance(); balance != 0 {
		t.Errorf("expected balance 0 but got %v", balance)
	}
}

func TestReceive(t *testing.T) {
	fm, err := testutils.NewFakeMint()
	if err != nil {
		t.Fatalf("NewFakeMint: %v", err)
	}
	defer fm.Close()
	sender := testWallet(t, fm.URL())
	receiver := testWallet(t, fm.URL())
	ctx := context.Background()

	fundWallet(t, sender, fm, 500)

	token, err := sender.Send(ctx, 500, sender.CurrentMint(), true)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	amount, err := receiver.Receive(ctx, token)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if amount != 500 {
		t.Errorf("expected '%v' but got '%v' instead", 500, amount)
	}
	if balance := receiver.GetBalance(); balance != 500 {
		t.Errorf("expected balance 500 but got %v", balance)
	}
	if balance := sender.GetBalance(); balance != 0 {
		t.Errorf("expected sender balance 0 but got %v", balance)
	}

	// the token was consumed by the first receive
	if _, err := receiver.Receive(ctx, token); !errors.Is(err, ErrProofAlreadySpent) {
		t.Errorf("expected '%v' but got '%v' instead", ErrProofAlreadySpent, err)
	}
}

func TestReceiveLockedToken(t *testing.T) {
	fm, err := testutils.NewFakeMint()
	if err != nil {
		t.Fatalf("NewFakeMint: %v", err)
	}
	defer fm.Close()
	sender := testWallet(t, fm.URL())
	receiver := testWallet(t, fm.URL())
	other := testWallet(t, fm.URL())
	ctx := context.Background()

	fundWallet(t, sender, fm, 64)

	token, err := sender.SendToPubkey(ctx, 21, sender.CurrentMint(), receiver.ReceivePubkey(), true)
	if err != nil {
		t.Fatalf("SendToPubkey: %v", err)
	}

	// a wallet without the matching key cannot redeem
	if _, err := other.Receive(ctx, token); err == nil {
		t.Error("expected receive with wrong key to fail")
	}

	amount, err := receiver.Receive(ctx, token)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if amount != 21 {
		t.Errorf("expected '%v' but got '%v' instead", 21, amount)
	}
}

func TestMelt(t *testing.T) {
	fm, err := testutils.NewFakeMint()
	if err != nil {
		t.Fatalf("NewFakeMint: %v", err)
	}
	defer fm.Close()
	w := testWallet(t, fm.URL())
	ctx := context.Background()

	fundWallet(t, w, fm, 300000)

	result, err := w.Melt(ctx, testutils.Bolt11Invoice, w.CurrentMint())
	if err != nil {
		t.Fatalf("Melt: %v", err)
	}
	if result.State != nut05.Paid {
		t.Errorf("expected state '%v' but got '%v' instead", nut05.Paid, result.State)
	}
	if result.Preimage == "" {
		t.Error("expected a preimage on successful melt")
	}
	if balance := w.GetBalance(); balance >= 300000-250000 {
		t.Errorf("expected balance below 50000 after melt but got %v", balance)
	}
	if pending := w.PendingTransactions(); len(pending) != 0 {
		t.Errorf("expected no pending transactions but got '%v'", pending)
	}
}

func TestMeltFailureReturnsProofs(t *testing.T) {
	fm, err := testutils.NewFakeMint()
	if err != nil {
		t.Fatalf("NewFakeMint: %v", err)
	}
	defer fm.Close()
	w := testWallet(t, fm.URL())
	ctx := context.Background()

	fundWallet(t, w, fm, 300000)
	fm.SetMeltState(nut05.Unpaid)

	if _, err := w.Melt(ctx, testutils.Bolt11Invoice, w.CurrentMint()); !errors.Is(err, ErrMeltFailed) {
		t.Errorf("expected '%v' but got '%v' instead", ErrMeltFailed, err)
	}
	if balance := w.GetBalance(); balance != 300000 {
		t.Errorf("expected balance 300000 but got %v", balance)
	}
	if pending := w.PendingTransactions(); len(pending) != 0 {
		t.Errorf("expected no pending transactions but got '%v'", pending)
	}
}

func TestMeltPendingThenRecovered(t *testing.T) {
	fm, err := testutils.NewFakeMint()
	if err != nil {
		t.Fatalf("NewFakeMint: %v", err)
	}
	defer fm.Close()
	w := testWallet(t, fm.URL())
	ctx := context.Background()

	fundWallet(t, w, fm, 300000)
	fm.SetMeltState(nut05.Pending)

	result, err := w.Melt(ctx, testutils.Bolt11Invoice, w.CurrentMint())
	if err != nil {
		t.Fatalf("Melt: %v", err)
	}
	if result.State != nut05.Pending {
		t.Errorf("expected state '%v' but got '%v' instead", nut05.Pending, result.State)
	}

	// reserved proofs are out of the balance while in flight
	balanceDuring := w.GetBalance()
	if balanceDuring >= 300000 {
		t.Errorf("expected balance below 300000 while pending but got %v", balanceDuring)
	}
	if pending := w.PendingTransactions(); len(pending) != 1 {
		t.Fatalf("expected one pending transaction but got '%v'", pending)
	}

	fm.SettlePendingMelt(result.QuoteId, nut05.Paid)

	recovery, err := w.RecoverPending(ctx)
	if err != nil {
		t.Fatalf("RecoverPending: %v", err)
	}
	if len(recovery.Settled) != 1 {
		t.Errorf("expected one settled quote but got '%v'", recovery)
	}
	if balance := w.GetBalance(); balance != balanceDuring {
		t.Errorf("expected balance %v after settle but got %v", balanceDuring, balance)
	}
	if pending := w.PendingTransactions(); len(pending) != 0 {
		t.Errorf("expected no pending transactions but got '%v'", pending)
	}
}

func TestRecoverPendingMintQuote(t *testing.T) {
	fm, err := testutils.NewFakeMint()
	if err != nil {
		t.Fatalf("NewFakeMint: %v", err)
	}
	defer fm.Close()
	w := testWallet(t, fm.URL())
	ctx := context.Background()

	mintResponse, err := w.RequestMint(ctx, 1000)
	if err != nil {
		t.Fatalf("RequestMint: %v", err)
	}
	fm.PayMintQuote(mintResponse.Quote)

	// the caller never claimed, recovery picks it up
	recovery, err := w.RecoverPending(ctx)
	if err != nil {
		t.Fatalf("RecoverPending: %v", err)
	}
	if len(recovery.Settled) != 1 {
		t.Errorf("expected one settled quote but got '%v'", recovery)
	}
	if balance := w.GetBalance(); balance != 1000 {
		t.Errorf("expected balance 1000 but got %v", balance)
	}
}

func TestRecoverPendingIdempotent(t *testing.T) {
	fm, err := testutils.NewFakeMint()
	if err != nil {
		t.Fatalf("NewFakeMint: %v", err)
	}
	defer fm.Close()
	w := testWallet(t, fm.URL())
	ctx := context.Background()

	mintResponse, err := w.RequestMint(ctx, 500)
	if err != nil {
		t.Fatalf("RequestMint: %v", err)
	}
	fm.PayMintQuote(mintResponse.Quote)

	if _, err := w.RecoverPending(ctx); err != nil {
		t.Fatalf("RecoverPending: %v", err)
	}
	balance := w.GetBalance()

	second, err := w.RecoverPending(ctx)
	if err != nil {
		t.Fatalf("RecoverPending: %v", err)
	}
	if len(second.Settled) != 0 || len(second.StillPending) != 0 {
		t.Errorf("expected second recovery to be a no-op but got '%v'", second)
	}
	if w.GetBalance() != balance {
		t.Errorf("expected balance unchanged at %v but got %v", balance, w.GetBalance())
	}
}

func TestBackupRestore(t *testing.T) {
	fm, err := testutils.NewFakeMint()
	if err != nil {
		t.Fatalf("NewFakeMint: %v", err)
	}
	defer fm.Close()
	w := testWallet(t, fm.URL())

	fundWallet(t, w, fm, 250)

	backup, err := w.Backup()
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}

	restored := testWallet(t, fm.URL())
	if err := restored.RestoreBackup(backup); err != nil {
		t.Fatalf("RestoreBackup: %v", err)
	}

	if balance := restored.GetBalance(); balance != 250 {
		t.Errorf("expected balance 250 but got %v", balance)
	}
	if restored.Mnemonic() != w.Mnemonic() {
		t.Errorf("expected mnemonic '%v' but got '%v'", w.Mnemonic(), restored.Mnemonic())
	}

	// a wallet holding funds refuses a restore
	funded := testWallet(t, fm.URL())
	fundWallet(t, funded, fm, 10)
	if err := funded.RestoreBackup(backup); err == nil {
		t.Error("expected restore over funded wallet to fail")
	}
}

func TestRefreshProofStates(t *testing.T) {
	fm, err := testutils.NewFakeMint()
	if err != nil {
		t.Fatalf("NewFakeMint: %v", err)
	}
	defer fm.Close()
	w := testWallet(t, fm.URL())
	ctx := context.Background()

	fundWallet(t, w, fm, 100)

	// nothing spent yet
	removed, err := w.RefreshProofStates(ctx, w.CurrentMint())
	if err != nil {
		t.Fatalf("RefreshProofStates: %v", err)
	}
	if removed != 0 {
		t.Errorf("expected nothing removed but got %v", removed)
	}

	// another wallet restored from the backup spends the proofs
	backup, err := w.Backup()
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	twin := testWallet(t, fm.URL())
	if err := twin.RestoreBackup(backup); err != nil {
		t.Fatalf("RestoreBackup: %v", err)
	}
	// a non-exact send swaps at the mint, burning the stored proofs
	if _, err := twin.Send(ctx, 70, twin.CurrentMint(), false); err != nil {
		t.Fatalf("Send: %v", err)
	}

	removed, err = w.RefreshProofStates(ctx, w.CurrentMint())
	if err != nil {
		t.Fatalf("RefreshProofStates: %v", err)
	}
	if removed != 100 {
		t.Errorf("expected 100 removed but got %v", removed)
	}
	if balance := w.GetBalance(); balance != 0 {
		t.Errorf("expected balance 0 but got %v", balance)
	}
}

func TestBalanceInvariant(t *testing.T) {
	fm, err := testutils.NewFakeMint()
	if err != nil {
		t.Fatalf("NewFakeMint: %v", err)
	}
	defer fm.Close()
	w := testWallet(t, fm.URL())
	ctx := context.Background()

	checkInvariant := func() {
		t.Helper()
		var sum uint64
		for _, mintBalance := range w.GetBalanceByMints() {
			sum += mintBalance
		}
		if balance := w.GetBalance(); balance != sum {
			t.Errorf("balance %v does not match per-mint sum %v", balance, sum)
		}
	}

	checkInvariant()
	fundWallet(t, w, fm, 100)
	checkInvariant()

	token, err := w.Send(ctx, 30, w.CurrentMint(), false)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	checkInvariant()

	if _, err := w.Receive(ctx, token); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	checkInvariant()
}

func TestMintInfo(t *testing.T) {
	fm, err := testutils.NewFakeMint()
	if err != nil {
		t.Fatalf("NewFakeMint: %v", err)
	}
	defer fm.Close()
	ctx := context.Background()

	w := testWallet(t, fm.URL())

	info, err := w.MintInfo(ctx, w.CurrentMint())
	if err != nil {
		t.Fatalf("MintInfo: %v", err)
	}
	if info.Name != "fake mint" {
		t.Errorf("expected '%v' but got '%v' instead", "fake mint", info.Name)
	}

	if _, err := w.MintInfo(ctx, "https://unknown-mint.example.com"); !errors.Is(err, ErrMintNotKnown) {
		t.Errorf("expected '%v' but got '%v' instead", ErrMintNotKnown, err)
	}
}

func TestDropExpiredPending(t *testing.T) {
	fm, err := testutils.NewFakeMint()
	if err != nil {
		t.Fatalf("NewFakeMint: %v", err)
	}
	defer fm.Close()
	ctx := context.Background()

	w := testWallet(t, fm.URL())

	// a quote whose expiry passed well beyond the cutoff
	stale := storage.PendingTransaction{
		Id:          "stalequote",
		Direction:   storage.In,
		QuoteId:     "stalequote",
		Mint:        w.CurrentMint(),
		Amount:      100,
		QuoteExpiry: uint64(time.Now().Add(-48 * time.Hour).Unix()),
		CreatedAt:   time.Now().Add(-48 * time.Hour).Unix(),
	}
	if err := w.db.SavePendingTransaction(stale); err != nil {
		t.Fatalf("SavePendingTransaction: %v", err)
	}

	// a live quote must survive the sweep
	mintResponse, err := w.RequestMint(ctx, 1000)
	if err != nil {
		t.Fatalf("RequestMint: %v", err)
	}

	dropped, err := w.DropExpiredPending()
	if err != nil {
		t.Fatalf("DropExpiredPending: %v", err)
	}
	if dropped != 1 {
		t.Errorf("expected '%v' but got '%v' instead", 1, dropped)
	}

	pending := w.PendingTransactions()
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending transaction but got %v", len(pending))
	}
	if pending[0].QuoteId != mintResponse.Quote {
		t.Errorf("expected '%v' but got '%v' instead", mintResponse.Quote, pending[0].QuoteId)
	}
}
