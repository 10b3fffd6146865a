package wallet

import (
	"context"
	"fmt"

	decodepay "github.com/nbd-wtf/ln-decodepay"
	"go.uber.org/zap"

	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut05"
	"github.com/silentius-satoshi/ZapTok-sub006/signer"
)

// PayInvoice pays a bolt11 invoice. When the signer's backing context
// can pay invoices itself, the payment goes through it and no ecash
// moves. Otherwise the invoice is melted at the given mint.
func (w *Wallet) PayInvoice(ctx context.Context, invoice, mintURL string,
	s signer.Signer) (*MeltResult, error) {

	bridge, ok := s.(signer.LightningBridge)
	if !ok {
		return w.Melt(ctx, invoice, mintURL)
	}

	bolt11, err := decodepay.Decodepay(invoice)
	if err != nil {
		return nil, fmt.Errorf("invalid invoice: %v", err)
	}

	preimage, err := bridge.SendPayment(ctx, invoice)
	if err != nil {
		return nil, fmt.Errorf("bridge payment failed: %w", err)
	}

	w.logger.Info("paid invoice through signer bridge",
		zap.Uint64("amount", uint64(bolt11.MSatoshi/1000)))
	return &MeltResult{
		Amount:   uint64(bolt11.MSatoshi / 1000),
		Preimage: preimage,
		State:    nut05.Paid,
	}, nil
}
