package nutzap

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"

	"github.com/silentius-satoshi/ZapTok-sub006/cashu"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut11"
	"github.com/silentius-satoshi/ZapTok-sub006/signer"
	"github.com/silentius-satoshi/ZapTok-sub006/wallet"
)

// Transport moves nutzap events to and from relays. Implementations
// decide which relays to use, the handler only cares about events.
type Transport interface {
	// FetchInfo returns the recipient's latest nutzap announcement,
	// or nil if they never published one.
	FetchInfo(ctx context.Context, pubkey string) (*nostr.Event, error)

	Publish(ctx context.Context, event *nostr.Event) error

	// FetchNutzaps returns nutzap events addressed to the given
	// recipient pubkey created after since.
	FetchNutzaps(ctx context.Context, pubkey string, since nostr.Timestamp) ([]*nostr.Event, error)
}

type Handler struct {
	wallet    *wallet.Wallet
	transport Transport
	signer    signer.Signer
	logger    *zap.Logger
}

func NewHandler(w *wallet.Wallet, transport Transport, s signer.Signer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{wallet: w, transport: transport, signer: s, logger: logger}
}

// Send locks the amount to the recipient's published key and hands it
// off as a nutzap event. eventRef optionally names the event being
// tipped. The returned event is the published nutzap.
//
// Compatibility is checked before any proofs move: if the recipient
// published no announcement or trusts none of the wallet's mints, the
// balance is left untouched.
func (h *Handler) Send(ctx context.Context, recipientPubkey string, amount uint64,
	eventRef, comment string) (*nostr.Event, error) {

	infoEvent, err := h.transport.FetchInfo(ctx, recipientPubkey)
	if err != nil {
		return nil, err
	}
	if infoEvent == nil {
		return nil, ErrRecipientHasNoWallet
	}
	info, err := ParseInfo(infoEvent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecipientHasNoWallet, err)
	}

	mintURL, err := h.compatibleMint(info)
	if err != nil {
		return nil, err
	}

	lockKey, err := nut11.ParsePublicKey(info.P2PKPubkey)
	if err != nil {
		return nil, fmt.Errorf("recipient published an invalid lock key: %v", err)
	}

	token, err := h.wallet.SendToPubkey(ctx, amount, mintURL, lockKey, true)
	if err != nil {
		return nil, err
	}

	event := &nostr.Event{
		Kind:    KindNutzap,
		Content: comment,
		Tags:    nostr.Tags{},
	}
	for _, proof := range token.Proofs() {
		proofJson, err := json.Marshal(proof)
		if err != nil {
			return nil, err
		}
		event.Tags = append(event.Tags, nostr.Tag{"proof", string(proofJson)})
	}
	event.Tags = append(event.Tags, nostr.Tag{"u", mintURL})
	if eventRef != "" {
		event.Tags = append(event.Tags, nostr.Tag{"e", eventRef})
	}
	event.Tags = append(event.Tags, nostr.Tag{"p", recipientPubkey})

	if err := h.signEvent(ctx, event); err != nil {
		return nil, err
	}
	if err := h.transport.Publish(ctx, event); err != nil {
		// the proofs are locked to the recipient and already out of
		// the balance. keep the event so the caller can retry.
		h.logger.Error("nutzap publish failed, event must be re-published",
			zap.String("recipient", recipientPubkey), zap.Error(err))
		return event, fmt.Errorf("nutzap created but not published: %w", err)
	}

	h.logger.Info("sent nutzap",
		zap.String("recipient", recipientPubkey),
		zap.String("mint", mintURL),
		zap.Uint64("amount", amount))
	return event, nil
}

// compatibleMint picks a mint both sides use: the wallet's current
// mint when the recipient trusts it, otherwise any shared one.
func (h *Handler) compatibleMint(info *Info) (string, error) {
	trusted := make([]string, len(info.TrustedMints))
	for i, mint := range info.TrustedMints {
		trusted[i] = cashu.NormalizeMintURL(mint)
	}

	if slices.Contains(trusted, h.wallet.CurrentMint()) {
		return h.wallet.CurrentMint(), nil
	}
	for _, mint := range h.wallet.TrustedMints() {
		if slices.Contains(trusted, mint) {
			return mint, nil
		}
	}
	return "", ErrNoCompatibleMint
}

// PublishInfo announces this wallet's lock key, mints and relays so
// others can nutzap it.
func (h *Handler) PublishInfo(ctx context.Context, relays []string) (*nostr.Event, error) {
	p2pkPubkey := hex.EncodeToString(h.wallet.ReceivePubkey().SerializeCompressed())
	event := InfoEvent(p2pkPubkey, h.wallet.TrustedMints(), relays)

	if err := h.signEvent(ctx, event); err != nil {
		return nil, err
	}
	if err := h.transport.Publish(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// Redeem claims the proofs in a nutzap event into the wallet and
// returns the amount credited.
func (h *Handler) Redeem(ctx context.Context, event *nostr.Event) (uint64, error) {
	if event.Kind != KindNutzap {
		return 0, fmt.Errorf("expected kind %d event, got %d", KindNutzap, event.Kind)
	}
	if ok, err := event.CheckSignature(); !ok {
		return 0, fmt.Errorf("nutzap event has an invalid signature: %v", err)
	}

	var proofs cashu.Proofs
	var mintURL string
	for _, tag := range event.Tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case "proof":
			var proof cashu.Proof
			if err := json.Unmarshal([]byte(tag[1]), &proof); err != nil {
				return 0, fmt.Errorf("nutzap has a malformed proof: %v", err)
			}
			proofs = append(proofs, proof)
		case "u":
			mintURL = tag[1]
		}
	}
	if len(proofs) == 0 {
		return 0, errors.New("nutzap event carries no proofs")
	}
	if mintURL == "" {
		return 0, errors.New("nutzap event names no mint")
	}

	token, err := cashu.NewTokenV4(proofs, mintURL, cashu.Sat, false)
	if err != nil {
		return 0, err
	}
	amount, err := h.wallet.Receive(ctx, token)
	if err != nil {
		return 0, err
	}

	h.logger.Info("redeemed nutzap",
		zap.String("from", event.PubKey),
		zap.Uint64("amount", amount))
	return amount, nil
}

// RedeemAll fetches nutzaps addressed to this wallet since the given
// time and claims each one. Already-spent ones are skipped. Returns
// the total amount credited.
func (h *Handler) RedeemAll(ctx context.Context, since nostr.Timestamp) (uint64, error) {
	pubkey, err := h.signer.PublicKey(ctx)
	if err != nil {
		return 0, err
	}
	events, err := h.transport.FetchNutzaps(ctx, pubkey, since)
	if err != nil {
		return 0, err
	}

	var total uint64
	for _, event := range events {
		amount, err := h.Redeem(ctx, event)
		if err != nil {
			if errors.Is(err, wallet.ErrProofAlreadySpent) {
				continue
			}
			h.logger.Warn("could not redeem nutzap",
				zap.String("event", event.ID), zap.Error(err))
			continue
		}
		total += amount
	}
	return total, nil
}

// signEvent stamps, ids and signs the event with the handler's signer.
func (h *Handler) signEvent(ctx context.Context, event *nostr.Event) error {
	pubkey, err := h.signer.PublicKey(ctx)
	if err != nil {
		return err
	}
	event.PubKey = pubkey
	event.CreatedAt = nostr.Now()
	event.ID = event.GetID()

	digest, err := hex.DecodeString(event.ID)
	if err != nil {
		return err
	}
	signature, err := h.signer.Sign(ctx, digest)
	if err != nil {
		return err
	}
	event.Sig = signature
	return nil
}
