package nutzap

import (
	"context"
	"errors"

	"github.com/nbd-wtf/go-nostr"
)

// RelayTransport is a Transport over a set of nostr relays.
type RelayTransport struct {
	pool   *nostr.SimplePool
	relays []string
}

func NewRelayTransport(ctx context.Context, relays []string) (*RelayTransport, error) {
	if len(relays) == 0 {
		return nil, errors.New("no relays to connect to")
	}
	return &RelayTransport{
		pool:   nostr.NewSimplePool(ctx),
		relays: relays,
	}, nil
}

func (t *RelayTransport) FetchInfo(ctx context.Context, pubkey string) (*nostr.Event, error) {
	filter := nostr.Filter{
		Kinds:   []int{KindNutzapInfo},
		Authors: []string{pubkey},
		Limit:   1,
	}
	relayEvent := t.pool.QuerySingle(ctx, t.relays, filter)
	if relayEvent == nil {
		return nil, nil
	}
	return relayEvent.Event, nil
}

// Publish sends the event to every relay, succeeding if at least one
// accepted it.
func (t *RelayTransport) Publish(ctx context.Context, event *nostr.Event) error {
	var lastErr error
	published := false
	for _, url := range t.relays {
		relay, err := t.pool.EnsureRelay(url)
		if err != nil {
			lastErr = err
			continue
		}
		if err := relay.Publish(ctx, *event); err != nil {
			lastErr = err
			continue
		}
		published = true
	}
	if !published {
		return lastErr
	}
	return nil
}

func (t *RelayTransport) FetchNutzaps(ctx context.Context, pubkey string, since nostr.Timestamp) (
	[]*nostr.Event, error) {

	filter := nostr.Filter{
		Kinds: []int{KindNutzap},
		Tags:  nostr.TagMap{"p": []string{pubkey}},
		Since: &since,
	}

	var events []*nostr.Event
	seen := make(map[string]bool)
	for relayEvent := range t.pool.SubManyEose(ctx, t.relays, nostr.Filters{filter}) {
		if seen[relayEvent.ID] {
			continue
		}
		seen[relayEvent.ID] = true
		events = append(events, relayEvent.Event)
	}
	return events, nil
}
