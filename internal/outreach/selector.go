package outreach

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"telereach/internal/storage"
)

// Selector computes the candidate set: everyone in the inbox snapshot minus
// users with a sent record minus the do-not-contact list.
type Selector struct {
	store storage.Store
	rng   *rand.Rand
}

func NewSelector(store storage.Store) *Selector {
	return &Selector{
		store: store,
		// Local RNG: the shuffle only needs to decorrelate send order from
		// scrape order, not be cryptographic.
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Select reads one consistent snapshot and returns the shuffled candidate
// IDs. Store failures are fatal; there is no retry at this layer.
func (s *Selector) Select(ctx context.Context) ([]int64, error) {
	inbox, err := s.store.InboxUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load inbox snapshot: %w", err)
	}
	sent, err := s.store.SentUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load sent set: %w", err)
	}
	dnc, err := s.store.DNCUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load do-not-contact set: %w", err)
	}

	out := make([]int64, 0, len(inbox))
	for id := range inbox {
		if _, ok := sent[id]; ok {
			continue
		}
		if _, ok := dnc[id]; ok {
			continue
		}
		out = append(out, id)
	}

	s.rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out, nil
}
