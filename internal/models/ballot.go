package models

import (
	"errors"
	"sync"
	"sync/atomic"
)

var ErrAlreadyVoted = errors.New("already voted")

// Guard is a one-shot claim. TryClaim must be called synchronously,
// before any rail call or other asynchronous work begins, so a second
// concurrent attempt observes the claim and no-ops.
type Guard struct {
	claimed atomic.Bool
}

// TryClaim returns true exactly once until Release is called.
func (g *Guard) TryClaim() bool { return g.claimed.CompareAndSwap(false, true) }

// Release clears the claim so the guarded step can be retried. Safe to
// call on an unclaimed guard.
func (g *Guard) Release() { g.claimed.Store(false) }

// Claimed reports the current claim state without taking it.
func (g *Guard) Claimed() bool { return g.claimed.Load() }

// Ballot is a two-slot agreement structure: one vote per actor, at most
// once, and a one-shot finalize claim so that two votes landing
// near-simultaneously trigger exactly one finalization.
type Ballot struct {
	mu    sync.Mutex
	votes map[string]string
	guard Guard
}

// Cast records the actor's vote. A repeat vote from the same actor
// fails with ErrAlreadyVoted and changes nothing.
func (b *Ballot) Cast(actor, choice string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.votes == nil {
		b.votes = make(map[string]string, 2)
	}
	if _, ok := b.votes[actor]; ok {
		return ErrAlreadyVoted
	}
	b.votes[actor] = choice
	return nil
}

// Complete reports whether both slots are filled.
func (b *Ballot) Complete() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.votes) == 2
}

// Vote returns the actor's vote, if cast.
func (b *Ballot) Vote(actor string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.votes[actor]
	return v, ok
}

// Unanimous returns the agreed choice when both slots hold it.
func (b *Ballot) Unanimous() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.votes) != 2 {
		return "", false
	}
	var first string
	for _, v := range b.votes {
		if first == "" {
			first = v
		} else if v != first {
			return "", false
		}
	}
	return first, true
}

// TryFinalize claims the one-shot finalize flag. Only the first caller
// after the ballot completes gets true.
func (b *Ballot) TryFinalize() bool {
	if !b.Complete() {
		return false
	}
	return b.guard.TryClaim()
}

// ForceFinalize claims the finalize flag regardless of how many votes
// are in. Used when an outside event (channel closing) settles the
// ballot with whatever was cast.
func (b *Ballot) ForceFinalize() bool { return b.guard.TryClaim() }

// ReleaseFinalize rolls the finalize claim back, keeping the votes.
// Used when the side effects behind finalization fail retryably.
func (b *Ballot) ReleaseFinalize() { b.guard.Release() }

// Reset clears both slots and the finalize claim, re-opening the
// ballot. Used for the disagree-retry loop.
func (b *Ballot) Reset() {
	b.mu.Lock()
	b.votes = nil
	b.mu.Unlock()
	b.guard.Release()
}
