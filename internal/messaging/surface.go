// Package messaging abstracts the chat platform the negotiations run
// on: ephemeral deal channels, prompts, posting restrictions and a
// one-shot "next message from this actor" read.
package messaging

import (
	"context"
	"errors"
	"time"
)

// ErrAwaitTimeout is returned by AwaitMessage when the window closes
// without a matching message.
var ErrAwaitTimeout = errors.New("await message: timed out")

// PromptOption is one interactive choice attached to a prompt.
type PromptOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Surface is the messaging capability the engine is injected with.
// Delivery failures never fail a deal transition; callers log and move on.
type Surface interface {
	// CreateDealChannel opens a private channel for the two actors and
	// returns its identifier, which doubles as the deal id.
	CreateDealChannel(ctx context.Context, initiator, counterparty string) (string, error)
	// DeleteChannel tears the channel down after the given delay.
	DeleteChannel(ctx context.Context, channelID string, after time.Duration) error
	// Send posts a plain message to the channel.
	Send(ctx context.Context, channelID, text string) error
	// SendTo posts a message addressed to one actor in the channel.
	SendTo(ctx context.Context, channelID, actorID, text string) error
	// SendPrompt posts a message with interactive options.
	SendPrompt(ctx context.Context, channelID, text string, options []PromptOption) error
	// Restrict revokes the actor's ability to post in the channel.
	Restrict(ctx context.Context, channelID, actorID string) error
	// Unrestrict restores the actor's ability to post.
	Unrestrict(ctx context.Context, channelID, actorID string) error
	// AwaitMessage blocks for the next message from the actor in the
	// channel, up to the timeout. Cancel the context to abandon the read.
	AwaitMessage(ctx context.Context, channelID, actorID string, timeout time.Duration) (string, error)
}
