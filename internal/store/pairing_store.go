// Package store defines the persistence interfaces used by the gateway.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrPairingNotFound is returned when a pairing code is unknown or expired.
var ErrPairingNotFound = errors.New("pairing code not found or expired")

// PairingRequest is a pending DM pairing awaiting operator approval.
type PairingRequest struct {
	Code       string    `json:"code"`
	Channel    string    `json:"channel"`
	AccountID  string    `json:"account_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	ChatID     string    `json:"chat_id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// PairedSender is an approved DM sender.
type PairedSender struct {
	Channel    string    `json:"channel"`
	AccountID  string    `json:"account_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	ApprovedAt time.Time `json:"approved_at"`
}

// PairingStore persists DM pairing state.
type PairingStore interface {
	// IsPaired reports whether the sender was approved for this channel account.
	IsPaired(ctx context.Context, channel, accountID, senderID string) (bool, error)

	// RequestPairing returns the sender's pending code, creating one if none is live.
	RequestPairing(ctx context.Context, req PairingRequest) (string, error)

	// Approve turns a pending code into a paired sender.
	Approve(ctx context.Context, code string) (*PairedSender, error)

	// Revoke removes an approval. Returns false when the sender was not paired.
	Revoke(ctx context.Context, channel, accountID, senderID string) (bool, error)

	ListPending(ctx context.Context) ([]PairingRequest, error)
	ListPaired(ctx context.Context) ([]PairedSender, error)
	Close() error
}
