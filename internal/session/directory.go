// Package session maps a (patient, doctor) pair to exactly one conversation.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/careline/careline-server/internal/store"
)

// Directory resolves conversations by participant pair, creating them on
// first use. Uniqueness is enforced by the storage layer; concurrent
// creation races are absorbed here and never surface to callers.
type Directory struct {
	conversations store.ConversationStore
}

// New creates a directory over the given conversation store.
func New(conversations store.ConversationStore) *Directory {
	return &Directory{conversations: conversations}
}

// GetOrCreate returns the conversation for the pair, creating it if absent.
// Two near-simultaneous calls can both observe "absent"; the insert's unique
// constraint picks a winner and the loser re-fetches the winning record.
func (d *Directory) GetOrCreate(ctx context.Context, patientID, doctorID int64) (*store.Conversation, error) {
	conv, err := d.conversations.GetConversationByPair(ctx, patientID, doctorID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("lookup conversation: %w", err)
	}

	conv, err = d.conversations.CreateConversation(ctx, patientID, doctorID)
	if err == nil {
		return conv, nil
	}
	if errors.Is(err, store.ErrConversationExists) {
		// Lost the creation race; the winner's record is authoritative.
		return d.conversations.GetConversationByPair(ctx, patientID, doctorID)
	}
	return nil, fmt.Errorf("create conversation: %w", err)
}
