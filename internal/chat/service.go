// Package chat orchestrates the session directory, message store and relay
// gateway behind one facade. It holds no state of its own.
package chat

import (
	"context"
	"errors"

	"github.com/careline/careline-server/internal/core"
	"github.com/careline/careline-server/internal/relay"
	"github.com/careline/careline-server/internal/session"
	"github.com/careline/careline-server/internal/store"
)

// Service validates caller participation, writes through the message store
// and notifies the relay gateway after the write has committed.
type Service struct {
	store     store.Store
	directory *session.Directory
	gateway   *relay.Gateway
}

// New creates the conversation facade.
func New(st store.Store, directory *session.Directory, gateway *relay.Gateway) *Service {
	return &Service{
		store:     st,
		directory: directory,
		gateway:   gateway,
	}
}

// ConversationView is a conversation with its message log populated.
type ConversationView struct {
	Conversation *store.Conversation
	Messages     []*store.Message
}

// OpenWithPatient resolves (or creates) a doctor's conversation with the
// named patient.
func (s *Service) OpenWithPatient(ctx context.Context, callerRole core.Role, callerID, patientID int64) (*ConversationView, error) {
	if callerRole != core.RoleDoctor {
		return nil, core.Forbidden("only doctors can open patient conversations")
	}
	if patientID <= 0 {
		return nil, core.InvalidArgument("patient id is required")
	}
	patient, err := s.store.GetUserByID(ctx, patientID)
	if err != nil || patient.Role != core.RolePatient {
		return nil, core.NotFound("patient not found")
	}
	return s.open(ctx, patient.ID, callerID)
}

// OpenWithDoctor resolves (or creates) a patient's conversation with the
// singular provisioned doctor.
func (s *Service) OpenWithDoctor(ctx context.Context, callerRole core.Role, callerID int64) (*ConversationView, error) {
	if callerRole != core.RolePatient {
		return nil, core.Forbidden("only patients can open a doctor conversation")
	}
	doctor, err := s.store.FirstUserByRole(ctx, core.RoleDoctor)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.NotFound("no doctor provisioned")
		}
		return nil, core.Unavailable("resolve doctor", err)
	}
	return s.open(ctx, callerID, doctor.ID)
}

func (s *Service) open(ctx context.Context, patientID, doctorID int64) (*ConversationView, error) {
	conv, err := s.directory.GetOrCreate(ctx, patientID, doctorID)
	if err != nil {
		return nil, core.Unavailable("open conversation", err)
	}

	messages, err := s.store.ListMessages(ctx, conv.ID, 0, nil)
	if err != nil {
		return nil, core.Unavailable("load messages", err)
	}

	return &ConversationView{Conversation: conv, Messages: messages}, nil
}

// SendMessage appends a message to the conversation and pushes it to the
// other participant's live connection, if any. Delivery happens only after
// the append has durably committed; a persistence failure fails the send
// outright with no push.
func (s *Service) SendMessage(ctx context.Context, callerID int64, conversationID, content string) (*store.Message, error) {
	conv, err := s.loadForParticipant(ctx, conversationID, callerID)
	if err != nil {
		return nil, err
	}

	msg, err := s.store.AppendMessage(ctx, conversationID, callerID, content)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrEmptyMessage):
			return nil, core.InvalidArgument("message content is empty")
		case errors.Is(err, store.ErrNotParticipant):
			return nil, core.Forbidden("not a conversation participant")
		case errors.Is(err, store.ErrNotFound):
			return nil, core.NotFound("conversation not found")
		default:
			return nil, core.Unavailable("append message", err)
		}
	}

	s.gateway.Deliver(conv.Counterpart(callerID), msg)
	return msg, nil
}

// ListMessages returns the conversation's messages in chronological order.
// afterID is a resume cursor for clients re-syncing after a reconnect.
func (s *Service) ListMessages(ctx context.Context, callerID int64, conversationID string, limit int, afterID *int64) ([]*store.Message, error) {
	if _, err := s.loadForParticipant(ctx, conversationID, callerID); err != nil {
		return nil, err
	}

	messages, err := s.store.ListMessages(ctx, conversationID, limit, afterID)
	if err != nil {
		return nil, core.Unavailable("list messages", err)
	}
	return messages, nil
}

// MarkAsRead flips the read flag on every message in the conversation not
// sent by the caller. Returns the number of messages flipped.
func (s *Service) MarkAsRead(ctx context.Context, callerID int64, conversationID string) (int64, error) {
	if _, err := s.loadForParticipant(ctx, conversationID, callerID); err != nil {
		return 0, err
	}

	n, err := s.store.MarkRead(ctx, conversationID, callerID)
	if err != nil {
		return 0, core.Unavailable("mark read", err)
	}
	return n, nil
}

// ListConversations returns the caller's conversations, most recent activity
// first, with unread counts.
func (s *Service) ListConversations(ctx context.Context, callerID int64) ([]*store.ConversationSummary, error) {
	summaries, err := s.store.ListConversations(ctx, callerID)
	if err != nil {
		return nil, core.Unavailable("list conversations", err)
	}
	return summaries, nil
}

// loadForParticipant is the single participation check all conversation
// operations go through.
func (s *Service) loadForParticipant(ctx context.Context, conversationID string, callerID int64) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.NotFound("conversation not found")
		}
		return nil, core.Unavailable("load conversation", err)
	}
	if !conv.Participant(callerID) {
		return nil, core.Forbidden("not a conversation participant")
	}
	return conv, nil
}
