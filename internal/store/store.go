package store

import (
	"context"
	"errors"
	"time"

	"github.com/careline/careline-server/internal/core"
)

// Sentinel errors returned by store implementations. Callers match them with
// errors.Is and translate into the domain error taxonomy.
var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConversationExists is returned when inserting a conversation for a
	// (patient, doctor) pair that already has one. The uniqueness constraint
	// lives in the storage layer; the session directory absorbs this error
	// by re-fetching the winning record.
	ErrConversationExists = errors.New("conversation already exists")
	// ErrNotParticipant is returned when a sender is not one of the two
	// participants of the conversation.
	ErrNotParticipant = errors.New("sender is not a conversation participant")
	// ErrEmptyMessage is returned when message content is empty after trimming.
	ErrEmptyMessage = errors.New("message content is empty")
)

// User is an account record. Accounts are created through the auth boundary;
// the chat core only reads them.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Role         core.Role
	CreatedAt    time.Time
}

// Conversation is the durable, unique messaging session between one patient
// and one doctor. Participants are immutable after creation.
type Conversation struct {
	ID             string // opaque UUID
	PatientID      int64
	DoctorID       int64
	IsActive       bool
	LastActivityAt time.Time
	CreatedAt      time.Time
}

// Participant reports whether userID is one of the conversation's two sides.
func (c *Conversation) Participant(userID int64) bool {
	return userID == c.PatientID || userID == c.DoctorID
}

// Counterpart returns the other participant's ID.
func (c *Conversation) Counterpart(userID int64) int64 {
	if userID == c.PatientID {
		return c.DoctorID
	}
	return c.PatientID
}

// Message is one immutable utterance within a conversation. Only the Read
// flag ever changes after insert.
type Message struct {
	ID             int64
	ConversationID string
	SenderID       int64
	Content        string
	SentAt         time.Time
	Read           bool
}

// ConversationSummary is a conversation together with the number of messages
// not yet read by the user the listing was produced for.
type ConversationSummary struct {
	Conversation *Conversation
	Unread       int
}

// UserStore handles account persistence.
type UserStore interface {
	// CreateUser creates a new account with a pre-hashed password.
	CreateUser(ctx context.Context, username, displayName, passwordHash string, role core.Role) (*User, error)

	// GetUserByID retrieves an account by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves an account by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// ListUsersByRole lists accounts with the given role, ordered by display name.
	ListUsersByRole(ctx context.Context, role core.Role) ([]*User, error)

	// FirstUserByRole returns the earliest-created account with the given role.
	// Used to resolve the singular provisioned doctor for patient callers.
	FirstUserByRole(ctx context.Context, role core.Role) (*User, error)
}

// ConversationStore handles the conversation directory records.
type ConversationStore interface {
	// CreateConversation inserts a new empty conversation for the pair.
	// Returns ErrConversationExists if the unique pair constraint fires.
	CreateConversation(ctx context.Context, patientID, doctorID int64) (*Conversation, error)

	// GetConversation retrieves a conversation by ID.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// GetConversationByPair retrieves the conversation for a (patient, doctor) pair.
	GetConversationByPair(ctx context.Context, patientID, doctorID int64) (*Conversation, error)

	// ListConversations lists the conversations userID participates in,
	// most recent activity first, with per-conversation unread counts.
	ListConversations(ctx context.Context, userID int64) ([]*ConversationSummary, error)
}

// MessageStore handles the append-only per-conversation message log.
type MessageStore interface {
	// AppendMessage validates the sender and content, stamps a sent-at
	// timestamp no earlier than the previous message's, inserts the message
	// and advances the conversation's last activity, all in one transaction.
	AppendMessage(ctx context.Context, conversationID string, senderID int64, content string) (*Message, error)

	// ListMessages returns messages in chronological order. afterID is a
	// cursor: when non-nil only messages with a larger ID are returned.
	// limit <= 0 means no limit.
	ListMessages(ctx context.Context, conversationID string, limit int, afterID *int64) ([]*Message, error)

	// MarkRead flips the read flag on every unread message in the
	// conversation not sent by readerID. Returns the number of messages
	// flipped; calling it again immediately returns zero.
	MarkRead(ctx context.Context, conversationID string, readerID int64) (int64, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ConversationStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
