package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/careline/careline-server/internal/core"
	"github.com/careline/careline-server/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; this also serializes
	// append transactions so every reader sees one consistent total order.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewWithSetup opens the database and runs a setup function before the
// schema check. Useful for tests that need to seed rows directly.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	s, err := New(dbPath)
	if err != nil {
		return nil, err
	}
	if setup != nil {
		if err := setup(s.db); err != nil {
			s.db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// now returns the timestamp used for new records. Microsecond precision
// matches the tick used when correcting clock regression.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	// Fallback for wrapped driver errors.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ==== UserStore implementation ====

// CreateUser creates a new account with a pre-hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, displayName, passwordHash string, role core.Role) (*store.User, error) {
	query := `
		INSERT INTO users (username, display_name, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, username, displayName, passwordHash, string(role), now())
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

const userColumns = `id, username, display_name, password_hash, role, created_at`

func scanUser(row *sql.Row) (*store.User, error) {
	var user store.User
	var role string
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.DisplayName,
		&user.PasswordHash,
		&role,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	user.Role = core.Role(role)
	return &user, nil
}

// GetUserByID retrieves an account by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	return scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByUsername retrieves an account by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ?`
	return scanUser(s.db.QueryRowContext(ctx, query, username))
}

// ListUsersByRole lists accounts with the given role, ordered by display name.
func (s *SQLiteStore) ListUsersByRole(ctx context.Context, role core.Role) ([]*store.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role = ? ORDER BY display_name ASC`
	rows, err := s.db.QueryContext(ctx, query, string(role))
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []*store.User
	for rows.Next() {
		var user store.User
		var r string
		if err := rows.Scan(&user.ID, &user.Username, &user.DisplayName, &user.PasswordHash, &r, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		user.Role = core.Role(r)
		users = append(users, &user)
	}

	return users, rows.Err()
}

// FirstUserByRole returns the earliest-created account with the given role.
func (s *SQLiteStore) FirstUserByRole(ctx context.Context, role core.Role) (*store.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role = ? ORDER BY id ASC LIMIT 1`
	return scanUser(s.db.QueryRowContext(ctx, query, string(role)))
}

// ==== ConversationStore implementation ====

// CreateConversation inserts a new empty conversation for the pair.
// The UNIQUE(patient_id, doctor_id) constraint resolves concurrent creation:
// the loser gets ErrConversationExists and re-fetches the winner.
func (s *SQLiteStore) CreateConversation(ctx context.Context, patientID, doctorID int64) (*store.Conversation, error) {
	id := uuid.NewString()
	ts := now()

	query := `
		INSERT INTO conversations (id, patient_id, doctor_id, is_active, last_activity_at, created_at)
		VALUES (?, ?, ?, 1, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, id, patientID, doctorID, ts, ts); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("pair (%d, %d): %w", patientID, doctorID, store.ErrConversationExists)
		}
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	return s.GetConversation(ctx, id)
}

const conversationColumns = `id, patient_id, doctor_id, is_active, last_activity_at, created_at`

func scanConversation(row *sql.Row) (*store.Conversation, error) {
	var conv store.Conversation
	err := row.Scan(
		&conv.ID,
		&conv.PatientID,
		&conv.DoctorID,
		&conv.IsActive,
		&conv.LastActivityAt,
		&conv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return &conv, nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`
	return scanConversation(s.db.QueryRowContext(ctx, query, id))
}

// GetConversationByPair retrieves the conversation for a (patient, doctor) pair.
func (s *SQLiteStore) GetConversationByPair(ctx context.Context, patientID, doctorID int64) (*store.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE patient_id = ? AND doctor_id = ?`
	return scanConversation(s.db.QueryRowContext(ctx, query, patientID, doctorID))
}

// ListConversations lists the conversations userID participates in, most
// recent activity first, with per-conversation unread counts.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID int64) ([]*store.ConversationSummary, error) {
	query := `
		SELECT c.id, c.patient_id, c.doctor_id, c.is_active, c.last_activity_at, c.created_at,
			(SELECT COUNT(*) FROM messages m
			 WHERE m.conversation_id = c.id AND m.read = 0 AND m.sender_id != ?) AS unread
		FROM conversations c
		WHERE c.patient_id = ? OR c.doctor_id = ?
		ORDER BY c.last_activity_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var summaries []*store.ConversationSummary
	for rows.Next() {
		var conv store.Conversation
		var unread int
		if err := rows.Scan(&conv.ID, &conv.PatientID, &conv.DoctorID, &conv.IsActive, &conv.LastActivityAt, &conv.CreatedAt, &unread); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		summaries = append(summaries, &store.ConversationSummary{Conversation: &conv, Unread: unread})
	}

	return summaries, rows.Err()
}

// ==== MessageStore implementation ====

// AppendMessage validates the sender and content, stamps a monotonically
// non-decreasing sent-at timestamp, inserts the message and advances the
// conversation's last activity as one transaction.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, senderID int64, content string) (*store.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, store.ErrEmptyMessage
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var patientID, doctorID int64
	err = tx.QueryRowContext(ctx,
		`SELECT patient_id, doctor_id FROM conversations WHERE id = ?`,
		conversationID,
	).Scan(&patientID, &doctorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	if senderID != patientID && senderID != doctorID {
		return nil, store.ErrNotParticipant
	}

	sentAt := now()
	var prev time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT sent_at FROM messages WHERE conversation_id = ? ORDER BY id DESC LIMIT 1`,
		conversationID,
	).Scan(&prev)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// First message in the conversation.
	case err != nil:
		return nil, fmt.Errorf("query previous message: %w", err)
	case !sentAt.After(prev):
		// Clock regressed or stood still; ordering must never go backward.
		sentAt = prev.Add(time.Microsecond)
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, sender_id, content, sent_at, read)
		 VALUES (?, ?, ?, ?, 0)`,
		conversationID, senderID, content, sentAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_activity_at = ? WHERE id = ?`,
		sentAt, conversationID,
	); err != nil {
		return nil, fmt.Errorf("update conversation activity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return &store.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		SentAt:         sentAt,
		Read:           false,
	}, nil
}

// ListMessages returns messages in chronological order, optionally after a
// cursor ID and capped at limit.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int, afterID *int64) ([]*store.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, content, sent_at, read
		FROM messages
		WHERE conversation_id = ?
	`
	args := []any{conversationID}
	if afterID != nil {
		query += ` AND id > ?`
		args = append(args, *afterID)
	}
	query += ` ORDER BY id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var msg store.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.SentAt, &msg.Read); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}

// MarkRead flips the read flag on every unread message in the conversation
// not sent by readerID. Idempotent.
func (s *SQLiteStore) MarkRead(ctx context.Context, conversationID string, readerID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET read = 1
		 WHERE conversation_id = ? AND sender_id != ? AND read = 0`,
		conversationID, readerID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return rows, nil
}

// Ensure SQLiteStore implements store.Store
var _ store.Store = (*SQLiteStore)(nil)
