package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beamchat/internal/logger"
	"github.com/beamchat/internal/model"
)

const chatCols = `id, chat_type, COALESCE(name,''), created_by, COALESCE(participants_key,''), last_message_id, created_at, updated_at`

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

func scanChat(s interface{ Scan(dest ...any) error }, c *model.Chat) error {
	return s.Scan(&c.ID, &c.ChatType, &c.Name, &c.CreatedBy, &c.ParticipantsKey, &c.LastMessageID, &c.CreatedAt, &c.UpdatedAt)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *ChatRepository) GetByID(ctx context.Context, id string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetByID", time.Now())()
	c := &model.Chat{}
	row := r.pool.QueryRow(ctx, `SELECT `+chatCols+` FROM chats WHERE id = $1`, id)
	if err := scanChat(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("chatRepo.GetByID: %w", err)
	}
	return c, nil
}

// CreatePrivate inserts a private chat and both participants in one
// transaction. The partial unique index on participants_key makes a second
// chat for the same pair impossible; a unique violation maps to
// ErrAlreadyExists so the handler can fetch and return the existing one.
func (r *ChatRepository) CreatePrivate(ctx context.Context, c *model.Chat, userA, userB string) error {
	defer logger.DeferLogDuration("chat.CreatePrivate", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("chatRepo.CreatePrivate begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO chats (id, chat_type, name, created_by, participants_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		c.ID, c.ChatType, c.Name, c.CreatedBy, c.ParticipantsKey, c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("chatRepo.CreatePrivate insert chat: %w", err)
	}
	for _, uid := range []string{userA, userB} {
		_, err = tx.Exec(ctx,
			`INSERT INTO chat_participants (chat_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
			c.ID, uid, model.RoleMember, c.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("chatRepo.CreatePrivate insert participant: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("chatRepo.CreatePrivate commit: %w", err)
	}
	return nil
}

// CreateGroup inserts a group chat with the creator as its sole admin
// participant. Invitees are never inserted here; they arrive through
// accepted invitations only.
func (r *ChatRepository) CreateGroup(ctx context.Context, c *model.Chat) error {
	defer logger.DeferLogDuration("chat.CreateGroup", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("chatRepo.CreateGroup begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO chats (id, chat_type, name, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)`,
		c.ID, c.ChatType, c.Name, c.CreatedBy, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.CreateGroup insert chat: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO chat_participants (chat_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
		c.ID, c.CreatedBy, model.RoleAdmin, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.CreateGroup insert admin: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("chatRepo.CreateGroup commit: %w", err)
	}
	return nil
}

func (r *ChatRepository) FindPrivateByKey(ctx context.Context, key string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.FindPrivateByKey", time.Now())()
	c := &model.Chat{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+chatCols+` FROM chats WHERE chat_type = 'private' AND participants_key = $1`, key)
	if err := scanChat(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("chatRepo.FindPrivateByKey: %w", err)
	}
	return c, nil
}

// IsMember is the membership authority: a fresh read on every call so that
// revocations and invitation acceptances take effect on the next check.
func (r *ChatRepository) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	defer logger.DeferLogDuration("chat.IsMember", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM chat_participants WHERE chat_id = $1 AND user_id = $2)`,
		chatID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("chatRepo.IsMember: %w", err)
	}
	return exists, nil
}

func (r *ChatRepository) MemberRole(ctx context.Context, chatID, userID string) (model.Role, error) {
	defer logger.DeferLogDuration("chat.MemberRole", time.Now())()
	var role model.Role
	err := r.pool.QueryRow(ctx,
		`SELECT role FROM chat_participants WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID,
	).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("chatRepo.MemberRole: %w", err)
	}
	return role, nil
}

func (r *ChatRepository) GetParticipants(ctx context.Context, chatID string) ([]model.Participant, error) {
	defer logger.DeferLogDuration("chat.GetParticipants", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT chat_id, user_id, role, joined_at FROM chat_participants
		 WHERE chat_id = $1 ORDER BY joined_at`, chatID)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetParticipants query: %w", err)
	}
	defer rows.Close()

	parts := make([]model.Participant, 0, 8)
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.ChatID, &p.UserID, &p.Role, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("chatRepo.GetParticipants scan: %w", err)
		}
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.GetParticipants rows: %w", err)
	}
	return parts, nil
}

// ChatIDsForUser feeds the auto-join scan at session establishment.
func (r *ChatRepository) ChatIDsForUser(ctx context.Context, userID string) ([]string, error) {
	defer logger.DeferLogDuration("chat.ChatIDsForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT chat_id FROM chat_participants WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.ChatIDsForUser query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 16)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("chatRepo.ChatIDsForUser scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.ChatIDsForUser rows: %w", err)
	}
	return ids, nil
}

func (r *ChatRepository) GetUserChats(ctx context.Context, userID string) ([]model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetUserChats", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+chatColsPrefixed+` FROM chats c
		 JOIN chat_participants cp ON cp.chat_id = c.id
		 WHERE cp.user_id = $1
		 ORDER BY c.updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetUserChats query: %w", err)
	}
	defer rows.Close()

	chats := make([]model.Chat, 0, 16)
	for rows.Next() {
		var c model.Chat
		if err := scanChat(rows, &c); err != nil {
			return nil, fmt.Errorf("chatRepo.GetUserChats scan: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.GetUserChats rows: %w", err)
	}
	return chats, nil
}

const chatColsPrefixed = `c.id, c.chat_type, COALESCE(c.name,''), c.created_by, COALESCE(c.participants_key,''), c.last_message_id, c.created_at, c.updated_at`

// SetLastMessage is best-effort bookkeeping after a persist; callers log and
// continue on failure.
func (r *ChatRepository) SetLastMessage(ctx context.Context, chatID, messageID string) error {
	defer logger.DeferLogDuration("chat.SetLastMessage", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE chats SET last_message_id = $1, updated_at = $2 WHERE id = $3`,
		messageID, time.Now().UTC(), chatID,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.SetLastMessage: %w", err)
	}
	return nil
}
