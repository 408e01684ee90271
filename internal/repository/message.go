package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beamchat/internal/logger"
	"github.com/beamchat/internal/model"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("message.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, chat_id, sender_id, text, image_url, audio_url, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.ChatID, m.SenderID, m.Text, m.ImageURL, m.AudioURL, m.Status, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("messageRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("message.GetByID", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx,
		`SELECT id, chat_id, sender_id, COALESCE(text,''), COALESCE(image_url,''), COALESCE(audio_url,''), status, created_at
		 FROM messages WHERE id = $1`, id)
	err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Text, &m.ImageURL, &m.AudioURL, &m.Status, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("messageRepo.GetByID: %w", err)
	}
	return m, nil
}

// ListByChat returns a chat's messages oldest-first with the sender snapshot
// joined in, the shape the history endpoint and message-new share.
func (r *MessageRepository) ListByChat(ctx context.Context, chatID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("message.ListByChat", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.chat_id, m.sender_id, COALESCE(m.text,''), COALESCE(m.image_url,''), COALESCE(m.audio_url,''),
		        m.status, m.created_at,
		        u.id, u.email, u.display_name, u.avatar_url
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.chat_id = $1
		 ORDER BY m.created_at ASC
		 LIMIT $2`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.ListByChat query: %w", err)
	}
	defer rows.Close()

	msgs := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		var s model.UserPublic
		err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Text, &m.ImageURL, &m.AudioURL,
			&m.Status, &m.CreatedAt,
			&s.ID, &s.Email, &s.DisplayName, &s.AvatarURL)
		if err != nil {
			return nil, fmt.Errorf("messageRepo.ListByChat scan: %w", err)
		}
		m.Sender = &s
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messageRepo.ListByChat rows: %w", err)
	}
	return msgs, nil
}

// MarkRead records a read receipt; re-reads are no-ops via ON CONFLICT.
func (r *MessageRepository) MarkRead(ctx context.Context, messageID, userID string) error {
	defer logger.DeferLogDuration("message.MarkRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO message_reads (message_id, user_id, read_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (message_id, user_id) DO NOTHING`,
		messageID, userID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("messageRepo.MarkRead: %w", err)
	}
	return nil
}
