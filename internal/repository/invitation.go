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

const invitationCols = `id, chat_id, inviter_id, invitee_id, status, created_at, updated_at`

type InvitationRepository struct {
	pool *pgxpool.Pool
}

func NewInvitationRepository(pool *pgxpool.Pool) *InvitationRepository {
	return &InvitationRepository{pool: pool}
}

func scanInvitation(s interface{ Scan(dest ...any) error }, inv *model.Invitation) error {
	return s.Scan(&inv.ID, &inv.ChatID, &inv.InviterID, &inv.InviteeID, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt)
}

func (r *InvitationRepository) Create(ctx context.Context, inv *model.Invitation) error {
	defer logger.DeferLogDuration("invitation.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO invitations (id, chat_id, inviter_id, invitee_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		inv.ID, inv.ChatID, inv.InviterID, inv.InviteeID, inv.Status, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("invitationRepo.Create: %w", err)
	}
	return nil
}

func (r *InvitationRepository) GetByID(ctx context.Context, id string) (*model.Invitation, error) {
	defer logger.DeferLogDuration("invitation.GetByID", time.Now())()
	inv := &model.Invitation{}
	row := r.pool.QueryRow(ctx, `SELECT `+invitationCols+` FROM invitations WHERE id = $1`, id)
	if err := scanInvitation(row, inv); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("invitationRepo.GetByID: %w", err)
	}
	return inv, nil
}

// ListPendingForUser returns the caller's undecided invitations enriched with
// the chat and inviter context the inbox UI renders.
func (r *InvitationRepository) ListPendingForUser(ctx context.Context, userID string) ([]model.InvitationView, error) {
	defer logger.DeferLogDuration("invitation.ListPendingForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT i.id, i.chat_id, i.inviter_id, i.invitee_id, i.status, i.created_at, i.updated_at,
		        COALESCE(c.name,''), c.chat_type,
		        u.display_name, u.email
		 FROM invitations i
		 JOIN chats c ON c.id = i.chat_id
		 JOIN users u ON u.id = i.inviter_id
		 WHERE i.invitee_id = $1 AND i.status = 'pending'
		 ORDER BY i.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("invitationRepo.ListPendingForUser query: %w", err)
	}
	defer rows.Close()

	views := make([]model.InvitationView, 0, 8)
	for rows.Next() {
		var v model.InvitationView
		err := rows.Scan(&v.ID, &v.ChatID, &v.InviterID, &v.InviteeID, &v.Status, &v.CreatedAt, &v.UpdatedAt,
			&v.ChatName, &v.ChatType, &v.InviterName, &v.InviterEmail)
		if err != nil {
			return nil, fmt.Errorf("invitationRepo.ListPendingForUser scan: %w", err)
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("invitationRepo.ListPendingForUser rows: %w", err)
	}
	return views, nil
}

// Accept flips a pending invitation to accepted and appends the invitee as a
// member participant, atomically. The row lock keeps two concurrent decisions
// on the same invitation serialized; the second caller sees the flipped
// status and gets ErrInvitationDecided.
func (r *InvitationRepository) Accept(ctx context.Context, invitationID, userID string) (*model.Invitation, error) {
	defer logger.DeferLogDuration("invitation.Accept", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("invitationRepo.Accept begin: %w", err)
	}
	defer tx.Rollback(ctx)

	inv := &model.Invitation{}
	row := tx.QueryRow(ctx, `SELECT `+invitationCols+` FROM invitations WHERE id = $1 FOR UPDATE`, invitationID)
	if err := scanInvitation(row, inv); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("invitationRepo.Accept select: %w", err)
	}
	if err := inv.CanDecide(userID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx,
		`UPDATE invitations SET status = $1, updated_at = $2 WHERE id = $3`,
		model.InvitationAccepted, now, invitationID,
	)
	if err != nil {
		return nil, fmt.Errorf("invitationRepo.Accept update: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO chat_participants (chat_id, user_id, role, joined_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (chat_id, user_id) DO NOTHING`,
		inv.ChatID, userID, model.RoleMember, now,
	)
	if err != nil {
		return nil, fmt.Errorf("invitationRepo.Accept insert participant: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("invitationRepo.Accept commit: %w", err)
	}
	inv.Status = model.InvitationAccepted
	inv.UpdatedAt = now
	return inv, nil
}

// Reject flips a pending invitation to rejected under the same guard; no
// participant row is touched.
func (r *InvitationRepository) Reject(ctx context.Context, invitationID, userID string) (*model.Invitation, error) {
	defer logger.DeferLogDuration("invitation.Reject", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("invitationRepo.Reject begin: %w", err)
	}
	defer tx.Rollback(ctx)

	inv := &model.Invitation{}
	row := tx.QueryRow(ctx, `SELECT `+invitationCols+` FROM invitations WHERE id = $1 FOR UPDATE`, invitationID)
	if err := scanInvitation(row, inv); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("invitationRepo.Reject select: %w", err)
	}
	if err := inv.CanDecide(userID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx,
		`UPDATE invitations SET status = $1, updated_at = $2 WHERE id = $3`,
		model.InvitationRejected, now, invitationID,
	)
	if err != nil {
		return nil, fmt.Errorf("invitationRepo.Reject update: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("invitationRepo.Reject commit: %w", err)
	}
	inv.Status = model.InvitationRejected
	inv.UpdatedAt = now
	return inv, nil
}
