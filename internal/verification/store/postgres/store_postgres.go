// Package postgres implements the verification stores on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	platformpg "vouch/internal/platform/postgres"
	"vouch/internal/verification"
	id "vouch/pkg/domain"
	"vouch/pkg/platform/sentinel"
)

// StatusStore is the Postgres StatusStore implementation. Lazy initialization
// and increments ride on upserts so concurrent callers stay consistent.
type StatusStore struct {
	pool *pgxpool.Pool
}

func NewStatusStore(pool *pgxpool.Pool) *StatusStore {
	return &StatusStore{pool: pool}
}

func (s *StatusStore) Get(ctx context.Context, userID id.UserID) (*verification.Status, error) {
	const query = `
		INSERT INTO verification_statuses (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO UPDATE SET user_id = excluded.user_id
		RETURNING user_id, referral_count, verified, verified_by, verified_at`

	var (
		status     verification.Status
		userUUID   uuid.UUID
		verifiedBy *uuid.UUID
	)
	err := s.pool.QueryRow(ctx, query, uuid.UUID(userID)).Scan(
		&userUUID, &status.ReferralCount, &status.Verified, &verifiedBy, &status.VerifiedAt)
	if err != nil {
		return nil, fmt.Errorf("get verification status: %w", err)
	}
	status.UserID = id.UserID(userUUID)
	if verifiedBy != nil {
		by := id.UserID(*verifiedBy)
		status.VerifiedBy = &by
	}
	return &status, nil
}

func (s *StatusStore) IncrementReferralCount(ctx context.Context, userID id.UserID) (int, error) {
	const query = `
		INSERT INTO verification_statuses (user_id, referral_count)
		VALUES ($1, 1)
		ON CONFLICT (user_id) DO UPDATE
			SET referral_count = verification_statuses.referral_count + 1
		RETURNING referral_count`

	var count int
	if err := s.pool.QueryRow(ctx, query, uuid.UUID(userID)).Scan(&count); err != nil {
		return 0, fmt.Errorf("increment referral count: %w", err)
	}
	return count, nil
}

func (s *StatusStore) SetVerified(ctx context.Context, userID id.UserID, by *id.UserID, at time.Time) error {
	const query = `
		INSERT INTO verification_statuses (user_id, verified, verified_by, verified_at)
		VALUES ($1, TRUE, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			verified    = TRUE,
			verified_by = CASE WHEN verification_statuses.verified
				THEN verification_statuses.verified_by ELSE excluded.verified_by END,
			verified_at = CASE WHEN verification_statuses.verified
				THEN verification_statuses.verified_at ELSE excluded.verified_at END`

	var byUUID *uuid.UUID
	if by != nil {
		u := uuid.UUID(*by)
		byUUID = &u
	}
	if _, err := s.pool.Exec(ctx, query, uuid.UUID(userID), byUUID, at); err != nil {
		return fmt.Errorf("set verified: %w", err)
	}
	return nil
}

// ReferralStore is the Postgres ReferralStore implementation.
type ReferralStore struct {
	pool *pgxpool.Pool
}

func NewReferralStore(pool *pgxpool.Pool) *ReferralStore {
	return &ReferralStore{pool: pool}
}

func (s *ReferralStore) Create(ctx context.Context, referral *verification.Referral) error {
	const query = `
		INSERT INTO referrals (id, sender_id, recipient_email, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, query,
		uuid.UUID(referral.ID),
		uuid.UUID(referral.Sender),
		strings.TrimSpace(referral.RecipientEmail),
		string(referral.Status),
		referral.CreatedAt,
	)
	if err != nil {
		if platformpg.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyExists
		}
		return fmt.Errorf("create referral: %w", err)
	}
	return nil
}

func (s *ReferralStore) Get(ctx context.Context, referralID id.ReferralID) (*verification.Referral, error) {
	const query = `
		SELECT id, sender_id, recipient_email, recipient_id, status, created_at, responded_at
		FROM referrals WHERE id = $1`

	referral, err := scanReferral(s.pool.QueryRow(ctx, query, uuid.UUID(referralID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get referral: %w", err)
	}
	return referral, nil
}

func (s *ReferralStore) BindRecipient(ctx context.Context, referralID id.ReferralID, userID id.UserID) error {
	const query = `UPDATE referrals SET recipient_id = $2 WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, uuid.UUID(referralID), uuid.UUID(userID))
	if err != nil {
		return fmt.Errorf("bind referral recipient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// MarkAccepted transitions pending to accepted in one guarded update so two
// concurrent acceptances yield exactly one success.
func (s *ReferralStore) MarkAccepted(ctx context.Context, referralID id.ReferralID, now time.Time) (*verification.Referral, error) {
	const query = `
		UPDATE referrals
		SET status = 'accepted', responded_at = $2
		WHERE id = $1 AND status = 'pending' AND recipient_id IS NOT NULL
		RETURNING id, sender_id, recipient_email, recipient_id, status, created_at, responded_at`

	referral, err := scanReferral(s.pool.QueryRow(ctx, query, uuid.UUID(referralID), now))
	if err == nil {
		return referral, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("mark referral accepted: %w", err)
	}

	// The guarded update matched nothing; classify why.
	existing, getErr := s.Get(ctx, referralID)
	if getErr != nil {
		return nil, getErr
	}
	if existing.Status == verification.ReferralAccepted {
		return nil, sentinel.ErrAlreadyExists
	}
	return nil, sentinel.ErrInvalidState
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReferral(row rowScanner) (*verification.Referral, error) {
	var (
		referral      verification.Referral
		referralUUID  uuid.UUID
		senderUUID    uuid.UUID
		recipientUUID *uuid.UUID
		status        string
	)
	err := row.Scan(&referralUUID, &senderUUID, &referral.RecipientEmail,
		&recipientUUID, &status, &referral.CreatedAt, &referral.RespondedAt)
	if err != nil {
		return nil, err
	}
	referral.ID = id.ReferralID(referralUUID)
	referral.Sender = id.UserID(senderUUID)
	referral.Status = verification.ReferralStatus(status)
	if recipientUUID != nil {
		recipient := id.UserID(*recipientUUID)
		referral.Recipient = &recipient
	}
	return &referral, nil
}
