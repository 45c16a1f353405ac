package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/cadencehq/identity-service/internal/domain"
)

func newMockRepo(t *testing.T) (*refreshTokenRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	if err != nil {
		t.Fatalf("gorm open: %v", err)
	}
	return &refreshTokenRepository{db: db}, mock
}

func TestRefreshTokenGetByHash(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	tokenID := uuid.New()
	userID := uuid.New()
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT (.+) FROM "refresh_tokens" WHERE token_hash = (.+)`).
		WillReturnRows(sqlmock.NewRows([]string{"token_id", "token_hash", "user_id", "issued_at", "expires_at", "revoked_at"}).
			AddRow(tokenID, "abc123", userID, issued, issued.Add(30*24*time.Hour), nil))

	got, err := repo.GetByHash(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("get by hash: %v", err)
	}
	if got.TokenID != tokenID || got.UserID != userID || got.RevokedAt != nil {
		t.Fatalf("unexpected token: %+v", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshTokenGetByHashNotFound(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT (.+) FROM "refresh_tokens" WHERE token_hash = (.+)`).
		WillReturnRows(sqlmock.NewRows([]string{"token_id"}))

	if _, err := repo.GetByHash(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRefreshTokenConsumeByHashWinnerAndLoser(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	// First redeemer matches the conditional update.
	mock.ExpectExec(`UPDATE "refresh_tokens" SET "revoked_at"=(.+) WHERE token_hash = (.+) AND revoked_at IS NULL`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	won, err := repo.ConsumeByHash(context.Background(), "abc123", now)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !won {
		t.Fatalf("expected first consume to win")
	}

	// Second redeemer finds the row already revoked.
	mock.ExpectExec(`UPDATE "refresh_tokens" SET "revoked_at"=(.+) WHERE token_hash = (.+) AND revoked_at IS NULL`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	won, err = repo.ConsumeByHash(context.Background(), "abc123", now)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if won {
		t.Fatalf("expected second consume to lose")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshTokenRevokeAllForUser(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectExec(`UPDATE "refresh_tokens" SET "revoked_at"=(.+) WHERE user_id = (.+) AND revoked_at IS NULL`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	if err := repo.RevokeAllForUser(context.Background(), uuid.New(), time.Now().UTC()); err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshTokenDeleteExpiredBefore(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectExec(`DELETE FROM "refresh_tokens" WHERE expires_at < (.+)`).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := repo.DeleteExpiredBefore(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 7 {
		t.Fatalf("expected 7 rows deleted, got %d", n)
	}
}
