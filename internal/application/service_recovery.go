package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/cadencehq/identity-service/internal/domain"
)

// RequestPasswordReset mints a one-time reset token and mails it. Unknown
// usernames return success so the endpoint cannot be used to enumerate
// accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, username string) error {
	username = strings.TrimSpace(strings.ToLower(username))
	if username == "" {
		return fmt.Errorf("%w: username is required", domain.ErrInvalidInput)
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.InfoContext(ctx, "password reset requested for unknown identity",
				"operation", "password_reset_request", "outcome", "noop")
			return nil
		}
		return err
	}

	token, err := randomOpaqueToken(recoveryTokenBytes)
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}
	now := s.nowFn().UTC()
	if err := s.recovery.CreatePasswordResetToken(ctx, user.UserID, hashOpaqueToken(token), now, now.Add(s.cfg.ResetTokenTTL)); err != nil {
		return fmt.Errorf("persist reset token: %w", err)
	}

	if err := s.mailer.SendPasswordReset(ctx, user.Email, token); err != nil {
		// The token is already durable; delivery can be retried by the user
		// asking again.
		s.logger.WarnContext(ctx, "password reset mail delivery failed",
			"operation", "password_reset_request", "outcome", "degraded", "error", err)
	}
	return nil
}

// ConfirmPasswordReset redeems a reset token, installs the new password and
// revokes every outstanding refresh token for the account.
func (s *Service) ConfirmPasswordReset(ctx context.Context, req PasswordResetConfirmRequest) error {
	if req.Token == "" {
		return fmt.Errorf("%w: token is required", domain.ErrInvalidInput)
	}
	if err := s.cfg.PasswordPolicy.Validate(req.NewPassword); err != nil {
		return err
	}

	now := s.nowFn().UTC()
	userID, err := s.recovery.ConsumePasswordResetToken(ctx, hashOpaqueToken(req.Token), now)
	if err != nil {
		return err
	}

	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash, now); err != nil {
		return err
	}

	// A reset usually means the old credential is suspect. Drop every live
	// session with it.
	if err := s.refreshTokens.RevokeAllForUser(ctx, userID, now); err != nil {
		s.logger.WarnContext(ctx, "session revocation after reset failed",
			"operation", "password_reset_confirm", "outcome", "degraded", "error", err, "user_id", userID)
	}
	if user, lerr := s.users.GetByID(ctx, userID); lerr == nil {
		if gerr := s.guard.RecordSuccess(ctx, user.Username); gerr != nil {
			s.logger.WarnContext(ctx, "attempt guard reset failed",
				"operation", "password_reset_confirm", "outcome", "degraded", "error", gerr)
		}
	}

	s.recordAudit(domain.AuditEntry{
		ActorUserID:  &userID,
		Action:       domain.AuditActionPasswordReset,
		ResourceType: "user",
		ResourceID:   userID.String(),
		OccurredAt:   now,
	})
	s.logger.InfoContext(ctx, "password reset completed",
		"operation", "password_reset_confirm", "outcome", "success", "user_id", userID)
	return nil
}

// RequestEmailVerification mints a verification token for the user and mails
// it. Already-verified addresses short-circuit to success.
func (s *Service) RequestEmailVerification(ctx context.Context, userID uuid.UUID) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.EmailVerified {
		return nil
	}

	token, err := randomOpaqueToken(recoveryTokenBytes)
	if err != nil {
		return fmt.Errorf("generate verification token: %w", err)
	}
	now := s.nowFn().UTC()
	if err := s.recovery.CreateEmailVerificationToken(ctx, user.UserID, hashOpaqueToken(token), now, now.Add(s.cfg.VerifyTokenTTL)); err != nil {
		return fmt.Errorf("persist verification token: %w", err)
	}

	if err := s.mailer.SendEmailVerification(ctx, user.Email, token); err != nil {
		s.logger.WarnContext(ctx, "verification mail delivery failed",
			"operation", "email_verification_request", "outcome", "degraded", "error", err)
	}
	return nil
}

// ConfirmEmailVerification redeems a verification token and flips the email
// verified flag.
func (s *Service) ConfirmEmailVerification(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("%w: token is required", domain.ErrInvalidInput)
	}
	now := s.nowFn().UTC()
	userID, err := s.recovery.ConsumeEmailVerificationToken(ctx, hashOpaqueToken(token), now)
	if err != nil {
		return err
	}
	if err := s.users.SetEmailVerified(ctx, userID, true, now); err != nil {
		return err
	}

	s.recordAudit(domain.AuditEntry{
		ActorUserID:  &userID,
		Action:       domain.AuditActionEmailVerified,
		ResourceType: "user",
		ResourceID:   userID.String(),
		OccurredAt:   now,
	})
	return nil
}

// SweepExpired deletes storage rows whose tokens can no longer be redeemed.
// Run from the worker on a schedule; live requests never depend on it.
func (s *Service) SweepExpired(ctx context.Context) (refreshDeleted, recoveryDeleted int64, err error) {
	cutoff := s.nowFn().UTC()
	refreshDeleted, err = s.refreshTokens.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("sweep refresh tokens: %w", err)
	}
	recoveryDeleted, err = s.recovery.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return refreshDeleted, 0, fmt.Errorf("sweep recovery tokens: %w", err)
	}
	return refreshDeleted, recoveryDeleted, nil
}
