// Package service implements the account and session lifecycle: sign-up and
// sign-in (password or Apple), single-use refresh rotation, sign-out, and the
// token-gated email and password update flows.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"perroquet/internal/auth/apple"
	"perroquet/internal/auth/models"
	"perroquet/internal/auth/token"
	"perroquet/internal/mail"
	"perroquet/internal/platform/metrics"
	id "perroquet/pkg/domain"
	dErrors "perroquet/pkg/domain-errors"
	"perroquet/pkg/secrets"
	"perroquet/pkg/sentinel"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

// UserStore persists accounts.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, userID id.UserID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByAppleID(ctx context.Context, appleID string) (*models.User, error)
	UpdatePasswordHash(ctx context.Context, userID id.UserID, passwordHash string, now time.Time) error
	SetPendingEmail(ctx context.Context, userID id.UserID, email string, now time.Time) error
	ApprovePendingEmail(ctx context.Context, userID id.UserID, now time.Time) error
}

// SessionStore persists device-bound refresh credentials.
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, sessionID id.SessionID) (*models.Session, error)
	Rotate(ctx context.Context, presentedSecret, newSecret string, now time.Time) (*models.Session, error)
	Delete(ctx context.Context, sessionID id.SessionID, userID id.UserID) error
	UpdateMessagingToken(ctx context.Context, sessionID id.SessionID, userID id.UserID, messagingToken string, now time.Time) (*models.Session, error)
	DeleteByUser(ctx context.Context, userID id.UserID) error
}

// IdentityVerifier turns a federated authorization code into a verified
// identity.
type IdentityVerifier interface {
	VerifyAuthCode(ctx context.Context, code string, surface apple.Surface) (*models.FederatedIdentity, error)
}

// Service orchestrates accounts, sessions, and tokens.
type Service struct {
	users    UserStore
	sessions SessionStore
	verifier IdentityVerifier
	tokens   *token.Service
	mailer   mail.Mailer
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics attaches application metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// withNow injects the clock. Tests only.
func withNow(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New constructs the auth service.
func New(users UserStore, sessions SessionStore, verifier IdentityVerifier, tokens *token.Service, mailer mail.Mailer, opts ...Option) *Service {
	s := &Service{
		users:    users,
		sessions: sessions,
		verifier: verifier,
		tokens:   tokens,
		mailer:   mailer,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// SignUpParams carries a password sign-up request.
type SignUpParams struct {
	Username   string
	Email      string
	Password   string
	DeviceName string
}

// SignUp creates a password account and opens its first session.
func (s *Service) SignUp(ctx context.Context, params SignUpParams) (*models.AccessInfo, error) {
	hash, err := secrets.Hash(ctx, params.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &models.User{
		ID:           id.NewUserID(),
		Email:        params.Email,
		PasswordHash: &hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if params.Username != "" {
		user.Username = &params.Username
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "account already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not create account")
	}
	if s.metrics != nil {
		s.metrics.IncrementUsersCreated()
	}
	s.logger.InfoContext(ctx, "user created", "user_id", user.ID)

	return s.openSession(ctx, user.ID, params.DeviceName)
}

// SignIn authenticates a password account and opens a new session. Every
// failure mode collapses into the same unauthorized error so callers learn
// nothing about which part of the credential was wrong.
func (s *Service) SignIn(ctx context.Context, email, password, deviceName string) (*models.AccessInfo, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, s.signInRejected(ctx, "unknown email", err)
	}
	if user.PasswordHash == nil {
		return nil, s.signInRejected(ctx, "account has no password", nil)
	}
	if err := secrets.Verify(ctx, password, *user.PasswordHash); err != nil {
		if dErrors.HasCode(err, dErrors.CodeTimeout) {
			return nil, err
		}
		return nil, s.signInRejected(ctx, "password mismatch", err)
	}
	return s.openSession(ctx, user.ID, deviceName)
}

func (s *Service) signInRejected(ctx context.Context, reason string, err error) error {
	s.logger.WarnContext(ctx, "sign-in rejected", "reason", reason, "error", err)
	if s.metrics != nil {
		s.metrics.IncrementAuthFailures()
	}
	return dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
}

// SignInWithApple verifies a Sign in with Apple authorization code and opens
// a session, creating the account on first contact.
func (s *Service) SignInWithApple(ctx context.Context, code string, surface apple.Surface, deviceName string) (*models.AccessInfo, error) {
	identity, err := s.verifier.VerifyAuthCode(ctx, code, surface)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncrementAuthFailures()
		}
		return nil, err
	}

	user, err := s.users.FindByAppleID(ctx, identity.Subject)
	switch {
	case err == nil:
	case errors.Is(err, sentinel.ErrNotFound):
		user, err = s.createAppleUser(ctx, identity)
		if err != nil {
			return nil, err
		}
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not look up account")
	}

	return s.openSession(ctx, user.ID, deviceName)
}

func (s *Service) createAppleUser(ctx context.Context, identity *models.FederatedIdentity) (*models.User, error) {
	now := s.now()
	appleID := identity.Subject
	user := &models.User{
		ID:        id.NewUserID(),
		Email:     identity.Email,
		AppleID:   &appleID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "account already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not create account")
	}
	if s.metrics != nil {
		s.metrics.IncrementUsersCreated()
	}
	s.logger.InfoContext(ctx, "user created from apple identity", "user_id", user.ID)
	return user, nil
}

// openSession generates a fresh refresh secret, persists the session, and
// mints the first access token.
func (s *Service) openSession(ctx context.Context, userID id.UserID, deviceName string) (*models.AccessInfo, error) {
	secret, err := secrets.Generate()
	if err != nil {
		return nil, err
	}

	now := s.now()
	session := &models.Session{
		ID:            id.NewSessionID(),
		UserID:        userID,
		RefreshSecret: secret,
		DeviceName:    deviceName,
		RefreshedAt:   now,
		UpdatedAt:     now,
		CreatedAt:     now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not create session")
	}
	if s.metrics != nil {
		s.metrics.IncrementSessionsCreated()
	}

	accessToken, err := s.mintAccessToken(userID)
	if err != nil {
		return nil, err
	}
	return &models.AccessInfo{
		AccessToken:   accessToken,
		RefreshSecret: secret,
		SessionID:     session.ID,
	}, nil
}

func (s *Service) mintAccessToken(userID id.UserID) (string, error) {
	accessToken, err := s.tokens.Mint(userID.String(), token.PurposeNone)
	if err != nil {
		return "", err
	}
	if s.metrics != nil {
		s.metrics.IncrementTokensMinted()
	}
	return accessToken, nil
}

// Refresh exchanges a presented refresh secret for a new one plus a fresh
// access token. The store performs the swap as a single conditional update,
// so a replayed or concurrently-rotated secret loses cleanly: exactly one
// caller per secret ever receives the new credential.
func (s *Service) Refresh(ctx context.Context, presentedSecret string) (*models.AccessInfo, error) {
	newSecret, err := secrets.Generate()
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.Rotate(ctx, presentedSecret, newSecret, s.now())
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.logger.WarnContext(ctx, "refresh rejected: secret not current")
			if s.metrics != nil {
				s.metrics.IncrementAuthFailures()
			}
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid refresh token")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not rotate session")
	}
	if s.metrics != nil {
		s.metrics.IncrementSessionsRotated()
	}

	accessToken, err := s.mintAccessToken(session.UserID)
	if err != nil {
		return nil, err
	}
	return &models.AccessInfo{
		AccessToken:   accessToken,
		RefreshSecret: newSecret,
		SessionID:     session.ID,
	}, nil
}

// SignOut revokes one session. Revoking an already-absent session succeeds:
// the caller's end state is "session gone" either way, so a replayed sign-out
// is not an error.
func (s *Service) SignOut(ctx context.Context, sessionID id.SessionID, userID id.UserID) error {
	if err := s.sessions.Delete(ctx, sessionID, userID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.logger.InfoContext(ctx, "sign-out for absent session", "session_id", sessionID)
			return nil
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not revoke session")
	}
	if s.metrics != nil {
		s.metrics.IncrementSessionsRevoked()
	}
	return nil
}

// RegisterMessagingToken attaches a push token to an owned session, making
// the device a reminder notification target.
func (s *Service) RegisterMessagingToken(ctx context.Context, sessionID id.SessionID, userID id.UserID, messagingToken string) (*models.Session, error) {
	session, err := s.sessions.UpdateMessagingToken(ctx, sessionID, userID, messagingToken, s.now())
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "session not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not register messaging token")
	}
	return session, nil
}

// RequestEmailUpdate stages a new address on the account and mails it a
// confirmation code. The mail leaves on its own goroutine; a slow relay never
// holds the request open.
func (s *Service) RequestEmailUpdate(ctx context.Context, userID id.UserID, newEmail string) error {
	if err := s.users.SetPendingEmail(ctx, userID, newEmail, s.now()); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeNotFound, "account not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not stage email update")
	}

	confirmToken, err := s.tokens.Mint(userID.String(), token.PurposeEditEmail)
	if err != nil {
		return err
	}
	s.sendMailAsync(mail.EmailUpdateMessage(newEmail, confirmToken))
	return nil
}

// ConfirmEmailUpdate verifies the confirmation code and promotes the staged
// address. The code only verifies under the edit-email purpose key, so no
// token minted for any other flow can drive this operation.
func (s *Service) ConfirmEmailUpdate(ctx context.Context, userID id.UserID, confirmToken string) error {
	claims, err := s.tokens.Verify(confirmToken, token.PurposeEditEmail, true)
	if err != nil {
		return err
	}
	if claims.Subject != userID.String() {
		return dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	if err := s.users.ApprovePendingEmail(ctx, userID, s.now()); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return dErrors.Wrap(err, dErrors.CodeConflict, "no email update pending")
		}
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeNotFound, "account not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not apply email update")
	}
	s.logger.InfoContext(ctx, "email updated", "user_id", userID)
	return nil
}

// RequestPasswordUpdate mails a reset code to the account's address. An
// unknown address is deliberately indistinguishable from a known one.
func (s *Service) RequestPasswordUpdate(ctx context.Context, email string) error {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.logger.WarnContext(ctx, "password reset requested for unknown email")
			return nil
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not look up account")
	}

	resetToken, err := s.tokens.Mint(user.ID.String(), token.PurposeEditPassword)
	if err != nil {
		return err
	}
	s.sendMailAsync(mail.PasswordUpdateMessage(user.Email, resetToken))
	return nil
}

// UpdatePassword applies a reset code. All sessions of the account are
// revoked so stolen refresh secrets die with the old password.
func (s *Service) UpdatePassword(ctx context.Context, resetToken, newPassword string) error {
	claims, err := s.tokens.Verify(resetToken, token.PurposeEditPassword, true)
	if err != nil {
		return err
	}
	userID, err := id.ParseUserID(claims.Subject)
	if err != nil {
		return dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	hash, err := secrets.Hash(ctx, newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePasswordHash(ctx, userID, hash, s.now()); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeNotFound, "account not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not update password")
	}

	if err := s.sessions.DeleteByUser(ctx, userID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not revoke sessions")
	}
	s.logger.InfoContext(ctx, "password updated, sessions revoked", "user_id", userID)
	return nil
}

func (s *Service) sendMailAsync(email mail.Email) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.mailer.Send(ctx, email); err != nil {
			s.logger.Error("transactional mail failed", "subject", email.Subject, "error", err)
		}
	}()
}
