package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"perroquet/internal/auth/apple"
	"perroquet/internal/auth/models"
	"perroquet/internal/auth/service/mocks"
	sessionstore "perroquet/internal/auth/store/session"
	userstore "perroquet/internal/auth/store/user"
	"perroquet/internal/auth/token"
	"perroquet/internal/mail"
	id "perroquet/pkg/domain"
	dErrors "perroquet/pkg/domain-errors"
)

// capturingMailer hands each outbound mail to the test through a channel so
// the async delivery goroutine can be awaited.
type capturingMailer struct {
	ch chan mail.Email
}

func newCapturingMailer() *capturingMailer {
	return &capturingMailer{ch: make(chan mail.Email, 8)}
}

func (m *capturingMailer) Send(_ context.Context, email mail.Email) error {
	m.ch <- email
	return nil
}

func (m *capturingMailer) waitForMail(t *testing.T) mail.Email {
	t.Helper()
	select {
	case email := <-m.ch:
		return email
	case <-time.After(2 * time.Second):
		t.Fatal("no mail sent within deadline")
		return mail.Email{}
	}
}

type ServiceSuite struct {
	suite.Suite

	ctrl     *gomock.Controller
	verifier *mocks.MockIdentityVerifier
	users    *userstore.InMemoryStore
	sessions *sessionstore.InMemoryStore
	tokens   *token.Service
	mailer   *capturingMailer
	service  *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.verifier = mocks.NewMockIdentityVerifier(s.ctrl)
	s.users = userstore.New()
	s.sessions = sessionstore.New()
	s.tokens = token.NewService("test-signing-secret", 15*time.Minute)
	s.mailer = newCapturingMailer()
	s.service = New(s.users, s.sessions, s.verifier, s.tokens, s.mailer)
}

func (s *ServiceSuite) signUp(email, password string) *models.AccessInfo {
	info, err := s.service.SignUp(context.Background(), SignUpParams{
		Email:      email,
		Password:   password,
		DeviceName: "test device",
	})
	s.Require().NoError(err)
	return info
}

func (s *ServiceSuite) Test_SignUp_OpensSession() {
	info := s.signUp("a@example.com", "hunter2hunter2")

	s.NotEmpty(info.AccessToken)
	s.GreaterOrEqual(len(info.RefreshSecret), 24)
	s.False(info.SessionID.IsNil())

	// The stored account never sees the plaintext password.
	user, err := s.users.FindByEmail(context.Background(), "a@example.com")
	s.Require().NoError(err)
	s.Require().NotNil(user.PasswordHash)
	s.NotContains(*user.PasswordHash, "hunter2")
}

func (s *ServiceSuite) Test_SignUp_DuplicateEmailConflicts() {
	s.signUp("a@example.com", "hunter2hunter2")

	_, err := s.service.SignUp(context.Background(), SignUpParams{
		Email:    "a@example.com",
		Password: "other-password",
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) Test_SignIn_FailuresAreIndistinguishable() {
	s.signUp("a@example.com", "hunter2hunter2")

	_, errWrongPassword := s.service.SignIn(context.Background(), "a@example.com", "wrong", "dev")
	_, errUnknownEmail := s.service.SignIn(context.Background(), "nobody@example.com", "wrong", "dev")

	s.Require().Error(errWrongPassword)
	s.Require().Error(errUnknownEmail)
	s.True(dErrors.HasCode(errWrongPassword, dErrors.CodeUnauthorized))
	// Identical message either way.
	s.Equal(errWrongPassword.Error(), errUnknownEmail.Error())
}

func (s *ServiceSuite) Test_SignInWithApple_FullRoundTrip() {
	ctx := context.Background()
	s.verifier.EXPECT().
		VerifyAuthCode(gomock.Any(), "ABC", apple.SurfaceIOS).
		Return(&models.FederatedIdentity{Subject: "u1", Email: "a@b.com", EmailVerified: true}, nil).
		Times(2)

	info, err := s.service.SignInWithApple(ctx, "ABC", apple.SurfaceIOS, "iphone")
	s.Require().NoError(err)
	s.GreaterOrEqual(len(info.RefreshSecret), 24)

	// The minted access token identifies the account created for u1.
	subject, err := s.tokens.VerifyAccessToken(info.AccessToken)
	s.Require().NoError(err)
	user, err := s.users.FindByAppleID(ctx, "u1")
	s.Require().NoError(err)
	s.Equal(user.ID.String(), subject)
	s.Equal("a@b.com", user.Email)

	// A second sign-in reuses the account instead of creating another.
	again, err := s.service.SignInWithApple(ctx, "ABC", apple.SurfaceIOS, "ipad")
	s.Require().NoError(err)
	subjectAgain, err := s.tokens.VerifyAccessToken(again.AccessToken)
	s.Require().NoError(err)
	s.Equal(subject, subjectAgain)
}

func (s *ServiceSuite) Test_SignInWithApple_PropagatesRejection() {
	s.verifier.EXPECT().
		VerifyAuthCode(gomock.Any(), "bad-code", apple.SurfaceWeb).
		Return(nil, dErrors.New(dErrors.CodeUnauthorized, "authorization code rejected"))

	_, err := s.service.SignInWithApple(context.Background(), "bad-code", apple.SurfaceWeb, "browser")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ServiceSuite) Test_Refresh_RotatesAndKillsReplay() {
	ctx := context.Background()
	info := s.signUp("a@example.com", "hunter2hunter2")

	rotated, err := s.service.Refresh(ctx, info.RefreshSecret)
	s.Require().NoError(err)
	s.Equal(info.SessionID, rotated.SessionID)
	s.NotEqual(info.RefreshSecret, rotated.RefreshSecret)

	// The spent secret is dead, even for its original holder.
	_, err = s.service.Refresh(ctx, info.RefreshSecret)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	// The fresh one works.
	_, err = s.service.Refresh(ctx, rotated.RefreshSecret)
	s.NoError(err)
}

func (s *ServiceSuite) Test_SignOut_RevokesSession() {
	ctx := context.Background()
	info := s.signUp("a@example.com", "hunter2hunter2")
	user, err := s.users.FindByEmail(ctx, "a@example.com")
	s.Require().NoError(err)

	s.Require().NoError(s.service.SignOut(ctx, info.SessionID, user.ID))

	_, err = s.service.Refresh(ctx, info.RefreshSecret)
	s.Require().Error(err)
}

func (s *ServiceSuite) Test_SignOut_IsIdempotent() {
	ctx := context.Background()
	info := s.signUp("a@example.com", "hunter2hunter2")
	user, err := s.users.FindByEmail(ctx, "a@example.com")
	s.Require().NoError(err)

	s.Require().NoError(s.service.SignOut(ctx, info.SessionID, user.ID))

	// Replaying the sign-out, or signing out a session that never existed,
	// lands in the same end state and succeeds.
	s.NoError(s.service.SignOut(ctx, info.SessionID, user.ID))
	s.NoError(s.service.SignOut(ctx, id.NewSessionID(), id.NewUserID()))
}

func (s *ServiceSuite) Test_EmailUpdateFlow() {
	ctx := context.Background()
	s.signUp("old@example.com", "hunter2hunter2")
	user, err := s.users.FindByEmail(ctx, "old@example.com")
	s.Require().NoError(err)

	s.Require().NoError(s.service.RequestEmailUpdate(ctx, user.ID, "new@example.com"))
	email := s.mailer.waitForMail(s.T())
	s.Equal("new@example.com", email.To)

	confirmToken, err := s.tokens.Mint(user.ID.String(), token.PurposeEditEmail)
	s.Require().NoError(err)

	// An access token cannot drive the confirmation, only an edit-email token.
	accessToken, err := s.tokens.Mint(user.ID.String(), token.PurposeNone)
	s.Require().NoError(err)
	err = s.service.ConfirmEmailUpdate(ctx, user.ID, accessToken)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	s.Require().NoError(s.service.ConfirmEmailUpdate(ctx, user.ID, confirmToken))
	updated, err := s.users.FindByEmail(ctx, "new@example.com")
	s.Require().NoError(err)
	s.Equal(user.ID, updated.ID)
}

func (s *ServiceSuite) Test_PasswordUpdateFlow_RevokesAllSessions() {
	ctx := context.Background()
	info := s.signUp("a@example.com", "old-password-12")

	s.Require().NoError(s.service.RequestPasswordUpdate(ctx, "a@example.com"))
	s.mailer.waitForMail(s.T())

	user, err := s.users.FindByEmail(ctx, "a@example.com")
	s.Require().NoError(err)
	resetToken, err := s.tokens.Mint(user.ID.String(), token.PurposeEditPassword)
	s.Require().NoError(err)

	s.Require().NoError(s.service.UpdatePassword(ctx, resetToken, "new-password-12"))

	// Existing refresh secrets died with the old password.
	_, err = s.service.Refresh(ctx, info.RefreshSecret)
	s.Require().Error(err)

	_, err = s.service.SignIn(ctx, "a@example.com", "old-password-12", "dev")
	s.Require().Error(err)
	_, err = s.service.SignIn(ctx, "a@example.com", "new-password-12", "dev")
	s.NoError(err)
}

func (s *ServiceSuite) Test_RequestPasswordUpdate_UnknownEmailIsSilent() {
	err := s.service.RequestPasswordUpdate(context.Background(), "nobody@example.com")
	s.Require().NoError(err)

	select {
	case <-s.mailer.ch:
		s.Fail("no mail should be sent for an unknown address")
	case <-time.After(100 * time.Millisecond):
	}
}

func (s *ServiceSuite) Test_RegisterMessagingToken() {
	ctx := context.Background()
	info := s.signUp("a@example.com", "hunter2hunter2")
	user, err := s.users.FindByEmail(ctx, "a@example.com")
	s.Require().NoError(err)

	session, err := s.service.RegisterMessagingToken(ctx, info.SessionID, user.ID, "fcm-token")
	s.Require().NoError(err)
	s.Require().NotNil(session.MessagingToken)
	s.Equal("fcm-token", *session.MessagingToken)

	_, err = s.service.RegisterMessagingToken(ctx, info.SessionID, user.ID, "")
	s.NoError(err)
}
