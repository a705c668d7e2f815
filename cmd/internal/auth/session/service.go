package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/fault"
	"github.com/akinsuyitaiwo/financial-management-system/cmd/identity"
	"github.com/akinsuyitaiwo/financial-management-system/cmd/security/password"
	"github.com/akinsuyitaiwo/financial-management-system/cmd/security/token"
)

// Service implements the high-level session operations for tally.
//
// It issues access/refresh pairs, validates access tokens and rotates refresh
// tokens. The single valid refresh token per user lives as a fingerprint on the
// user record.
type Service struct {
	cfg       Config
	store     CredentialStore
	passwords password.Config
	signer    *token.Signer
	joiner    identity.GroupJoiner
	log       *slog.Logger
	now       func() time.Time
}

// Issued is the result of a login or rotation.
type Issued struct {
	AccessToken  string    `json:"access_token"`
	AccessExp    time.Time `json:"access_expires_at"`
	RefreshToken string    `json:"refresh_token"`
	RefreshExp   time.Time `json:"refresh_expires_at"`
}

// Option customizes a Service.
type Option func(*Service)

// WithGroupJoiner wires the realtime hub so a login joins the user's group channel.
func WithGroupJoiner(j identity.GroupJoiner) Option {
	return func(s *Service) { s.joiner = j }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the time source for both persistence and token timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService validates cfg and constructs a Service.
func NewService(cfg Config, store CredentialStore, passwords password.Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: nil credential store", ErrConfig)
	}

	s := &Service{
		cfg:       cfg,
		store:     store,
		passwords: passwords,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}

	signer, err := token.NewSigner(cfg.JWTSecret, cfg.Issuer, cfg.ClockSkew, token.WithClock(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	s.signer = signer
	return s, nil
}

// Login verifies email/password and issues a fresh pair. The new refresh fingerprint
// replaces any earlier one, which invalidates every previously issued refresh token.
func (s *Service) Login(ctx context.Context, email, pw string) (Issued, identity.User, error) {
	const op = "session.Login"

	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return Issued{}, identity.User{}, err
	}

	// A malformed stored hash is logged and treated like a mismatch.
	ok, err := s.passwords.Verify(u.PasswordHash, pw)
	if err != nil {
		s.log.Error("session.login.bad_hash", "user_id", u.ID, "err", err)
	}
	if !ok {
		s.log.Info("session.login.reject", "user_id", u.ID)
		return Issued{}, identity.User{}, fault.Unauthorized(op, msgBadCredentials)
	}

	issued, err := s.mint(u)
	if err != nil {
		return Issued{}, identity.User{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.store.SetRefreshFingerprint(ctx, u.ID, s.signer.Fingerprint(issued.RefreshToken), s.now().UTC()); err != nil {
		return Issued{}, identity.User{}, err
	}

	if s.joiner != nil {
		if g := u.GroupIDValue(); g != "" {
			s.joiner.JoinUser(u.ID, g)
		}
	}

	s.log.Info("session.login", "user_id", u.ID, "group_id", u.GroupIDValue())
	u.PasswordHash = ""
	u.RefreshFingerprint = nil
	return issued, u, nil
}

// RefreshTokens exchanges a valid refresh token for a new pair. The presented token is
// single-use: the swap only succeeds while its fingerprint is still the stored one.
func (s *Service) RefreshTokens(ctx context.Context, userID, refreshToken string) (Issued, error) {
	const op = "session.RefreshTokens"
	reject := fault.Unauthorized(op, msgBadRefresh)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Issued{}, reject
	}

	claims, err := s.signer.Parse(refreshToken)
	if err != nil || claims.ID != userID {
		s.log.Info("session.refresh.reject", "user_id", userID, "reason", "token")
		return Issued{}, reject
	}

	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if fault.IsNotFound(err) {
			return Issued{}, reject
		}
		return Issued{}, err
	}

	presented := s.signer.Fingerprint(refreshToken)
	if u.RefreshFingerprint == nil || !token.EqualHex(*u.RefreshFingerprint, presented) {
		s.log.Info("session.refresh.reject", "user_id", userID, "reason", "fingerprint")
		return Issued{}, reject
	}

	issued, err := s.mint(u)
	if err != nil {
		return Issued{}, fmt.Errorf("%s: %w", op, err)
	}
	next := s.signer.Fingerprint(issued.RefreshToken)
	if err := s.store.SwapRefreshFingerprint(ctx, u.ID, presented, next, s.now().UTC()); err != nil {
		if fault.IsUnauthorized(err) {
			s.log.Info("session.refresh.reject", "user_id", userID, "reason", "raced")
			return Issued{}, reject
		}
		return Issued{}, err
	}

	s.log.Info("session.refresh", "user_id", u.ID)
	return issued, nil
}

// Logout clears the stored refresh fingerprint. Calling it again is a no-op.
func (s *Service) Logout(ctx context.Context, userID string) error {
	const op = "session.Logout"

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fault.Unauthorized(op, msgBadAccess)
	}
	if err := s.store.ClearRefreshFingerprint(ctx, userID, s.now().UTC()); err != nil {
		return err
	}
	s.log.Info("session.logout", "user_id", userID)
	return nil
}

// ValidateAccessToken verifies a bearer token without touching persistence.
func (s *Service) ValidateAccessToken(raw string) (token.Claims, error) {
	claims, err := s.signer.Parse(raw)
	if err != nil {
		return token.Claims{}, fault.Unauthorized("session.ValidateAccessToken", msgBadAccess)
	}
	return claims, nil
}

// Authenticate adapts ValidateAccessToken for the websocket gateway.
func (s *Service) Authenticate(_ context.Context, raw string) (string, error) {
	claims, err := s.ValidateAccessToken(raw)
	if err != nil {
		return "", err
	}
	return claims.ID, nil
}

// Fingerprint exposes the storage form of a refresh token.
func (s *Service) Fingerprint(refreshToken string) string {
	return s.signer.Fingerprint(refreshToken)
}

func (s *Service) mint(u identity.User) (Issued, error) {
	sub := token.Subject{UserID: u.ID, Email: u.Email}

	access, accessExp, err := s.signer.Sign(sub, s.cfg.AccessTokenTTL)
	if err != nil {
		return Issued{}, err
	}
	refresh, refreshExp, err := s.signer.Sign(sub, s.cfg.RefreshTokenTTL)
	if err != nil {
		return Issued{}, err
	}
	return Issued{
		AccessToken:  access,
		AccessExp:    accessExp,
		RefreshToken: refresh,
		RefreshExp:   refreshExp,
	}, nil
}
