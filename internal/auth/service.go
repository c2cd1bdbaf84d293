package auth

import (
	"context"
	"time"

	"github.com/congo-pay/ledger/internal/identity"
)

// Authenticator verifies user credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, creds identity.Credentials) (identity.User, error)
}

// Service logs users in.
type Service struct {
	ids    Authenticator
	tokens *Tokens
}

// NewService builds an auth service.
func NewService(ids Authenticator, tokens *Tokens) *Service {
	return &Service{ids: ids, tokens: tokens}
}

// TokenResponse is returned by a successful login.
type TokenResponse struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Login validates credentials through the identity service and issues an
// access token.
func (s *Service) Login(ctx context.Context, creds identity.Credentials) (TokenResponse, error) {
	user, err := s.ids.Authenticate(ctx, creds)
	if err != nil {
		return TokenResponse{}, err
	}
	access, exp, err := s.tokens.Sign(user.ID, user.Phone, user.Tier)
	if err != nil {
		return TokenResponse{}, err
	}
	return TokenResponse{
		UserID:      user.ID,
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(exp).Seconds()),
	}, nil
}
