// Package session issues and checks session tokens. A session token lets a secondary signer (typically a
// short-lived browser key) act for a primary authority without the authority signing every transaction.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/datmedevil17/apocalypse/ledger"
)

const (
	tokenSeed = "session_token"

	// DefaultValidity is used when a session is created without an explicit lifetime.
	DefaultValidity = time.Hour
	// MaxValidity is the longest lifetime a session can be created with.
	MaxValidity = 7 * 24 * time.Hour
)

var (
	ErrSessionNotFound   = eris.New("session token not found")
	ErrSessionExists     = eris.New("session token already exists for this signer and authority")
	ErrSessionExpired    = eris.New("session token has expired")
	ErrInvalidSessionTTL = eris.New("session validity must be positive and at most 7 days")
	ErrNotSessionParty   = eris.New("only the authority or the session signer may revoke a session")
)

// Token binds a session signer to the authority it acts for, until ValidUntil.
type Token struct {
	ID         common.Hash    `json:"id"`
	Authority  common.Address `json:"authority"`
	Signer     common.Address `json:"signer"`
	ValidUntil time.Time      `json:"validUntil"`
}

// Manager stores tokens in redis. Keys expire with the token, so expired sessions disappear on their own.
type Manager struct {
	client    *redis.Client
	namespace string
	now       func() time.Time
	logger    zerolog.Logger
}

type Option func(*Manager)

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func NewManager(client *redis.Client, namespace string, opts ...Option) *Manager {
	m := &Manager{
		client:    client,
		namespace: namespace,
		now:       time.Now,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TokenID derives the id of the token binding signer to authority.
func TokenID(namespace string, signer, authority common.Address) common.Hash {
	return ledger.DeriveAddress(namespace, []byte(tokenSeed), signer.Bytes(), authority.Bytes())
}

func (m *Manager) key(id common.Hash) string {
	return m.namespace + ":session:" + id.Hex()
}

// Create issues a token letting signer act for authority. A zero validFor means DefaultValidity.
func (m *Manager) Create(
	ctx context.Context, authority, signer common.Address, validFor time.Duration,
) (Token, error) {
	if validFor == 0 {
		validFor = DefaultValidity
	}
	if validFor < 0 || validFor > MaxValidity {
		return Token{}, eris.Wrapf(ErrInvalidSessionTTL, "got %s", validFor)
	}

	token := Token{
		ID:         TokenID(m.namespace, signer, authority),
		Authority:  authority,
		Signer:     signer,
		ValidUntil: m.now().Add(validFor),
	}
	bz, err := json.Marshal(token)
	if err != nil {
		return Token{}, eris.Wrap(err, "failed to marshal session token")
	}
	created, err := m.client.SetNX(ctx, m.key(token.ID), bz, validFor).Result()
	if err != nil {
		return Token{}, eris.Wrap(err, "failed to store session token")
	}
	if !created {
		return Token{}, eris.Wrapf(ErrSessionExists, "token %s", token.ID.Hex())
	}

	m.logger.Info().
		Str("token", token.ID.Hex()).
		Str("authority", authority.Hex()).
		Str("signer", signer.Hex()).
		Time("valid_until", token.ValidUntil).
		Msg("Session created")
	return token, nil
}

// Get returns the token with the given id. Expired tokens are reported as ErrSessionExpired.
func (m *Manager) Get(ctx context.Context, id common.Hash) (Token, error) {
	bz, err := m.client.Get(ctx, m.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Token{}, eris.Wrapf(ErrSessionNotFound, "token %s", id.Hex())
	}
	if err != nil {
		return Token{}, eris.Wrap(err, "failed to read session token")
	}
	var token Token
	if err := json.Unmarshal(bz, &token); err != nil {
		return Token{}, eris.Wrap(err, "failed to unmarshal session token")
	}
	if !m.now().Before(token.ValidUntil) {
		return token, eris.Wrapf(ErrSessionExpired, "token %s expired at %s", id.Hex(), token.ValidUntil)
	}
	return token, nil
}

// IsValid reports whether token id currently lets signer act for authority.
func (m *Manager) IsValid(ctx context.Context, id common.Hash, signer, authority common.Address) (bool, error) {
	token, err := m.Get(ctx, id)
	if eris.Is(err, ErrSessionNotFound) || eris.Is(err, ErrSessionExpired) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return token.Signer == signer && token.Authority == authority, nil
}

// Revoke deletes a token. Either side of the session may revoke it.
func (m *Manager) Revoke(ctx context.Context, id common.Hash, caller common.Address) error {
	bz, err := m.client.Get(ctx, m.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return eris.Wrapf(ErrSessionNotFound, "token %s", id.Hex())
	}
	if err != nil {
		return eris.Wrap(err, "failed to read session token")
	}
	var token Token
	if err := json.Unmarshal(bz, &token); err != nil {
		return eris.Wrap(err, "failed to unmarshal session token")
	}
	if caller != token.Authority && caller != token.Signer {
		return eris.Wrapf(ErrNotSessionParty, "%s tried to revoke token %s", caller.Hex(), id.Hex())
	}
	if err := m.client.Del(ctx, m.key(id)).Err(); err != nil {
		return eris.Wrap(err, "failed to delete session token")
	}

	m.logger.Info().Str("token", id.Hex()).Str("revoked_by", caller.Hex()).Msg("Session revoked")
	return nil
}
