// Package token is a shared-secret handshake handler.
//
// Each side proves knowledge of a shared secret by sending an HS256 JWT
// naming itself as issuer, its peer as audience and the protocol it wants
// to speak. The initiator's token travels in the Sync, the receiver's in
// the Ack. In three-way handshakes the initiator echoes the receiver's
// token ID in the Verack.
package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/backkem/protoorch/pkg/channel"
	"github.com/backkem/protoorch/pkg/handler"
	"github.com/backkem/protoorch/pkg/protocol"
	"github.com/backkem/protoorch/pkg/serializer"
)

// DefaultTTL is the lifetime of issued tokens.
const DefaultTTL = time.Minute

// Serializer tags of the handshake messages.
const (
	TagSync   = "token.sync"
	TagAck    = "token.ack"
	TagVerack = "token.verack"
)

// Sync carries the initiator's token.
type Sync struct {
	Token string `json:"token"`
}

// Ack carries the receiver's token.
type Ack struct {
	Token string `json:"token"`
}

// Verack echoes the ID of the receiver's token.
type Verack struct {
	ID string `json:"jti"`
}

// Claims are the claims of a handshake token.
type Claims struct {
	Protocol string `json:"proto"`
	jwt.RegisteredClaims
}

// Config configures a Handler.
type Config struct {
	// Secret signs and verifies tokens. Required.
	Secret []byte

	// Name is the local identity, used as issuer of own tokens and as
	// required audience of the peer's.
	Name string

	// Peer is the expected issuer of the peer's token. Empty accepts any.
	Peer string

	// Protocol is the protocol name both sides must claim.
	Protocol string

	// TTL is the lifetime of issued tokens. Default: DefaultTTL
	TTL time.Duration

	// Now returns the current time. Default: time.Now
	Now func() time.Time

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Handler runs one token handshake. Use a new Handler per connection.
type Handler struct {
	config Config
	parser *jwt.Parser
	log    logging.LeveledLogger

	mu    sync.Mutex
	ownID string
	peer  *Claims
}

// New creates a handler.
func New(config Config) (*Handler, error) {
	if len(config.Secret) == 0 {
		return nil, ErrNoSecret
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(config.Now),
	}
	if config.Name != "" {
		opts = append(opts, jwt.WithAudience(config.Name))
	}
	if config.Peer != "" {
		opts = append(opts, jwt.WithIssuer(config.Peer))
	}

	h := &Handler{
		config: config,
		parser: jwt.NewParser(opts...),
	}
	if config.LoggerFactory != nil {
		h.log = config.LoggerFactory.NewLogger("handshake-token")
	}
	return h, nil
}

// Register adds the handshake message types to r.
func Register(r *serializer.Registry) error {
	if err := serializer.AddJSON[Sync](r, TagSync); err != nil {
		return err
	}
	if err := serializer.AddJSON[Ack](r, TagAck); err != nil {
		return err
	}
	return serializer.AddJSON[Verack](r, TagVerack)
}

// Handshake returns a protocol handshake driven by h.
func (h *Handler) Handshake(typ protocol.HandshakeType, initiator channel.Role) *protocol.Handshake {
	return protocol.NewHandshake(typ, initiator, handler.Handshake[Sync, Ack, Verack](h))
}

// Peer returns the verified claims of the peer's token.
func (h *Handler) Peer() (Claims, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.peer == nil {
		return Claims{}, false
	}
	return *h.peer, true
}

// issue signs a new token for the peer.
func (h *Handler) issue() (string, string, error) {
	now := h.config.Now()
	id := uuid.NewString()
	claims := &Claims{
		Protocol: h.config.Protocol,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Issuer:    h.config.Name,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(h.config.TTL)),
		},
	}
	if h.config.Peer != "" {
		claims.Audience = jwt.ClaimStrings{h.config.Peer}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.config.Secret)
	if err != nil {
		return "", "", fmt.Errorf("token: sign: %w", err)
	}

	h.mu.Lock()
	h.ownID = id
	h.mu.Unlock()
	return signed, id, nil
}

// verify checks the peer's token and records its claims.
func (h *Handler) verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := h.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return h.config.Secret, nil
	})
	if err != nil {
		if h.log != nil {
			h.log.Warnf("rejecting peer token: %v", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Protocol != h.config.Protocol {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrProtocolMismatch, claims.Protocol, h.config.Protocol)
	}

	h.mu.Lock()
	h.peer = claims
	h.mu.Unlock()

	if h.log != nil {
		h.log.Debugf("accepted token %s from %q", claims.ID, claims.Issuer)
	}
	return claims, nil
}

// GenerateHandshake issues the initiator's token.
func (h *Handler) GenerateHandshake(ctx context.Context) (Sync, error) {
	signed, _, err := h.issue()
	if err != nil {
		return Sync{}, err
	}
	return Sync{Token: signed}, nil
}

// ReceiveHandshake verifies the initiator's token and answers with the
// receiver's.
func (h *Handler) ReceiveHandshake(ctx context.Context, sync Sync) (Ack, handler.HandshakeOutcome, error) {
	if _, err := h.verify(sync.Token); err != nil {
		return Ack{}, handler.OutcomeRejected, err
	}
	signed, _, err := h.issue()
	if err != nil {
		return Ack{}, handler.OutcomeRejected, err
	}
	return Ack{Token: signed}, handler.OutcomeAccepted, nil
}

// VerifyHandshake verifies the receiver's token.
func (h *Handler) VerifyHandshake(ctx context.Context, sync Sync, ack Ack) (Verack, handler.HandshakeOutcome, error) {
	claims, err := h.verify(ack.Token)
	if err != nil {
		return Verack{}, handler.OutcomeRejected, err
	}
	return Verack{ID: claims.ID}, handler.OutcomeAccepted, nil
}

// AcknowledgeHandshake checks that the initiator echoed the receiver's token ID.
func (h *Handler) AcknowledgeHandshake(ctx context.Context, sync Sync, ack Ack, verack Verack) (bool, error) {
	h.mu.Lock()
	ownID := h.ownID
	h.mu.Unlock()

	if verack.ID != ownID {
		return false, fmt.Errorf("%w: %q", ErrTokenMismatch, verack.ID)
	}
	return true, nil
}
