// Package x25519 is a key-agreement handshake handler.
//
// The initiator sends an ephemeral X25519 public key and a nonce (Sync).
// The receiver answers with its own key share and a confirmation MAC
// proving it derived the same keys (Ack). In three-way handshakes the
// initiator closes with its own confirmation (Verack), so both sides have
// proven key possession.
//
// Both sides end up with the same 32-byte session key, available from
// SessionKey once the handshake completed. The handshake authenticates
// nothing beyond key possession; bind identities through Config.Context or
// a signed payload in a wrapping protocol.
package x25519

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/pion/logging"
	"golang.org/x/crypto/curve25519"

	"github.com/backkem/protoorch/pkg/channel"
	"github.com/backkem/protoorch/pkg/handler"
	"github.com/backkem/protoorch/pkg/protocol"
	"github.com/backkem/protoorch/pkg/serializer"
)

// Sizes of the handshake values.
const (
	KeySize        = curve25519.PointSize
	NonceSize      = 16
	SessionKeySize = 32
)

// Serializer tags of the handshake messages.
const (
	TagSync   = "x25519.sync"
	TagAck    = "x25519.ack"
	TagVerack = "x25519.verack"
)

// Sync is the initiator's key share.
type Sync struct {
	PublicKey []byte `json:"pk"`
	Nonce     []byte `json:"nonce"`
}

// Ack is the receiver's key share and key confirmation.
type Ack struct {
	PublicKey []byte `json:"pk"`
	Nonce     []byte `json:"nonce"`
	Confirm   []byte `json:"confirm"`
}

// Verack is the initiator's key confirmation.
type Verack struct {
	Confirm []byte `json:"confirm"`
}

// Config configures a Handler.
type Config struct {
	// Rand is the entropy source for keys and nonces.
	// Default: crypto/rand.Reader
	Rand io.Reader

	// Context is mixed into the transcript. Both sides must agree on it;
	// the protocol name is a good choice.
	Context string

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Handler runs one X25519 handshake. It keeps the state of a single
// exchange, so use a new Handler per connection.
type Handler struct {
	rand    io.Reader
	context string
	log     logging.LeveledLogger

	mu         sync.Mutex
	private    []byte
	transcript []byte
	keys       keys
	done       bool

	// threeWay delays the receiver's session key until the Verack checks out.
	threeWay bool
}

// New creates a handler.
func New(config Config) *Handler {
	h := &Handler{
		rand:    config.Rand,
		context: config.Context,
	}
	if h.rand == nil {
		h.rand = rand.Reader
	}
	if config.LoggerFactory != nil {
		h.log = config.LoggerFactory.NewLogger("handshake-x25519")
	}
	return h
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

// Handshake returns a protocol handshake driven by h. Handlers used without
// it behave as in a two-way handshake.
func (h *Handler) Handshake(typ protocol.HandshakeType, initiator channel.Role) *protocol.Handshake {
	h.mu.Lock()
	h.threeWay = typ == protocol.HandshakeThreeWay
	h.mu.Unlock()
	return protocol.NewHandshake(typ, initiator, handler.Handshake[Sync, Ack, Verack](h))
}

// SessionKey returns the agreed key once this side accepted the handshake.
// In a three-way handshake the receiver has no key until the initiator's
// confirmation arrived.
func (h *Handler) SessionKey() ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.done {
		return nil, false
	}
	return append([]byte(nil), h.keys.session...), true
}

// keyShare creates an ephemeral key pair and a nonce.
func (h *Handler) keyShare() (private, public, nonce []byte, err error) {
	private = make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(h.rand, private); err != nil {
		return nil, nil, nil, fmt.Errorf("x25519: read key: %w", err)
	}
	public, err = curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return nil, nil, nil, err
	}
	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(h.rand, nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("x25519: read nonce: %w", err)
	}
	return private, public, nonce, nil
}

func checkShare(public, nonce []byte) error {
	if len(public) != KeySize {
		return fmt.Errorf("%w: %d bytes", ErrInvalidKey, len(public))
	}
	if len(nonce) != NonceSize {
		return fmt.Errorf("%w: %d bytes", ErrInvalidNonce, len(nonce))
	}
	return nil
}

// agree computes the shared secret and runs the key schedule.
func (h *Handler) agree(private []byte, peer []byte, sync Sync, ackKey, ackNonce []byte) ([]byte, keys, error) {
	shared, err := curve25519.X25519(private, peer)
	if err != nil {
		return nil, keys{}, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	transcript := transcriptHash(h.context, sync, ackKey, ackNonce)
	k, err := deriveKeys(shared, transcript)
	if err != nil {
		return nil, keys{}, err
	}
	return transcript, k, nil
}

// GenerateHandshake creates the initiator's key share.
func (h *Handler) GenerateHandshake(ctx context.Context) (Sync, error) {
	private, public, nonce, err := h.keyShare()
	if err != nil {
		return Sync{}, err
	}

	h.mu.Lock()
	h.private = private
	h.mu.Unlock()

	return Sync{PublicKey: public, Nonce: nonce}, nil
}

// ReceiveHandshake answers the initiator's key share with the receiver's
// share and confirmation.
func (h *Handler) ReceiveHandshake(ctx context.Context, sync Sync) (Ack, handler.HandshakeOutcome, error) {
	if err := checkShare(sync.PublicKey, sync.Nonce); err != nil {
		return Ack{}, handler.OutcomeRejected, err
	}

	private, public, nonce, err := h.keyShare()
	if err != nil {
		return Ack{}, handler.OutcomeRejected, err
	}
	transcript, k, err := h.agree(private, sync.PublicKey, sync, public, nonce)
	if err != nil {
		return Ack{}, handler.OutcomeRejected, err
	}

	h.mu.Lock()
	h.transcript = transcript
	h.keys = k
	h.done = !h.threeWay
	h.mu.Unlock()

	return Ack{
		PublicKey: public,
		Nonce:     nonce,
		Confirm:   confirm(k.receiverConfirm, transcript),
	}, handler.OutcomeAccepted, nil
}

// VerifyHandshake checks the receiver's confirmation and produces the
// initiator's.
func (h *Handler) VerifyHandshake(ctx context.Context, sync Sync, ack Ack) (Verack, handler.HandshakeOutcome, error) {
	h.mu.Lock()
	private := h.private
	h.mu.Unlock()
	if private == nil {
		return Verack{}, handler.OutcomeRejected, ErrNoSync
	}

	if err := checkShare(ack.PublicKey, ack.Nonce); err != nil {
		return Verack{}, handler.OutcomeRejected, err
	}
	transcript, k, err := h.agree(private, ack.PublicKey, sync, ack.PublicKey, ack.Nonce)
	if err != nil {
		return Verack{}, handler.OutcomeRejected, err
	}
	if !confirmEqual(ack.Confirm, confirm(k.receiverConfirm, transcript)) {
		if h.log != nil {
			h.log.Warn("receiver confirmation mismatch")
		}
		return Verack{}, handler.OutcomeRejected, ErrConfirmationMismatch
	}

	h.mu.Lock()
	h.transcript = transcript
	h.keys = k
	h.done = true
	h.private = nil
	h.mu.Unlock()

	return Verack{Confirm: confirm(k.initiatorConfirm, transcript)}, handler.OutcomeAccepted, nil
}

// AcknowledgeHandshake checks the initiator's confirmation. A mismatch
// withdraws the session key.
func (h *Handler) AcknowledgeHandshake(ctx context.Context, sync Sync, ack Ack, verack Verack) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.transcript == nil {
		return false, ErrNoSync
	}
	if !confirmEqual(verack.Confirm, confirm(h.keys.initiatorConfirm, h.transcript)) {
		h.done = false
		return false, ErrConfirmationMismatch
	}
	h.done = true
	return true, nil
}
