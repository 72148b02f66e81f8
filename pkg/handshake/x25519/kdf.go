package x25519

import (
	"crypto/subtle"
	"hash"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
)

// keyScheduleInfo labels the HKDF expansion.
var keyScheduleInfo = []byte("protoorch x25519 key schedule")

// keys is the output of the key schedule.
type keys struct {
	session          []byte
	receiverConfirm  []byte
	initiatorConfirm []byte
}

func newBlake2b() hash.Hash {
	h, _ := blake2b.New256(nil)
	return h
}

// transcriptHash binds the handshake context and both key shares.
func transcriptHash(context string, sync Sync, ackKey, ackNonce []byte) []byte {
	h := newBlake2b()
	h.Write([]byte(context))
	h.Write(sync.PublicKey)
	h.Write(sync.Nonce)
	h.Write(ackKey)
	h.Write(ackNonce)
	return h.Sum(nil)
}

// deriveKeys expands the shared secret into the session and confirmation
// keys, salted with the transcript hash.
func deriveKeys(shared, transcript []byte) (keys, error) {
	reader := hkdf.New(newBlake2b, shared, transcript, keyScheduleInfo)
	out := make([]byte, 3*SessionKeySize)
	if _, err := io.ReadFull(reader, out); err != nil {
		return keys{}, err
	}
	return keys{
		session:          out[:SessionKeySize],
		receiverConfirm:  out[SessionKeySize : 2*SessionKeySize],
		initiatorConfirm: out[2*SessionKeySize:],
	}, nil
}

// confirm is a keyed BLAKE2b MAC over the transcript.
func confirm(key, transcript []byte) []byte {
	mac, err := blake2b.New256(key)
	if err != nil {
		// Keys come from deriveKeys and are always 32 bytes.
		panic(err)
	}
	mac.Write(transcript)
	return mac.Sum(nil)
}

func confirmEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
