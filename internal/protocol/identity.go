package protocol

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Identity is a session-scoped ed25519 signing identity. Participant
// sessions get a fresh one; the secret key never leaves the process.
type Identity struct {
	Nick string

	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// NewIdentity generates a fresh keypair with a generated nick of the
// form "<prefix>-<8 hex chars>".
func NewIdentity(prefix string) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "guest"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return &Identity{
		Nick: prefix + "-" + suffix,
		pub:  pub,
		priv: priv,
	}, nil
}

// PublicKey returns the base64 raw public key, the form carried on
// IDENTIFY and CHALLENGE_RESPONSE frames.
func (id *Identity) PublicKey() string {
	return base64.StdEncoding.EncodeToString(id.pub)
}

// SignNonce signs a challenge nonce, proving key possession without
// exposing the secret key.
func (id *Identity) SignNonce(nonce string) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(id.priv, []byte(nonce)))
}

// SignContent signs outbound message content.
func (id *Identity) SignContent(content string) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(id.priv, []byte(content)))
}

// VerifyNonce checks a nonce signature against a base64 public key.
func VerifyNonce(publicKey, nonce, signature string) bool {
	pub, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), []byte(nonce), sig)
}

const derivedIDPrefixLen = 32

// DeriveMessageID builds a stable identifier for messages that arrive
// without one, from the timestamp, sender and a content prefix.
func DeriveMessageID(ts time.Time, from, content string) string {
	prefix := content
	if len(prefix) > derivedIDPrefixLen {
		prefix = prefix[:derivedIDPrefixLen]
	}
	sum := blake2b.Sum256(fmt.Appendf(nil, "%d|%s|%s", ts.UnixMilli(), from, prefix))
	return hex.EncodeToString(sum[:16])
}

// DigestEvidence fingerprints an evidence payload for the dispute
// record.
func DigestEvidence(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
