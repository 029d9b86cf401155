package protocol

import (
	"strings"
	"testing"
	"time"
)

func TestIdentityNickGeneration(t *testing.T) {
	id, err := NewIdentity("guest")
	if err != nil {
		t.Fatalf("new identity: %v", err)
	}
	if !strings.HasPrefix(id.Nick, "guest-") {
		t.Fatalf("unexpected nick %q", id.Nick)
	}
	if len(id.Nick) != len("guest-")+8 {
		t.Fatalf("unexpected nick length %q", id.Nick)
	}
}

func TestNonceSignatureRoundTrip(t *testing.T) {
	id, err := NewIdentity("guest")
	if err != nil {
		t.Fatalf("new identity: %v", err)
	}
	nonce := "challenge-nonce-123"
	sig := id.SignNonce(nonce)
	if !VerifyNonce(id.PublicKey(), nonce, sig) {
		t.Fatalf("valid signature rejected")
	}
	if VerifyNonce(id.PublicKey(), "other-nonce", sig) {
		t.Fatalf("signature accepted for wrong nonce")
	}

	other, _ := NewIdentity("guest")
	if VerifyNonce(other.PublicKey(), nonce, sig) {
		t.Fatalf("signature accepted for wrong key")
	}
	if VerifyNonce("not-base64!!!", nonce, sig) {
		t.Fatalf("garbage key accepted")
	}
}

func TestDeriveMessageIDIsStable(t *testing.T) {
	ts := time.UnixMilli(1700000000000)
	a := DeriveMessageID(ts, "agent-1", "hello world")
	b := DeriveMessageID(ts, "agent-1", "hello world")
	if a != b {
		t.Fatalf("same inputs produced different ids: %s vs %s", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("unexpected id length %d", len(a))
	}
	if a == DeriveMessageID(ts, "agent-2", "hello world") {
		t.Fatalf("sender not part of the id")
	}
	if a == DeriveMessageID(ts.Add(time.Millisecond), "agent-1", "hello world") {
		t.Fatalf("timestamp not part of the id")
	}

	// Only the content prefix participates, so a long tail change
	// after the prefix does not alter the id.
	long := strings.Repeat("x", 40)
	if DeriveMessageID(ts, "agent-1", long+"a") != DeriveMessageID(ts, "agent-1", long+"b") {
		t.Fatalf("content beyond prefix changed the id")
	}
}

func TestDigestEvidence(t *testing.T) {
	if DigestEvidence(nil) != "" {
		t.Fatalf("empty payload should produce empty digest")
	}
	d1 := DigestEvidence([]byte(`{"claim":"undelivered"}`))
	d2 := DigestEvidence([]byte(`{"claim":"delivered"}`))
	if d1 == d2 {
		t.Fatalf("distinct payloads collided")
	}
	if len(d1) != 64 {
		t.Fatalf("unexpected digest length %d", len(d1))
	}
}
