package registry

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestCalculateFingerprintDeterministic(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey() error = %v", err)
	}
	pub, err := ssh.NewPublicKey(priv.Public())
	if err != nil {
		t.Fatalf("ssh.NewPublicKey() error = %v", err)
	}

	first := calculateFingerprint(pub)
	second := calculateFingerprint(pub)
	if first != second {
		t.Errorf("calculateFingerprint() is not deterministic: %q != %q", first, second)
	}
	if !strings.HasPrefix(first, "SHA256:") {
		t.Errorf("calculateFingerprint() = %q, want SHA256: prefix", first)
	}
	if strings.ContainsAny(first, "=") {
		t.Errorf("calculateFingerprint() = %q, want unpadded base64 (no '=')", first)
	}
}

func TestCalculateFingerprintUniquePerKey(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("rsa.GenerateKey() error = %v", err)
		}
		pub, err := ssh.NewPublicKey(&priv.PublicKey)
		if err != nil {
			t.Fatalf("ssh.NewPublicKey() error = %v", err)
		}
		fp := calculateFingerprint(pub)
		if seen[fp] {
			t.Errorf("calculateFingerprint() produced a duplicate across distinct keys: %q", fp)
		}
		seen[fp] = true
	}
}

func TestCalculateFingerprintDiffersByKeyType(t *testing.T) {
	_, edPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey() error = %v", err)
	}
	edPub, err := ssh.NewPublicKey(edPriv.Public())
	if err != nil {
		t.Fatalf("ssh.NewPublicKey() error = %v", err)
	}

	rsaPriv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey() error = %v", err)
	}
	rsaPub, err := ssh.NewPublicKey(&rsaPriv.PublicKey)
	if err != nil {
		t.Fatalf("ssh.NewPublicKey() error = %v", err)
	}

	if calculateFingerprint(edPub) == calculateFingerprint(rsaPub) {
		t.Error("calculateFingerprint() collided across an ed25519 and an rsa key")
	}
}
