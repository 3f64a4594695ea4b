package ssh

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerateEd25519Keypair(t *testing.T) {
	dir := t.TempDir()
	priv := filepath.Join(dir, "keys", "id_ed25519")
	pub, err := GenerateEd25519Keypair(priv, "simbatch")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(pub, "ssh-ed25519 ") {
		t.Fatalf("unexpected public key %q", pub)
	}
	if _, err := os.Stat(priv + ".pub"); err != nil {
		t.Fatalf("public key not written: %v", err)
	}
	signer, err := LoadPrivateKeySigner(priv)
	if err != nil {
		t.Fatalf("private key does not parse back: %v", err)
	}
	if signer.PublicKey().Type() != "ssh-ed25519" {
		t.Fatalf("unexpected key type %s", signer.PublicKey().Type())
	}
}

func TestGenerateRefusesOverwrite(t *testing.T) {
	priv := filepath.Join(t.TempDir(), "id_ed25519")
	if _, err := GenerateEd25519Keypair(priv, ""); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := GenerateEd25519Keypair(priv, ""); err == nil {
		t.Fatalf("expected error when key exists")
	}
}

func TestLoadKnownHostsCallbackCreatesFile(t *testing.T) {
	kh := filepath.Join(t.TempDir(), "nested", "known_hosts")
	cb, err := LoadKnownHostsCallback(kh)
	if err != nil {
		t.Fatalf("load known hosts: %v", err)
	}
	if cb == nil {
		t.Fatalf("expected callback")
	}
	if _, err := os.Stat(kh); err != nil {
		t.Fatalf("known_hosts not created: %v", err)
	}
}
