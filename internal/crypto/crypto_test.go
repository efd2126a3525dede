package crypto

import (
	"bytes"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	rootKey, err := GenerateRootKey()
	if err != nil {
		t.Fatal(err)
	}
	kek, err := DeriveKEK(rootKey, "test-context")
	if err != nil {
		t.Fatal(err)
	}
	dek, err := GenerateDEK()
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte(`{"user":"a","pass":"x"}`)
	ciphertext, nonce, err := EncryptAESGCM(plaintext, dek)
	if err != nil {
		t.Fatal(err)
	}
	wrapped, err := Seal(dek, kek)
	if err != nil {
		t.Fatal(err)
	}

	unwrapped, err := Open(wrapped, kek)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(unwrapped, dek) {
		t.Error("unwrapped DEK does not match original")
	}
	got, err := DecryptAESGCM(ciphertext, nonce, unwrapped)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("decrypted %q, want %q", got, plaintext)
	}
}

func TestDeriveKEKDeterministic(t *testing.T) {
	rootKey, _ := GenerateRootKey()
	a, err := DeriveKEK(rootKey, "ctx")
	if err != nil {
		t.Fatal(err)
	}
	b, err := DeriveKEK(rootKey, "ctx")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("same root key and context must derive the same KEK")
	}
	c, _ := DeriveKEK(rootKey, "other")
	if bytes.Equal(a, c) {
		t.Error("different contexts must derive different KEKs")
	}
}

func TestOpenWrongKeyFails(t *testing.T) {
	kek, _ := GenerateDEK()
	other, _ := GenerateDEK()
	blob, err := Seal([]byte("secret"), kek)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Open(blob, other); err == nil {
		t.Error("Open with the wrong key must fail")
	}
}

func TestGeneratePassword(t *testing.T) {
	p1, err := GeneratePassword(24)
	if err != nil {
		t.Fatal(err)
	}
	if len(p1) != 24 {
		t.Errorf("length = %d, want 24", len(p1))
	}
	p2, _ := GeneratePassword(24)
	if p1 == p2 {
		t.Error("two generated passwords must differ")
	}

	// Below the floor the length is raised, not honored.
	short, err := GeneratePassword(4)
	if err != nil {
		t.Fatal(err)
	}
	if len(short) != MinPasswordLength {
		t.Errorf("length = %d, want floor %d", len(short), MinPasswordLength)
	}
}
