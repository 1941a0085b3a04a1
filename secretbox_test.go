package authguard

import (
	"bytes"
	"errors"
	"testing"
)

func TestSecretCipherRoundTrip(t *testing.T) {
	cipher, err := newSecretCipher(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("newSecretCipher: %v", err)
	}

	plaintext := []byte("JBSWY3DPEHPK3PXP")
	ciphertext, nonce, err := cipher.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	opened, err := cipher.Open(ciphertext, nonce)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("roundtrip mismatch: %q", opened)
	}
}

func TestSecretCipherFreshNonces(t *testing.T) {
	cipher, err := newSecretCipher(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("newSecretCipher: %v", err)
	}

	_, n1, err := cipher.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	_, n2, err := cipher.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Equal(n1, n2) {
		t.Fatal("nonce reused across seals")
	}
}

func TestSecretCipherRejectsTampering(t *testing.T) {
	cipher, err := newSecretCipher(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("newSecretCipher: %v", err)
	}

	ciphertext, nonce, err := cipher.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	ciphertext[0] ^= 0xff
	if _, err := cipher.Open(ciphertext, nonce); err == nil {
		t.Fatal("tampered ciphertext opened")
	}
}

func TestSecretCipherKeyLength(t *testing.T) {
	for _, size := range []int{0, 16, 31, 33} {
		_, err := newSecretCipher(bytes.Repeat([]byte{1}, size))
		if !errors.Is(err, ErrConfigInvalid) {
			t.Fatalf("key size %d: err = %v, want ErrConfigInvalid", size, err)
		}
	}
}
