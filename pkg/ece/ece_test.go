package ece

import (
	"bytes"
	"testing"
)

func TestGenerateKeyPair(t *testing.T) {
	private, public, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	if len(private) != 32 {
		t.Errorf("Expected 32-byte private key, got %d", len(private))
	}
	if len(public) != 65 {
		t.Errorf("Expected 65-byte public key, got %d", len(public))
	}
	if public[0] != 0x04 {
		t.Errorf("Expected uncompressed point marker 0x04, got 0x%02x", public[0])
	}

	private2, public2, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	if bytes.Equal(private, private2) || bytes.Equal(public, public2) {
		t.Error("Two generated key pairs are identical")
	}
}

func TestGenerateAuthSecret(t *testing.T) {
	secret, err := GenerateAuthSecret()
	if err != nil {
		t.Fatalf("GenerateAuthSecret failed: %v", err)
	}
	if len(secret) != AuthSecretLength {
		t.Errorf("Expected %d-byte auth secret, got %d", AuthSecretLength, len(secret))
	}
}

func TestRoundTripAES128GCM(t *testing.T) {
	private, public, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	auth, err := GenerateAuthSecret()
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte(`{"title":"hello","body":"an encrypted push payload"}`)
	body, err := EncryptAES128GCM(public, auth, plaintext)
	if err != nil {
		t.Fatalf("EncryptAES128GCM failed: %v", err)
	}

	decrypted, err := Decrypt(private, auth, body, EncodingAES128GCM, nil, nil)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("Round trip mismatch: got %q, want %q", decrypted, plaintext)
	}

	// Empty encoding defaults to aes128gcm.
	decrypted, err = Decrypt(private, auth, body, "", nil, nil)
	if err != nil {
		t.Fatalf("Decrypt with default encoding failed: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("Round trip mismatch with default encoding")
	}
}

func TestRoundTripAESGCM(t *testing.T) {
	private, public, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	auth, err := GenerateAuthSecret()
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte("legacy encoding payload")
	body, salt, senderPublic, err := EncryptAESGCM(public, auth, plaintext)
	if err != nil {
		t.Fatalf("EncryptAESGCM failed: %v", err)
	}

	decrypted, err := Decrypt(private, auth, body, EncodingAESGCM, salt, senderPublic)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("Round trip mismatch: got %q, want %q", decrypted, plaintext)
	}
}

func TestDecryptRejectsTamperedBody(t *testing.T) {
	private, public, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	auth, err := GenerateAuthSecret()
	if err != nil {
		t.Fatal(err)
	}

	body, err := EncryptAES128GCM(public, auth, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	// Flip one bit inside the sealed record.
	body[len(body)-1] ^= 0x01

	if _, err := Decrypt(private, auth, body, EncodingAES128GCM, nil, nil); err == nil {
		t.Error("Expected authentication failure for tampered body, got nil")
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	_, public, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	otherPrivate, _, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	auth, err := GenerateAuthSecret()
	if err != nil {
		t.Fatal(err)
	}

	body, err := EncryptAES128GCM(public, auth, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decrypt(otherPrivate, auth, body, EncodingAES128GCM, nil, nil); err == nil {
		t.Error("Expected failure when decrypting with the wrong key, got nil")
	}
}

func TestDecryptUnsupportedEncoding(t *testing.T) {
	private, public, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	auth, err := GenerateAuthSecret()
	if err != nil {
		t.Fatal(err)
	}
	body, err := EncryptAES128GCM(public, auth, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Decrypt(private, auth, body, "rot13", nil, nil); err == nil {
		t.Error("Expected error for unsupported encoding, got nil")
	}
}

func TestDecryptTruncatedHeader(t *testing.T) {
	private, _, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	auth, err := GenerateAuthSecret()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Decrypt(private, auth, []byte{0x01, 0x02}, EncodingAES128GCM, nil, nil); err == nil {
		t.Error("Expected error for truncated header, got nil")
	}
}

func TestDecryptBadAuthSecret(t *testing.T) {
	private, public, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	auth, err := GenerateAuthSecret()
	if err != nil {
		t.Fatal(err)
	}
	body, err := EncryptAES128GCM(public, auth, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Decrypt(private, []byte("short"), body, EncodingAES128GCM, nil, nil); err == nil {
		t.Error("Expected error for invalid auth secret length, got nil")
	}
}

func TestDecodeBase64Variants(t *testing.T) {
	raw := []byte{0xfa, 0x3e, 0x00, 0x7f, 0x12}
	encoded := EncodeBase64(raw)

	tests := []struct {
		name  string
		value string
	}{
		{"url unpadded", encoded},
		{"url padded", encoded + "==="[:(4-len(encoded)%4)%4]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := DecodeBase64(tt.value)
			if err != nil {
				t.Fatalf("DecodeBase64(%q) failed: %v", tt.value, err)
			}
			if !bytes.Equal(decoded, raw) {
				t.Errorf("DecodeBase64(%q) = %x, want %x", tt.value, decoded, raw)
			}
		})
	}

	if _, err := DecodeBase64("not*base64!"); err == nil {
		t.Error("Expected error for invalid base64, got nil")
	}
}
