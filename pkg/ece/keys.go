// Package ece implements the WebPush message encryption scheme
// (RFC 8291 "aes128gcm" and the legacy "aesgcm" draft encoding) on top
// of P-256 ECDH and HKDF-SHA256.
package ece

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
)

// AuthSecretLength is the size of the per-subscription authentication
// secret shared with application servers.
const AuthSecretLength = 16

// publicKeyLength is the size of an uncompressed P-256 point.
const publicKeyLength = 65

// GenerateKeyPair creates a new P-256 key pair for a subscription.
// The private key is returned as the 32-byte scalar, the public key as
// the 65-byte uncompressed point.
func GenerateKeyPair() (privateKey, publicKey []byte, err error) {
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate P-256 key pair: %w", err)
	}
	return key.Bytes(), key.PublicKey().Bytes(), nil
}

// GenerateAuthSecret creates the 16-byte random authentication secret
// used as the HKDF salt during message decryption.
func GenerateAuthSecret() ([]byte, error) {
	secret := make([]byte, AuthSecretLength)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate auth secret: %w", err)
	}
	return secret, nil
}

// parsePrivateKey rebuilds an ecdh private key from its stored scalar.
func parsePrivateKey(raw []byte) (*ecdh.PrivateKey, error) {
	key, err := ecdh.P256().NewPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid subscription private key: %w", err)
	}
	return key, nil
}

// parsePublicKey rebuilds an ecdh public key from an uncompressed point.
func parsePublicKey(raw []byte) (*ecdh.PublicKey, error) {
	if len(raw) != publicKeyLength {
		return nil, fmt.Errorf("invalid public key length %d", len(raw))
	}
	key, err := ecdh.P256().NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	return key, nil
}
