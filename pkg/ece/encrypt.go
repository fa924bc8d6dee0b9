package ece

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/hkdf"
)

const defaultRecordSize = 4096

// EncryptAES128GCM encrypts a payload for a subscription identified by
// its public key and auth secret, producing a complete RFC 8188 body
// with a fresh ephemeral sender key in the header. It is the inverse of
// the aes128gcm branch of Decrypt and exists for the mock relay and for
// round-trip tests.
func EncryptAES128GCM(recipientPublic, authSecret, plaintext []byte) ([]byte, error) {
	recipient, err := parsePublicKey(recipientPublic)
	if err != nil {
		return nil, err
	}
	sender, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate sender key: %w", err)
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	sharedSecret, err := sender.ECDH(recipient)
	if err != nil {
		return nil, fmt.Errorf("ECDH agreement failed: %w", err)
	}
	senderPublic := sender.PublicKey().Bytes()

	info := make([]byte, 0, len(webPushInfoPrefix)+2*publicKeyLength)
	info = append(info, webPushInfoPrefix...)
	info = append(info, recipientPublic...)
	info = append(info, senderPublic...)
	prk := hkdf.Extract(sha256.New, sharedSecret, authSecret)
	ikm, err := hkdfExpand(prk, info, 32)
	if err != nil {
		return nil, err
	}

	contentPRK := hkdf.Extract(sha256.New, ikm, salt)
	cek, err := hkdfExpand(contentPRK, aes128gcmCEKInfo, keyLength)
	if err != nil {
		return nil, err
	}
	baseNonce, err := hkdfExpand(contentPRK, nonceInfo, nonceLength)
	if err != nil {
		return nil, err
	}

	if len(plaintext)+tagLength+1 > defaultRecordSize {
		return nil, fmt.Errorf("payload of %d bytes exceeds single record capacity", len(plaintext))
	}

	gcm, err := newGCM(cek)
	if err != nil {
		return nil, err
	}
	record := append(append([]byte{}, plaintext...), 0x02)
	sealed := gcm.Seal(nil, xorNonce(baseNonce, 0), record, nil)

	body := make([]byte, 0, headerLength+publicKeyLength+len(sealed))
	body = append(body, salt...)
	body = binary.BigEndian.AppendUint32(body, defaultRecordSize)
	body = append(body, byte(publicKeyLength))
	body = append(body, senderPublic...)
	body = append(body, sealed...)
	return body, nil
}

// EncryptAESGCM encrypts a payload with the legacy draft encoding. The
// returned salt and sender public key must travel in the Encryption and
// Crypto-Key headers of the delivered message.
func EncryptAESGCM(recipientPublic, authSecret, plaintext []byte) (body, salt, senderPublic []byte, err error) {
	recipient, err := parsePublicKey(recipientPublic)
	if err != nil {
		return nil, nil, nil, err
	}
	sender, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to generate sender key: %w", err)
	}
	salt = make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	sharedSecret, err := sender.ECDH(recipient)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("ECDH agreement failed: %w", err)
	}
	senderPublic = sender.PublicKey().Bytes()

	prk := hkdf.Extract(sha256.New, sharedSecret, authSecret)
	ikm, err := hkdfExpand(prk, aesgcmAuthInfo, 32)
	if err != nil {
		return nil, nil, nil, err
	}

	context := legacyContext(recipientPublic, senderPublic)
	contentPRK := hkdf.Extract(sha256.New, ikm, salt)
	cek, err := hkdfExpand(contentPRK, append(append([]byte{}, aesgcmCEKInfo...), context...), keyLength)
	if err != nil {
		return nil, nil, nil, err
	}
	baseNonce, err := hkdfExpand(contentPRK, append(append([]byte{}, nonceInfo...), context...), nonceLength)
	if err != nil {
		return nil, nil, nil, err
	}

	gcm, err := newGCM(cek)
	if err != nil {
		return nil, nil, nil, err
	}
	// Two-byte padding length prefix, no padding.
	record := append([]byte{0x00, 0x00}, plaintext...)
	body = gcm.Seal(nil, xorNonce(baseNonce, 0), record, nil)
	return body, salt, senderPublic, nil
}
