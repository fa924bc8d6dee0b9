package ece

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Content encodings understood by Decrypt.
const (
	EncodingAES128GCM = "aes128gcm"
	EncodingAESGCM    = "aesgcm"
)

const (
	keyLength   = 16
	nonceLength = 12
	tagLength   = 16
	// aes128gcm header: salt(16) || record size(4) || key id length(1)
	headerLength = 21
)

var (
	webPushInfoPrefix = []byte("WebPush: info\x00")
	aes128gcmCEKInfo  = []byte("Content-Encoding: aes128gcm\x00")
	aesgcmAuthInfo    = []byte("Content-Encoding: auth\x00")
	aesgcmCEKInfo     = []byte("Content-Encoding: aesgcm\x00")
	nonceInfo         = []byte("Content-Encoding: nonce\x00")
)

// Decrypt decrypts a push message body using a subscription's private
// key and auth secret. The encoding selects the scheme: "aes128gcm"
// (or empty, the default) carries salt and sender key inside the body
// header, while the legacy "aesgcm" scheme requires the salt and dh
// values from the message's Encryption and Crypto-Key headers.
func Decrypt(privateKey, authSecret, body []byte, encoding string, salt, dh []byte) ([]byte, error) {
	key, err := parsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	if len(authSecret) != AuthSecretLength {
		return nil, fmt.Errorf("invalid auth secret length %d", len(authSecret))
	}

	switch encoding {
	case EncodingAES128GCM, "":
		return decryptAES128GCM(key, authSecret, body)
	case EncodingAESGCM:
		return decryptAESGCM(key, authSecret, body, salt, dh)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

// decryptAES128GCM handles RFC 8188 payloads with the RFC 8291 WebPush
// key derivation. The sender's ephemeral public key travels in the
// header's key id field.
func decryptAES128GCM(key *ecdh.PrivateKey, authSecret, body []byte) ([]byte, error) {
	if len(body) < headerLength {
		return nil, errors.New("message too short for aes128gcm header")
	}
	salt := body[:16]
	recordSize := binary.BigEndian.Uint32(body[16:20])
	idLen := int(body[20])
	if recordSize < tagLength+2 {
		return nil, fmt.Errorf("invalid record size %d", recordSize)
	}
	if len(body) < headerLength+idLen {
		return nil, errors.New("message truncated inside key id")
	}
	senderPubBytes := body[headerLength : headerLength+idLen]
	records := body[headerLength+idLen:]
	if len(records) == 0 {
		return nil, errors.New("message contains no records")
	}

	senderPub, err := parsePublicKey(senderPubBytes)
	if err != nil {
		return nil, err
	}
	sharedSecret, err := key.ECDH(senderPub)
	if err != nil {
		return nil, fmt.Errorf("ECDH agreement failed: %w", err)
	}

	// RFC 8291: IKM = HKDF(salt=auth_secret, ikm=ecdh_secret,
	// info="WebPush: info" || 0x00 || ua_public || as_public)
	info := make([]byte, 0, len(webPushInfoPrefix)+2*publicKeyLength)
	info = append(info, webPushInfoPrefix...)
	info = append(info, key.PublicKey().Bytes()...)
	info = append(info, senderPubBytes...)
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

	gcm, err := newGCM(cek)
	if err != nil {
		return nil, err
	}

	var plaintext []byte
	for seq := uint64(0); len(records) > 0; seq++ {
		n := int(recordSize)
		if n > len(records) {
			n = len(records)
		}
		if n < tagLength+1 {
			return nil, errors.New("trailing record too short")
		}
		record := records[:n]
		records = records[n:]
		last := len(records) == 0

		chunk, err := gcm.Open(nil, xorNonce(baseNonce, seq), record, nil)
		if err != nil {
			return nil, errors.New("authentication of push message failed")
		}
		content, err := stripPadding(chunk, last)
		if err != nil {
			return nil, err
		}
		plaintext = append(plaintext, content...)
	}
	return plaintext, nil
}

// decryptAESGCM handles the legacy draft encoding where the salt and
// the sender's public key arrive in separate headers and each record
// starts with a two-byte padding length.
func decryptAESGCM(key *ecdh.PrivateKey, authSecret, body, salt, dh []byte) ([]byte, error) {
	if len(salt) != 16 {
		return nil, fmt.Errorf("invalid aesgcm salt length %d", len(salt))
	}
	senderPub, err := parsePublicKey(dh)
	if err != nil {
		return nil, err
	}
	if len(body) < tagLength+2 {
		return nil, errors.New("message too short for aesgcm record")
	}

	sharedSecret, err := key.ECDH(senderPub)
	if err != nil {
		return nil, fmt.Errorf("ECDH agreement failed: %w", err)
	}

	prk := hkdf.Extract(sha256.New, sharedSecret, authSecret)
	ikm, err := hkdfExpand(prk, aesgcmAuthInfo, 32)
	if err != nil {
		return nil, err
	}

	// draft-webpush-encryption-04 context: label || 0x00 || len || ua_public || len || as_public
	context := legacyContext(key.PublicKey().Bytes(), dh)
	contentPRK := hkdf.Extract(sha256.New, ikm, salt)
	cek, err := hkdfExpand(contentPRK, append(append([]byte{}, aesgcmCEKInfo...), context...), keyLength)
	if err != nil {
		return nil, err
	}
	baseNonce, err := hkdfExpand(contentPRK, append(append([]byte{}, nonceInfo...), context...), nonceLength)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(cek)
	if err != nil {
		return nil, err
	}
	chunk, err := gcm.Open(nil, xorNonce(baseNonce, 0), body, nil)
	if err != nil {
		return nil, errors.New("authentication of push message failed")
	}

	if len(chunk) < 2 {
		return nil, errors.New("aesgcm record missing padding prefix")
	}
	padLen := int(binary.BigEndian.Uint16(chunk[:2]))
	if len(chunk) < 2+padLen {
		return nil, errors.New("aesgcm padding length exceeds record")
	}
	for _, b := range chunk[2 : 2+padLen] {
		if b != 0 {
			return nil, errors.New("aesgcm padding is not zero")
		}
	}
	return chunk[2+padLen:], nil
}

func legacyContext(uaPublic, senderPublic []byte) []byte {
	context := make([]byte, 0, 6+4+2*publicKeyLength)
	context = append(context, []byte("P-256\x00")...)
	context = binary.BigEndian.AppendUint16(context, uint16(len(uaPublic)))
	context = append(context, uaPublic...)
	context = binary.BigEndian.AppendUint16(context, uint16(len(senderPublic)))
	context = append(context, senderPublic...)
	return context
}

// stripPadding removes the RFC 8188 padding delimiter and trailing
// zeros from a decrypted record. The delimiter is 0x02 for the final
// record and 0x01 otherwise.
func stripPadding(chunk []byte, last bool) ([]byte, error) {
	i := len(chunk) - 1
	for i >= 0 && chunk[i] == 0 {
		i--
	}
	if i < 0 {
		return nil, errors.New("record is all padding")
	}
	delimiter := byte(0x01)
	if last {
		delimiter = 0x02
	}
	if chunk[i] != delimiter {
		return nil, fmt.Errorf("invalid record padding delimiter 0x%02x", chunk[i])
	}
	return chunk[:i], nil
}

func xorNonce(base []byte, seq uint64) []byte {
	nonce := make([]byte, nonceLength)
	copy(nonce, base)
	for i := 0; i < 8; i++ {
		nonce[nonceLength-1-i] ^= byte(seq >> (8 * i))
	}
	return nonce
}

func newGCM(cek []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AES: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}
	return gcm, nil
}

func hkdfExpand(prk, info []byte, length int) ([]byte, error) {
	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, info), out); err != nil {
		return nil, fmt.Errorf("HKDF expand failed: %w", err)
	}
	return out, nil
}
