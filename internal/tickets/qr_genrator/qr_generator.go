package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"ms-eventchain/internal/models"

	"github.com/skip2/go-qrcode"
)

var ErrInvalidPayload = errors.New("invalid ticket QR payload")

type QRGenerator struct {
	aead cipher.AEAD
}

func NewQRGenerator(secret string) (*QRGenerator, error) {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	block, err := aes.NewCipher(hashed[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &QRGenerator{aead: aead}, nil
}

// GenerateEncryptedQR renders a PNG whose content is the sealed payload.
func (q *QRGenerator) GenerateEncryptedQR(payload models.TicketQRPayload) ([]byte, error) {
	sealed, err := q.Encrypt(payload)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(sealed, qrcode.Medium, 256)
}

// Encrypt seals payload with AES-GCM. The nonce is prefixed to the
// ciphertext and the result is URL-safe base64.
func (q *QRGenerator) Encrypt(payload models.TicketQRPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, q.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := q.aead.Seal(nonce, nonce, data, nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Tampered or foreign codes fail authentication.
func (q *QRGenerator) Decrypt(content string) (*models.TicketQRPayload, error) {
	raw, err := base64.URLEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	ns := q.aead.NonceSize()
	if len(raw) <= ns {
		return nil, ErrInvalidPayload
	}

	plain, err := q.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var payload models.TicketQRPayload
	if err := json.Unmarshal(plain, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if payload.EventID == "" || payload.TicketID == "" || payload.TokenID < 0 {
		return nil, ErrInvalidPayload
	}
	return &payload, nil
}

// PlainQR encodes content as-is, for public links such as certificate
// verification.
func PlainQR(content string, size int) ([]byte, error) {
	return qrcode.Encode(content, qrcode.Medium, size)
}
