package utils

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

// EncryptMessage seals message with XChaCha20-Poly1305 under a fresh random
// nonce. The output is hex(nonce || ciphertext).
func EncryptMessage(key []byte, message string) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(message)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	cipherText := aead.Seal(nonce, nonce, []byte(message), nil)
	return hex.EncodeToString(cipherText), nil
}

func DecryptMessage(key []byte, message string) (*string, error) {
	cipherText, err := hex.DecodeString(message)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(cipherText) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.New("ciphertext too short")
	}

	decryptedData, err := aead.Open(nil, cipherText[:aead.NonceSize()], cipherText[aead.NonceSize():], nil)
	if err != nil {
		return nil, err
	}
	decodedString := string(decryptedData)

	return &decodedString, nil
}

// DecodeKey parses a hex encoded 32 byte key.
func DecodeKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(byt)), nil
}

func GenerateOTP(length int) (string, error) {
	const charset = "0123456789"

	code := make([]byte, length)
	if _, err := rand.Read(code); err != nil {
		return "", err
	}
	for i := 0; i < length; i++ {
		code[i] = charset[int(code[i])%len(charset)]
	}

	return string(code), nil
}

// PaymentNumber is the human facing payment id, e.g. PAY-20260115-3F9A1C.
func PaymentNumber(now time.Time) (string, error) {
	code, err := GenerateCode(3)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("PAY-%s-%s", now.UTC().Format("20060102"), code), nil
}
