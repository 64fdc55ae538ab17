package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"

	"fxpanel/internal/domain"
)

const encPrefix = "enc:"

// decryptSecrets replaces every "enc:..." secret in cfg with its plaintext.
func decryptSecrets(cfg *Config, passphrase string) error {
	fields := map[string]*string{
		"fxrunner.api_token": &cfg.FXRunner.APIToken,
		"discord.token":      &cfg.Discord.Token,
		"slack.bot_token":    &cfg.Slack.BotToken,
	}
	for i := range cfg.Gateway.Auth.Tokens {
		name := fmt.Sprintf("gateway.auth.tokens[%s]", cfg.Gateway.Auth.Tokens[i].Name)
		fields[name] = &cfg.Gateway.Auth.Tokens[i].Token
	}

	for name, fp := range fields {
		if !strings.HasPrefix(*fp, encPrefix) {
			continue
		}
		plain, err := DecryptValue(strings.TrimPrefix(*fp, encPrefix), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*fp = plain
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
// The result is hex(salt) + ":" + hex(nonce+ciphertext), without the enc: prefix.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(sealed), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("%w: invalid encrypted format", domain.ErrDecryption)
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("%w: decode salt: %v", domain.ErrDecryption, err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("%w: decode ciphertext: %v", domain.ErrDecryption, err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", domain.ErrDecryption)
	}

	plain, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}
	return string(plain), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}
