// Package crypto implements the confidential message envelope: RSA-OAEP
// over base64, matching what the relay server produces.
package crypto

import (
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"go.uber.org/zap"
)

// FailedSentinel is shown in place of a body that could not be decrypted.
// The envelope never propagates cryptographic errors to the caller.
const FailedSentinel = "[Decryption Failed]"

// DecryptBody resolves the displayable text of a message body.
//
// Non-confidential bodies and self-authored bodies pass through unchanged:
// the server never re-encrypts for the author, so the plaintext field is
// authoritative. A confidential body from a counterparty requires both the
// private key and the ciphertext; when either is missing the best available
// text is returned instead of failing, so the UI never renders an empty
// bubble.
func DecryptBody(encrypted, plain string, confidential, selfAuthored bool, key *rsa.PrivateKey, logger *zap.Logger) string {
	if !confidential || selfAuthored {
		return plain
	}
	if key == nil || encrypted == "" {
		if encrypted != "" {
			return encrypted
		}
		return plain
	}

	raw, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		logDecryptError(logger, err)
		return FailedSentinel
	}
	// The relay encrypts with RSA-OAEP using a SHA-1 digest.
	out, err := rsa.DecryptOAEP(sha1.New(), nil, key, raw, nil)
	if err != nil {
		logDecryptError(logger, err)
		return FailedSentinel
	}
	return string(out)
}

func logDecryptError(logger *zap.Logger, err error) {
	if logger != nil {
		logger.Warn("message decryption failed", zap.Error(err))
	}
}

// ParsePrivateKey parses the PEM private key issued at signup. Both PKCS#1
// and PKCS#8 encodings are accepted.
func ParsePrivateKey(pemText string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, fmt.Errorf("no PEM block in private key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want RSA", parsed)
	}
	return key, nil
}
