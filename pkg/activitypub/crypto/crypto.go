/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// DefaultKeySize is the key size (in bits) used when generating new RSA key pairs.
const DefaultKeySize = 2048

const digestPrefix = "SHA-256="

// GenerateKeyPair generates a new RSA key pair using the default key size.
func GenerateKeyPair() (*rsa.PrivateKey, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, DefaultKeySize)
	if err != nil {
		return nil, fmt.Errorf("generate RSA key: %w", err)
	}

	return privateKey, nil
}

// ParsePrivateKeyPEM parses an RSA private key from its PEM encoding. Both PKCS#8
// and PKCS#1 encodings are supported.
func ParsePrivateKeyPEM(keyPem []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(keyPem)
	if block == nil {
		return nil, errors.New("invalid PEM")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("key is not an RSA private key")
		}

		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return rsaKey, nil
}

// ParsePublicKeyPEM parses an RSA public key from its PEM encoding. Both PKIX (SPKI)
// and PKCS#1 encodings are supported.
func ParsePublicKeyPEM(keyPem []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(keyPem)
	if block == nil {
		return nil, errors.New("invalid PEM")
	}

	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("key is not an RSA public key")
		}

		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	return rsaKey, nil
}

// EncodePrivateKeyPEM returns the PKCS#8 PEM encoding of the given private key.
func EncodePrivateKeyPEM(privateKey *rsa.PrivateKey) ([]byte, error) {
	keyBytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes}), nil
}

// EncodePublicKeyPEM returns the PKIX PEM encoding of the given public key.
func EncodePublicKeyPEM(publicKey *rsa.PublicKey) ([]byte, error) {
	keyBytes, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: keyBytes}), nil
}

// Sign signs the given data with RSASSA-PKCS1-v1_5 using SHA-256.
func Sign(privateKey *rsa.PrivateKey, data []byte) ([]byte, error) {
	hashed := sha256.Sum256(data)

	signature, err := rsa.SignPKCS1v15(rand.Reader, privateKey, crypto.SHA256, hashed[:])
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	return signature, nil
}

// Verify verifies an RSASSA-PKCS1-v1_5 SHA-256 signature over the given data.
func Verify(publicKey *rsa.PublicKey, data, signature []byte) error {
	hashed := sha256.Sum256(data)

	if err := rsa.VerifyPKCS1v15(publicKey, crypto.SHA256, hashed[:], signature); err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}

	return nil
}

// Digest returns the value of the Digest header for the given request body.
func Digest(body []byte) string {
	hashed := sha256.Sum256(body)

	return digestPrefix + base64.StdEncoding.EncodeToString(hashed[:])
}

// VerifyDigest verifies that the given Digest header value matches the request body.
func VerifyDigest(body []byte, digest string) error {
	if !strings.HasPrefix(strings.ToUpper(digest), digestPrefix) {
		return fmt.Errorf("unsupported digest algorithm [%s]", digest)
	}

	expected := Digest(body)

	if digest[len(digestPrefix):] != expected[len(digestPrefix):] {
		return errors.New("digest mismatch")
	}

	return nil
}
