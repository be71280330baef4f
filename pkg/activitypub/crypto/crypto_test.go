/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package crypto

import (
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyPEMRoundTrip(t *testing.T) {
	privateKey, err := GenerateKeyPair()
	require.NoError(t, err)

	privPem, err := EncodePrivateKeyPEM(privateKey)
	require.NoError(t, err)

	parsedPriv, err := ParsePrivateKeyPEM(privPem)
	require.NoError(t, err)
	require.True(t, privateKey.Equal(parsedPriv))

	pubPem, err := EncodePublicKeyPEM(&privateKey.PublicKey)
	require.NoError(t, err)

	parsedPub, err := ParsePublicKeyPEM(pubPem)
	require.NoError(t, err)
	require.True(t, privateKey.PublicKey.Equal(parsedPub))
}

func TestParsePKCS1(t *testing.T) {
	privateKey, err := GenerateKeyPair()
	require.NoError(t, err)

	privPem := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	parsedPriv, err := ParsePrivateKeyPEM(privPem)
	require.NoError(t, err)
	require.True(t, privateKey.Equal(parsedPriv))

	pubPem := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(&privateKey.PublicKey),
	})

	parsedPub, err := ParsePublicKeyPEM(pubPem)
	require.NoError(t, err)
	require.True(t, privateKey.PublicKey.Equal(parsedPub))
}

func TestParseErrors(t *testing.T) {
	_, err := ParsePrivateKeyPEM([]byte("not pem"))
	require.EqualError(t, err, "invalid PEM")

	_, err = ParsePublicKeyPEM([]byte("not pem"))
	require.EqualError(t, err, "invalid PEM")
}

func TestSignVerify(t *testing.T) {
	privateKey, err := GenerateKeyPair()
	require.NoError(t, err)

	data := []byte("(request-target): post /users/alice/inbox")

	signature, err := Sign(privateKey, data)
	require.NoError(t, err)

	require.NoError(t, Verify(&privateKey.PublicKey, data, signature))

	err = Verify(&privateKey.PublicKey, []byte("tampered"), signature)
	require.Error(t, err)
}

func TestDigest(t *testing.T) {
	body := []byte(`{"type":"Note","content":"hello"}`)

	digest := Digest(body)
	require.Contains(t, digest, "SHA-256=")

	require.NoError(t, VerifyDigest(body, digest))

	require.Error(t, VerifyDigest([]byte("tampered"), digest))

	err := VerifyDigest(body, "MD5=deadbeef")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported digest algorithm")
}
