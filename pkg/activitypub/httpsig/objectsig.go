/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package httpsig

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	apcrypto "github.com/pollenhq/pollen/pkg/activitypub/crypto"
	"github.com/pollenhq/pollen/pkg/activitypub/vocab"
)

const (
	signatureProperty = "signature"

	// SignatureType is the type of the linked-data signatures produced by ObjectSigner.
	SignatureType = "RsaSignature2017"
)

// Signature is the linked-data style signature embedded in an object's 'signature' property.
type Signature struct {
	Type           string `json:"type"`
	Creator        string `json:"creator"`
	Created        string `json:"created"`
	SignatureValue string `json:"signatureValue"`
}

// ObjectSigner adds a linked-data style signature to ActivityPub objects. The signature is
// computed over the JCS canonical form of the object with the 'signature' property removed.
type ObjectSigner struct {
	privateKey  *rsa.PrivateKey
	publicKeyID string
}

// NewObjectSigner returns a signer that signs objects with the given private key.
func NewObjectSigner(privateKey *rsa.PrivateKey, publicKeyID string) *ObjectSigner {
	return &ObjectSigner{
		privateKey:  privateKey,
		publicKeyID: publicKeyID,
	}
}

// SignObject returns a copy of the given document with a 'signature' property added.
func (s *ObjectSigner) SignObject(doc vocab.Document) (vocab.Document, error) {
	canonical, err := canonicalize(doc)
	if err != nil {
		return nil, err
	}

	sigBytes, err := apcrypto.Sign(s.privateKey, canonical)
	if err != nil {
		return nil, fmt.Errorf("sign object: %w", err)
	}

	sig := &Signature{
		Type:           SignatureType,
		Creator:        s.publicKeyID,
		Created:        time.Now().UTC().Format(time.RFC3339),
		SignatureValue: base64.StdEncoding.EncodeToString(sigBytes),
	}

	sigDoc, err := vocab.MarshalToDoc(sig)
	if err != nil {
		return nil, fmt.Errorf("marshal signature: %w", err)
	}

	signedDoc := copyDoc(doc)
	signedDoc[signatureProperty] = map[string]interface{}(sigDoc)

	logger.Debug("Signed object", logfields.WithKeyID(s.publicKeyID))

	return signedDoc, nil
}

// ObjectVerifier verifies the linked-data style signature embedded in an object's
// 'signature' property. The creator's public key is resolved from its key IRI.
type ObjectVerifier struct {
	retriever publicKeyRetriever
}

// NewObjectVerifier returns a verifier that resolves creator keys with the given retriever.
func NewObjectVerifier(retriever publicKeyRetriever) *ObjectVerifier {
	return &ObjectVerifier{retriever: retriever}
}

// VerifyObject verifies the signature embedded in the given document and returns the IRI
// of the actor that owns the signing key.
func (v *ObjectVerifier) VerifyObject(doc vocab.Document) (*url.URL, error) {
	rawSig, ok := doc[signatureProperty]
	if !ok {
		return nil, errors.New("object has no signature")
	}

	sigDocBytes, err := json.Marshal(rawSig)
	if err != nil {
		return nil, fmt.Errorf("marshal signature property: %w", err)
	}

	sig := &Signature{}

	if err := json.Unmarshal(sigDocBytes, sig); err != nil {
		return nil, fmt.Errorf("unmarshal signature: %w", err)
	}

	if sig.Type != SignatureType {
		return nil, fmt.Errorf("unsupported signature type [%s]", sig.Type)
	}

	sigBytes, err := base64.StdEncoding.DecodeString(sig.SignatureValue)
	if err != nil {
		return nil, fmt.Errorf("decode signature value: %w", err)
	}

	keyIRI, err := url.Parse(sig.Creator)
	if err != nil {
		return nil, fmt.Errorf("parse creator [%s]: %w", sig.Creator, err)
	}

	publicKey, err := v.retriever.GetPublicKey(keyIRI)
	if err != nil {
		return nil, fmt.Errorf("get public key [%s]: %w", keyIRI, err)
	}

	rsaKey, err := apcrypto.ParsePublicKeyPEM([]byte(publicKey.PublicKeyPem))
	if err != nil {
		return nil, fmt.Errorf("parse public key [%s]: %w", keyIRI, err)
	}

	unsigned := copyDoc(doc)
	delete(unsigned, signatureProperty)

	canonical, err := canonicalize(unsigned)
	if err != nil {
		return nil, err
	}

	if err := apcrypto.Verify(rsaKey, canonical, sigBytes); err != nil {
		logger.Info("Object signature verification failed", logfields.WithKeyIRI(publicKey.ID), log.WithError(err))

		return nil, ErrInvalidSignature
	}

	logger.Debug("Successfully verified object signature", logfields.WithKeyIRI(publicKey.ID))

	return publicKey.Owner.URL(), nil
}

func canonicalize(doc vocab.Document) ([]byte, error) {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}

	canonical, err := jcs.Transform(docBytes)
	if err != nil {
		return nil, fmt.Errorf("canonicalize document: %w", err)
	}

	return canonical, nil
}

func copyDoc(doc vocab.Document) vocab.Document {
	docCopy := make(vocab.Document, len(doc))

	for k, v := range doc {
		docCopy[k] = v
	}

	return docCopy
}
