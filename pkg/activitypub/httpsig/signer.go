/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package httpsig

import (
	"crypto/rsa"
	"fmt"
	"net/http"
	"time"

	httpsig "github.com/igor-pavlenko/httpsignatures-go"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
)

const (
	dateHeader   = "Date"
	digestHeader = "digest"
)

// SignerConfig contains the configuration for signing HTTP requests.
type SignerConfig struct {
	Headers []string
}

// DefaultGetSignerConfig returns the default configuration for signing HTTP GET requests.
func DefaultGetSignerConfig() SignerConfig {
	return SignerConfig{
		Headers: []string{"(request-target)", "host", "date"},
	}
}

// DefaultPostSignerConfig returns the default configuration for signing HTTP POST requests.
func DefaultPostSignerConfig() SignerConfig {
	return SignerConfig{
		Headers: []string{"(request-target)", "host", "date", digestHeader},
	}
}

// Signer signs HTTP requests and adds the signature to the request headers.
type Signer struct {
	SignerConfig

	algorithm *SignatureHashAlgorithm
}

// NewSigner returns a new signer which signs requests with the given private key.
func NewSigner(cfg SignerConfig, privateKey *rsa.PrivateKey) *Signer {
	return &Signer{
		SignerConfig: cfg,
		algorithm:    NewSignerAlgorithm(privateKey),
	}
}

// SignRequest signs an HTTP request, adding the Date, Digest (for requests that
// include a body in the signed headers) and Signature headers.
func (s *Signer) SignRequest(publicKeyID string, req *http.Request) error {
	req.Header.Set(dateHeader, date())

	if req.Host == "" {
		req.Host = req.URL.Host
	}

	// A new instance is created for each request since the HTTP signature
	// implementation is not thread safe.
	hs := httpsig.NewHTTPSignatures(&SecretRetriever{})
	hs.SetDefaultSignatureHeaders(s.Headers)
	hs.SetSignatureHashAlgorithm(s.algorithm)

	if err := hs.Sign(publicKeyID, req); err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	logger.Debug("Signed request", logfields.WithRequestURL(req.URL), logfields.WithKeyID(publicKeyID))

	return nil
}

func date() string {
	return time.Now().UTC().Format(http.TimeFormat)
}
