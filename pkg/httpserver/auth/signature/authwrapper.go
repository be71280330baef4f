/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package signature

import (
	"context"
	"net/http"
	"net/url"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/pollenhq/pollen/internal/pkg/log"
	"github.com/pollenhq/pollen/pkg/restapi/common"
)

const loggerModule = "httpserver"

type signatureVerifier interface {
	VerifyRequest(req *http.Request) (bool, *url.URL, error)
}

type contextKey string

const actorIRIKey contextKey = "actor-iri"

// HandlerWrapper wraps an existing HTTP handler and performs HTTP signature
// verification. If the signature is valid then the wrapped handler is invoked
// with the verified actor IRI available from the request context.
type HandlerWrapper struct {
	common.HTTPHandler

	verifier      signatureVerifier
	handleRequest common.HTTPRequestHandler
	logger        *log.Log
}

// NewHandlerWrapper returns a handler that first verifies the HTTP signature on
// the request and, if valid, invokes the wrapped handler.
func NewHandlerWrapper(handler common.HTTPHandler, verifier signatureVerifier) *HandlerWrapper {
	return &HandlerWrapper{
		HTTPHandler:   handler,
		verifier:      verifier,
		handleRequest: handler.Handler(),
		logger: log.New(loggerModule,
			log.WithFields(logfields.WithServiceEndpoint(handler.Path()))),
	}
}

// Handler returns the 'wrapper' handler.
func (h *HandlerWrapper) Handler() common.HTTPRequestHandler {
	return func(w http.ResponseWriter, req *http.Request) {
		ok, actorIRI, err := h.verifier.VerifyRequest(req)
		if err != nil {
			h.logger.Error("Error verifying request signature", log.WithError(err))

			w.WriteHeader(http.StatusInternalServerError)

			return
		}

		if !ok {
			h.logger.Debug("Request signature verification failed")

			w.WriteHeader(http.StatusUnauthorized)

			return
		}

		h.logger.Debug("Request signature verified", logfields.WithActorIRI(actorIRI))

		h.handleRequest(w, req.WithContext(ContextWithActorIRI(req.Context(), actorIRI)))
	}
}

// ContextWithActorIRI returns a new context with the given actor IRI.
func ContextWithActorIRI(ctx context.Context, actorIRI *url.URL) context.Context {
	return context.WithValue(ctx, actorIRIKey, actorIRI)
}

// ActorIRIFromContext returns the verified actor IRI from the given context, or
// nil if the request was not signature-verified.
func ActorIRIFromContext(ctx context.Context) *url.URL {
	actorIRI, ok := ctx.Value(actorIRIKey).(*url.URL)
	if !ok {
		return nil
	}

	return actorIRI
}
