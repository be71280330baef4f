/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import "net/http"

// HTTPRequestHandler handles an HTTP request.
type HTTPRequestHandler func(w http.ResponseWriter, req *http.Request)

// HTTPHandler defines an HTTP request handler bound to a path and method.
type HTTPHandler interface {
	// Path returns the context path.
	Path() string
	// Method returns the HTTP method.
	Method() string
	// Handler returns the handler function.
	Handler() HTTPRequestHandler
}

type httpHandler struct {
	path    string
	method  string
	handler HTTPRequestHandler
}

// NewHTTPHandler returns an HTTPHandler for the given path and method.
func NewHTTPHandler(path, method string, handler HTTPRequestHandler) HTTPHandler {
	return &httpHandler{path: path, method: method, handler: handler}
}

func (h *httpHandler) Path() string {
	return h.path
}

func (h *httpHandler) Method() string {
	return h.method
}

func (h *httpHandler) Handler() HTTPRequestHandler {
	return h.handler
}
