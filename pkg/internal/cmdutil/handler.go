/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package cmdutil holds the HTTP plumbing shared by the REST controllers of the loopback peer.
package cmdutil

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/rs/cors"
)

var logger = log.New("ipv8-attestation/cmdutil")

// Handler describes one REST endpoint.
type Handler interface {
	Path() string
	Method() string
	Handle() http.HandlerFunc
}

// NewHTTPHandler returns a Handler serving method requests on path with handle.
func NewHTTPHandler(path, method string, handle http.HandlerFunc) *HTTPHandler {
	return &HTTPHandler{path: path, method: method, handle: handle}
}

// HTTPHandler is a Handler built from its parts.
type HTTPHandler struct {
	path   string
	method string
	handle http.HandlerFunc
}

// Path returns http request path.
func (h *HTTPHandler) Path() string {
	return h.path
}

// Method returns http request method type.
func (h *HTTPHandler) Method() string {
	return h.method
}

// Handle returns http request handle func.
func (h *HTTPHandler) Handle() http.HandlerFunc {
	return h.handle
}

// NewRouter registers handlers on a router and wraps it for cross-origin use.
func NewRouter(handlers ...Handler) http.Handler {
	router := mux.NewRouter()

	for _, handler := range handlers {
		router.HandleFunc(handler.Path(), handler.Handle()).Methods(handler.Method())
	}

	return cors.New(
		cors.Options{
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodHead},
			AllowedHeaders: []string{"Origin", "Accept", "Content-Type", "X-Requested-With"},
		},
	).Handler(router)
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(rw http.ResponseWriter, status int, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		WriteError(rw, http.StatusInternalServerError, err)

		return
	}

	WriteRaw(rw, status, raw)
}

// WriteRaw writes an already encoded JSON body.
func WriteRaw(rw http.ResponseWriter, status int, body []byte) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)

	if _, err := rw.Write(body); err != nil {
		logger.Errorf("Unable to send response, %s", err)
	}
}

// WriteError writes err as {"error": "..."} with the given status.
func WriteError(rw http.ResponseWriter, status int, err error) {
	raw, mErr := json.Marshal(map[string]string{"error": err.Error()})
	if mErr != nil {
		logger.Errorf("Unable to marshal error response, %s", mErr)

		raw = []byte(`{"error": "internal error"}`)
	}

	WriteRaw(rw, status, raw)
}
