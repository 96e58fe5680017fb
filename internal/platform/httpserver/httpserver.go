// Package httpserver builds the http.Server with production timeouts applied.
package httpserver

import (
	"net/http"
	"time"
)

// New returns an http.Server for the given address and handler.
// Per-request deadlines are enforced by the router's timeout middleware;
// these timeouts guard the connection itself.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
