// Package httpserver builds the ledger's HTTP server with baseline timeouts.
package httpserver

import (
	"net/http"
	"time"
)

// New returns a server for the given handler. ReadHeaderTimeout bounds slow
// clients; per-request deadlines are the timeout middleware's job, so no
// write timeout is set here.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
