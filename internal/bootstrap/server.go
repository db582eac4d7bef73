package bootstrap

import (
	"net/http"
	"time"

	"github.com/veo3pk/studio/internal/config"
)

// NewHTTPServer builds the listener. WriteTimeout stays zero because batch
// progress streams over SSE for minutes; handlers bound their own work.
func NewHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}
