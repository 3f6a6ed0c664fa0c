package ws

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"mantleforge/internal/common"

	"go.uber.org/zap"
)

type WSServer struct {
	port           int
	broadcaster    *common.Broadcaster
	originPatterns []string
	logger         *zap.Logger
}

func newWSServer(broadcaster *common.Broadcaster, port int, corsOrigin string, logger *zap.Logger) *WSServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSServer{
		port:           port,
		broadcaster:    broadcaster,
		originPatterns: originPatterns(corsOrigin),
		logger:         logger,
	}
}

// NewWSServer serves the mint ticker feed on port.
func NewWSServer(broadcaster *common.Broadcaster, port int, corsOrigin string, logger *zap.Logger) *http.Server {
	ws := newWSServer(broadcaster, port, corsOrigin, logger)

	// Declare Server config
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", ws.port),
		Handler:     ws.Serve(),
		IdleTimeout: time.Minute,
		ReadTimeout: 10 * time.Second,
	}

	return server
}

// originPatterns turns the CORS origin setting into host patterns for the
// websocket handshake. nil means any origin.
func originPatterns(corsOrigin string) []string {
	var patterns []string
	for _, origin := range strings.Split(corsOrigin, ",") {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if origin == "*" {
			return nil
		}
		origin = strings.TrimPrefix(origin, "https://")
		origin = strings.TrimPrefix(origin, "http://")
		patterns = append(patterns, origin)
	}
	return patterns
}
