package ws

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const (
	writeTimeout = 5 * time.Second
	sendBuffer   = 16
)

func (ws *WSServer) Serve() http.Handler {
	mux := http.NewServeMux()

	// main and only route for the ticker feed
	mux.HandleFunc("/", ws.MainHandler)

	return ws.corsMiddleware(mux)
}

// allowOrigin matches an Origin header against the configured host patterns,
// the same way the websocket handshake does.
func (ws *WSServer) allowOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Host)
	for _, pattern := range ws.originPatterns {
		if ok, _ := path.Match(strings.ToLower(pattern), host); ok {
			return true
		}
	}
	return false
}

func (ws *WSServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ws.originPatterns == nil {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			w.Header().Add("Vary", "Origin")
			if origin := r.Header.Get("Origin"); ws.allowOrigin(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
		w.Header().Set("Access-Control-Allow-Credentials", "false")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// MainHandler streams ticker frames to one subscriber until either side goes
// away. Subscribers only listen; anything they send is discarded.
func (ws *WSServer) MainHandler(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: ws.originPatterns == nil,
		OriginPatterns:     ws.originPatterns,
	})
	if err != nil {
		ws.logger.Warn("websocket handshake failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}
	defer c.CloseNow()

	ctx := c.CloseRead(r.Context())

	msgChan := make(chan []byte, sendBuffer)
	id := ws.broadcaster.RegisterReceiver(msgChan)
	defer ws.broadcaster.UnregisterReceiver(id)

	ws.logger.Debug("ticker subscriber connected",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Uint64("receiver", id),
	)

	for {
		select {
		case m, ok := <-msgChan:
			if !ok {
				// broadcaster closed, server is shutting down
				c.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}

			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Write(writeCtx, websocket.MessageText, m)
			cancel()
			if err != nil {
				ws.logger.Debug("failed to write ticker frame", zap.Uint64("receiver", id), zap.Error(err))
				return
			}
		case <-ctx.Done():
			// Client disconnected
			return
		}
	}
}
