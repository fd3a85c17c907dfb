// File: internal/server/stream.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/solana-mint-listener/internal/models"
)

const wsWriteWait = 10 * time.Second

// streamHandler serves the event stream as Server-Sent Events. Each connection
// gets its own subscription, removed again on every exit path.
func (s *HTTPServer) streamHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "Streaming is not supported", nil)
		return
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, models.Greeting{Message: models.GreetingMessage}); err != nil {
		return
	}
	flusher.Flush()

	sub, err := s.hub.Register()
	if err != nil {
		s.logger.WithError(err).Warn("Stream opened after hub shutdown")
		return
	}
	defer s.hub.Deregister(sub)

	logger := s.logger.WithFields(logrus.Fields{
		"subscription_id": sub.ID,
		"remote_ip":       r.RemoteAddr,
		"transport":       "sse",
	})
	logger.Info("Stream subscriber connected")
	defer logger.Info("Stream subscriber disconnected")

	keepAlive, stop := s.keepAliveTicker()
	defer stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeSSE(w, evt); err != nil {
				logger.WithError(err).Debug("Stream write failed")
				return
			}
			flusher.Flush()
		case <-keepAlive:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// websocketHandler serves the same stream framed as websocket text messages
func (s *HTTPServer) websocketHandler(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		s.logger.WithError(err).Debug("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	if err := writeWS(conn, models.Greeting{Message: models.GreetingMessage}); err != nil {
		return
	}

	sub, err := s.hub.Register()
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(wsWriteWait))
		return
	}
	defer s.hub.Deregister(sub)

	logger := s.logger.WithFields(logrus.Fields{
		"subscription_id": sub.ID,
		"remote_ip":       r.RemoteAddr,
		"transport":       "websocket",
	})
	logger.Info("Stream subscriber connected")
	defer logger.Info("Stream subscriber disconnected")

	// The client never sends data; reading only detects the close
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	keepAlive, stop := s.keepAliveTicker()
	defer stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			return
		case evt, ok := <-sub.Events():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			if err := writeWS(conn, evt); err != nil {
				logger.WithError(err).Debug("Websocket write failed")
				return
			}
		case <-keepAlive:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// keepAliveTicker returns a nil channel when keep-alives are disabled
func (s *HTTPServer) keepAliveTicker() (<-chan time.Time, func()) {
	if s.config.StreamKeepAlive <= 0 {
		return nil, func() {}
	}
	ticker := time.NewTicker(s.config.StreamKeepAlive)
	return ticker.C, ticker.Stop
}

func (s *HTTPServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.config.AllowedOrigins) == 0 {
		return true
	}
	return lo.Contains(s.config.AllowedOrigins, "*") || lo.Contains(s.config.AllowedOrigins, origin)
}

func writeSSE(w io.Writer, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

func writeWS(conn *websocket.Conn, v interface{}) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}
