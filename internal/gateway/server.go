// Package gateway exposes chat sessions over WebSocket. Each connection
// gets its own session controller; the gateway pushes a snapshot of the
// read model on every state change and accepts send/delete/typing
// commands. It is the presentation boundary made concrete; rendering and
// layout stay on the client.
package gateway

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/cocina/chat-app/internal/metrics"
	"github.com/cocina/chat-app/internal/protocol"
	"github.com/cocina/chat-app/internal/session"
)

// SessionFactory builds a started-ready controller for one connection.
// The onUpdate hook receives a snapshot after every state change.
type SessionFactory func(identity session.Identity, onUpdate func(session.Snapshot)) *session.Controller

// Config holds tunable parameters for the gateway server.
type Config struct {
	ListenAddr   string        // address to listen on, e.g. ":8080"
	WriteTimeout time.Duration // timeout for WebSocket write operations
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   ":8080",
		WriteTimeout: 10 * time.Second,
	}
}

// Server upgrades HTTP connections to WebSocket and runs one chat session
// per connection in a dedicated goroutine.
type Server struct {
	config     Config
	sessions   SessionFactory
	httpServer *http.Server
}

// NewServer creates a gateway over the given session factory.
func NewServer(config Config, sessions SessionFactory) *Server {
	return &Server{config: config, sessions: sessions}
}

// Start begins accepting connections and blocks until the listener closes.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: mux,
	}

	log.Printf("[gateway] listening on %s", s.config.ListenAddr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting new connections and closes the listener.
// Established sessions end when their clients disconnect.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "ok")
}

// handleUpgrade upgrades an HTTP request to WebSocket and hands the
// connection to its session goroutine. The local identity comes from
// query parameters; resolving real credentials is the excluded auth
// collaborator's job, and a missing identity yields an observe-only
// session (sends fail with not_authenticated).
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	identity := session.Identity{
		AuthorID: query.Get("author_id"),
		Handle:   query.Get("handle"),
		Role:     query.Get("role"),
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("[gateway] upgrade failed: %v", err)
		return
	}

	go s.serveConn(conn, identity)
}

// serveConn runs one session: push snapshots out, dispatch commands in.
func (s *Server) serveConn(conn net.Conn, identity session.Identity) {
	metrics.Connections.Inc()
	defer metrics.Connections.Dec()
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(data []byte) {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		if err := wsutil.WriteServerMessage(conn, ws.OpText, data); err != nil {
			log.Printf("[gateway] write to %s: %v", conn.RemoteAddr(), err)
		}
	}

	ctrl := s.sessions(identity, func(snap session.Snapshot) {
		data, err := protocol.NewServerMessage(protocol.TypeSnapshot, protocol.SnapshotMsg{
			Messages: snap.Messages,
			Loading:  snap.Loading,
			Sending:  snap.Sending,
			Typing:   snap.Typing,
		})
		if err != nil {
			log.Printf("[gateway] marshal snapshot: %v", err)
			return
		}
		write(data)
	})
	defer ctrl.Stop()

	if err := ctrl.Start(context.Background()); err != nil {
		// History already rendered; live updates are degraded. The
		// session stays up rather than dropping the client.
		log.Printf("[gateway] session start for %s: %v", conn.RemoteAddr(), err)
	}

	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			var closed wsutil.ClosedError
			if !errors.As(err, &closed) && !errors.Is(err, io.EOF) {
				log.Printf("[gateway] read from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}
		s.dispatch(ctrl, data, write)
	}
}

// dispatch routes one client command to the controller and reports
// failures back as error envelopes.
func (s *Server) dispatch(ctrl *session.Controller, data []byte, write func([]byte)) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		s.writeError(write, "bad_message", err.Error())
		return
	}

	switch msgType {
	case protocol.TypeSend:
		m := msg.(protocol.SendMsg)
		if err := ctrl.Send(context.Background(), m.Text); err != nil {
			s.writeError(write, sendErrorCode(err), err.Error())
		}

	case protocol.TypeDelete:
		m := msg.(protocol.DeleteMsg)
		if err := ctrl.Delete(context.Background(), m.ID); err != nil {
			s.writeError(write, "store_write_failed", err.Error())
		}

	case protocol.TypeTyping:
		ctrl.NotifyTyping(context.Background())

	case protocol.TypePing:
		if data, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{}); err == nil {
			write(data)
		}
	}
}

func (s *Server) writeError(write func([]byte), code, message string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("[gateway] marshal error message: %v", err)
		return
	}
	write(data)
}

func sendErrorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrEmptyMessage):
		return "empty_message"
	case errors.Is(err, session.ErrSendInFlight):
		return "send_in_flight"
	case errors.Is(err, session.ErrNotAuthenticated):
		return "not_authenticated"
	default:
		return "store_write_failed"
	}
}
