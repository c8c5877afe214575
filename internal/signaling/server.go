//////////////////////////////////////////////////////////////////////////////
//
// Websocket endpoint for stream viewers
//
// A browser opens /ws/streams/{id}/ and joins the stream's group. It then
// controls the relay with JSON commands:
//
//	{"command": "start"}
//	{"command": "stop"}
//
// and receives every frame and error published to the group.
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package signaling

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"golang.org/x/net/netutil"

	"github.com/lanikai/rtsprelay/internal/hub"
	"github.com/lanikai/rtsprelay/internal/logging"
	"github.com/lanikai/rtsprelay/internal/session"
)

var log = logging.DefaultLogger.WithTag("signaling")

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Commands are tiny.
	maxCommandSize = 4096
)

const msgNotFound = "Stream not found or inactive"

// Controller starts and stops relay sessions.
type Controller interface {
	Start(id, uri string) bool
	Stop(id string)
	Sessions() []session.Status
}

// Streams resolves a stream id to its source.
type Streams interface {
	Lookup(id string) (url string, active bool, err error)
}

type Config struct {
	// Address to listen on, e.g. ":8000".
	Addr string

	// Maximum number of simultaneous connections. Zero means no limit.
	MaxConnections int

	// Messages buffered per viewer before the oldest is dropped.
	SendBuffer int

	// Allowed values of the Origin header. Empty allows any origin.
	AllowedOrigins []string
}

// Server accepts viewer websockets.
type Server struct {
	config     Config
	controller Controller
	streams    Streams
	hub        *hub.Hub

	upgrader websocket.Upgrader
	router   *http.ServeMux
	server   *http.Server
}

func NewServer(config Config, controller Controller, streams Streams, h *hub.Hub) *Server {
	if config.SendBuffer <= 0 {
		config.SendBuffer = 4
	}
	s := &Server{
		config:     config,
		controller: controller,
		streams:    streams,
		hub:        h,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     s.checkOrigin,
	}

	s.router = http.NewServeMux()
	s.router.HandleFunc("GET /ws/streams/{id}/", s.handleWebsocket)
	s.router.HandleFunc("GET /sessions", s.handleSessions)
	s.server = &http.Server{
		Addr:    config.Addr,
		Handler: s.router,
	}
	return s
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ListenAndServe blocks until the server fails or is shut down.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.config.Addr)
	}
	return s.Serve(l)
}

// Serve accepts connections on l.
func (s *Server) Serve(l net.Listener) error {
	if s.config.MaxConnections > 0 {
		l = netutil.LimitListener(l, s.config.MaxConnections)
	}
	log.Info("Listening on %s", l.Addr())
	err := s.server.Serve(l)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range s.config.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

type sessionJSON struct {
	ID        string `json:"stream_id"`
	State     string `json:"state"`
	Running   bool   `json:"running"`
	Failures  int    `json:"reconnection_attempts"`
	LastError string `json:"last_error,omitempty"`
	Frames    uint64 `json:"frames"`
	Pid       int    `json:"pid,omitempty"`
	Viewers   int    `json:"viewers"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	out := []sessionJSON{}
	for _, st := range s.controller.Sessions() {
		out = append(out, sessionJSON{
			ID:        st.ID,
			State:     st.State.String(),
			Running:   st.Running,
			Failures:  st.Failures,
			LastError: st.LastError,
			Frames:    st.Frames,
			Pid:       st.Pid,
			Viewers:   s.hub.Subscribers(hub.GroupKey(st.ID)),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		log.Debug("sessions: %v", err)
	}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("upgrade: %v", err)
		return
	}

	c := &viewer{
		server:     s,
		ws:         ws,
		id:         id,
		replies:    make(chan hub.Message, 1),
		writerDone: make(chan struct{}),
	}
	c.run()
}
