//////////////////////////////////////////////////////////////////////////////
//
// Relay wires stream records, decoder sessions and viewer websockets together
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package rtsprelay

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/lanikai/rtsprelay/internal/decoder"
	"github.com/lanikai/rtsprelay/internal/hub"
	"github.com/lanikai/rtsprelay/internal/logging"
	"github.com/lanikai/rtsprelay/internal/media"
	"github.com/lanikai/rtsprelay/internal/probe"
	"github.com/lanikai/rtsprelay/internal/session"
	"github.com/lanikai/rtsprelay/internal/signaling"
	"github.com/lanikai/rtsprelay/internal/store"
)

var log = logging.DefaultLogger.WithTag("relay")

type Relay struct {
	Store      *store.Store
	Hub        *hub.Hub
	Controller *session.Controller

	server *signaling.Server

	// Orders viewer starts against stopping unwatched sessions.
	gate sync.Mutex
}

// viewerControl is the controller as seen by viewers. Its starts cannot
// interleave with stopUnwatched.
type viewerControl struct {
	*session.Controller
	relay *Relay
}

func (v viewerControl) Start(id, uri string) bool {
	v.relay.gate.Lock()
	defer v.relay.gate.Unlock()
	return v.Controller.Start(id, uri)
}

// New opens the stream database and assembles a relay from config. Nothing
// is listening until Serve or ListenAndServe is called.
func New(config Config) (*Relay, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.LogLevel != "" {
		if err := logging.Configure(config.LogLevel); err != nil {
			return nil, err
		}
	}

	st, err := store.Open(config.Database.Path, config.Database.CacheSize)
	if err != nil {
		return nil, err
	}
	return NewWithStore(config, st), nil
}

// NewWithStore assembles a relay around an already open store. The relay
// takes ownership of st.
func NewWithStore(config Config, st *store.Store) *Relay {
	format := config.Format()
	transport, _ := decoder.ParseTransport(config.Decoder.Transport)

	sup := decoder.NewSupervisor(decoder.Config{
		Command:    config.Decoder.Command,
		Format:     format,
		Scale:      config.Decoder.Scale,
		InputArgs:  config.Decoder.InputArgs,
		OutputArgs: config.Decoder.OutputArgs,
	})

	h := hub.New()
	quality := config.Encoder.Quality
	opts := session.Options{
		Spawner:   session.FromSupervisor(sup),
		Publisher: h,
		NewEncoder: func() media.Encoder {
			return media.NewJPEGEncoder(quality)
		},
		Status:         store.BySessionID{Store: st},
		StrictGeometry: config.Session.StrictGeometry,
		Format:         format,
		Transport:      transport,
		Policy: session.Policy{
			MaxAttempts: config.Session.MaxAttempts,
			Delay:       config.Session.RetryDelay,
		},
		FrameInterval: config.Session.FrameInterval,
		EndOfStream:   session.EndOfStreamPolicy(config.Session.EndOfStream),
	}
	if config.Session.Probe {
		opts.Prober = probe.New(config.Session.ProbeTimeout)
	}

	r := &Relay{
		Store:      st,
		Hub:        h,
		Controller: session.NewController(opts),
	}

	h.OnEmpty = r.stopUnwatched

	r.server = signaling.NewServer(signaling.Config{
		Addr:           config.Listen,
		MaxConnections: config.MaxConnections,
		SendBuffer:     config.SendBuffer,
		AllowedOrigins: config.AllowedOrigins,
	}, viewerControl{r.Controller, r}, store.BySessionID{Store: st}, h)
	r.server.ServeCatalog(st)

	return r
}

// stopUnwatched stops the session of a group nobody is watching any more. A
// viewer that joins concurrently either is counted here, or has its start
// ordered after the stop, which then starts a fresh session.
func (r *Relay) stopUnwatched(key string) {
	r.gate.Lock()
	defer r.gate.Unlock()

	if r.Hub.Subscribers(key) > 0 {
		return
	}
	id := strings.TrimPrefix(key, hub.GroupKey(""))
	log.Debug("No viewers left for stream %s", id)
	r.Controller.Stop(id)
}

// Handler serves the viewer endpoints without a listener of its own.
func (r *Relay) Handler() http.Handler {
	return r.server.Handler()
}

func (r *Relay) ListenAndServe() error {
	return r.server.ListenAndServe()
}

func (r *Relay) Serve(l net.Listener) error {
	return r.server.Serve(l)
}

// Shutdown stops accepting viewers, stops every session and closes the
// store.
func (r *Relay) Shutdown(ctx context.Context) error {
	err := r.server.Shutdown(ctx)
	r.Controller.StopAll()
	r.Hub.Close()
	if cerr := r.Store.Close(); err == nil {
		err = cerr
	}
	return err
}
