package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/lanikai/rtsprelay"
	"github.com/lanikai/rtsprelay/internal/logging"
	"github.com/lanikai/rtsprelay/internal/store"
)

// Populated via -ldflags="-X main.GitTag=... -X main.GitRevisionId=...".
var GitRevisionId string
var GitTag string

var log = logging.DefaultLogger.WithTag("rtsprelayd")

// version displays information and exits successfully (GNU convention)
func version() {
	fmt.Println("rtsprelayd", GitTag, GitRevisionId)
	fmt.Println("Copyright 2019 Lanikai Labs LLC. All rights reserved.")
}

// applyFlags overrides config with the flags given on the command line.
func applyFlags(config *rtsprelay.Config) {
	set := flag.CommandLine.Changed
	if set("listen") {
		config.Listen = flagListen
	}
	if set("db") {
		config.Database.Path = flagDatabase
	}
	if set("width") {
		config.Decoder.Width = flagWidth
	}
	if set("height") {
		config.Decoder.Height = flagHeight
	}
	if set("quality") {
		config.Encoder.Quality = flagQuality
	}
	if set("max-attempts") {
		config.Session.MaxAttempts = flagMaxAttempts
	}
	if set("retry-delay") {
		config.Session.RetryDelay = flagRetryDelay
	}
	if set("fps") && flagFPS > 0 {
		config.Session.FrameInterval = time.Duration(float64(time.Second) / flagFPS)
	}
	if set("probe") {
		config.Session.Probe = flagProbe
	}
	if set("log-level") {
		config.LogLevel = flagLogLevel
	}
}

// addStreams registers each NAME=URL as an active stream.
func addStreams(st *store.Store, specs []string) error {
	for _, spec := range specs {
		v := strings.SplitN(spec, "=", 2)
		if len(v) != 2 || v[0] == "" {
			return fmt.Errorf("--add %q: expected NAME=URL", spec)
		}
		s := &store.Stream{Name: v[0], URL: v[1], IsActive: true}
		if err := st.Create(s); err != nil {
			return fmt.Errorf("--add %q: %v", spec, err)
		}
		log.Info("Stream %q registered as /ws/streams/%d/", s.Name, s.ID)
	}
	return nil
}

// manage runs the stream management flags against the database. It reports
// whether any were given.
func manage(config rtsprelay.Config) (bool, error) {
	set := flag.CommandLine.Changed
	if !set("list") && !set("enable") && !set("disable") && !set("remove") {
		return false, nil
	}

	st, err := store.Open(config.Database.Path, config.Database.CacheSize)
	if err != nil {
		return true, err
	}
	defer st.Close()

	for _, id := range flagEnable {
		if err := st.SetActive(id, true); err != nil {
			return true, fmt.Errorf("--enable %d: %v", id, err)
		}
	}
	for _, id := range flagDisable {
		if err := st.SetActive(id, false); err != nil {
			return true, fmt.Errorf("--disable %d: %v", id, err)
		}
	}
	for _, id := range flagRemove {
		if err := st.Delete(id); err != nil {
			return true, fmt.Errorf("--remove %d: %v", id, err)
		}
	}

	if flagList {
		streams, err := st.List()
		if err != nil {
			return true, err
		}
		for _, s := range streams {
			state := "inactive"
			if s.IsActive {
				state = "active"
			}
			fmt.Printf("%4d  %-8s  %-20s  %s\n", s.ID, state, s.Name, s.URL)
			if s.LastError != nil {
				fmt.Printf("      last error (%d attempts): %s\n", s.ReconnectionAttempts, *s.LastError)
			}
		}
	}
	return true, nil
}

func main() {
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}

	if flagVersion {
		version()
		os.Exit(0)
	}

	config := rtsprelay.DefaultConfig()
	if flagConfig != "" {
		var err error
		if config, err = rtsprelay.LoadConfig(flagConfig); err != nil {
			log.Fatalf("%v", err)
		}
	}
	applyFlags(&config)

	if managed, err := manage(config); managed {
		if err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	relay, err := rtsprelay.New(config)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := addStreams(relay.Store, flagAdd); err != nil {
		relay.Store.Close()
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		errc <- relay.ListenAndServe()
	}()

	select {
	case err = <-errc:
		if err != nil {
			log.Error("%v", err)
		}
	case <-ctx.Done():
		log.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := relay.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	if err != nil {
		os.Exit(1)
	}
}
