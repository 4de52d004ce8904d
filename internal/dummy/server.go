// Package dummy is a local target with endpoints of known latency and error
// behaviour, for demos and tests.
package dummy

import (
	"context"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Endpoints served by Handler.
var Endpoints = []string{"/", "/fast", "/medium", "/slow", "/spike", "/error", "/fail", "/sleep"}

type ServerConfig struct {
	Addr string
}

func jitter(base, spread int) time.Duration {
	return time.Duration(rand.Intn(spread)+base) * time.Millisecond
}

func reply(w http.ResponseWriter, status int, body string) {
	w.WriteHeader(status)
	w.Write([]byte(body))
}

// Handler returns the dummy routes.
func Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, "OK")
	})

	// 10-50ms
	mux.HandleFunc("/fast", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(jitter(10, 40))
		reply(w, http.StatusOK, "Fast response")
	})

	// 100-300ms
	mux.HandleFunc("/medium", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(jitter(100, 200))
		reply(w, http.StatusOK, "Medium response")
	})

	// 1s-2s, pushes p99 over the report threshold
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(jitter(1000, 1000))
		reply(w, http.StatusOK, "Slow response")
	})

	// Usually fast, 5% of requests take 2s.
	mux.HandleFunc("/spike", func(w http.ResponseWriter, r *http.Request) {
		if rand.Float32() < 0.05 {
			time.Sleep(2 * time.Second)
		} else {
			time.Sleep(20 * time.Millisecond)
		}
		reply(w, http.StatusOK, "Spikey response")
	})

	mux.HandleFunc("/error", func(w http.ResponseWriter, r *http.Request) {
		rnd := rand.Float32()
		switch {
		case rnd < 0.2:
			reply(w, http.StatusInternalServerError, "500 Internal Server Error")
		case rnd < 0.4:
			reply(w, http.StatusTooManyRequests, "429 Too Many Requests")
		default:
			reply(w, http.StatusOK, "OK")
		}
	})

	mux.HandleFunc("/fail", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusInternalServerError, "500 Internal Server Error")
	})

	// /sleep?ms=N holds the request for N milliseconds or until the client goes away.
	mux.HandleFunc("/sleep", func(w http.ResponseWriter, r *http.Request) {
		ms, _ := strconv.Atoi(r.URL.Query().Get("ms"))
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
			reply(w, http.StatusOK, "Slept")
		case <-r.Context().Done():
		}
	})

	return mux
}

// Start serves the dummy routes on cfg.Addr until ctx is done.
func Start(ctx context.Context, cfg ServerConfig, log *zap.Logger) error {
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("dummy server running", zap.String("addr", cfg.Addr), zap.Strings("endpoints", Endpoints))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "dummy server")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
