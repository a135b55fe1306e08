package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bobg/lattice"
	"github.com/bobg/lattice/link"
)

type (
	nodeStatuser interface{ Status() lattice.Status }
	linkStatser  interface{ Stats() link.Stats }
)

type statusResponse struct {
	Node lattice.Status `json:"node"`
	Link link.Stats     `json:"link"`
}

func statusHandler(node nodeStatuser, l linkStatser, logger logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httperr(w, logger, http.StatusMethodNotAllowed, "%s not supported", r.Method)
			return
		}
		resp := statusResponse{Node: node.Status(), Link: l.Stats()}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Errorf("writing status response: %s", err)
		}
	}
}

// serveStatus serves the status endpoint on addr until ctx is canceled.
func serveStatus(ctx context.Context, addr string, h http.Handler, logger logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/status", h)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Infof("status on http://%s/status", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func httperr(w http.ResponseWriter, logger logrus.FieldLogger, code int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logger.Debugf("http response %d: %s", code, msg)
	http.Error(w, msg, code)
}
