// Command static-server serves a directory over HTTP. It stands in for
// `python3 -m http.server` as a server.command.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ui-qa/internal/logging"
)

func main() {
	dir := flag.String("dir", ".", "directory to serve")
	port := flag.Int("port", 8000, "port to listen on")
	host := flag.String("host", "", "interface to bind (default all)")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger := logging.New(*level)

	if st, err := os.Stat(*dir); err != nil || !st.IsDir() {
		fmt.Fprintf(os.Stderr, "error: %s is not a directory\n", *dir)
		os.Exit(2)
	}

	mux := http.NewServeMux()
	files := http.FileServer(http.Dir(*dir))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		files.ServeHTTP(w, r)
		logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("request")
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", *host, *port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	logger.Info().Str("addr", srv.Addr).Str("dir", *dir).Msg("static-server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
