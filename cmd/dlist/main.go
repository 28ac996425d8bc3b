// Prints the demo list, or with --serve spins up the dlist server, compatible w/ the Redis protocol.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/nobletooth/dlist/pkg/config"
	"github.com/nobletooth/dlist/pkg/keyspace"
	"github.com/nobletooth/dlist/pkg/list"
	"github.com/nobletooth/dlist/pkg/port"
	"github.com/nobletooth/dlist/pkg/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	printVersion   = flag.Bool("print_version", false, "Print the version and exit.")
	serve          = flag.Bool("serve", false, "Serve named lists over the Redis protocol instead of printing the demo.")
	metricsAddress = flag.String("metrics_address", ":9090",
		"The ip:port serving Prometheus metrics while --serve is set. Empty disables it.")
	verifyInterval = flag.Duration("verify_interval", 0,
		"How often the keyspace checks the structure of its lists while --serve is set. Zero disables it.")
)

// demoList builds the list 1 <-> 2 <-> 3 <-> 4 from both ends.
func demoList() *list.List {
	demo := list.New()
	demo.InsertFront("2")
	demo.InsertFront("1")
	demo.InsertBack("3")
	demo.InsertBack("4")
	return demo
}

// printDemo writes the display string of the demo list to `out`.
func printDemo(out io.Writer) error {
	_, err := fmt.Fprintln(out, demoList())
	return err
}

// runMetricsServer serves Prometheus metrics on `addr` until `ctx` is cancelled.
func runMetricsServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shut down metrics server.", "error", err)
		}
	}()

	slog.Info("Serving metrics.", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server stopped: %w", err)
	}
	return nil
}

func runServer(ctx context.Context) error {
	store := keyspace.NewStoreFromFlags()
	if *verifyInterval > 0 {
		go store.RunVerifier(ctx, *verifyInterval)
	}
	if *metricsAddress != "" {
		go func() {
			if err := runMetricsServer(ctx, *metricsAddress); err != nil {
				slog.Error("Metrics are unavailable.", "error", err)
			}
		}()
	}
	return port.RunRedisServer(ctx, store)
}

func main() {
	config.InitFlags()
	utils.InitLogging()

	if *printVersion {
		utils.LogBuildInfo()
		return
	}

	if !*serve {
		if err := printDemo(os.Stdout); err != nil {
			slog.Error("Failed to print the demo list.", "err", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt)

	go func() { // Listen for OS interrupts in the background.
		sig := <-signals
		slog.Info("Received termination signal, cancelling server context.", "signal", sig)
		cancel()
	}()

	if err := runServer(ctx); err != nil {
		slog.Error("Dlist server stopped.", "err", err)
		os.Exit(1)
	}
}
