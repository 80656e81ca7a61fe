package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"

	"github.com/banshee-data/lapsim/internal/api"
	"github.com/banshee-data/lapsim/internal/config"
	"github.com/banshee-data/lapsim/internal/db"
	"github.com/banshee-data/lapsim/internal/monitoring"
	"github.com/banshee-data/lapsim/internal/optimizer"
	"github.com/banshee-data/lapsim/internal/rpc"
	"github.com/banshee-data/lapsim/internal/runner"
)

func handleServe(ctx context.Context, args []string, stderr io.Writer) error {
	fs := newFlagSet("serve", stderr)
	var common commonFlags
	common.register(fs)
	listen := fs.String("listen", ":8080", "HTTP listen address")
	grpcListen := fs.String("grpc-listen", "", "gRPC listen address (empty disables)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *listen == "" {
		return errors.New("listen address is required")
	}
	if common.dbPath == "" {
		common.dbPath = "lapsim.db"
	}

	cfg, err := common.loadConfig(config.Defaults())
	if err != nil {
		return err
	}
	coords, err := common.loadTrack()
	if err != nil {
		return err
	}

	store, err := db.NewDB(common.dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	r := runner.New(cfg, course(coords),
		runner.WithStore(store),
		runner.WithMetrics(optimizer.NewMetrics(reg)))

	mux := http.NewServeMux()
	// mount the admin debugging routes (loopback or tailnet only)
	if err := store.AttachAdminRoutes(mux); err != nil {
		return err
	}
	mux.Handle("/", api.NewServer(r, store, reg).ServeMux())

	server := &http.Server{
		Addr:              *listen,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpLis, err := net.Listen("tcp", *listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", *listen, err)
	}

	var grpcServer *grpc.Server
	var grpcLis net.Listener
	if *grpcListen != "" {
		grpcLis, err = net.Listen("tcp", *grpcListen)
		if err != nil {
			httpLis.Close()
			return fmt.Errorf("failed to listen on %s: %w", *grpcListen, err)
		}
		grpcServer = grpc.NewServer()
		rpc.RegisterService(grpcServer, rpc.NewServer(r))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errs := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		monitoring.Logf("HTTP server listening on %s", httpLis.Addr())
		if err := server.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("HTTP server: %w", err)
			cancel()
		}
	}()

	if grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			monitoring.Logf("gRPC server listening on %s", grpcLis.Addr())
			if err := grpcServer.Serve(grpcLis); err != nil {
				errs <- fmt.Errorf("gRPC server: %w", err)
				cancel()
			}
		}()
	}

	// Wait for context cancellation to shut down server
	<-ctx.Done()
	monitoring.Logf("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	wg.Wait()
	close(errs)
	monitoring.Logf("Graceful shutdown complete")
	return <-errs
}
