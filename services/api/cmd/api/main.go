package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"github.com/palqo/palqo/services/api/internal/app"
	"github.com/palqo/palqo/services/api/internal/config"
	"github.com/palqo/palqo/services/api/internal/telemetry"
	transporthttp "github.com/palqo/palqo/services/api/internal/transport/http"
	"github.com/palqo/palqo/services/api/migrations"
)

const (
	serviceName     = "palqo-api"
	startupTimeout  = 10 * time.Second
	shutdownTimeout = 10 * time.Second
)

var (
	version = "dev"
	cfgFile string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "palqo",
		Short:   "Registration service for a weekly capped-attendance event",
		Version: version,
		RunE:    runServe,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file (env vars override it)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the background jobs",
			Args:  cobra.NoArgs,
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			Args:  cobra.NoArgs,
			RunE:  runMigrate,
		},
		&cobra.Command{
			Use:   "cleanup",
			Short: "Archive this cycle's registrants and reset capacity",
			Args:  cobra.NoArgs,
			RunE:  runCleanup,
		},
		&cobra.Command{
			Use:   "send-weekly-emails",
			Short: "Send the weekly invitation and roster emails now",
			Args:  cobra.NoArgs,
			RunE:  runSendWeekly,
		},
		&cobra.Command{
			Use:   "capacity [max-spots]",
			Short: "Show the current capacity, or set max spots",
			Args:  cobra.MaximumNArgs(1),
			RunE:  runCapacity,
		},
	)
	return root
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := log.Default()

	rt, err := bootstrap(cmd.Context(), logger)
	if err != nil {
		return err
	}
	defer rt.close()

	shutdownTracing, err := telemetry.Setup(cmd.Context(), serviceName, telemetry.Config{
		Enabled:  rt.cfg.OTel.Enabled,
		Endpoint: rt.cfg.OTel.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Printf("telemetry shutdown error: %v", err)
		}
	}()

	jobs, err := rt.scheduler(logger)
	if err != nil {
		return err
	}
	jobs.Start()

	handler := transporthttp.NewRouter(transporthttp.Routes{
		Registrar: rt.registration,
		Events:    rt.events,
		Weekly:    rt.dispatch,
		DB:        rt.pool,
	}, rt.cfg.CORSOrigins, logger)

	server := &http.Server{
		Addr:              ":" + rt.cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := runServer(stopCtx, server, logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := jobs.Stop(shutdownCtx); err != nil {
		logger.Printf("scheduler stop error: %v", err)
	}
	logger.Printf("server stopped")
	return serveErr
}

// runServer serves until ctx is done or the listener fails, then drains
// in-flight requests. A listener failure is returned so the process exits
// non-zero.
func runServer(ctx context.Context, server *http.Server, logger *log.Logger) error {
	logger.Printf("api listening on %s", server.Addr)

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server error: %v", err)
			serveErr = fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		logger.Printf("shutdown signal received, stopping server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Printf("server shutdown error: %v", err)
	}
	return serveErr
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	logger := log.Default()
	cfg, err := config.Load(cfgFile, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), startupTimeout)
	defer cancel()

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := migrations.Apply(ctx, pool); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	logger.Printf("migrations applied")
	return nil
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	logger := log.Default()
	rt, err := bootstrap(cmd.Context(), logger)
	if err != nil {
		return err
	}
	defer rt.close()

	report, err := rt.lifecycle.Run(cmd.Context())
	if err != nil {
		return err
	}
	printCleanup(cmd.OutOrStdout(), report)
	return nil
}

func printCleanup(w io.Writer, report app.LifecycleReport) {
	fmt.Fprintf(w, "archived=%d deleted=%d kept=%d carried=%d spots_taken=%d\n",
		report.Archived, report.Deleted, len(report.Kept), len(report.Carried), report.SpotsTaken)
}

func runSendWeekly(cmd *cobra.Command, _ []string) error {
	logger := log.Default()
	rt, err := bootstrap(cmd.Context(), logger)
	if err != nil {
		return err
	}
	defer rt.close()

	report, err := rt.dispatch.SendWeekly(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "event_date=%s recipients=%d failed=%d\n",
		report.EventDate.Format(time.DateOnly), len(report.Results), report.Failed())
	return nil
}

func runCapacity(cmd *cobra.Command, args []string) error {
	logger := log.Default()
	rt, err := bootstrap(cmd.Context(), logger)
	if err != nil {
		return err
	}
	defer rt.close()

	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("max spots must be a whole number: %w", err)
		}
		if _, err := rt.events.SetCapacity(cmd.Context(), n); err != nil {
			return err
		}
	}

	details, err := rt.events.Details(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "event_date=%s max_spots=%d spots_taken=%d spots_left=%d\n",
		details.Date.Format(time.DateOnly), details.Cycle.MaxSpots, details.Cycle.SpotsTaken, details.Cycle.SpotsLeft())
	return nil
}
