package servecmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"sqlrunner/internal/config"
	"sqlrunner/internal/database"
	"sqlrunner/internal/executor"
	"sqlrunner/internal/reload"
	"sqlrunner/internal/rpc"
	"sqlrunner/internal/task"
	"sqlrunner/internal/watchdog"
)

// serverLogLimit bounds the recent-log buffer surfaced by the status method
const serverLogLimit = 1000

var Command = &cobra.Command{
	Use:   "serve",
	Short: "Run the RPC server",
	Long: `Starts the JSON-RPC server: compiles the project, opens the warehouse
connection, and serves requests until interrupted. SIGHUP reloads the
project graph without interrupting in-flight tasks.`,
	Run: func(cmd *cobra.Command, args []string) {
		conf := config.FromCobraCmd(cmd)
		serve(conf)
	},
}

func serve(conf *config.SRConfig) {
	serverLogs := task.NewRingBuffer(serverLogLimit)
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(zerolog.NewConsoleWriter(), serverLogs)).
		Level(conf.ZerologLevel()).
		With().
		Timestamp().
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(conf)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not connect to database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("Could not close database")
		}
	}()

	registry := task.NewRegistry()
	exec := executor.New(db, conf.Project.Threads)

	controller := reload.NewController(conf.Project.Dir)
	// the server stays up on a failed initial compile; status reports the
	// error state until a reload succeeds
	_ = controller.Reload()

	// SIGHUP triggers an atomic graph swap; running tasks keep the snapshot
	// they started with
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	triggers := make(chan struct{}, 1)
	go func() {
		for range hup {
			select {
			case triggers <- struct{}{}:
			default:
			}
		}
	}()
	go controller.HandleTriggers(ctx, triggers)

	if conf.Project.Watch {
		if err := controller.Watch(ctx); err != nil {
			log.Error().Err(err).Msg("Could not watch project directory")
		}
	}

	wd := watchdog.New(registry, time.Duration(conf.Watchdog.PollIntervalMs)*time.Millisecond)
	wd.Start(ctx)
	defer wd.Stop()

	server := rpc.New(ctx, registry, exec, controller, serverLogs)
	addr := fmt.Sprintf("%s:%d", conf.Server.Host, conf.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: server}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Could not shut down server cleanly")
		}
	}()

	log.Info().Str("addr", addr).Int("pid", os.Getpid()).Msg("Serving requests")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
