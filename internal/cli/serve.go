package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lazypower/keepsake/internal/scheduler"
	"github.com/lazypower/keepsake/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server and the decay scheduler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Bool("no-scheduler", false, "do not run batch decay on the configured schedule")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	eng := a.engine
	if eng.Embedder != nil {
		log.Info().Str("model", eng.Embedder.Model()).Int("dims", eng.Embedder.Dimensions()).Msg("embedder ready")
		// Embed any facts missing vectors
		go func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
			defer cancel()
			if n, err := eng.EmbedMissing(ctx); err != nil {
				log.Warn().Err(err).Msg("embed missing")
			} else if n > 0 {
				log.Info().Int("facts", n).Msg("embedded missing facts")
			}
		}()
	}
	if eng.LLM != nil {
		log.Info().Str("provider", cfg.LLM.Provider).Str("model", cfg.LLM.Model).Msg("extraction collaborator ready")
	}

	if noSched, _ := cmd.Flags().GetBool("no-scheduler"); !noSched {
		var locker scheduler.Locker
		if cfg.Scheduler.RedisURL != "" {
			rl, err := scheduler.NewRedisLocker(ctx, cfg.Scheduler.RedisURL)
			if err != nil {
				return fmt.Errorf("decay lock: %w", err)
			}
			defer rl.Close()
			locker = rl
		}
		sched, err := scheduler.New(cfg.Decay.Schedule, eng, locker, cfg.Scheduler.LockTTL)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	srv := server.New(eng, VersionString())
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", httpServer.Addr).Str("db", a.db.Path).Str("retrieval", cfg.Memory.RetrievalMode).Msg("keepsake serving")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	// let background turn processing finish before the store closes
	if err := srv.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("turn processing still running at shutdown")
	}
	return nil
}
