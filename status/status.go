package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dhcgn/mail-triage/stats"
)

// Snapshotter exposes the running triage totals.
type Snapshotter interface {
	Snapshot() stats.Summary
}

// Counter reports the number of processed messages.
type Counter interface {
	Len() int
}

type Report struct {
	Status    string        `json:"status"`
	Uptime    string        `json:"uptime"`
	Processed int           `json:"processed"`
	DryRun    bool          `json:"dry_run"`
	Summary   stats.Summary `json:"summary"`
}

// NewRouter returns the status routes: /healthz and /stats.
func NewRouter(collector Snapshotter, ledger Counter, dryRun bool, started time.Time) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, Report{
			Status:    "ok",
			Uptime:    time.Since(started).Round(time.Second).String(),
			Processed: ledger.Len(),
			DryRun:    dryRun,
			Summary:   collector.Snapshot(),
		})
	})
	return router
}

// Serve blocks until ctx is cancelled, then shuts the server down.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if logger != nil {
		logger.Info("status endpoint listening", "addr", addr)
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}
