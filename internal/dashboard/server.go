// Package dashboard exposes the coordinator's control surface over HTTP:
// JSON endpoints for status, health, sessions, and jobs, plus a server-sent
// event stream of the live event bus. The dashboard is read-only; control
// commands go through the CLI and the control-request mailbox.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/postpilot/postpilot/internal/coordinator"
)

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Coordinator *coordinator.Coordinator
	DB          *gorm.DB
	Port        int
	Out         io.Writer
}

// Start launches the dashboard HTTP server. It blocks until ctx is
// cancelled, then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Coordinator == nil {
		return fmt.Errorf("dashboard: coordinator is required")
	}
	if opts.DB == nil {
		return fmt.Errorf("dashboard: db is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router := newRouter(opts.Coordinator, opts.DB)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard API at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// newRouter builds the gin engine with all routes registered.
func newRouter(coord *coordinator.Coordinator, db *gorm.DB) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, coord, db)
	return router
}
