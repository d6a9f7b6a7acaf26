// Command localserver runs the summary handler behind a plain HTTP API and
// ingests artifacts dropped into a local directory.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/comprehend"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"transcript-summaries/pkg/config"
	"transcript-summaries/pkg/db"
	"transcript-summaries/pkg/event"
	"transcript-summaries/pkg/handler"
	"transcript-summaries/pkg/logging"
	"transcript-summaries/pkg/objectstore"
	"transcript-summaries/pkg/response"
	"transcript-summaries/pkg/summarizer"
	"transcript-summaries/pkg/watcher"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	awsCfg, err := config.LoadAWS(ctx, cfg.AWS)
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}
	tagger := summarizer.NewComprehendTagger(comprehend.NewFromConfig(awsCfg), cfg.Summary.LanguageCode, cfg.AWS.SyntaxTimeout)

	manager := db.NewManager(cfg.Mongo, logger)
	defer manager.Close(context.Background())
	store := db.NewSummaryStore(manager, cfg.Mongo.OperationTimeout, logger)

	objects := objectstore.NewDirReader(cfg.Local.Bucket, cfg.Local.DropDir)
	h := handler.New(store, objects, summarizer.New(tagger), logger)

	if err := os.MkdirAll(cfg.Local.DropDir, 0o755); err != nil {
		log.Fatalf("Failed to create drop dir: %v", err)
	}
	w, err := watcher.New(cfg.Local.DropDir, watcher.IngestHandler(h, cfg.Local.Bucket, cfg.Local.DropDir), logger, cfg.Local.Watchers)
	if err != nil {
		log.Fatalf("Failed to start drop watcher: %v", err)
	}
	defer w.Stop()
	go func() {
		if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("drop watcher exited", "error", err)
		}
	}()

	logger.Info("local server listening", "addr", cfg.Local.Addr, "drop_dir", cfg.Local.DropDir)
	if err := runServer(ctx, newServer(h, cfg.Local.Bucket), cfg.Local.Addr); err != nil {
		logger.Error("server failed", "error", err)
	}
}

// runServer runs e until ctx is done or the listener fails, then shuts it down.
// A listener failure is returned so deferred cleanup in main still runs.
func runServer(ctx context.Context, e *echo.Echo, addr string) error {
	serveErr := make(chan error, 1)
	go func() { serveErr <- e.Start(addr) }()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	return err
}

// newServer maps HTTP routes onto the envelopes the handler understands.
func newServer(inv watcher.Invoker, bucket string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	e.GET("/summaries", func(c echo.Context) error {
		query := map[string]string{}
		if values, ok := c.QueryParams()[event.StatusFilter]; ok && len(values) > 0 {
			query[event.StatusFilter] = values[0]
		}
		raw, err := event.APIRequest(http.MethodGet, "/summaries", nil, query)
		if err != nil {
			return err
		}
		return invoke(c, inv, raw)
	})

	e.GET("/summaries/:"+event.SummaryIDParam, func(c echo.Context) error {
		params := map[string]string{event.SummaryIDParam: c.Param(event.SummaryIDParam)}
		raw, err := event.APIRequest(http.MethodGet, "/summaries/{summary_id}", params, nil)
		if err != nil {
			return err
		}
		return invoke(c, inv, raw)
	})

	// POST /ingest?key=clip1.json replays a notification for a file already
	// in the drop directory.
	e.POST("/ingest", func(c echo.Context) error {
		key := c.QueryParam("key")
		if key == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "key is required")
		}
		raw, err := event.Notification(bucket, key)
		if err != nil {
			return err
		}
		return invoke(c, inv, raw)
	})

	return e
}

func invoke(c echo.Context, inv watcher.Invoker, raw []byte) error {
	resp, err := inv.Handle(c.Request().Context(), raw)
	if err != nil {
		return err
	}
	return write(c, resp)
}

func write(c echo.Context, resp events.APIGatewayProxyResponse) error {
	for k, v := range resp.Headers {
		c.Response().Header().Set(k, v)
	}
	return c.Blob(resp.StatusCode, resp.Headers[response.HeaderContentType], []byte(resp.Body))
}
