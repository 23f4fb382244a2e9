package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/docintel/internal/activity"
	"github.com/kalambet/docintel/internal/api"
	"github.com/kalambet/docintel/internal/broker"
	"github.com/kalambet/docintel/internal/config"
	"github.com/kalambet/docintel/internal/engine"
	"github.com/kalambet/docintel/internal/ingest"
	"github.com/kalambet/docintel/internal/rag"
	"github.com/kalambet/docintel/internal/storage"
)

// MCP transports accepted by serve --mcp.
const (
	mcpStdio = "stdio"
	mcpHTTP  = "http"
	mcpOff   = "off"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, MCP server, ingest worker and broker consumers",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpMode, _ := cmd.Flags().GetString("mcp")
		skipReady, _ := cmd.Flags().GetBool("skip-engine-check")
		return runServer(mcpMode, skipReady)
	},
}

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Run only the broker consumers (clustering and activity)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConsumers()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running docintel server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show docintel system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().String("mcp", mcpStdio, "MCP transport: stdio, http (on server.mcp_port) or off")
	serveCmd.Flags().Bool("skip-engine-check", false, "start without checking that the inference engine and models are ready")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "docintel.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func validMCPMode(mode string) error {
	switch mode {
	case mcpStdio, mcpHTTP, mcpOff:
		return nil
	default:
		return fmt.Errorf("unknown --mcp value %q (want %s, %s or %s)", mode, mcpStdio, mcpHTTP, mcpOff)
	}
}

func runServer(mcpMode string, skipReady bool) error {
	if err := validMCPMode(mcpMode); err != nil {
		return err
	}
	fmt.Fprintf(stderr, "docintel version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := setupLogging(cfg.Log.Level)

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("docintel is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("docintel is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if !skipReady {
		if err := engine.EnsureReady(ctx, a.engine, cfg.Engine.ChatModel, cfg.Engine.EmbedModel, stderr); err != nil {
			return err
		}
	}

	clusters := a.clustering()
	sup, err := a.supervisor(ctx, a.routes(clusters))
	if err != nil {
		return err
	}
	ragSvc := a.ragService()
	chats := rag.NewChats(ragSvc, a.store)
	cardSvc, cardGen := a.flashcards()
	quizGen, grader := a.quizzes()
	recorder := activity.NewRecorder(a.producer, logger)

	if cfg.Server.APIToken == "" {
		logger.Warn("server.api_token is empty; the HTTP API accepts unauthenticated requests")
	}
	appHandler := api.NewAppHandler(api.AppDeps{
		Store:      a.store,
		Vectors:    a.vectors,
		Uploader:   ingest.NewUploader(a.store, a.blobs, a.producer, logger),
		RAG:        ragSvc,
		Chats:      chats,
		Clusters:   clusters,
		Flashcards: cardSvc,
		Cards:      cardGen,
		Quizzes:    quizGen,
		Grader:     grader,
		Activity:   recorder,
		Token:      cfg.Server.APIToken,
		Logger:     logger,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:    a.store,
		RAG:      ragSvc,
		Chats:    chats,
		Clusters: clusters,
		Grader:   grader,
	})
	var mcpHTTPSrv *http.Server
	if mcpMode == mcpHTTP {
		mcpHTTPSrv = &http.Server{
			Addr:    fmt.Sprintf("127.0.0.1:%d", cfg.Server.MCPPort),
			Handler: server.NewStreamableHTTPServer(mcpSrv),
		}
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		a.ingestWorker().Run(ctx)
		return nil
	})
	eg.Go(func() error {
		sup.Run(ctx)
		return nil
	})
	eg.Go(func() error {
		logFailures(ctx, logger, sup.Failures())
		return nil
	})

	switch mcpMode {
	case mcpStdio:
		eg.Go(func() error {
			if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		logger.Info("MCP server started (stdio transport)")
	case mcpHTTP:
		eg.Go(func() error { return listen(mcpHTTPSrv, "MCP") })
	}

	eg.Go(func() error { return listen(srv, "docintel") })

	eg.Go(func() error {
		<-ctx.Done()
		fmt.Fprintln(stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if mcpHTTPSrv != nil {
			mcpHTTPSrv.Shutdown(shutdownCtx)
		}
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func listen(srv *http.Server, name string) error {
	fmt.Fprintf(stderr, "%s listening on %s\n", name, srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server error: %w", name, err)
	}
	return nil
}

func runConsumers() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	routes := a.routes(a.clustering())
	sup, err := a.supervisor(ctx, routes)
	if err != nil {
		return err
	}
	for _, r := range routes {
		printStep("consuming %s", r.Name())
	}

	go logFailures(ctx, logger, sup.Failures())
	sup.Run(ctx)
	fmt.Fprintln(stderr, "shutting down...")
	return nil
}

func logFailures(ctx context.Context, logger *slog.Logger, failures <-chan broker.Failure) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-failures:
			logger.Error("consumer restarted", "route", f.Route, "restarts", f.Restarts, "error", f.Err)
		}
	}
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("docintel is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop docintel (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to docintel (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	client.httpClient.Timeout = 2 * time.Second
	ctx := context.Background()

	resp, err := client.get(ctx, "/health")
	running := false
	switch {
	case err != nil:
		printStatus("Server", "stopped")
	case resp.StatusCode == http.StatusOK:
		resp.Body.Close()
		running = true
		printStatus("Server", "running on port %d", cfg.Server.Port)
	default:
		resp.Body.Close()
		printStatus("Server", "degraded (HTTP %d)", resp.StatusCode)
	}

	printStatus("Engine", "%s", cfg.Engine.Provider)
	printStatus("Chat model", "%s", cfg.Engine.ChatModel)
	printStatus("Embed model", "%s", cfg.Engine.EmbedModel)
	printStatus("Vector store", "%s", cfg.Vector.Backend)
	printStatus("Broker", "%s", cfg.Broker.Backend)
	printStatus("Blob store", "%s", cfg.Blob.Backend)

	if running {
		docsResp, err := client.get(ctx, "/documents?limit=100")
		if err == nil {
			var docs []struct {
				Status string `json:"status"`
			}
			if decodeJSON(docsResp, &docs) == nil {
				printStatus("Documents", "%s", countLabel(len(docs), 100))
				byStatus := map[string]int{}
				for _, d := range docs {
					byStatus[d.Status]++
				}
				for _, s := range []string{storage.DocumentUploaded, storage.DocumentIngesting, storage.DocumentReady, storage.DocumentFailed} {
					if n := byStatus[s]; n > 0 {
						printStatus("  "+s, "%d", n)
					}
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
