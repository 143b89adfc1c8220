package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/analysis"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/api"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/batch"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/cache"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/config"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/evaluation"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/notes"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/quota"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/storage"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/xapi"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/youtube"
)

var startCmd = &cobra.Command{
	Use:     "start",
	Aliases: []string{"serve"},
	Short:   "Start the vschool server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running vschool server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vschool system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "vschool.pid")
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

func runServer() error {
	fmt.Fprintf(os.Stderr, "vschool version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	if cfg.API.Token == "" {
		return fmt.Errorf("API token not configured (set VSCHOOL_API_TOKEN or store the api_token secret)")
	}
	if cfg.YouTube.APIKey == "" {
		printWarning("YouTube API key not configured; youtube evaluations will fail")
	}
	if cfg.X.BearerToken == "" {
		printWarning("X bearer token not configured; x evaluations will fail")
	}
	if cfg.Gemini.APIKey == "" {
		printWarning("Gemini API key not configured; session analysis will fall back to neutral grades")
	}

	// Refuse to double-start: probe the health endpoint first.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("vschool is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("vschool is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Metric collection: upstream clients, cache, quota tracker, orchestrator.
	ytEval := youtube.NewEvaluator(youtube.NewClient(cfg.YouTube.APIKey))
	xEval := xapi.NewEvaluator(xapi.NewClient(cfg.X.BearerToken))
	metricsCache := cache.New(store)
	tracker := quota.NewTracker(store)
	// No credential refresher: the YouTube key and X bearer token are
	// long-lived static secrets, not expiring OAuth grants.
	orchestrator := batch.New(store, metricsCache, tracker, ytEval, xEval, nil)

	// Rubric evaluation: Gemini-backed session analysis over imported notes.
	analyzer := analysis.NewAnalyzer(analysis.NewClient(cfg.Gemini.APIKey))
	importer := notes.NewImporter(store)
	rubric := evaluation.NewService(store, analyzer, importer)

	handler := api.NewHandler(api.Deps{
		Students:     store,
		Orchestrator: orchestrator,
		Rubric:       rubric,
		Tracker:      tracker,
		Token:        cfg.API.Token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "vschool listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
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
		printError("vschool is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop vschool (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to vschool (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("YouTube key", "%s", credentialLabel(cfg.YouTube.APIKey))
	printStatus("X token", "%s", credentialLabel(cfg.X.BearerToken))
	printStatus("Gemini key", "%s", credentialLabel(cfg.Gemini.APIKey))

	// Show roster size and provider budgets if the server is up.
	if running && cfg.API.Token != "" {
		cli := &apiClient{
			baseURL:    serverURL,
			token:      cfg.API.Token,
			httpClient: client,
		}

		var roster struct {
			Count int `json:"count"`
		}
		if resp, err := cli.get(ctx, "/students"); err == nil {
			if decodeJSON(resp, &roster) == nil {
				printStatus("Active students", "%d", roster.Count)
			}
		}

		for _, provider := range []string{"youtube", "x"} {
			var q quotaResponse
			resp, err := cli.get(ctx, "/quota/"+provider)
			if err != nil {
				continue
			}
			if decodeJSON(resp, &q) == nil {
				printStatus("Quota "+provider, "%d/%d units used (%s)",
					q.Status.UsedUnits, q.Status.UsableLimit, q.Status.Period)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func credentialLabel(secret string) string {
	if secret == "" {
		return "not set"
	}
	return "configured"
}
