package main

import (
	"context"
	"errors"
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

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/mealcart/internal/anchor"
	"github.com/kalambet/mealcart/internal/api"
	"github.com/kalambet/mealcart/internal/cartfill"
	"github.com/kalambet/mealcart/internal/config"
	"github.com/kalambet/mealcart/internal/ingest"
	"github.com/kalambet/mealcart/internal/jobs"
	"github.com/kalambet/mealcart/internal/llm"
	"github.com/kalambet/mealcart/internal/mealplan"
	"github.com/kalambet/mealcart/internal/profile"
	"github.com/kalambet/mealcart/internal/storage"
	"github.com/kalambet/mealcart/internal/translate"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the mealcart server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running mealcart server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show mealcart system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "mealcart.pid")
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
	fmt.Fprintf(os.Stderr, "mealcart version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	apiToken, err := ensureAPIToken(cfg)
	if err != nil {
		return err
	}
	slog.Info("API bearer token available")

	// Refuse to double-start: probe the health endpoint before claiming the
	// PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			ui.warnf("mealcart is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		ui.warnf("mealcart is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	profileMgr := profile.NewManager(store)
	llmClient := llm.New(cfg.OpenAI.APIKey)
	translator := translate.New(llmClient, cfg.OpenAI.TranslateModel, cfg.Cart.SearchLanguage)
	importer := ingest.NewImporter(store)
	generator := mealplan.New(llmClient, llmClient, profileMgr, store, mealplan.Config{
		PlanModel:     cfg.OpenAI.PlanModel,
		ImageModel:    cfg.OpenAI.ImageModel,
		Days:          cfg.Plan.Days,
		MaxNotes:      cfg.Plan.MaxNotes,
		ImagesEnabled: cfg.OpenAI.ImagesEnabled,
	})

	jobStore := jobs.NewMemoryStore()

	// Cart filling needs browser automation; without a key the rest of the
	// system still works.
	var starter api.CartFillStarter
	if cfg.Anchor.APIKey != "" {
		browser := anchor.New(cfg.Anchor.BaseURL, cfg.Anchor.APIKey)
		starter = cartfill.New(browser, translator, jobStore, store, cartfill.Config{
			Session: anchor.SessionConfig{
				ProfileName: cfg.Anchor.ProfileName,
				Region:      cfg.Anchor.Region,
				StartURL:    cfg.Cart.StoreURL,
			},
			SetupSteps:    cfg.Cart.SetupSteps,
			ProductSteps:  cfg.Cart.ProductSteps,
			NavigateSteps: cfg.Cart.NavigateSteps,
		})
		slog.Info("cart filling enabled", "store_url", cfg.Cart.StoreURL)
	} else {
		slog.Warn("MEALCART_ANCHOR_API_KEY not set, cart filling disabled")
	}

	appHandler := api.NewAppHandler(api.AppDeps{
		Store:     store,
		Profile:   profileMgr,
		Generator: generator,
		Importer:  importer,
		CartFill:  starter,
		Jobs:      jobStore,
		Token:     apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// MCP server over stdio, for the chat host that spawned us.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:     store,
		Profile:   profileMgr,
		Generator: generator,
		Importer:  importer,
		CartFill:  starter,
		Jobs:      jobStore,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "mealcart listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		ui.errorf("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		ui.errorf("mealcart is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		ui.errorf("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		ui.errorf("could not stop mealcart (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	ui.successf("Sent stop signal to mealcart (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		ui.errorf("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		ui.field("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			ui.field("Server", "running on port %d", cfg.Server.Port)
		} else {
			ui.field("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	ui.field("Plan model", "%s", cfg.OpenAI.PlanModel)
	ui.field("Translate model", "%s", cfg.OpenAI.TranslateModel)
	ui.field("Store URL", "%s", cfg.Cart.StoreURL)
	if cfg.Anchor.APIKey == "" {
		ui.field("Cart filling", "disabled (no automation key)")
	} else {
		ui.field("Cart filling", "enabled (profile %s, region %s)", cfg.Anchor.ProfileName, cfg.Anchor.Region)
	}

	if running {
		if token, tokenErr := apiToken(cfg); tokenErr == nil {
			if runsResp, err := apiGet(client, serverURL+"/api/cart-runs?limit=100", token); err == nil {
				var runs []storage.CartRun
				if decodeJSON(runsResp, &runs) == nil {
					ui.field("Cart runs", "%d recorded", len(runs))
				}
			}
		}
	}

	ui.field("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}
