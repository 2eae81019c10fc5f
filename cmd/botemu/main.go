// ABOUTME: Entry point for the botemu conversation emulator server
// ABOUTME: Hosts simulated conversations and the bot callback surface

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/southworks/botemulator/internal/commands"
	"github.com/southworks/botemulator/internal/config"
	"github.com/southworks/botemulator/internal/emulator"
	"github.com/southworks/botemulator/internal/server"
	"github.com/southworks/botemulator/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _           _
| |__   ___ | |_ ___ _ __ ___  _   _
| '_ \ / _ \| __/ _ \ '_ ' _ \| | | |
| |_) | (_) | ||  __/ | | | | | |_| |
|_.__/ \___/ \__\___|_| |_| |_|\__,_|
`

// getConfigPath returns the path to the emulator config file.
// Priority: BOTEMU_CONFIG env var > XDG_CONFIG_HOME/botemu/botemu.yaml > ~/.config/botemu/botemu.yaml
func getConfigPath() string {
	if envPath := os.Getenv("BOTEMU_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "botemu.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "botemu", "botemu.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: botemu <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                Start the emulator server")
		fmt.Println("  token --bot NAME     Mint a callback Bearer token for a bot")
		fmt.Println("  health               Check emulator health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "token":
		err = runToken()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("History:  %s\n", cfg.History.Path)
	if cfg.Bot.Endpoint != "" {
		green.Print("    ▶ ")
		fmt.Printf("Bot:      %s\n", cfg.Bot.Endpoint)
	}
	if cfg.Auth.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Auth:     enabled\n")
	}
	fmt.Println()

	logger.Info("starting botemu",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"history_path", cfg.History.Path,
	)

	ledger, err := store.NewSQLiteStore(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}

	em := emulator.New(cfg, ledger, logger)
	defer em.Close()

	// The command registry is the surface UI frontends drive. Binding it
	// here keeps the full set live even when the process runs headless.
	commands.Bind(em, logger)

	var verifier server.TokenVerifier
	if cfg.Auth.Enabled {
		verifier = server.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	}

	srv := server.New(em, verifier, logger)
	return srv.ListenAndServe(ctx, cfg.Server.HTTPAddr)
}

// runToken mints an HS256 Bearer token a bot can present on callback
// requests when auth is enabled.
func runToken() error {
	botName := "bot"
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		if args[i] == "--bot" && i+1 < len(args) {
			botName = args[i+1]
			i++
		}
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.Auth.Enabled {
		return fmt.Errorf("auth is not enabled in config")
	}

	verifier := server.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	token, err := verifier.Generate(botName, 24*time.Hour)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
