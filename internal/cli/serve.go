package cli

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/visualcue/engine/internal/config"
	"github.com/visualcue/engine/internal/history"
	"github.com/visualcue/engine/internal/ocr"
	"github.com/visualcue/engine/internal/reader"
	"github.com/visualcue/engine/internal/rules"
	"github.com/visualcue/engine/internal/screen"
	"github.com/visualcue/engine/internal/server"
	"github.com/visualcue/engine/internal/speech"
	"github.com/visualcue/engine/internal/trigger"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	RulesPath string
	AutoStart bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with its WebSocket API",
		Long: `Load the rule file, wire up capture, OCR, and speech, and serve the
WebSocket/HTTP API. Monitoring starts on demand (or immediately with
--auto-start).`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	cmd.Flags().StringVar(&opts.RulesPath, "rules", "", "path to the YAML rule file (overrides RULES_PATH)")
	cmd.Flags().BoolVar(&opts.AutoStart, "auto-start", false, "start monitoring immediately")

	return cmd
}

func runServe(opts *ServeOptions) error {
	cfg := config.Load()
	if opts.RulesPath != "" {
		cfg.RulesPath = opts.RulesPath
	}
	if opts.AutoStart {
		cfg.AutoStart = true
	}

	capture := screen.New()
	defer capture.Close()
	oracle := ocr.New(cfg.OCRAddr)
	speaker := speech.New()
	defer speaker.Stop()

	hist, err := history.Open(cfg.HistoryPath)
	if err != nil {
		slog.Warn("history disabled", "path", cfg.HistoryPath, "error", err)
		hist = nil
	} else {
		defer hist.Close()
	}

	deps := trigger.Deps{
		Store:         rules.NewStore(),
		Capture:       capture,
		Oracle:        oracle,
		Reader:        reader.New(capture, oracle, speaker),
		Speech:        speaker,
		TextGrace:     cfg.TextGrace,
		MaxSpeechWait: cfg.MaxSpeechWait,
	}
	if hist != nil {
		deps.Recorder = hist
		deps.ComboRecorder = hist
	}
	mgr := trigger.New(deps)
	defer mgr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := loadRules(ctx, cfg.RulesPath, mgr); err != nil {
		return err
	}

	srv := server.New(mgr, hist, cfg)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	if cfg.AutoStart {
		if mgr.Store().ArmedCount() == 0 {
			slog.Warn("monitoring started with no armed rules; nothing will fire until rules get regions and references")
		}
		mgr.StartMonitoring(ctx, cfg.PollInterval)
	}

	go func() {
		slog.Info("engine serving",
			"http", cfg.HTTPAddr,
			"ocr", cfg.OCRAddr,
			"rules", cfg.RulesPath,
			"auto_start", cfg.AutoStart)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	return nil
}

// loadRules applies the YAML rule file if it exists. A missing file is
// fine; rules can arrive over the API later.
func loadRules(ctx context.Context, path string, mgr *trigger.Manager) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		slog.Info("no rule file, starting empty", "path", path)
		return nil
	}
	f, err := config.LoadRules(path)
	if err != nil {
		return err
	}
	if err := f.Apply(ctx, mgr.Store(), mgr.Hotkeys()); err != nil {
		return err
	}
	slog.Info("rules loaded",
		"path", path,
		"areas", len(mgr.Store().Areas()),
		"automations", len(mgr.Store().Rules()),
		"combos", len(mgr.Store().Combos()))
	return nil
}
