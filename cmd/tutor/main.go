// Command tutor is an interactive realtime voice tutoring client. It streams
// microphone audio to a live conversation endpoint and plays the model's
// spoken replies, driven by a small stdin command loop.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/AravindYuvraj/realtime-tutor/internal/capture"
	"github.com/AravindYuvraj/realtime-tutor/internal/config"
	"github.com/AravindYuvraj/realtime-tutor/internal/health"
	"github.com/AravindYuvraj/realtime-tutor/internal/observe"
	"github.com/AravindYuvraj/realtime-tutor/internal/playback"
	"github.com/AravindYuvraj/realtime-tutor/internal/resilience"
	"github.com/AravindYuvraj/realtime-tutor/internal/session"
	"github.com/AravindYuvraj/realtime-tutor/internal/transcript"
	"github.com/AravindYuvraj/realtime-tutor/pkg/audio"
	paudio "github.com/AravindYuvraj/realtime-tutor/pkg/audio/portaudio"
	"github.com/AravindYuvraj/realtime-tutor/pkg/live/gemini"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "tutor: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "tutor: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("tutor starting",
		"config", *configPath,
		"model", cfg.Session.Model,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "realtime-tutor",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Audio device ──────────────────────────────────────────────────────────
	device, err := paudio.New()
	if err != nil {
		slog.Error("failed to initialise audio", "err", err)
		return 1
	}
	defer func() {
		if err := paudio.Terminate(); err != nil {
			slog.Warn("audio terminate error", "err", err)
		}
	}()

	speaker, err := device.OpenPlayback(audio.StreamConfig{
		SampleRate:   cfg.Audio.OutputRate,
		Channels:     1,
		FrameSamples: cfg.Audio.FrameSamples,
	})
	if err != nil {
		slog.Error("failed to open playback stream", "err", err)
		return 1
	}
	defer speaker.Close()

	// ── Pipeline ──────────────────────────────────────────────────────────────
	var opts []gemini.Option
	if cfg.Session.Model != "" {
		opts = append(opts, gemini.WithModel(cfg.Session.Model))
	}
	if cfg.Session.BaseURL != "" {
		opts = append(opts, gemini.WithBaseURL(cfg.Session.BaseURL))
	}
	transport := gemini.New(cfg.Session.APIKey, opts...)

	mic := capture.New(device, audio.StreamConfig{
		SampleRate:   cfg.Audio.InputRate,
		Channels:     1,
		FrameSamples: cfg.Audio.FrameSamples,
	})
	sched := playback.New(playback.NewSystemClock(), speaker)
	defer sched.Close()

	ctrl := session.New(transport, mic, sched, session.Config{
		Voice:        cfg.Session.Voice,
		Instructions: cfg.Session.Instructions,
		OutputRate:   cfg.Audio.OutputRate,
	})
	defer ctrl.Close()

	captions := transcript.NewRecorder()
	ctrl.OnStatus(func(status string) { fmt.Printf("[%s]\n", status) })
	ctrl.OnError(func(msg string) { fmt.Printf("[error] %s\n", msg) })
	ctrl.OnCaption(func(who, text string) {
		captions.Append(who, text)
		fmt.Printf("%s: %s\n", who, text)
	})

	printStartupSummary(cfg)

	g, ctx := errgroup.WithContext(ctx)

	// ── Metrics / health endpoint (optional) ──────────────────────────────────
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		health.New(
			health.Checker{Name: "session", Check: func(_ context.Context) error {
				switch s := ctrl.State(); s {
				case session.StateConnected, session.StateRecording:
					return nil
				default:
					return fmt.Errorf("session is %s", s)
				}
			}},
			health.Checker{Name: "audio", Check: func(_ context.Context) error {
				return device.Check()
			}},
		).Register(mux)

		srv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}
		g.Go(func() error {
			slog.Info("metrics endpoint listening", "addr", cfg.Server.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// ── Connect and run the command loop ──────────────────────────────────────
	err = resilience.Retry(ctx, "connect", resilience.Backoff{}, func(ctx context.Context) error {
		return ctrl.Connect(ctx)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("initial connect failed", "err", err)
		// Keep running; the user can `reset` once the network is back.
	}

	g.Go(func() error { return commandLoop(ctx, stop, ctrl, captions) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Command loop ──────────────────────────────────────────────────────────────

const commandHelp = `commands:
  start         begin streaming the microphone
  stop          stop streaming the microphone
  say <text>    send a text turn to the tutor
  game <name>   announce a minigame to the tutor
  unit <id>     announce the active learning unit
  reset         drop the session and start a fresh one
  transcript    print the conversation so far
  status        print the session state
  help          show this help
  quit          exit`

// commandLoop reads commands from stdin until EOF, quit, or ctx cancellation.
// stop is the signal-context cancel; quit uses it so every goroutine winds
// down through the same path as Ctrl+C.
func commandLoop(ctx context.Context, stop context.CancelFunc, ctrl *session.Controller, captions *transcript.Recorder) error {
	fmt.Println(commandHelp)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Print("> ")
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok = <-lines:
			if !ok {
				stop()
				return nil
			}
		}

		cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
		switch cmd {
		case "":
		case "start":
			if err := ctrl.Start(); err != nil {
				fmt.Printf("start: %v\n", err)
			}
		case "stop":
			ctrl.Stop()
		case "say":
			if arg == "" {
				fmt.Println("usage: say <text>")
				continue
			}
			if err := ctrl.SendText(arg); err != nil {
				fmt.Printf("say: %v\n", err)
			}
		case "game":
			if arg == "" {
				fmt.Println("usage: game <name>")
				continue
			}
			if err := ctrl.SendText("GAME: " + arg); err != nil {
				fmt.Printf("game: %v\n", err)
			}
		case "unit":
			if arg == "" {
				fmt.Println("usage: unit <id>")
				continue
			}
			if err := ctrl.SendText("UNIT: " + arg); err != nil {
				fmt.Printf("unit: %v\n", err)
			}
		case "reset":
			if err := ctrl.Reset(ctx); err != nil {
				fmt.Printf("reset: %v\n", err)
			} else {
				captions.Clear()
			}
		case "transcript":
			if _, err := captions.WriteTo(os.Stdout); err != nil {
				fmt.Printf("transcript: %v\n", err)
			}
		case "status":
			fmt.Println(ctrl.State())
		case "help":
			fmt.Println(commandHelp)
		case "quit", "exit":
			stop()
			return nil
		default:
			fmt.Printf("unknown command %q — try help\n", cmd)
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       realtime tutor — summary        ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Model", cfg.Session.Model)
	printRow("Voice", cfg.Session.Voice)
	printRow("Mic rate", fmt.Sprintf("%d Hz", cfg.Audio.InputRate))
	printRow("Speaker rate", fmt.Sprintf("%d Hz", cfg.Audio.OutputRate))
	if cfg.Server.MetricsAddr != "" {
		printRow("Metrics", cfg.Server.MetricsAddr)
	} else {
		printRow("Metrics", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 21 {
		value = value[:18] + "…"
	}
	fmt.Printf("║  %-13s: %-21s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
