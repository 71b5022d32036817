package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/room4-2/OpenInterpreter/auth"
	"github.com/room4-2/OpenInterpreter/config"
	"github.com/room4-2/OpenInterpreter/interp"
	"github.com/room4-2/OpenInterpreter/messages"
	"github.com/room4-2/OpenInterpreter/pipeline"
	"github.com/room4-2/OpenInterpreter/session"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if !checkAuth(cfg, logger) && cfg.AuthRequired {
		fmt.Fprintln(os.Stderr, "authentication is required; sign in and try again")
		os.Exit(1)
	}

	archive := session.NewArchive(cfg.RedisAddr, cfg.RedisPassword, cfg.ArchiveTTL, logger)
	defer archive.Close()

	app := &app{cfg: cfg, archive: archive, logger: logger}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nshutting down...")
		app.stopSession()
		os.Exit(0)
	}()

	app.commandLoop()
	app.stopSession()
}

// checkAuth verifies any stored token and points the user at the login
// URL when it is missing or rejected. Reports whether a valid identity
// was confirmed; the caller decides if that is fatal.
func checkAuth(cfg *config.Config, logger *zap.Logger) bool {
	store := auth.NewTokenStore(cfg.TokenPath)
	verifier := auth.NewVerifier(cfg.BackendURL)

	token, err := store.Load()
	if err != nil {
		logger.Warn("could not read stored token", zap.Error(err))
		return false
	}
	if token == "" {
		fmt.Printf("not logged in; visit %s to sign in, then run: login <token>\n", verifier.LoginURL())
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	user, err := verifier.Verify(ctx, token)
	switch {
	case err == nil:
		fmt.Printf("logged in as %s <%s>\n", user.Name, user.Email)
		return true
	case errors.Is(err, auth.ErrInvalidToken):
		_ = store.Clear()
		fmt.Printf("stored token rejected; visit %s to sign in again\n", verifier.LoginURL())
		return false
	default:
		logger.Warn("auth backend unreachable, continuing", zap.Error(err))
		return false
	}
}

type app struct {
	cfg     *config.Config
	archive *session.Archive
	logger  *zap.Logger

	// mu serializes session lifecycle between the command loop and the
	// signal handler.
	mu   sync.Mutex
	orch *interp.Orchestrator
}

func (a *app) commandLoop() {
	fmt.Println("commands: start stop mute unmute volume <0..1.5> interrupt status transcript login <token> quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "start":
			a.startSession()
		case "stop":
			a.stopSession()
		case "mute":
			a.setMuted(true)
		case "unmute":
			a.setMuted(false)
		case "volume":
			if len(fields) < 2 {
				fmt.Println("usage: volume <0..1.5>")
				continue
			}
			a.setVolume(fields[1])
		case "interrupt":
			a.interrupt()
		case "status":
			a.printStatus()
		case "transcript":
			a.printTranscript()
		case "login":
			if len(fields) < 2 {
				fmt.Println("usage: login <token>")
				continue
			}
			a.login(fields[1])
		case "quit", "exit":
			return
		default:
			fmt.Printf("unknown command: %s\n", fields[0])
		}
	}
}

func (a *app) startSession() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.orch != nil {
		fmt.Println("session already running")
		return
	}

	client := session.NewStreamClient(
		a.cfg.WebSocketURL,
		a.cfg.MaxReconnectAttempts,
		a.cfg.ReconnectBaseDelay,
		a.logger,
	)
	pipe := pipeline.NewController(client, a.logger)
	initCfg := messages.InitConfig{
		Language:   a.cfg.Language,
		UseWhisper: a.cfg.UseWhisper,
		SampleRate: 16000,
	}
	orch := interp.New(client, pipe, a.archive, initCfg, a.logger)

	if err := orch.Start(); err != nil {
		fmt.Printf("could not start session: %v\n", err)
		return
	}

	// Render transcript lines as they commit.
	go func() {
		for line := range orch.Commits() {
			who := "you"
			if line.Role == interp.RoleModel {
				who = "interpreter"
			}
			fmt.Printf("\n[%s] %s: %s\n> ", line.Timestamp.Format("15:04:05"), who, line.Text)
		}
	}()

	a.orch = orch
	fmt.Println("session starting")
}

func (a *app) stopSession() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.orch == nil {
		return
	}
	a.orch.Stop()
	a.orch = nil
	fmt.Println("session stopped")
}

func (a *app) interrupt() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.orch == nil {
		return
	}
	a.orch.Interrupt()
}

func (a *app) setMuted(muted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.orch == nil {
		fmt.Println("no session")
		return
	}
	a.orch.SetMuted(muted)
	if muted {
		fmt.Println("microphone muted")
	} else {
		fmt.Println("microphone live")
	}
}

func (a *app) setVolume(arg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.orch == nil {
		fmt.Println("no session")
		return
	}
	gain, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		fmt.Printf("invalid volume: %s\n", arg)
		return
	}
	if err := a.orch.SetVolume(gain); err != nil {
		fmt.Printf("volume: %v\n", err)
	}
}

func (a *app) printStatus() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.orch == nil {
		fmt.Println("state: no session")
		return
	}
	s := a.orch.Snapshot()
	fmt.Printf("state: %s  session: %s  speech: %s\n", s.State, orDash(s.SessionID), s.Speech)
	fmt.Printf("muted: %v  volume: %.2f  in: %.3f  out: %.3f\n", s.Muted, s.Volume, s.InputLevel, s.OutputLevel)
	if s.PartialInput != "" {
		fmt.Printf("you (partial): %s\n", s.PartialInput)
	}
	if s.PartialOutput != "" {
		fmt.Printf("interpreter (partial): %s\n", s.PartialOutput)
	}
	if err := a.orch.LastError(); err != nil {
		fmt.Printf("last error: %v\n", err)
	}
}

func (a *app) printTranscript() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.orch == nil {
		fmt.Println("no session")
		return
	}
	lines := a.orch.Transcript()
	if len(lines) == 0 {
		fmt.Println("transcript is empty")
		return
	}
	for _, line := range lines {
		who := "you"
		if line.Role == interp.RoleModel {
			who = "interpreter"
		}
		fmt.Printf("[%s] %s: %s\n", line.Timestamp.Format("15:04:05"), who, line.Text)
	}
}

func (a *app) login(token string) {
	verifier := auth.NewVerifier(a.cfg.BackendURL)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	user, err := verifier.Verify(ctx, token)
	if err != nil {
		fmt.Printf("login failed: %v\n", err)
		return
	}
	if err := auth.NewTokenStore(a.cfg.TokenPath).Save(token); err != nil {
		fmt.Printf("could not store token: %v\n", err)
		return
	}
	fmt.Printf("logged in as %s <%s>\n", user.Name, user.Email)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
