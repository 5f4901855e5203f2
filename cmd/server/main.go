// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/avatarbox/internal/api/connect"
	"github.com/osa030/avatarbox/internal/app/controller"
	"github.com/osa030/avatarbox/internal/app/notification"
	"github.com/osa030/avatarbox/internal/app/view"
	"github.com/osa030/avatarbox/internal/domain/avatar"
	"github.com/osa030/avatarbox/internal/infra/config"
	"github.com/osa030/avatarbox/internal/infra/heygen"
	"github.com/osa030/avatarbox/internal/infra/logger"
)

var (
	app        = kingpin.New("avatarbox-server", "avatarbox streaming avatar server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
)

func init() {
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %+v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	client, err := heygen.New(heygen.Config{
		APIKey:  cfg.HeyGen.APIKey,
		BaseURL: cfg.HeyGen.BaseURL,
		Timeout: cfg.HeyGen.Timeout(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to create streaming client")
	}

	model := view.NewModel()
	notifications := notification.NewManager()
	model.OnChange(notifications.Broadcast)

	ctrl := controller.New(
		client,
		func(token string) controller.Avatar { return client.NewAvatar(token) },
		model,
		controllerConfig(cfg),
	)

	done := make(chan struct{})
	controlService := apiconnect.NewControlService(ctrl, model, notifications, done)

	mux := http.NewServeMux()
	controlPath, controlHandler := controlService.Handler(
		connect.WithInterceptors(apiconnect.NewControlAuthInterceptor(cfg.Server.ControlToken)),
	)
	mux.Handle(controlPath, controlHandler)

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}

	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})

	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", cfg.Server.Addr)
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	<-serverStartedCh
	// Give the server a moment to fully initialize
	time.Sleep(100 * time.Millisecond)

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		return errors.Wrap(err, "server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop the live session first so watchers see the final state
	ctrl.Close(shutdownCtx)
	close(done)
	notifications.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")

	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return nil
}

// controllerConfig maps file configuration to controller settings.
func controllerConfig(cfg *config.Config) controller.Config {
	return controller.Config{
		Start:    cfg.Avatar.StartRequest(),
		TaskType: avatar.TaskType(cfg.Avatar.TaskType),
		VoiceChat: avatar.VoiceChatRequest{
			UseSilencePrompt: cfg.Voice.UseSilencePrompt,
			Language:         cfg.Avatar.Language,
		},
		Messages: controller.Messages{
			Listening:       cfg.Messages.Listening,
			Processing:      cfg.Messages.Processing,
			AvatarSpeaking:  cfg.Messages.AvatarSpeaking,
			WaitingForUser:  cfg.Messages.WaitingForUser,
			VoiceChatFailed: cfg.Messages.VoiceChatFailed,
		},
	}
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
