// Package main provides the control CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/avatarbox/internal/api/connect"
	"github.com/osa030/avatarbox/internal/app/view"
)

var (
	app    = kingpin.New("avatarbox-usercli", "avatarbox control client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Control token").Envar("CONTROL_TOKEN").String()

	startCmd = app.Command("start", "Start a streaming session")
	stopCmd  = app.Command("stop", "Stop the streaming session")

	speakCmd  = app.Command("speak", "Make the avatar speak")
	speakText = speakCmd.Arg("text", "Text to speak").Required().String()

	modeCmd  = app.Command("mode", "Switch interaction mode")
	modeName = modeCmd.Arg("mode", "Mode (text or voice)").Required().Enum("text", "voice")

	interruptCmd = app.Command("interrupt", "Interrupt the avatar's speech")
	stateCmd     = app.Command("state", "Show the current state")
	watchCmd     = app.Command("watch", "Watch state changes")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	client := apiconnect.NewControlClient(http.DefaultClient, *server, *token)
	ctx := context.Background()

	var err error
	switch command {
	case startCmd.FullCommand():
		var session map[string]any
		session, err = client.Start(ctx)
		if err == nil {
			fmt.Printf("Session started: %v\n", session["session_id"])
			fmt.Printf("  Stream URL: %v\n", session["url"])
		}
	case stopCmd.FullCommand():
		err = printState(client.Stop(ctx))
	case speakCmd.FullCommand():
		err = printState(client.Speak(ctx, *speakText))
	case modeCmd.FullCommand():
		err = printState(client.SetMode(ctx, *modeName))
	case interruptCmd.FullCommand():
		err = client.Interrupt(ctx)
		if err == nil {
			fmt.Println("Interrupted")
		}
	case stateCmd.FullCommand():
		err = printState(client.GetState(ctx))
	case watchCmd.FullCommand():
		err = watch(ctx, client)
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func watch(ctx context.Context, client *apiconnect.ControlClient) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("Watching state. Press Ctrl+C to exit.")
	err := client.Watch(ctx, func(s view.State) error {
		printStateBody(s)
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func printState(s view.State, err error) error {
	if err != nil {
		return err
	}
	printStateBody(s)
	return nil
}

func printStateBody(s view.State) {
	mode := "text"
	if s.VoiceModeActive {
		mode = "voice"
	}

	fmt.Printf("\n[Sequence: %d]\n", s.Sequence)
	fmt.Printf("  Mode: %s\n", mode)
	fmt.Printf("  Start enabled: %v  End enabled: %v\n", s.StartEnabled, s.EndEnabled)
	fmt.Printf("  Mode controls enabled: %v\n", s.TextModeEnabled && s.VoiceModeEnabled)
	fmt.Printf("  Speak enabled: %v\n", s.SpeakEnabled)
	if s.VoicePanelVisible {
		fmt.Println("  Voice panel: visible")
	}
	if s.Status != "" {
		fmt.Printf("  Status: %s\n", s.Status)
	}
	if s.HasVideo() {
		fmt.Printf("  Video: %s\n", s.VideoURL)
	}
	if s.Input != "" {
		fmt.Printf("  Input: %s\n", s.Input)
	}
}
