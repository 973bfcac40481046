// Command deskmate-chat is a terminal client that talks to the Gemini Live
// API directly, without going through the gateway. Text in, streamed text
// out, with interruption and resumption handling visible on the console.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/deskmate-ai/deskmate/pkg/core/live"
	"github.com/deskmate-ai/deskmate/pkg/core/providers/gemini"
	"github.com/deskmate-ai/deskmate/pkg/core/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "deskmate-chat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	model := flag.String("model", "gemini-2.0-flash-live-001", "live model to connect to")
	system := flag.String("system", "", "system instruction")
	compression := flag.Bool("compression", false, "enable context window compression")
	verbose := flag.Bool("v", false, "log session events to stderr")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return err
	}

	apiKey := strings.TrimSpace(os.Getenv("DESKMATE_GEMINI_API_KEY"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	}
	if apiKey == "" {
		return fmt.Errorf("DESKMATE_GEMINI_API_KEY not set")
	}

	logOut := io.Discard
	if *verbose {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(logOut, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	backend, err := gemini.New(ctx, gemini.Config{APIKey: apiKey, Logger: logger})
	if err != nil {
		return err
	}

	cfg := live.DefaultSessionConfig()
	cfg.Model = *model
	cfg.SystemInstruction = *system
	cfg.Compression = *compression
	cfg.ResponseModalities = []live.Modality{live.ModalityText}
	cfg.Logger = logger

	session, err := live.Open(ctx, backend, cfg)
	if err != nil {
		return err
	}
	defer session.Close()

	fmt.Printf("Connected to %s. Type a message, /interrupt to cut the model off, /quit to exit.\n", *model)
	fmt.Println(strings.Repeat("-", 50))

	outputDone := make(chan struct{})
	go func() {
		defer close(outputDone)
		printEvents(session)
	}()

	reader := bufio.NewReader(os.Stdin)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == "/quit":
			_ = session.Close()
			<-outputDone
			return nil
		case line == "/interrupt":
			if err := session.Interrupt(); err != nil {
				fmt.Fprintf(os.Stderr, "interrupt: %v\n", err)
			}
			continue
		}
		if err := session.SendInput(types.TextChunk{Text: line}); err != nil {
			fmt.Fprintf(os.Stderr, "send: %v\n", err)
			if session.State() == live.StateTerminated {
				<-outputDone
				return nil
			}
		}
	}

	_ = session.Close()
	<-outputDone
	return nil
}

func printEvents(session *live.Session) {
	for ev := range session.Output() {
		switch ev := ev.(type) {
		case *live.TextDeltaEvent:
			fmt.Print(ev.Text)
		case *live.TurnCompleteEvent:
			fmt.Println()
		case *live.InterruptionEvent:
			fmt.Printf("\n[interrupted at chunk %d]\n", ev.TruncatedAt)
		case *live.ResumedEvent:
			fmt.Printf("[reconnected after %d attempts]\n", ev.Attempts)
		case *live.WarningEvent:
			fmt.Fprintf(os.Stderr, "[warning] %s: %s\n", ev.Code, ev.Message)
		case *live.UsageEvent:
			// Quietly ignored; pass -v to see usage in the session log.
		case *live.ErrorEvent:
			fmt.Fprintf(os.Stderr, "[error] %s\n", ev.Err.Message)
		case *live.SessionClosedEvent:
			if ev.Err != nil {
				fmt.Fprintf(os.Stderr, "\n[session closed: %s]\n", ev.Err.Message)
			} else {
				fmt.Printf("\n[session closed: %s]\n", ev.Reason)
			}
		}
	}
}
