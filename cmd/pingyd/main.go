package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Joe3124t/pingy/internal/config"
	"github.com/Joe3124t/pingy/internal/daemon"
	"github.com/Joe3124t/pingy/internal/session"
	"github.com/Joe3124t/pingy/internal/transport"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadOrDefault(session.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			Config:      cfg,
			// The engine runs against the offline stub until a backend
			// transport is configured; sends queue and retry from the
			// outbox once one is wired.
			Client: transport.Offline{},
		}),
	)

	app.Run()
}
