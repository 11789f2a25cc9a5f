package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/campus/internal/daemon"
	"github.com/matheus3301/campus/internal/logging"
	"github.com/matheus3301/campus/internal/session"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	socketFlag := flag.String("socket", "", "listen on this socket instead of the session's")
	verbose := flag.Bool("verbose", false, "log dependency wiring to stderr")
	flag.Parse()

	sessionName, err := session.Resolve(*sessionFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{SessionName: sessionName, SocketPath: *socketFlag}),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logging.NewConsole(*verbose)}
		}),
	)
	app.Run()
}
