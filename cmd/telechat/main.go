package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/telechat/telechat/internal/app"
	"github.com/telechat/telechat/internal/session"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	serverFlag := flag.String("server", "", "server base URL (overrides config)")
	flag.Parse()

	profile := session.Resolve(*profileFlag)
	if err := session.ValidateName(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	engine := fx.New(
		app.Module(app.Params{Profile: profile, ServerURL: *serverFlag}),
	)

	engine.Run()
}
