package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/connectd/connectd/internal/daemon"
	"github.com/connectd/connectd/internal/session"
)

func main() {
	configFlag := flag.String("config", "", "config file path (default: XDG config dir)")
	flag.Parse()

	configPath := *configFlag
	if configPath == "" {
		configPath = session.ConfigPath()
	}

	if err := session.EnsureDirs(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{ConfigPath: configPath}),
	)

	app.Run()
}
