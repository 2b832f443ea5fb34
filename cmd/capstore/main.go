package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to the node configuration file",
		Value:   "./config.toml",
		EnvVars: []string{"CAPSTORE_CONFIG"},
	}
	rootFlag = &cli.StringFlag{
		Name:  "root",
		Usage: "state root to read (defaults to the journal head)",
	}
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "capstore",
		Usage: "capability-checked global state: genesis, queries and a metrics server",
		Flags: []cli.Flag{configFlag},
		Commands: []*cli.Command{
			&Genesis,
			&Query,
			&Balance,
			&Dump,
			&History,
			&Serve,
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
