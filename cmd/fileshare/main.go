// fileshare shares local files with remote peers.
//
// The daemon serves registered files over TLS in compressed, acknowledged
// chunks and takes local commands on a unix socket. The client side
// connects to a daemon, lists its files and downloads them with resume.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "fileshare",
		Usage: "share files over an encrypted channel",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
				EnvVars: []string{"FILESHARE_CONFIG"},
			},
		},
		Before: loadConfig,
		After:  syncLogs,
		Commands: []*cli.Command{
			daemonCommand(),
			clientCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
