package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/fruitsalade/fileshare/internal/client"
	"github.com/fruitsalade/fileshare/internal/config"
	"github.com/fruitsalade/fileshare/internal/tlsprov"
)

func clientCommand() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "download files from a remote daemon",
		Subcommands: []*cli.Command{
			{
				Name:      "connect",
				Usage:     "check and remember a daemon address",
				ArgsUsage: "<host:port>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "password",
						Aliases: []string{"p"},
						Usage:   "daemon password",
						EnvVars: []string{passwordEnv},
					},
					&cli.StringFlag{
						Name:  "trust",
						Usage: "PEM certificate the daemon must present",
					},
				},
				Action: clientConnect,
			},
			{
				Name:   "disconnect",
				Usage:  "forget the remembered daemon",
				Action: clientDisconnect,
			},
			{
				Name:   "list",
				Usage:  "list files shared by the daemon",
				Action: clientList,
			},
			{
				Name:      "download",
				Usage:     "download a shared file, resuming a partial one",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "destination path (default: ./<name>)",
					},
				},
				Action: clientDownload,
			},
		},
	}
}

func sessionPath(c *cli.Context) string {
	return config.ExpandHome(configFrom(c).ClientSessionFile)
}

func dial(c *cli.Context, s client.Session) (*client.Client, error) {
	trusted := s.TrustedCert
	if trusted != "" {
		trusted = config.ExpandHome(trusted)
	}
	tlsCfg, err := tlsprov.ClientConfig(trusted, "")
	if err != nil {
		return nil, err
	}
	if trusted != "" {
		tlsCfg.ServerName = "localhost"
	}
	return client.Dial(c.Context, client.Config{
		Addr:        s.Addr,
		Password:    s.Password,
		TLS:         tlsCfg,
		DialTimeout: configFrom(c).DialTimeout,
	})
}

func savedSession(c *cli.Context) (client.Session, error) {
	s, err := client.LoadSession(sessionPath(c))
	if errors.Is(err, client.ErrNoSession) {
		return s, cli.Exit("Not connected; run `fileshare client connect <host:port>` first", 1)
	}
	return s, err
}

func clientConnect(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: fileshare client connect <host:port>", 2)
	}
	s := client.Session{
		Addr:        c.Args().First(),
		Password:    optionalString(c, "password"),
		TrustedCert: c.String("trust"),
	}
	if s.TrustedCert != "" {
		abs, err := filepath.Abs(s.TrustedCert)
		if err != nil {
			return err
		}
		s.TrustedCert = abs
	}

	cl, err := dial(c, s)
	if errors.Is(err, client.ErrAuthFailed) {
		return cli.Exit("Authentication failed", 1)
	}
	if err != nil {
		return err
	}
	if err := cl.Quit(c.Context); err != nil {
		return err
	}
	if err := client.SaveSession(sessionPath(c), s); err != nil {
		return err
	}
	fmt.Printf("Connected to %s\n", s.Addr)
	return nil
}

func clientDisconnect(c *cli.Context) error {
	err := client.RemoveSession(sessionPath(c))
	if errors.Is(err, client.ErrNoSession) {
		fmt.Println("Not connected")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Println("Disconnected")
	return nil
}

func clientList(c *cli.Context) error {
	s, err := savedSession(c)
	if err != nil {
		return err
	}
	cl, err := dial(c, s)
	if err != nil {
		return err
	}
	defer cl.Quit(c.Context)

	names, err := cl.List(c.Context)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("No shared files")
		return nil
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func clientDownload(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: fileshare client download <name>", 2)
	}
	name := c.Args().First()
	output := c.String("output")
	if output == "" {
		output = filepath.Base(name)
	}

	s, err := savedSession(c)
	if err != nil {
		return err
	}
	cl, err := dial(c, s)
	if err != nil {
		return err
	}
	defer cl.Quit(c.Context)

	info, err := cl.DownloadFile(c.Context, name, output)
	if err != nil {
		var remote *client.RemoteError
		if errors.As(err, &remote) {
			return cli.Exit(remote.Message, 1)
		}
		return err
	}
	fmt.Printf("Downloaded %s (%d bytes, blake3 %s) to %s\n", info.Name, info.Size, info.Hash, output)
	return nil
}
