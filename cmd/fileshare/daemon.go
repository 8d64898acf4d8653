package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/fruitsalade/fileshare/internal/control"
	"github.com/fruitsalade/fileshare/internal/daemon"
	"github.com/fruitsalade/fileshare/internal/logging"
	"github.com/fruitsalade/fileshare/internal/wire"
)

const passwordEnv = "FILESHARE_PASSWORD"

func daemonCommand() *cli.Command {
	return &cli.Command{
		Name:  "daemon",
		Usage: "run and control the sharing daemon",
		Subcommands: []*cli.Command{
			{
				Name:      "start",
				Usage:     "start the daemon",
				ArgsUsage: "<port>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "password",
						Aliases: []string{"p"},
						Usage:   "password clients must present",
						EnvVars: []string{passwordEnv},
					},
					&cli.BoolFlag{
						Name:  "foreground",
						Usage: "do not detach from the terminal",
					},
				},
				Action: daemonStart,
			},
			{
				Name:   "stop",
				Usage:  "stop the running daemon",
				Action: daemonStop,
			},
			{
				Name:      "add",
				Usage:     "share a file",
				ArgsUsage: "<path> [name]",
				Action:    daemonAdd,
			},
			{
				Name:      "delete",
				Usage:     "stop sharing a file",
				ArgsUsage: "<name>",
				Action:    daemonDelete,
			},
			{
				Name:   "list",
				Usage:  "list shared files",
				Action: daemonList,
			},
		},
	}
}

func daemonStart(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: fileshare daemon start <port>", 2)
	}
	port, err := strconv.ParseUint(c.Args().First(), 10, 16)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid port %q", c.Args().First()), 2)
	}
	cfg := configFrom(c)
	password := optionalString(c, "password")

	if !c.Bool("foreground") {
		if pid, err := daemon.ReadPID(cfg.PIDFile); err == nil && daemon.Alive(pid) {
			return fmt.Errorf("%w (PID %d)", daemon.ErrAlreadyRunning, pid)
		}

		args := []string{}
		if path := c.String("config"); path != "" {
			abs, err := filepath.Abs(path)
			if err != nil {
				return err
			}
			args = append(args, "--config", abs)
		}
		args = append(args, "daemon", "start", "--foreground", strconv.FormatUint(port, 10))

		var env []string
		if password != nil {
			env = append(env, passwordEnv+"="+*password)
		}
		pid, err := daemon.Detach(daemon.DetachOptions{
			Args:       args,
			Env:        env,
			StdoutFile: cfg.StdoutFile,
			StderrFile: cfg.StderrFile,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Daemon started with PID %d\n", pid)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info("fileshare daemon starting", zap.Uint64("port", port))
	return daemon.Run(ctx, daemon.Options{
		Config:   cfg,
		Port:     int(port),
		Password: password,
	})
}

func daemonStop(c *cli.Context) error {
	pid, err := daemon.Stop(configFrom(c).PIDFile)
	if errors.Is(err, daemon.ErrNotRunning) {
		fmt.Println("No running daemon found")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("Stopped daemon with PID %d\n", pid)
	return nil
}

func daemonAdd(c *cli.Context) error {
	if c.NArg() < 1 || c.NArg() > 2 {
		return cli.Exit("usage: fileshare daemon add <path> [name]", 2)
	}
	path, err := filepath.Abs(c.Args().Get(0))
	if err != nil {
		return err
	}
	return sendCommand(c, wire.AddCommand(path, c.Args().Get(1)))
}

func daemonDelete(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: fileshare daemon delete <name>", 2)
	}
	return sendCommand(c, wire.DeleteCommand(c.Args().First()))
}

func daemonList(c *cli.Context) error {
	return sendCommand(c, wire.ListCommand())
}

func sendCommand(c *cli.Context, cmd wire.Command) error {
	reply, err := control.Send(c.Context, configFrom(c).SocketPath, cmd)
	if errors.Is(err, control.ErrNotRunning) {
		return cli.Exit(control.MsgNotRunning, 1)
	}
	if err != nil {
		return err
	}

	switch reply.Kind {
	case wire.ReplyOk:
		fmt.Println(reply.Text)
	case wire.ReplyErr:
		return cli.Exit(reply.Text, 1)
	case wire.ReplyList:
		printFiles(os.Stdout, reply.Files)
	}
	return nil
}

func printFiles(w io.Writer, files map[string]string) {
	if len(files) == 0 {
		fmt.Fprintln(w, "No shared files")
		return
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%s (%s)\n", name, files[name])
	}
}
