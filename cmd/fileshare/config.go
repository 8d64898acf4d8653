package main

import (
	"github.com/urfave/cli/v2"

	"github.com/fruitsalade/fileshare/internal/config"
	"github.com/fruitsalade/fileshare/internal/logging"
)

const configKey = "config"

func loadConfig(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputPath: cfg.LogOutput,
	}); err != nil {
		return err
	}
	c.App.Metadata = map[string]any{configKey: cfg}
	return nil
}

func syncLogs(*cli.Context) error {
	logging.Sync()
	return nil
}

func configFrom(c *cli.Context) *config.Config {
	if cfg, ok := c.App.Metadata[configKey].(*config.Config); ok {
		return cfg
	}
	return config.Default()
}

// optionalString returns the flag's value when it was given on the command
// line or through its environment variable, nil otherwise.
func optionalString(c *cli.Context, name string) *string {
	if !c.IsSet(name) {
		return nil
	}
	v := c.String(name)
	return &v
}
