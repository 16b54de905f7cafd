package main

import (
	"fmt"
	"os"

	cli "github.com/urfave/cli/v2"

	"github.com/scttfrdmn/modelserve/internal/config"
)

var version = "dev"

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "modelserve: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	app := &cli.App{
		Name:    "modelserve",
		Usage:   "serve predictions from a bounded cache of model artifacts",
		Version: version,
		Flags:   serveFlags(),
		Action:  serve,
	}

	app.Commands = []*cli.Command{
		{
			Name:   "serve",
			Usage:  "run the HTTP API (default)",
			Flags:  serveFlags(),
			Action: serve,
		},
		sampleCmd,
		configCmd,
	}

	return app.Run(args)
}

func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "path to a YAML configuration file",
			EnvVars: []string{"MODELSERVE_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "model-path",
			Usage: "directory holding <id>.model artifacts",
		},
		&cli.IntFlag{
			Name:  "cache-size",
			Usage: "maximum number of resident models",
		},
		&cli.StringFlag{
			Name:  "address",
			Usage: "IP or hostname, and port, to listen on",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "one of DEBUG, INFO, WARN, ERROR",
		},
	}
}

// loadConfig layers flags over the file and environment.
func loadConfig(cctx *cli.Context) (*config.Configuration, error) {
	cfg, err := config.Load(cctx.String("config"))
	if err != nil {
		return nil, err
	}

	if cctx.IsSet("model-path") {
		cfg.Models.Path = cctx.String("model-path")
	}
	if cctx.IsSet("cache-size") {
		cfg.Models.CacheSize = cctx.Int("cache-size")
	}
	if cctx.IsSet("address") {
		cfg.Server.Address = cctx.String("address")
	}
	if cctx.IsSet("log-level") {
		cfg.Global.LogLevel = cctx.String("log-level")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var configCmd = &cli.Command{
	Name:  "config",
	Usage: "write the effective configuration as YAML",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:     "output",
			Aliases:  []string{"o"},
			Usage:    "file to write",
			Required: true,
		},
	}, serveFlags()...),
	Action: func(cctx *cli.Context) error {
		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}
		if err := cfg.SaveToFile(cctx.String("output")); err != nil {
			return err
		}
		fmt.Fprintf(cctx.App.Writer, "wrote %s\n", cctx.String("output"))
		return nil
	},
}
