// Command transformfs stores files in a local directory through a
// compress-and-encrypt pipeline and reads them back.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/absfs/transformfs"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "transformfs",
		Usage: "store files through a zip/gzip/encrypt pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the configuration `FILE` (default: ./transformfs.yaml)",
			},
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Storage `DIR` holding the encoded files",
			},
			&cli.StringSliceFlag{
				Name:    "pipeline",
				Aliases: []string{"p"},
				Usage:   "Pipeline `STAGES` in write order, e.g. zip,gzip,encrypt",
			},
			&cli.StringFlag{
				Name:  "key",
				Usage: "Base64 cipher `KEY` for the encrypt stage",
			},
			&cli.StringFlag{
				Name:  "workdir",
				Usage: "Local working copy `DIR`",
			},
			&cli.IntFlag{
				Name:  "gzip-level",
				Usage: "Deflate compression `LEVEL` for the gzip stage (-1 to 9)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log `LEVEL` (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			keygenCommand,
			putCommand,
			getCommand,
			lsCommand,
			rmCommand,
			verifyCommand,
			rotateCommand,
		},
	}
}

// setup loads the configuration and logger shared by every command that
// touches storage.
func setup(c *cli.Context) (*Config, *zerolog.Logger, error) {
	cfg, err := LoadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	log, err := newLogger(cfg.LogLevel, c.App.ErrWriter)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newLogger(level string, out io.Writer) (*zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if out == nil {
		out = os.Stderr
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
	return &log, nil
}

func proxyFor(c *cli.Context) (*transformfs.Proxy, *zerolog.Logger, error) {
	cfg, log, err := setup(c)
	if err != nil {
		return nil, nil, err
	}
	p, err := openProxy(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return p, log, nil
}
