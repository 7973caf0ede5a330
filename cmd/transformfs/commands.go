package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/absfs/transformfs"
	"github.com/urfave/cli/v2"
)

var (
	keygenCommand = &cli.Command{
		Name:   "keygen",
		Usage:  "Print a fresh base64 cipher key",
		Action: keygenCmd,
	}

	putCommand = &cli.Command{
		Name:      "put",
		Usage:     "Encode a local file (or stdin) and store it",
		ArgsUsage: "<path> [source|-]",
		Action:    putCmd,
	}

	getCommand = &cli.Command{
		Name:      "get",
		Usage:     "Read and decode a stored file to a local file (or stdout)",
		ArgsUsage: "<path> [destination|-]",
		Action:    getCmd,
	}

	lsCommand = &cli.Command{
		Name:      "ls",
		Usage:     "List stored files by their logical names",
		ArgsUsage: "[path]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "recursive", Aliases: []string{"R"}, Usage: "Descend into subdirectories"},
			&cli.BoolFlag{Name: "long", Aliases: []string{"l"}, Usage: "Show encoded size and modification time"},
		},
		Action: lsCmd,
	}

	rmCommand = &cli.Command{
		Name:      "rm",
		Usage:     "Delete a stored file or directory",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dir", Aliases: []string{"d"}, Usage: "Delete a directory and everything below it"},
		},
		Action: rmCmd,
	}

	verifyCommand = &cli.Command{
		Name:      "verify",
		Usage:     "Decode every stored file and report the ones that fail",
		ArgsUsage: "[path]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "workers", Usage: "Files to verify at once (0 for one per CPU)"},
		},
		Action: verifyCmd,
	}

	rotateCommand = &cli.Command{
		Name:      "rotate",
		Usage:     "Re-encode stored files from an old key or pipeline to the current one",
		ArgsUsage: "[path]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "old-key", Usage: "Base64 `KEY` the files are currently encrypted with"},
			&cli.StringSliceFlag{Name: "old-pipeline", Usage: "`STAGES` the files are currently stored with (default: current pipeline)"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Decode every file without writing anything"},
			&cli.IntFlag{Name: "workers", Usage: "Files to rotate at once (0 for one per CPU)"},
		},
		Action: rotateCmd,
	}
)

func keygenCmd(c *cli.Context) error {
	key, err := transformfs.GenerateKey()
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, key)
	return nil
}

func putCmd(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("Error: put needs a destination path.", 2)
	}
	p, _, err := proxyFor(c)
	if err != nil {
		return err
	}

	var src io.Reader = os.Stdin
	if name := c.Args().Get(1); name != "" && name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
	}
	return p.WriteStream(c.Args().First(), src)
}

func getCmd(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("Error: get needs a source path.", 2)
	}
	p, _, err := proxyFor(c)
	if err != nil {
		return err
	}

	r, err := p.ReadStream(c.Args().First())
	if err != nil {
		return err
	}
	defer r.Close()

	dst := c.App.Writer
	if name := c.Args().Get(1); name != "" && name != "-" {
		f, err := os.Create(name)
		if err != nil {
			return err
		}
		defer f.Close()
		dst = f
	}
	_, err = io.Copy(dst, r)
	return err
}

func lsCmd(c *cli.Context) error {
	p, _, err := proxyFor(c)
	if err != nil {
		return err
	}
	dir := c.Args().First()
	if dir == "" {
		dir = "/"
	}

	entries, err := p.List(dir, c.Bool("recursive"))
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Path
		if e.IsDir {
			name += "/"
		}
		if c.Bool("long") {
			fmt.Fprintf(c.App.Writer, "%10d  %s  %s\n", e.Size, e.ModTime.Format(time.DateTime), name)
		} else {
			fmt.Fprintln(c.App.Writer, name)
		}
	}
	return nil
}

func rmCmd(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("Error: rm needs a path.", 2)
	}
	p, _, err := proxyFor(c)
	if err != nil {
		return err
	}
	if c.Bool("dir") {
		return p.DeleteDirectory(c.Args().First())
	}
	return p.Delete(c.Args().First())
}

func parallelFor(c *cli.Context) transformfs.ParallelConfig {
	parallel := transformfs.DefaultParallelConfig()
	if c.IsSet("workers") {
		parallel.MaxWorkers = c.Int("workers")
	}
	return parallel
}

func verifyCmd(c *cli.Context) error {
	p, log, err := proxyFor(c)
	if err != nil {
		return err
	}
	root := c.Args().First()
	if root == "" {
		root = "/"
	}

	failed, err := p.VerifyAll(root, parallelFor(c))
	for _, name := range failed {
		fmt.Fprintln(c.App.Writer, "FAIL", name)
	}
	if err != nil {
		log.Error().Err(err).Int("failed", len(failed)).Msg("verification failed")
		return cli.Exit("", 1)
	}
	log.Info().Str("root", root).Msg("all files verified")
	return nil
}

func rotateCmd(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	p, err := openProxy(cfg, log)
	if err != nil {
		return err
	}

	oldStages := cfg.Pipeline
	if c.IsSet("old-pipeline") {
		oldStages = splitStages(c.StringSlice("old-pipeline"))
	}
	oldKey := cfg.Key
	if c.IsSet("old-key") {
		oldKey = c.String("old-key")
	}
	oldTransforms, err := buildTransforms(oldStages, oldKey, cfg.GzipLevel)
	if err != nil {
		return fmt.Errorf("old pipeline: %w", err)
	}
	from, err := transformfs.NewPipeline(oldTransforms...)
	if err != nil {
		return err
	}

	root := c.Args().First()
	if root == "" {
		root = "/"
	}
	rotated, err := p.RotateAll(root, transformfs.RotationOptions{
		From:     from,
		Parallel: parallelFor(c),
		DryRun:   c.Bool("dry-run"),
	})
	log.Info().Int("rotated", rotated).Bool("dry_run", c.Bool("dry-run")).Msg("rotation finished")
	return err
}
