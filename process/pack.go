package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"epc/container"
	"epc/publication"
	"epc/state"
)

// Pack builds the distributable container for a single publication and
// verifies the result.
func Pack(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("pack")

	src := cmd.Args().Get(0)
	if len(src) == 0 {
		return errors.New("no publication source has been specified")
	}
	if cmd.Args().Len() > 2 {
		log.Warn("Malformed command line, too many destinations", zap.Strings("ignoring", cmd.Args().Slice()[2:]))
	}
	env.Overwrite = cmd.Bool("overwrite")

	lay, err := publication.Resolve(src, &env.Cfg.Publication)
	if err != nil {
		return err
	}

	dst, err := packDestination(cmd.Args().Get(1), lay.Root, env.Cfg.Container.OutputNameTemplate)
	if err != nil {
		return err
	}

	if _, err := os.Stat(dst); err == nil {
		if !env.Overwrite {
			return fmt.Errorf("output file already exists: %s", dst)
		}
		log.Warn("Overwriting existing file", zap.String("file", dst))
		if err := os.Remove(dst); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	log.Info("Packing starting", zap.String("source", lay.Root), zap.String("destination", dst))
	defer func(start time.Time) {
		log.Info("Packing completed", zap.Duration("elapsed", time.Since(start)))
	}(time.Now())

	// the container root is the directory holding the table of contents
	if err := container.Build(filepath.Dir(lay.TOCPath), dst, &env.Cfg.Container, log); err != nil {
		return fmt.Errorf("unable to build container: %w", err)
	}
	if err := container.Verify(dst, log); err != nil {
		return fmt.Errorf("container did not verify: %w", err)
	}

	env.Rpt.Store("pack/"+filepath.Base(dst), dst)
	return nil
}

// packDestination decides where the container goes. Without a destination
// argument the configured name template is rendered into the working
// directory; a destination naming an existing directory gets the rendered
// name inside it; anything else is taken as the output file itself.
func packDestination(arg, root, field string) (string, error) {
	base := ""
	if len(arg) == 0 {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("unable to get working directory: %w", err)
		}
		base = wd
	} else {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return "", err
		}
		if fi, err := os.Stat(abs); err != nil || !fi.IsDir() {
			return abs, nil
		}
		base = abs
	}

	name, err := container.OutputName(field, root)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, name), nil
}
