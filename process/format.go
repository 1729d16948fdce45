package process

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"

	"epc/publication"
	"epc/state"
	"epc/xhtml"
)

// Format re-serializes each publication's documents with deterministic tab
// indentation. Unlike the compatibility pipeline this deliberately rewrites
// whitespace.
func Format(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("format")

	forceCodePage(env, cmd, log)

	log.Info("Formatting starting", zap.Strings("sources", cmd.Args().Slice()))
	defer func(start time.Time) {
		log.Info("Formatting completed", zap.Duration("elapsed", time.Since(start)))
	}(time.Now())

	return eachPublication(ctx, cmd.Args().Slice(), log, func(ctx context.Context, root string) error {
		lay, err := publication.Resolve(root, &env.Cfg.Publication)
		if err != nil {
			return err
		}
		for _, path := range append(lay.Documents(), lay.TOCPath) {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := formatDocument(path, env.CodePage, log); err != nil {
				return fmt.Errorf("unable to format %s: %w", filepath.Base(path), err)
			}
		}
		return nil
	})
}

// formatDocument rewrites a single document in place, touching the file only
// when the formatted serialization differs from the source.
func formatDocument(path string, enc encoding.Encoding, log *zap.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	doc, err := xhtml.Parse(data, filepath.Base(path), enc)
	if err != nil {
		return err
	}
	doc.IndentTabs()

	out, err := doc.Bytes()
	if err != nil {
		return err
	}
	if bytes.Equal(out, data) {
		return nil
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return err
	}
	log.Debug("Formatted document", zap.String("document", filepath.Base(path)))
	return nil
}
