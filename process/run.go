// Package process implements the command actions: per-publication batch
// orchestration on top of the publication and container packages.
package process

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/ianaindex"

	"epc/state"
)

// eachPublication runs fn over every publication root in sources. Failures
// are isolated: a broken publication is logged and the batch continues,
// already completed publications keep their outputs. A single summarizing
// error is returned at the end.
func eachPublication(ctx context.Context, sources []string, log *zap.Logger, fn func(ctx context.Context, root string) error) error {
	if len(sources) == 0 {
		return errors.New("no publication source has been specified")
	}

	failed := 0
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return err
		}

		root, err := filepath.Abs(src)
		if err != nil {
			log.Error("Unable to process publication", zap.String("source", src), zap.Error(err))
			failed++
			continue
		}

		log.Info("Publication starting", zap.String("source", root))
		start := time.Now()
		if err := fn(ctx, root); err != nil {
			log.Error("Unable to process publication", zap.String("source", root), zap.Error(err))
			failed++
			continue
		}
		log.Info("Publication completed", zap.String("source", root), zap.Duration("elapsed", time.Since(start)))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d publications failed", failed, len(sources))
	}
	return nil
}

// forceCodePage picks up the force-cp flag. Documents with wrong or missing
// encoding declarations are then decoded through the named IANA encoding
// instead of whatever they declare.
func forceCodePage(env *state.LocalEnv, cmd *cli.Command, log *zap.Logger) {
	cp := cmd.String("force-cp")
	if len(cp) == 0 {
		return
	}

	enc, err := ianaindex.IANA.Encoding(cp)
	if err != nil || enc == nil {
		log.Warn("Unknown character set specification. Ignoring...", zap.String("charset", cp), zap.Error(err))
		return
	}
	env.CodePage = enc

	n, _ := ianaindex.IANA.Name(enc)
	log.Debug("Forcefully decoding all documents", zap.String("charset", n))
}
