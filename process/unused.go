package process

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"epc/publication"
	"epc/state"
)

// Unused reports selectors of each publication's local stylesheet that match
// nothing in its documents, one per line on stdout.
func Unused(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("unused")

	forceCodePage(env, cmd, log)

	log.Info("Analysis starting", zap.Strings("sources", cmd.Args().Slice()))
	defer func(start time.Time) {
		log.Info("Analysis completed", zap.Duration("elapsed", time.Since(start)))
	}(time.Now())

	analyzer := publication.NewAnalyzer(env.Cfg.Compat.Workers, log)

	seq := 0
	return eachPublication(ctx, cmd.Args().Slice(), log, func(ctx context.Context, root string) error {
		lay, err := publication.Resolve(root, &env.Cfg.Publication)
		if err != nil {
			return err
		}

		unused, err := analyzer.UnusedSelectors(ctx, lay, env.CodePage)
		if err != nil {
			return err
		}
		for _, sel := range unused {
			fmt.Println(sel)
		}

		seq++
		env.Rpt.StoreData(fmt.Sprintf("unused/%02d-%s.txt", seq, filepath.Base(lay.Root)), []byte(strings.Join(unused, "\n")))
		return nil
	})
}
