package process

import (
	"context"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"epc/publication"
	"epc/state"
)

// Compat rewrites each publication's stylesheets and documents for
// constrained rendering environments.
func Compat(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("compat")

	forceCodePage(env, cmd, log)

	log.Info("Processing starting", zap.Strings("sources", cmd.Args().Slice()))
	defer func(start time.Time) {
		log.Info("Processing completed", zap.Duration("elapsed", time.Since(start)))
	}(time.Now())

	pipe := publication.NewPipeline(&env.Cfg.Compat, env.Rpt, log)

	return eachPublication(ctx, cmd.Args().Slice(), log, func(ctx context.Context, root string) error {
		lay, err := publication.Resolve(root, &env.Cfg.Publication)
		if err != nil {
			return err
		}
		return pipe.Run(ctx, lay, env.CodePage)
	})
}
