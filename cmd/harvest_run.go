package cmd

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/heritage-harvester/internal/app"
	"github.com/JakeFAU/heritage-harvester/internal/config"
)

func runHarvest(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	summary, err := a.Run(ctx)
	logger.Info("harvest finished",
		zap.String("run_id", summary.RunID),
		zap.Int("attempted", summary.Attempted),
		zap.Int("resolved", summary.Resolved),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", len(summary.Failed)),
	)
	if errors.Is(err, context.Canceled) {
		logger.Warn("harvest interrupted, rerun with the same output to resume")
	}
	return err
}
