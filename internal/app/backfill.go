package app

import (
	"context"
	"errors"
	"time"
)

// Backfill re-runs collection over a historical date range. Snapshot upserts
// are keyed by (date, period, account), so re-processing a window never
// duplicates records.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	start := opts.From.UTC().Truncate(24 * time.Hour)
	end := opts.To.UTC().Truncate(24 * time.Hour)
	if start.After(end) {
		return errors.New("回填范围为空，请检查 --from/--to")
	}

	if opts.DryRun {
		a.Logger.Warn().Msg("回填 dry-run：不会写入数据库")
		for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
			a.Logger.Info().Str("date", day.Format("2006-01-02")).Msg("would collect")
		}
		return nil
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn 未配置，无法回填")
	}
	if closeStore != nil {
		defer closeStore()
	}

	// Backfill never alerts; it only repairs history.
	svc := a.newService(store, nil)

	processed := 0
	failed := 0
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		date := day.Format("2006-01-02")
		if err := svc.RunCollection(ctx, date); err != nil {
			failed++
			a.Logger.Error().Err(err).Str("date", date).Msg("回填失败")
			continue
		}
		processed++
	}

	a.Logger.Info().Int("processed", processed).Int("failed", failed).Msg("回填完成")
	if failed > 0 {
		return errors.New("部分日期回填失败，请检查日志")
	}
	return nil
}
