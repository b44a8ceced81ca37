package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"cloud-cost-guardian/internal/report"
)

// Report assembles and dispatches a daily or weekly summary, printing the
// rendered text locally as well.
func (a *App) Report(ctx context.Context, opts ReportOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot build reports")
	}
	if closeStore != nil {
		defer closeStore()
	}

	svc := a.newService(store, a.newNotifier())

	var rep report.Report
	if opts.Weekly {
		rep, err = svc.RunWeeklyReport(ctx, opts.Date)
	} else {
		rep, err = svc.RunDailyReport(ctx, opts.Date)
	}
	if err != nil {
		return err
	}

	fmt.Fprint(os.Stdout, report.Render(rep))
	return nil
}
