package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"crawlmeter/internal/storage"
)

type visitLister interface {
	ListRecentVisits(ctx context.Context, limit int) ([]storage.VisitRecord, error)
}

type payoutLister interface {
	ListRecentPayouts(ctx context.Context, limit int) ([]storage.Payout, error)
}

// Show prints recent visits or payouts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show records")
	}
	defer closeStore()

	switch opts.Kind {
	case "", "visits":
		return a.showVisits(ctx, store, opts.Limit)
	case "payouts":
		return a.showPayouts(ctx, store, opts.Limit)
	default:
		return fmt.Errorf("unknown kind %q (want visits or payouts)", opts.Kind)
	}
}

func (a *App) showVisits(ctx context.Context, store visitLister, limit int) error {
	visits, err := store.ListRecentVisits(ctx, limit)
	if err != nil {
		return err
	}
	if len(visits) == 0 {
		fmt.Fprintln(os.Stdout, "no visits found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSite\tBot\tIP\tURL\tBillable\tRevenue")

	for _, visit := range visits {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			visit.OccurredAt.UTC().Format(time.RFC3339),
			visit.SiteID,
			visit.BotName,
			visit.IP,
			sanitizeInline(visit.URL),
			visit.IsBillable,
			formatDecimal(visit.Revenue, 4),
		)
	}

	return writer.Flush()
}

func (a *App) showPayouts(ctx context.Context, store payoutLister, limit int) error {
	payouts, err := store.ListRecentPayouts(ctx, limit)
	if err != nil {
		return err
	}
	if len(payouts) == 0 {
		fmt.Fprintln(os.Stdout, "no payouts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Created (UTC)\tOwner\tGross\tFee\tNet\tStatus\tPeriod")

	for _, payout := range payouts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s..%s\n",
			payout.CreatedAt.UTC().Format(time.RFC3339),
			payout.OwnerID,
			formatDecimal(payout.Gross, 4),
			formatDecimal(payout.Fee, 4),
			formatDecimal(payout.Net, 4),
			payout.Status,
			payout.PeriodStart.UTC().Format("2006-01-02"),
			payout.PeriodEnd.UTC().Format("2006-01-02"),
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
