package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"crawlmeter/internal/detect"
)

// Classify runs one synthetic request through the full pipeline and prints
// the verdicts, the enforcement action, and the amount that a visit record
// would carry. Nothing is persisted.
func (a *App) Classify(ctx context.Context, opts ClassifyOptions) error {
	eng, err := a.newEngine(nil)
	if err != nil {
		return err
	}

	headers := []detect.Header{}
	if opts.UserAgent != "" {
		headers = append(headers, detect.Header{Name: "User-Agent", Value: opts.UserAgent})
	}
	if opts.Referer != "" {
		headers = append(headers, detect.Header{Name: "Referer", Value: opts.Referer})
	}
	for _, pair := range opts.Headers {
		name, value, ok := strings.Cut(pair, ":")
		if !ok {
			return fmt.Errorf("malformed header %q (want Name: Value)", pair)
		}
		headers = append(headers, detect.Header{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}

	raw := detect.RawRequest{
		SiteID:     opts.SiteID,
		OwnerID:    opts.OwnerID,
		RemoteAddr: opts.ClientIP,
		Headers:    headers,
		URL:        opts.URL,
		Method:     "GET",
		Timestamp:  time.Now().UTC(),
	}

	outcome := eng.Process(ctx, raw)
	result := outcome.Result

	fmt.Fprintf(os.Stdout, "bot: %t\n", result.IsBot)
	fmt.Fprintf(os.Stdout, "action: %s\n", outcome.Action)
	if result.IsBot {
		fmt.Fprintf(os.Stdout, "identity: %s (%s)\n", result.Signature.Name, result.Signature.Company)
		fmt.Fprintf(os.Stdout, "confidence: %.4f\n", result.Confidence)
	}
	if outcome.Visit != nil {
		fmt.Fprintf(os.Stdout, "billable: %t\n", outcome.Visit.IsBillable)
		fmt.Fprintf(os.Stdout, "amount: %s\n", outcome.Visit.Revenue.StringFixed(4))
	}

	if len(result.Verdicts) == 0 {
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Method\tConfidence\tIdentity")
	for _, verdict := range result.Verdicts {
		fmt.Fprintf(writer, "%s\t%.4f\t%s\n", verdict.Method, verdict.Confidence, verdict.Signature.Name)
	}
	return writer.Flush()
}
