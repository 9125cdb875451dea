package crowdsync

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ReportEntry is the result of writing one record back to the catalog
type ReportEntry struct {
	RecordName string
	Catalog    string
	Success    bool
	Message    string
	CreatedAt  time.Time
}

// MailReport summarizes backflow results within a time window
type MailReport struct {
	From    time.Time
	To      time.Time
	Entries []ReportEntry
}

// Reporter produces reports for a time window, both ends inclusive
type Reporter interface {
	GetReport(ctx context.Context, fromInclusive, toInclusive time.Time) (*MailReport, error)
}

// Successes returns the entries for records that were updated
func (r *MailReport) Successes() []ReportEntry {
	return r.filter(true)
}

// Failures returns the entries for records that could not be updated
func (r *MailReport) Failures() []ReportEntry {
	return r.filter(false)
}

func (r *MailReport) filter(success bool) []ReportEntry {
	var out []ReportEntry
	for _, e := range r.Entries {
		if e.Success == success {
			out = append(out, e)
		}
	}
	return out
}

// Body renders the report as plain text
func (r *MailReport) Body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Report for %s to %s\n\n",
		r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))

	successes, failures := r.Successes(), r.Failures()
	fmt.Fprintf(&b, "Records updated: %d\n", len(successes))
	for _, e := range successes {
		fmt.Fprintf(&b, "  %s (%s)\n", e.RecordName, e.Catalog)
	}
	fmt.Fprintf(&b, "\nRecords failed: %d\n", len(failures))
	for _, e := range failures {
		fmt.Fprintf(&b, "  %s (%s): %s\n", e.RecordName, e.Catalog, e.Message)
	}
	return b.String()
}
