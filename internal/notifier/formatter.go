package notifier

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"QuoteKeeper/internal/model"
)

// FormatBatch summarizes one refresh batch. At most five errors are listed.
func FormatBatch(job string, res model.BatchResult) string {
	var b strings.Builder
	icon := "✅"
	if res.Failed > 0 {
		icon = "⚠️"
	}
	b.WriteString(fmt.Sprintf("%s <b>%s</b>\n\n", icon, html.EscapeString(job)))
	b.WriteString(fmt.Sprintf("updated: %d | skipped: %d | failed: %d\n", res.Updated, res.Skipped, res.Failed))
	for i, e := range res.Errors {
		if i == 5 {
			b.WriteString(fmt.Sprintf("  … %d more\n", len(res.Errors)-5))
			break
		}
		b.WriteString("  • " + html.EscapeString(e) + "\n")
	}
	return b.String()
}

// FormatUsage renders the request ledger report.
func FormatUsage(rep model.UsageReport) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📈 <b>API usage</b> since %s\n\n", rep.Since))
	b.WriteString(fmt.Sprintf("requests: %d over %d keys\n", rep.TotalRequests, rep.TotalKeys))
	b.WriteString(fmt.Sprintf("today: %d (ceiling %d per key)\n", rep.TodayRequests, rep.DailyCeiling))
	b.WriteString(fmt.Sprintf("blocked keys: %d\n", rep.BlockedCount))

	sources := make([]string, 0, len(rep.BySource))
	for s := range rep.BySource {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	for _, s := range sources {
		u := rep.BySource[s]
		b.WriteString(fmt.Sprintf("  %s: %d requests, %d keys, %d blocked\n", html.EscapeString(s), u.RequestCount, u.KeyCount, u.BlockedCount))
	}
	return b.String()
}

// FormatStatus renders scheduler job states.
func FormatStatus(running, inSession bool, jobs []model.JobStatus) string {
	var b strings.Builder
	state := "stopped"
	if running {
		state = "running"
	}
	market := "closed"
	if inSession {
		market = "open"
	}
	b.WriteString(fmt.Sprintf("🕒 <b>Scheduler</b> %s | market %s\n\n", state, market))
	for _, j := range jobs {
		next := "-"
		if j.NextRun != nil {
			next = j.NextRun.Format("2006-01-02 15:04")
		}
		b.WriteString(fmt.Sprintf("  %s [%s] next %s\n", j.Name, j.State, next))
	}
	return b.String()
}

// FormatStale lists keys needing refresh.
func FormatStale(stocks []model.StaleStock, total int) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("⏳ <b>%d stale</b> (showing %d)\n\n", total, len(stocks)))
	for _, s := range stocks {
		age := "never"
		if s.PriceUpdatedAt != nil {
			age = s.PriceUpdatedAt.Format(time.DateTime)
		}
		b.WriteString(fmt.Sprintf("  %s  %s\n", html.EscapeString(s.Key.String()), age))
	}
	return b.String()
}
