package reporter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tokikanri/tokikanri/internal/models"
	"github.com/tokikanri/tokikanri/pkg/timefmt"
)

// Source supplies aggregated session history, normally the database repository.
type Source interface {
	GetProgramSummarySince(since time.Time) ([]models.ProgramSummary, error)
}

// Reporter handles report generation
type Reporter struct {
	source Source
	now    func() time.Time
}

// New creates a new reporter
func New(source Source) *Reporter {
	return &Reporter{
		source: source,
		now:    time.Now,
	}
}

// GenerateReport generates a report for the specified period
func (r *Reporter) GenerateReport(periodType string) (*models.Report, error) {
	period, err := r.getPeriod(periodType)
	if err != nil {
		return nil, err
	}

	// SQL does the SUM, derived fields are computed here
	summaries, err := r.source.GetProgramSummarySince(period.Start)
	if err != nil {
		return nil, fmt.Errorf("failed to get program summary: %w", err)
	}

	var totalSeconds float64
	for i := range summaries {
		summaries[i].TotalMinutes = summaries[i].TotalSeconds / 60.0
		summaries[i].TotalHours = summaries[i].TotalSeconds / 3600.0
		totalSeconds += summaries[i].TotalSeconds
	}

	if totalSeconds > 0 {
		for i := range summaries {
			summaries[i].Percentage = (summaries[i].TotalSeconds / totalSeconds) * 100.0
		}
	}

	report := &models.Report{
		Period:       *period,
		Programs:     summaries,
		TotalSeconds: totalSeconds,
		TotalMinutes: totalSeconds / 60.0,
		TotalHours:   totalSeconds / 3600.0,
		GeneratedAt:  r.now(),
	}

	return report, nil
}

// getPeriod calculates the time range for the report
func (r *Reporter) getPeriod(periodType string) (*models.ReportPeriod, error) {
	now := r.now()
	var start, end time.Time

	switch periodType {
	case "day", "today":
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		end = start.Add(24 * time.Hour)

	case "week":
		// Start of week (Monday)
		weekday := int(now.Weekday())
		if weekday == 0 {
			weekday = 7 // Sunday = 7
		}
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, -(weekday - 1))
		end = start.AddDate(0, 0, 7)

	case "month":
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		end = start.AddDate(0, 1, 0)

	default:
		return nil, fmt.Errorf("invalid period type: %s (valid: day, week, month)", periodType)
	}

	return &models.ReportPeriod{
		Start: start,
		End:   end,
		Type:  periodType,
	}, nil
}

// FormatReportText formats the report as human-readable text
func (r *Reporter) FormatReportText(report *models.Report) string {
	output := fmt.Sprintf("Usage Report - %s\n", report.Period.Type)
	output += fmt.Sprintf("Period: %s to %s\n",
		report.Period.Start.Format("2006-01-02 15:04"),
		report.Period.End.Format("2006-01-02 15:04"))
	output += fmt.Sprintf("Total Time: %s (%.2fh)\n\n", timefmt.Clock(report.TotalSeconds), report.TotalHours)

	if len(report.Programs) == 0 {
		output += "No activity recorded for this period.\n"
		return output
	}

	output += fmt.Sprintf("%-30s %12s %10s %8s\n", "Program", "Time", "Sessions", "Percent")
	output += fmt.Sprintf("%s\n", "----------------------------------------------------------------")

	for _, prog := range report.Programs {
		output += fmt.Sprintf("%-30s %12s %10d %7.1f%%\n",
			truncate(prog.Program, 30),
			timefmt.Clock(prog.TotalSeconds),
			prog.SessionCount,
			prog.Percentage)
	}

	return output
}

// FormatReportJSON formats the report as JSON
func (r *Reporter) FormatReportJSON(report *models.Report) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

// truncate truncates a string to the specified length
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
