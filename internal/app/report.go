package app

import (
	"context"
	"strings"

	"quiz-room-sync/internal/domain"
)

var reportTypes = map[string]bool{
	domain.ReportIncorrectAnswer:      true,
	domain.ReportIncorrectExplanation: true,
	domain.ReportTypoFormatting:       true,
	domain.ReportAmbiguous:            true,
	domain.ReportOther:                true,
}

// ReportQuestion files a player's complaint about a question.
func ReportQuestion(ctx context.Context, store AnswerStore, report domain.Report, opts ...Option) error {
	if report.QuestionID == "" {
		return &domain.ValidationError{Field: "questionId", Reason: "required"}
	}
	if !reportTypes[report.ReportType] {
		return &domain.ValidationError{Field: "reportType", Reason: "unknown type " + report.ReportType}
	}
	report.ReportText = strings.TrimSpace(report.ReportText)
	if report.CreatedAt.IsZero() {
		report.CreatedAt = buildOptions(opts).clock.Now()
	}
	return domain.Collaborator("submit report", store.InsertReport(ctx, report))
}
