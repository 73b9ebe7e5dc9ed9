package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/carbonledger/platform/internal/app/domain/carbon"
	"github.com/carbonledger/platform/internal/app/eventbus"
	"github.com/carbonledger/platform/internal/app/storage"
	"github.com/carbonledger/platform/pkg/logger"
)

// ReportRequestedPayload is the event body published for report.requested.
type ReportRequestedPayload struct {
	ReportID string `json:"report_id"`
}

// ReportWorker drains q_reports, turning a Pending Report row into a
// Completed (or Failed) one. Generation is synchronous within the handler
// but decoupled from the HTTP request that created the job, so a slow
// CBAM/ROI run never ties up a request goroutine.
type ReportWorker struct {
	reports    storage.ReportStore
	facilities storage.FacilityStore
	activities storage.ActivityStore
	companies  storage.CompanyStore
	users      storage.UserStore
	reportDir  string
	log        *logger.Logger
}

// NewReportWorker builds the report worker and registers it on q_reports.
func NewReportWorker(bus *eventbus.Bus, reports storage.ReportStore, facilities storage.FacilityStore, activities storage.ActivityStore, companies storage.CompanyStore, users storage.UserStore, reportDir string, log *logger.Logger) *ReportWorker {
	if log == nil {
		log = logger.NewDefault("reporting-worker")
	}
	w := &ReportWorker{
		reports:    reports,
		facilities: facilities,
		activities: activities,
		companies:  companies,
		users:      users,
		reportDir:  reportDir,
		log:        log,
	}
	bus.On(eventbus.QueueReports, w.handleEvent)
	return w
}

func (w *ReportWorker) handleEvent(ctx context.Context, evt carbon.EventLog) error {
	if evt.EventType != eventbus.EventReportRequested {
		return fmt.Errorf("reporting worker received unknown event type %q", evt.EventType)
	}
	var p ReportRequestedPayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		return fmt.Errorf("decode report.requested payload: %w", err)
	}

	report, err := w.reports.GetReport(ctx, p.ReportID)
	if err != nil {
		return fmt.Errorf("get report %s: %w", p.ReportID, err)
	}
	if report.Status != carbon.ReportStatusPending {
		// Already processed by a previous delivery of this event; nothing to do.
		return nil
	}
	report.Status = carbon.ReportStatusProcessing
	report, err = w.reports.UpdateReport(ctx, report)
	if err != nil {
		return fmt.Errorf("mark report processing: %w", err)
	}

	company, err := w.companies.GetCompany(ctx, report.CompanyID)
	if err != nil {
		return w.fail(ctx, report, fmt.Errorf("get company: %w", err))
	}

	var result carbon.Report
	switch report.ReportType {
	case carbon.ReportCBAMXML:
		result, err = GenerateCBAM(ctx, w.facilities, w.activities, w.users, company, report.StartDate, report.EndDate, w.reportDir)
	case carbon.ReportROIAnalysis:
		result, err = w.generateROIReport(ctx, company, report)
	default:
		err = fmt.Errorf("unsupported report type %q", report.ReportType)
	}
	if err != nil {
		return w.fail(ctx, report, err)
	}

	report.Status = carbon.ReportStatusCompleted
	report.FilePath = result.FilePath
	report.FileSizeBytes = result.FileSizeBytes
	report.TotalEmissionsTCO2e = result.TotalEmissionsTCO2e
	report.TotalSavingsTL = result.TotalSavingsTL
	report.CompletedAt = result.CompletedAt
	report.ExpiresAt = result.ExpiresAt
	if _, err := w.reports.UpdateReport(ctx, report); err != nil {
		return fmt.Errorf("mark report completed: %w", err)
	}
	return nil
}

func (w *ReportWorker) fail(ctx context.Context, report carbon.Report, cause error) error {
	report.Status = carbon.ReportStatusFailed
	report.ErrorMessage = cause.Error()
	if _, err := w.reports.UpdateReport(ctx, report); err != nil {
		w.log.WithError(err).WithField("report_id", report.ID).Error("mark report failed write failed")
	}
	return cause
}

// generateROIReport runs the ROI analysis and persists the portfolio as a
// JSON artifact alongside the CBAM XML reports, so both report types are
// retrievable through the same download path.
func (w *ReportWorker) generateROIReport(ctx context.Context, company carbon.Company, report carbon.Report) (carbon.Report, error) {
	portfolio, err := GenerateROI(ctx, w.facilities, w.activities, w.companies, company.ID)
	if err != nil {
		return carbon.Report{}, err
	}
	raw, err := json.MarshalIndent(portfolio, "", "  ")
	if err != nil {
		return carbon.Report{}, fmt.Errorf("marshal roi portfolio: %w", err)
	}
	if err := os.MkdirAll(w.reportDir, 0o755); err != nil {
		return carbon.Report{}, fmt.Errorf("create report dir: %w", err)
	}
	filename := fmt.Sprintf("roi-%s-%d.json", company.ID, time.Now().UTC().Unix())
	fullPath := filepath.Join(w.reportDir, filename)
	if err := os.WriteFile(fullPath, raw, 0o644); err != nil {
		return carbon.Report{}, fmt.Errorf("write roi file: %w", err)
	}

	now := time.Now().UTC()
	expires := now.Add(7 * 24 * time.Hour)
	savings := portfolio.TotalAnnualSavingsTRY
	return carbon.Report{
		FilePath:      fullPath,
		FileSizeBytes: int64(len(raw)),
		TotalSavingsTL: &savings,
		CompletedAt:   &now,
		ExpiresAt:     &expires,
	}, nil
}
