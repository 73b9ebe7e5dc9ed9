// Package ingestion hosts the workers that drain the ingestion queues:
// materializing validated activity submissions into ActivityData rows,
// recording invalid submissions as data-quality issues, and turning a
// verified invoice into a downstream activity-data event. It also
// implements the synchronous CSV batch-upload path used by the HTTP layer.
package ingestion

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/carbonledger/platform/internal/app/domain/carbon"
	"github.com/carbonledger/platform/internal/app/eventbus"
	"github.com/carbonledger/platform/internal/app/services/calculation"
	"github.com/carbonledger/platform/internal/app/services/validation"
	"github.com/carbonledger/platform/internal/app/storage"
	"github.com/carbonledger/platform/pkg/logger"
)

// MaxCSVBytes bounds a single bulk-upload file.
const MaxCSVBytes = 5 * 1024 * 1024

// ActivatedPayload is the event body published for activity.validated.
type ActivatedPayload struct {
	FacilityID   string  `json:"facility_id"`
	ActivityType string  `json:"activity_type"`
	Quantity     float64 `json:"quantity"`
	Unit         string  `json:"unit"`
	StartDate    string  `json:"start_date"`
	EndDate      string  `json:"end_date"`
	IsSimulation bool    `json:"is_simulation"`
}

// InvalidPayload is the event body published for activity.invalid.
type InvalidPayload struct {
	FacilityID string `json:"facility_id"`
	Reason     string `json:"reason"`
	RawPayload []byte `json:"raw_payload"`
}

// InvoiceVerifiedPayload is published once a user confirms an OCR extraction.
type InvoiceVerifiedPayload struct {
	InvoiceID    string  `json:"invoice_id"`
	FacilityID   string  `json:"facility_id"`
	ActivityType string  `json:"activity_type"`
	Quantity     float64 `json:"quantity"`
	Unit         string  `json:"unit"`
	CostTRY      float64 `json:"cost_try"`
	StartDate    string  `json:"start_date"`
	EndDate      string  `json:"end_date"`
}

// Worker consumes the ingestion queues and writes ActivityData/DataQualityIssue rows.
type Worker struct {
	activities storage.ActivityStore
	events     storage.EventLogStore
	calc       calculation.Provider
	log        *logger.Logger
}

// NewWorker builds the ingestion worker and registers its handlers on bus.
func NewWorker(bus *eventbus.Bus, activities storage.ActivityStore, events storage.EventLogStore, calc calculation.Provider, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.NewDefault("ingestion")
	}
	w := &Worker{activities: activities, events: events, calc: calc, log: log}
	bus.On(eventbus.QueueIngestion, w.handleEvent)
	bus.On(eventbus.QueueInvalid, w.handleEvent)
	return w
}

func (w *Worker) handleEvent(ctx context.Context, evt carbon.EventLog) error {
	switch evt.EventType {
	case eventbus.EventActivityValidated:
		var p ActivatedPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return fmt.Errorf("decode activity.validated payload: %w", err)
		}
		return w.materialize(ctx, p)
	case eventbus.EventActivityInvalid:
		var p InvalidPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return fmt.Errorf("decode activity.invalid payload: %w", err)
		}
		_, err := w.events.RecordDataQualityIssue(ctx, carbon.DataQualityIssue{
			FacilityID: p.FacilityID,
			Reason:     p.Reason,
			RawPayload: p.RawPayload,
			DetectedAt: time.Now().UTC(),
		})
		return err
	case eventbus.EventInvoiceVerified:
		var p InvoiceVerifiedPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return fmt.Errorf("decode invoice.verified payload: %w", err)
		}
		return w.materialize(ctx, ActivatedPayload{
			FacilityID:   p.FacilityID,
			ActivityType: p.ActivityType,
			Quantity:     p.Quantity,
			Unit:         p.Unit,
			StartDate:    p.StartDate,
			EndDate:      p.EndDate,
		})
	default:
		return fmt.Errorf("ingestion worker received unknown event type %q", evt.EventType)
	}
}

func (w *Worker) materialize(ctx context.Context, p ActivatedPayload) error {
	start, err := time.Parse("2006-01-02", p.StartDate)
	if err != nil {
		return fmt.Errorf("parse start_date: %w", err)
	}
	end, err := time.Parse("2006-01-02", p.EndDate)
	if err != nil {
		return fmt.Errorf("parse end_date: %w", err)
	}
	kind := carbon.ActivityType(p.ActivityType)

	result, err := w.calc.CalculateForActivity(ctx, calculation.Input{
		ActivityType: kind,
		Quantity:     p.Quantity,
		Unit:         p.Unit,
		Year:         start.Year(),
	})
	if err != nil {
		return fmt.Errorf("calculate emissions: %w", err)
	}

	co2e := result.TotalCO2eKg
	_, err = w.activities.CreateActivity(ctx, carbon.ActivityData{
		FacilityID:            p.FacilityID,
		ActivityType:          kind,
		Quantity:              p.Quantity,
		Unit:                  p.Unit,
		StartDate:             start,
		EndDate:               end,
		Scope:                 result.Scope,
		CalculatedCO2eKg:      &co2e,
		IsFallbackCalculation: result.IsFallback,
		IsSimulation:          p.IsSimulation,
		EmissionFactorSource:  result.FactorID,
		FactorProvenance:      result.Provenance,
	})
	return err
}

// CSVRowResult reports the outcome of one parsed row so the handler can
// return a per-row success/failure summary without aborting the batch.
type CSVRowResult struct {
	Row     int    `json:"row"`
	Accepted bool  `json:"accepted"`
	Errors  []validation.Issue `json:"errors,omitempty"`
}

// BatchResult summarizes a CSV upload.
type BatchResult struct {
	TotalRows    int            `json:"total_rows"`
	AcceptedRows int            `json:"accepted_rows"`
	Rows         []CSVRowResult `json:"rows"`
}

// IngestCSV parses a bulk activity-data upload and publishes one
// activity.validated or activity.invalid event per five-column row; a
// malformed row never aborts the rest of the file. A row the CSV reader
// cannot parse, or one with the wrong column count, is reported in the
// result and publishes no event. The header must match exactly.
func IngestCSV(ctx context.Context, bus *eventbus.Bus, facilityID string, r io.Reader) (BatchResult, error) {
	limited := io.LimitReader(r, MaxCSVBytes+1)
	buffered := bufio.NewReader(limited)

	// Strip a UTF-8 BOM if present.
	if bom, err := buffered.Peek(3); err == nil && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		_, _ = buffered.Discard(3)
	}

	reader := csv.NewReader(buffered)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return BatchResult{}, fmt.Errorf("read csv header: %w", err)
	}
	if !headerMatches(header, validation.CSVHeader) {
		return BatchResult{}, fmt.Errorf("csv header must be exactly %q", strings.Join(validation.CSVHeader, ","))
	}

	var result BatchResult
	rowNum := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			result.Rows = append(result.Rows, CSVRowResult{Row: rowNum, Accepted: false, Errors: []validation.Issue{{
				Code: "csv_row_unparsable", Field: "row", Message: err.Error(), Severity: validation.SeverityError,
			}}})
			result.TotalRows++
			continue
		}
		result.TotalRows++
		res := processRow(ctx, bus, facilityID, rowNum, record)
		result.Rows = append(result.Rows, res)
		if res.Accepted {
			result.AcceptedRows++
		}
	}
	return result, nil
}

func headerMatches(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if strings.TrimSpace(got[i]) != want[i] {
			return false
		}
	}
	return true
}

func processRow(ctx context.Context, bus *eventbus.Bus, facilityID string, rowNum int, record []string) CSVRowResult {
	if len(record) != 5 {
		return CSVRowResult{Row: rowNum, Errors: []validation.Issue{{
			Code: "csv_row_wrong_column_count", Field: "row", Message: "expected 5 columns", Severity: validation.SeverityError,
		}}}
	}

	kind, ok := validation.ResolveActivityType(record[0])
	quantity, qErr := validation.ParseQuantity(record[1])
	unit := strings.TrimSpace(record[2])
	start, startErr := validation.ParseCSVDate(record[3])
	end, endErr := validation.ParseCSVDate(record[4])

	var issues []validation.Issue
	if !ok {
		issues = append(issues, validation.Issue{Code: "unknown_activity_type", Field: "aktivite_tipi", Message: fmt.Sprintf("unrecognised activity type %q", record[0]), Severity: validation.SeverityError})
	}
	if qErr != nil {
		issues = append(issues, validation.Issue{Code: "quantity_unparsable", Field: "miktar", Message: qErr.Error(), Severity: validation.SeverityError})
	}
	if startErr != nil {
		issues = append(issues, validation.Issue{Code: "date_unparsable", Field: "baslangic_tarihi", Message: startErr.Error(), Severity: validation.SeverityError})
	}
	if endErr != nil {
		issues = append(issues, validation.Issue{Code: "date_unparsable", Field: "bitis_tarihi", Message: endErr.Error(), Severity: validation.SeverityError})
	}

	if len(issues) == 0 {
		res := validation.ValidateActivity(validation.ActivityInput{
			ActivityType: kind,
			Quantity:     quantity,
			Unit:         unit,
			StartDate:    start,
			EndDate:      end,
		})
		issues = append(issues, res.Issues...)
	}

	hasError := false
	for _, i := range issues {
		if i.Severity == validation.SeverityError {
			hasError = true
			break
		}
	}

	raw, _ := json.Marshal(record)
	ctx2 := ctx
	if hasError {
		reasons := make([]string, 0, len(issues))
		for _, i := range issues {
			reasons = append(reasons, i.Message)
		}
		_ = bus.Publish(ctx2, eventbus.QueueInvalid, eventbus.EventActivityInvalid, "", InvalidPayload{
			FacilityID: facilityID,
			Reason:     strings.Join(reasons, "; "),
			RawPayload: raw,
		})
		return CSVRowResult{Row: rowNum, Accepted: false, Errors: issues}
	}

	_ = bus.Publish(ctx2, eventbus.QueueIngestion, eventbus.EventActivityValidated, "", ActivatedPayload{
		FacilityID:   facilityID,
		ActivityType: string(kind),
		Quantity:     quantity,
		Unit:         unit,
		StartDate:    start.Format("2006-01-02"),
		EndDate:      end.Format("2006-01-02"),
	})
	return CSVRowResult{Row: rowNum, Accepted: true}
}
