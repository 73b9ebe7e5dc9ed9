// Package ocr drives invoice-upload jobs through text extraction and
// keyword/regex parsing of Turkish utility bills. It owns the invoice state
// machine (pending -> processing -> completed/failed -> verified) but never
// writes an ActivityData row itself: that happens only once a user confirms
// the extraction, via invoice.verified on the event bus.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	core "github.com/carbonledger/platform/internal/app/core/service"
	"github.com/carbonledger/platform/internal/app/domain/carbon"
	"github.com/carbonledger/platform/internal/app/eventbus"
	"github.com/carbonledger/platform/internal/app/metrics"
	"github.com/carbonledger/platform/internal/app/services/notification"
	"github.com/carbonledger/platform/internal/app/services/validation"
	"github.com/carbonledger/platform/internal/app/storage"
	"github.com/carbonledger/platform/pkg/logger"
)

const (
	maxAttempts   = 3
	retryBackoff  = 60 * time.Second
	lowConfidence = 0.6
	visionTimeout = 20 * time.Second
)

var extractionRetryPolicy = core.RetryPolicy{
	Attempts:       maxAttempts,
	InitialBackoff: retryBackoff,
	MaxBackoff:     retryBackoff,
	Multiplier:     1,
}

// VisionClient abstracts the external OCR/vision call so tests can stub it.
type VisionClient interface {
	ExtractText(ctx context.Context, fileBytes []byte, contentType string) (string, error)
}

// HTTPVisionClient posts the raw file to an external vision-extraction
// service and returns the plain-text transcript.
type HTTPVisionClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewHTTPVisionClient builds a client with the package's default timeout.
func NewHTTPVisionClient(baseURL, apiKey string) *HTTPVisionClient {
	return &HTTPVisionClient{BaseURL: baseURL, APIKey: apiKey, Client: &http.Client{Timeout: visionTimeout}}
}

func (c *HTTPVisionClient) ExtractText(ctx context.Context, fileBytes []byte, contentType string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "invoice")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(fileBytes); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/extract-text", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("vision service returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode vision response: %w", err)
	}
	return parsed.Text, nil
}

// Worker drives the invoice pipeline.
type Worker struct {
	invoices storage.InvoiceStore
	notifier *notification.Service
	vision   VisionClient
	log      *logger.Logger
}

// NewWorker builds an OCR worker.
func NewWorker(invoices storage.InvoiceStore, notifier *notification.Service, vision VisionClient, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.NewDefault("ocr")
	}
	return &Worker{invoices: invoices, notifier: notifier, vision: vision, log: log}
}

// ProcessPending drives every invoice still waiting on OCR, one poll tick.
func (w *Worker) ProcessPending(ctx context.Context) error {
	pending, err := w.invoices.ListInvoicesByStatus(ctx, carbon.InvoicePending, 25)
	if err != nil {
		return fmt.Errorf("list pending invoices: %w", err)
	}
	for _, inv := range pending {
		w.processOne(ctx, inv)
	}
	return nil
}

func (w *Worker) processOne(ctx context.Context, inv carbon.Invoice) {
	inv.Status = carbon.InvoiceProcessing
	if _, err := w.invoices.UpdateInvoice(ctx, inv); err != nil {
		w.log.WithError(err).WithField("invoice_id", inv.ID).Error("mark invoice processing failed")
		return
	}

	text, err := w.extractWithRetry(ctx, inv)
	if err != nil {
		w.log.WithError(err).WithField("invoice_id", inv.ID).Warn("invoice extraction failed after retries")
		inv.Status = carbon.InvoiceFailed
		now := time.Now().UTC()
		inv.ProcessedAt = &now
		_, _ = w.invoices.UpdateInvoice(ctx, inv)
		return
	}

	extraction := Extract(text)
	inv.Status = carbon.InvoiceCompleted
	inv.ExtractedText = text
	inv.ExtractedActivity = extraction.ActivityType
	inv.ExtractedQuantity = extraction.Quantity
	inv.ExtractedCostTL = extraction.CostTRY
	inv.ExtractedStartDate = extraction.StartDate
	inv.ExtractedEndDate = extraction.EndDate
	inv.Confidence = extraction.Confidence
	now := time.Now().UTC()
	inv.ProcessedAt = &now

	if _, err := w.invoices.UpdateInvoice(ctx, inv); err != nil {
		w.log.WithError(err).WithField("invoice_id", inv.ID).Error("persist invoice extraction failed")
		return
	}

	if w.notifier != nil {
		title := "Invoice processed"
		msg := fmt.Sprintf("Extraction complete for %s", inv.Filename)
		if extraction.Confidence < lowConfidence {
			title = "Invoice processed (low confidence)"
			msg = fmt.Sprintf("Extraction for %s has low confidence (%.0f%%); please review before confirming.", inv.Filename, extraction.Confidence*100)
		}
		_, err := w.notifier.Notify(ctx, carbon.Notification{
			UserID:           inv.UserID,
			NotificationType: notification.TypeInvoiceProcessed,
			Title:            title,
			Message:          msg,
			FacilityID:       inv.FacilityID,
		}, "")
		if err != nil {
			w.log.WithError(err).Warn("invoice-processed notification failed")
		}
	}
}

func (w *Worker) extractWithRetry(ctx context.Context, inv carbon.Invoice) (string, error) {
	fileBytes, err := readFile(inv.FilePath)
	if err != nil {
		return "", fmt.Errorf("read invoice file: %w", err)
	}

	finish := core.StartObservation(ctx, metrics.OCRExtractionHooks(), map[string]string{
		"invoice_id": inv.ID,
	})

	var text string
	retryErr := core.Retry(ctx, extractionRetryPolicy, func() error {
		t, err := w.vision.ExtractText(ctx, fileBytes, inv.FileType)
		if err != nil {
			return err
		}
		text = t
		return nil
	})
	finish(retryErr)
	if retryErr != nil {
		return "", retryErr
	}
	return text, nil
}

// Verify is called by the HTTP handler, not the worker, once a user confirms
// an extraction. It flips the invoice to verified and emits invoice.verified
// so the ingestion worker materializes the ActivityData row.
func Verify(ctx context.Context, bus *eventbus.Bus, invoices storage.InvoiceStore, invoiceID string) (carbon.Invoice, error) {
	inv, err := invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return carbon.Invoice{}, err
	}
	if inv.Status != carbon.InvoiceCompleted {
		return carbon.Invoice{}, fmt.Errorf("invoice %s is not in a verifiable state (status=%s)", invoiceID, inv.Status)
	}

	inv.Status = carbon.InvoiceVerified
	inv.IsVerified = true
	updated, err := invoices.UpdateInvoice(ctx, inv)
	if err != nil {
		return carbon.Invoice{}, err
	}

	startDate, endDate := "", ""
	if updated.ExtractedStartDate != nil {
		startDate = updated.ExtractedStartDate.Format("2006-01-02")
	}
	if updated.ExtractedEndDate != nil {
		endDate = updated.ExtractedEndDate.Format("2006-01-02")
	}
	var quantity, cost float64
	if updated.ExtractedQuantity != nil {
		quantity = *updated.ExtractedQuantity
	}
	if updated.ExtractedCostTL != nil {
		cost = *updated.ExtractedCostTL
	}

	err = bus.Publish(ctx, eventbus.QueueIngestion, eventbus.EventInvoiceVerified, "invoice:"+updated.ID, struct {
		InvoiceID    string  `json:"invoice_id"`
		FacilityID   string  `json:"facility_id"`
		ActivityType string  `json:"activity_type"`
		Quantity     float64 `json:"quantity"`
		Unit         string  `json:"unit"`
		CostTRY      float64 `json:"cost_try"`
		StartDate    string  `json:"start_date"`
		EndDate      string  `json:"end_date"`
	}{
		InvoiceID:    updated.ID,
		FacilityID:   updated.FacilityID,
		ActivityType: string(updated.ExtractedActivity),
		Quantity:     quantity,
		Unit:         defaultUnit(updated.ExtractedActivity),
		CostTRY:      cost,
		StartDate:    startDate,
		EndDate:      endDate,
	})
	return updated, err
}

func defaultUnit(kind carbon.ActivityType) string {
	if kind == carbon.ActivityElectricity {
		return "kWh"
	}
	return "m3"
}

// Extraction is the keyword/regex parse of an invoice's raw OCR text.
type Extraction struct {
	ActivityType carbon.ActivityType
	Quantity     *float64
	CostTRY      *float64
	StartDate    *time.Time
	EndDate      *time.Time
	Confidence   float64
}

var (
	quantityRe = regexp.MustCompile(`(?i)(\d{1,3}(?:[.,]\d{3})*(?:[.,]\d+)?)\s*(kwh|m3|m³|litre|liter)`)
	costRe     = regexp.MustCompile(`(?i)(\d{1,3}(?:[.,]\d{3})*(?:[.,]\d+)?)\s*(?:tl|₺|try)`)
	dateRe     = regexp.MustCompile(`(\d{2}[./]\d{2}[./]\d{4})`)
)

// Confidence weights per successfully-extracted field. Quantity and activity
// kind carry the most weight since a reading without either cannot be turned
// into an ActivityData row at all; cost and the date range matter less and
// can be filled in by hand during verification.
const (
	confidenceKind     = 0.3
	confidenceQuantity = 0.3
	confidenceCost     = 0.2
	confidenceDates    = 0.2
)

// Extract pulls activity kind, quantity, cost, and a date range out of raw
// invoice text using the closed Turkish vocabulary and the comma-decimal
// convention local bills use, accumulating a weighted confidence per field
// found, capped at 1.0.
func Extract(text string) Extraction {
	lower := strings.ToLower(text)
	var out Extraction
	var confidence float64

	for token, kind := range turkishActivityTokens {
		if strings.Contains(lower, token) {
			out.ActivityType = kind
			confidence += confidenceKind
			break
		}
	}

	if m := quantityRe.FindStringSubmatch(text); m != nil {
		if v, err := parseTurkishNumber(m[1]); err == nil {
			out.Quantity = &v
			confidence += confidenceQuantity
		}
	}

	if m := costRe.FindStringSubmatch(text); m != nil {
		if v, err := parseTurkishNumber(m[1]); err == nil {
			out.CostTRY = &v
			confidence += confidenceCost
		}
	}

	dates := dateRe.FindAllString(text, -1)
	if len(dates) >= 2 {
		if start, err1 := time.Parse("02.01.2006", normaliseDateSep(dates[0])); err1 == nil {
			if end, err2 := time.Parse("02.01.2006", normaliseDateSep(dates[1])); err2 == nil {
				out.StartDate = &start
				out.EndDate = &end
				confidence += confidenceDates
			}
		}
	}

	if confidence > 1.0 {
		confidence = 1.0
	}
	out.Confidence = confidence
	return out
}

var turkishActivityTokens = map[string]carbon.ActivityType{
	"elektrik":    carbon.ActivityElectricity,
	"electricity": carbon.ActivityElectricity,
	"doğalgaz":    carbon.ActivityNaturalGas,
	"dogalgaz":    carbon.ActivityNaturalGas,
	"natural gas": carbon.ActivityNaturalGas,
	"mazot":       carbon.ActivityDieselFuel,
	"dizel":       carbon.ActivityDieselFuel,
}

func normaliseDateSep(raw string) string {
	return strings.ReplaceAll(raw, "/", ".")
}

// parseTurkishNumber accepts the Turkish convention (dot thousands
// separator, comma decimal separator) alongside the plain dot-decimal form.
func parseTurkishNumber(raw string) (float64, error) {
	s := raw
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	return strconv.ParseFloat(s, 64)
}

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
