package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	app "github.com/carbonledger/platform/internal/app"
	"github.com/carbonledger/platform/internal/app/apierr"
	"github.com/carbonledger/platform/internal/app/auth"
	"github.com/carbonledger/platform/internal/app/domain/carbon"
	"github.com/carbonledger/platform/internal/app/eventbus"
	"github.com/carbonledger/platform/internal/app/services/access"
	"github.com/carbonledger/platform/internal/app/services/calculation"
	"github.com/carbonledger/platform/internal/app/services/ingestion"
	"github.com/carbonledger/platform/internal/app/services/ocr"
	"github.com/carbonledger/platform/internal/app/services/reporting"
	"github.com/carbonledger/platform/internal/app/services/validation"
	"github.com/carbonledger/platform/pkg/version"
	"github.com/google/uuid"
)

// handler bundles HTTP endpoints for the application's services.
type handler struct {
	app         *app.Application
	authManager authManager
	audit       *auditLog
}

// authManager is the subset of services/authmgr.Manager the HTTP layer
// depends on, kept as a local interface so handler tests can fake it.
type authManager interface {
	Register(ctx context.Context, email, password string) (carbon.User, error)
	Authenticate(ctx context.Context, email, password string) (carbon.User, error)
	Issue(user carbon.User, role, companyID string, ttl time.Duration) (string, time.Time, error)
	Validate(token string) (*auth.Claims, error)
}

// NewHandler returns a mux exposing the platform's REST API.
func NewHandler(application *app.Application, authMgr authManager, audit *auditLog) http.Handler {
	h := &handler{app: application, authManager: authMgr, audit: audit}
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", h.health)
	mux.HandleFunc("/system/version", h.systemVersion)
	mux.HandleFunc("/system/status", h.systemStatus)
	mux.HandleFunc("/system/descriptors", h.systemDescriptors)
	mux.HandleFunc("/system/descriptors.html", h.systemDescriptorsHTML)
	mux.HandleFunc("/admin/audit", h.adminAudit)

	mux.HandleFunc("/auth/register", h.register)
	mux.HandleFunc("/auth/login", h.login)

	mux.HandleFunc("/companies", h.companies)
	mux.HandleFunc("/companies/", h.companyResources)
	mux.HandleFunc("/facilities/", h.facilityResources)
	mux.HandleFunc("/invoices/", h.invoiceResources)
	mux.HandleFunc("/reports/", h.reportResources)
	mux.HandleFunc("/suppliers/invitations/accept", h.acceptSupplierInvitation)
	mux.HandleFunc("/notifications", h.notifications)
	mux.HandleFunc("/notifications/", h.notificationResources)
	mux.HandleFunc("/leaderboard", h.leaderboard)

	return mux
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) systemVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"built_at":   version.BuildTime,
		"go_version": version.GoVersion,
	})
}

func (h *handler) systemStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"services": h.app.Descriptors(),
	})
}

// --- auth -------------------------------------------------------------

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		CompanyName string `json:"company_name"`
		TaxNumber   string `json:"tax_number"`
		Country     string `json:"country"`
		Industry    string `json:"industry_type"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result := validation.ValidateRegistration(validation.RegistrationInput{Email: payload.Email, Password: payload.Password})
	if !result.OK() {
		writeAPIError(w, &apierr.ValidationError{Issues: result.Messages()})
		return
	}

	user, err := h.authManager.Register(r.Context(), payload.Email, payload.Password)
	if err != nil {
		writeAPIError(w, &apierr.ConflictError{Reason: err.Error()})
		return
	}

	var company carbon.Company
	if strings.TrimSpace(payload.CompanyName) != "" {
		company, err = h.app.Stores.Companies.CreateCompany(r.Context(), carbon.Company{
			Name:         payload.CompanyName,
			TaxNumber:    payload.TaxNumber,
			Country:      orDefaultStr(payload.Country, "TR"),
			IndustryType: carbon.IndustryType(orDefaultStr(payload.Industry, string(carbon.IndustryOther))),
			OwnerUserID:  user.ID,
			CreatedAt:    time.Now().UTC(),
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if err := h.app.Stores.Companies.AddMember(r.Context(), carbon.Member{
			UserID:    user.ID,
			CompanyID: company.ID,
			Role:      carbon.RoleOwner,
			JoinedAt:  time.Now().UTC(),
		}); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}

	token, expiresAt, err := h.authManager.Issue(user, string(carbon.RoleOwner), company.ID, 24*time.Hour)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":       sanitizeUser(user),
		"company":    company,
		"token":      token,
		"expires_at": expiresAt,
	})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := h.authManager.Authenticate(r.Context(), payload.Email, payload.Password)
	if err != nil {
		writeAPIError(w, &apierr.AuthError{Reason: err.Error()})
		return
	}

	companies, err := h.app.Stores.Companies.ListCompaniesForUser(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	var companyID, role string
	if len(companies) > 0 {
		companyID = companies[0].ID
		if member, err := h.app.Stores.Companies.GetMember(r.Context(), companyID, user.ID); err == nil {
			role = string(member.Role)
		}
	}
	token, expiresAt, err := h.authManager.Issue(user, role, companyID, 24*time.Hour)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":       sanitizeUser(user),
		"companies":  companies,
		"token":      token,
		"expires_at": expiresAt,
	})
}

func sanitizeUser(u carbon.User) map[string]any {
	return map[string]any{"id": u.ID, "email": u.Email, "is_active": u.IsActive}
}

func orDefaultStr(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// --- companies ----------------------------------------------------------

func (h *handler) companies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		companies, err := h.app.Stores.Companies.ListCompaniesForUser(r.Context(), tokenFromCtx(r.Context()))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, companies)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) companyResources(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/companies")
	if len(parts) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	companyID := parts[0]
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		company, err := h.app.Stores.Companies.GetCompany(r.Context(), companyID)
		if err != nil {
			writeAPIError(w, &apierr.NotFoundError{Resource: "company"})
			return
		}
		writeJSON(w, http.StatusOK, company)
		return
	}

	switch parts[1] {
	case "facilities":
		h.companyFacilities(w, r, companyID)
	case "members":
		h.companyMembers(w, r, companyID)
	case "reports":
		h.companyReports(w, r, companyID)
	case "suppliers":
		h.companySuppliers(w, r, companyID, parts[2:])
	case "targets":
		h.companyTargets(w, r, companyID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) companyFacilities(w http.ResponseWriter, r *http.Request, companyID string) {
	switch r.Method {
	case http.MethodGet:
		facilities, err := h.app.Stores.Facilities.ListFacilities(r.Context(), companyID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, facilities)
	case http.MethodPost:
		var payload struct {
			Name          string   `json:"name"`
			City          string   `json:"city"`
			Address       string   `json:"address"`
			FacilityType  string   `json:"facility_type"`
			SurfaceAreaM2 *float64 `json:"surface_area_m2"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		facility, err := h.app.Stores.Facilities.CreateFacility(r.Context(), carbon.Facility{
			CompanyID:     companyID,
			Name:          payload.Name,
			City:          payload.City,
			Address:       payload.Address,
			FacilityType:  carbon.FacilityType(payload.FacilityType),
			SurfaceAreaM2: payload.SurfaceAreaM2,
			CreatedAt:     time.Now().UTC(),
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, facility)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) companyMembers(w http.ResponseWriter, r *http.Request, companyID string) {
	switch r.Method {
	case http.MethodGet:
		members, err := h.app.Stores.Companies.ListMembers(r.Context(), companyID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, members)
	case http.MethodPost:
		var payload struct {
			UserID     string `json:"user_id"`
			Role       string `json:"role"`
			FacilityID string `json:"facility_id"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := requireRoleInContext(r, carbon.RoleAdmin); err != nil {
			writeAPIError(w, err)
			return
		}
		member := carbon.Member{
			UserID:     payload.UserID,
			CompanyID:  companyID,
			Role:       carbon.MemberRole(payload.Role),
			FacilityID: payload.FacilityID,
			JoinedAt:   time.Now().UTC(),
		}
		if err := h.app.Stores.Companies.AddMember(r.Context(), member); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, member)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) companyTargets(w http.ResponseWriter, r *http.Request, companyID string) {
	switch r.Method {
	case http.MethodGet:
		targets, err := h.app.Stores.Companies.ListTargets(r.Context(), companyID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, targets)
	case http.MethodPost:
		var target carbon.SustainabilityTarget
		if err := decodeJSON(r.Body, &target); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		target.CompanyID = companyID
		created, err := h.app.Stores.Companies.CreateTarget(r.Context(), target)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// companyReports handles report generation requests: CBAM XML or an ROI
// analysis. Generation itself runs on a background worker draining
// eventbus.QueueReports; this only creates the Pending job and hands back
// its handle for polling through reportResources.
func (h *handler) companyReports(w http.ResponseWriter, r *http.Request, companyID string) {
	switch r.Method {
	case http.MethodGet:
		reports, err := h.app.Stores.Reports.ListReportsByCompany(r.Context(), companyID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, reports)
	case http.MethodPost:
		h.generateReport(w, r, companyID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) generateReport(w http.ResponseWriter, r *http.Request, companyID string) {
	if !h.app.Access.Allow(access.TierCalculation, companyID) {
		writeAPIError(w, &apierr.RateLimitedError{Tier: access.TierCalculation})
		return
	}
	var payload struct {
		ReportType string    `json:"report_type"`
		StartDate  time.Time `json:"start_date"`
		EndDate    time.Time `json:"end_date"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if _, err := h.app.Stores.Companies.GetCompany(r.Context(), companyID); err != nil {
		writeAPIError(w, &apierr.NotFoundError{Resource: "company"})
		return
	}

	reportType := carbon.ReportType(payload.ReportType)
	if reportType != carbon.ReportCBAMXML && reportType != carbon.ReportROIAnalysis {
		writeAPIError(w, &apierr.ValidationError{Issues: []string{"unsupported report_type"}})
		return
	}

	now := time.Now().UTC()
	created, err := h.app.Stores.Reports.CreateReport(r.Context(), carbon.Report{
		CompanyID:   companyID,
		UserID:      tokenFromCtx(r.Context()),
		ReportType:  reportType,
		StartDate:   payload.StartDate,
		EndDate:     payload.EndDate,
		Status:      carbon.ReportStatusPending,
		CreatedAt:   now,
		RequestedAt: now,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	publishErr := h.app.Bus.Publish(r.Context(), eventbus.QueueReports, eventbus.EventReportRequested,
		fmt.Sprintf("report:%s", created.ID), reporting.ReportRequestedPayload{ReportID: created.ID})
	if publishErr != nil {
		writeError(w, http.StatusInternalServerError, publishErr)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (h *handler) companySuppliers(w http.ResponseWriter, r *http.Request, companyID string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			suppliers, err := h.app.Stores.Suppliers.ListSuppliersForCompany(r.Context(), companyID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, suppliers)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}
	if rest[0] != "invite" || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var payload struct {
		SupplierID      string `json:"supplier_id"`
		InvitedByUserID string `json:"invited_by_user_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	invitation, err := h.app.Stores.Suppliers.CreateInvitation(r.Context(), carbon.SupplierInvitation{
		SupplierID:      payload.SupplierID,
		CompanyID:       companyID,
		InvitedByUserID: payload.InvitedByUserID,
		InviteToken:     uuid.NewString(),
		Status:          carbon.InvitationPending,
		InvitedAt:       time.Now().UTC(),
		ExpiresAt:       time.Now().UTC().AddDate(0, 0, 30),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, invitation)
}

func (h *handler) acceptSupplierInvitation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	invitation, err := h.app.Stores.Suppliers.GetInvitationByToken(r.Context(), payload.Token)
	if err != nil {
		writeAPIError(w, &apierr.NotFoundError{Resource: "invitation"})
		return
	}
	if invitation.Status != carbon.InvitationPending || time.Now().After(invitation.ExpiresAt) {
		writeAPIError(w, &apierr.ConflictError{Reason: "invitation is no longer pending"})
		return
	}
	now := time.Now().UTC()
	invitation.Status = carbon.InvitationAccepted
	invitation.AcceptedAt = &now
	updated, err := h.app.Stores.Suppliers.UpdateInvitation(r.Context(), invitation)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// --- facilities -----------------------------------------------------------

func (h *handler) facilityResources(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/facilities")
	if len(parts) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	facilityID := parts[0]
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		facility, err := h.app.Stores.Facilities.GetFacility(r.Context(), facilityID)
		if err != nil {
			writeAPIError(w, &apierr.NotFoundError{Resource: "facility"})
			return
		}
		writeJSON(w, http.StatusOK, facility)
		return
	}

	switch parts[1] {
	case "activities":
		h.facilityActivities(w, r, facilityID, parts[2:])
	case "invoices":
		h.facilityInvoices(w, r, facilityID)
	case "benchmark":
		h.facilityBenchmark(w, r, facilityID)
	case "suggestions":
		h.facilitySuggestions(w, r, facilityID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) facilityActivities(w http.ResponseWriter, r *http.Request, facilityID string, rest []string) {
	if len(rest) == 1 && rest[0] == "csv" {
		h.uploadActivityCSV(w, r, facilityID)
		return
	}
	switch r.Method {
	case http.MethodGet:
		since, until := queryWindow(r, 365*24*time.Hour)
		kind := carbon.ActivityType(r.URL.Query().Get("activity_type"))
		activities, err := h.app.Stores.Activities.ListActivitiesByFacility(r.Context(), facilityID, kind, since, until)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, activities)
	case http.MethodPost:
		h.submitActivity(w, r, facilityID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) submitActivity(w http.ResponseWriter, r *http.Request, facilityID string) {
	if !h.app.Access.Allow(access.TierCalculation, facilityID) {
		writeAPIError(w, &apierr.RateLimitedError{Tier: access.TierCalculation})
		return
	}
	var payload struct {
		ActivityType string    `json:"activity_type"`
		Quantity     float64   `json:"quantity"`
		Unit         string    `json:"unit"`
		StartDate    time.Time `json:"start_date"`
		EndDate      time.Time `json:"end_date"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	kind := carbon.ActivityType(payload.ActivityType)
	input := validation.ActivityInput{
		ActivityType: kind,
		Quantity:     payload.Quantity,
		Unit:         payload.Unit,
		StartDate:    payload.StartDate,
		EndDate:      payload.EndDate,
	}
	result := validation.ValidateActivity(input)
	if !result.OK() {
		writeAPIError(w, &apierr.ValidationError{Issues: result.Messages()})
		return
	}

	calcResult, err := h.app.Calculation.CalculateForActivity(r.Context(), calculation.Input{
		ActivityType: kind,
		Quantity:     payload.Quantity,
		Unit:         payload.Unit,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	activity, err := h.app.Stores.Activities.CreateActivity(r.Context(), carbon.ActivityData{
		FacilityID:            facilityID,
		ActivityType:          kind,
		Quantity:              payload.Quantity,
		Unit:                  payload.Unit,
		StartDate:             payload.StartDate,
		EndDate:               payload.EndDate,
		Scope:                 carbon.ScopeForActivity(kind),
		CalculatedCO2eKg:      &calcResult.TotalCO2eKg,
		IsFallbackCalculation: calcResult.IsFallback,
		EmissionFactorSource:  calcResult.FactorID,
		CreatedAt:             time.Now().UTC(),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, activity)
}

func (h *handler) uploadActivityCSV(w http.ResponseWriter, r *http.Request, facilityID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.app.Access.Allow(access.TierCSVUpload, facilityID) {
		writeAPIError(w, &apierr.RateLimitedError{Tier: access.TierCSVUpload})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, ingestion.MaxCSVBytes)
	result, err := ingestion.IngestCSV(r.Context(), h.app.Bus, facilityID, r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (h *handler) facilityInvoices(w http.ResponseWriter, r *http.Request, facilityID string) {
	switch r.Method {
	case http.MethodGet:
		invoices, err := h.app.Stores.Invoices.ListInvoicesByFacility(r.Context(), facilityID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, invoices)
	case http.MethodPost:
		h.uploadInvoice(w, r, facilityID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) uploadInvoice(w http.ResponseWriter, r *http.Request, facilityID string) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	file, header, err := r.FormFile("invoice")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer file.Close()

	path, err := saveUpload(h.app.Runtime.Storage.UploadDir, facilityID, file, header)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	invoice, err := h.app.Stores.Invoices.CreateInvoice(r.Context(), carbon.Invoice{
		FacilityID: facilityID,
		UserID:     tokenFromCtx(r.Context()),
		Filename:   header.Filename,
		FilePath:   path,
		FileType:   header.Header.Get("Content-Type"),
		Status:     carbon.InvoicePending,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, invoice)
}

func saveUpload(dir, facilityID string, file multipart.File, header *multipart.FileHeader) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%s%s", facilityID, uuid.NewString(), filepath.Ext(header.Filename))
	path := filepath.Join(dir, name)
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		return "", err
	}
	return path, nil
}

func (h *handler) facilityBenchmark(w http.ResponseWriter, r *http.Request, facilityID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	facility, err := h.app.Stores.Facilities.GetFacility(r.Context(), facilityID)
	if err != nil {
		writeAPIError(w, &apierr.NotFoundError{Resource: "facility"})
		return
	}
	comparison, err := h.app.Benchmarking.Compare(r.Context(), facility.CompanyID, facilityID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, comparison)
}

func (h *handler) facilitySuggestions(w http.ResponseWriter, r *http.Request, facilityID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	facility, err := h.app.Stores.Facilities.GetFacility(r.Context(), facilityID)
	if err != nil {
		writeAPIError(w, &apierr.NotFoundError{Resource: "facility"})
		return
	}
	suggestions, err := h.app.Suggestions.Generate(r.Context(), facility)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestions)
}

// --- invoices ---------------------------------------------------------

func (h *handler) invoiceResources(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/invoices")
	if len(parts) != 2 || parts[1] != "verify" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	invoice, err := ocr.Verify(r.Context(), h.app.Bus, h.app.Stores.Invoices, parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

// --- reports ------------------------------------------------------------

func (h *handler) reportResources(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/reports")
	if len(parts) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	reportID := parts[0]
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		report, err := h.app.Stores.Reports.GetReport(r.Context(), reportID)
		if err != nil {
			writeAPIError(w, &apierr.NotFoundError{Resource: "report"})
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch parts[1] {
	case "status":
		report, err := h.app.Stores.Reports.GetReport(r.Context(), reportID)
		if err != nil {
			writeAPIError(w, &apierr.NotFoundError{Resource: "report"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":            report.ID,
			"status":        report.Status,
			"error_message": report.ErrorMessage,
		})
	case "download":
		report, err := h.app.Stores.Reports.GetReport(r.Context(), reportID)
		if err != nil {
			writeAPIError(w, &apierr.NotFoundError{Resource: "report"})
			return
		}
		if report.Status != carbon.ReportStatusCompleted || report.FilePath == "" {
			writeAPIError(w, &apierr.ConflictError{Reason: "report is not ready for download"})
			return
		}
		http.ServeFile(w, r, report.FilePath)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// --- notifications --------------------------------------------------------

func (h *handler) notifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID := tokenFromCtx(r.Context())
	unreadOnly := r.URL.Query().Get("unread") == "true"
	limit, err := parseLimitParam(r.URL.Query().Get("limit"), 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	notes, err := h.app.Notification.List(r.Context(), userID, unreadOnly, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (h *handler) notificationResources(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/notifications")
	if len(parts) != 2 || parts[1] != "read" || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := h.app.Notification.MarkRead(r.Context(), parts[0]); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	industry := carbon.IndustryType(r.URL.Query().Get("industry_type"))
	limit, err := parseLimitParam(r.URL.Query().Get("limit"), 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entries, err := h.app.Stores.Badges.ListLeaderboard(r.Context(), industry, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- admin audit ----------------------------------------------------------

func (h *handler) adminAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.audit == nil {
		writeJSON(w, http.StatusOK, []auditEntry{})
		return
	}
	limit, err := parseLimitParam(r.URL.Query().Get("limit"), 200)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

// --- shared helpers -------------------------------------------------------

func pathParts(path, prefix string) []string {
	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryWindow(r *http.Request, defaultWindow time.Duration) (time.Time, time.Time) {
	now := time.Now().UTC()
	since := now.Add(-defaultWindow)
	until := now
	if raw := r.URL.Query().Get("since"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			since = parsed
		}
	}
	if raw := r.URL.Query().Get("until"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			until = parsed
		}
	}
	return since, until
}

func requireRoleInContext(r *http.Request, minimum carbon.MemberRole) error {
	role, _ := r.Context().Value(ctxRoleKey).(string)
	member := carbon.Member{Role: carbon.MemberRole(role)}
	return access.RequireRole(member, minimum)
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeAPIError(w http.ResponseWriter, err error) {
	writeError(w, apierr.StatusFor(err), err)
}
