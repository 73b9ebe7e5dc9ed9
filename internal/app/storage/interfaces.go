// Package storage defines the persistence interfaces consumed by the
// application's services. Concrete implementations are Memory in memory.go
// of this package (tests, local dev) and ./postgres (production).
package storage

import (
	"context"
	"time"

	"github.com/carbonledger/platform/internal/app/domain/carbon"
)

// UserStore persists platform accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u carbon.User) (carbon.User, error)
	GetUser(ctx context.Context, id string) (carbon.User, error)
	GetUserByEmail(ctx context.Context, email string) (carbon.User, error)
}

// CompanyStore persists companies and their memberships.
type CompanyStore interface {
	CreateCompany(ctx context.Context, c carbon.Company) (carbon.Company, error)
	GetCompany(ctx context.Context, id string) (carbon.Company, error)
	ListCompaniesByIndustry(ctx context.Context, industry carbon.IndustryType) ([]carbon.Company, error)
	ListCompaniesForUser(ctx context.Context, userID string) ([]carbon.Company, error)

	AddMember(ctx context.Context, m carbon.Member) error
	RemoveMember(ctx context.Context, companyID, userID string) error
	GetMember(ctx context.Context, companyID, userID string) (carbon.Member, error)
	ListMembers(ctx context.Context, companyID string) ([]carbon.Member, error)

	GetFinancials(ctx context.Context, companyID string) (carbon.CompanyFinancials, error)
	UpsertFinancials(ctx context.Context, f carbon.CompanyFinancials) error

	CreateTarget(ctx context.Context, t carbon.SustainabilityTarget) (carbon.SustainabilityTarget, error)
	ListTargets(ctx context.Context, companyID string) ([]carbon.SustainabilityTarget, error)
}

// FacilityStore persists facilities.
type FacilityStore interface {
	CreateFacility(ctx context.Context, f carbon.Facility) (carbon.Facility, error)
	GetFacility(ctx context.Context, id string) (carbon.Facility, error)
	ListFacilities(ctx context.Context, companyID string) ([]carbon.Facility, error)
	ListFacilitiesByCityAndIndustry(ctx context.Context, city string, industry carbon.IndustryType) ([]carbon.Facility, error)
}

// ActivityStore persists activity data rows.
type ActivityStore interface {
	CreateActivity(ctx context.Context, a carbon.ActivityData) (carbon.ActivityData, error)
	UpdateActivity(ctx context.Context, a carbon.ActivityData) (carbon.ActivityData, error)
	GetActivity(ctx context.Context, id string) (carbon.ActivityData, error)
	ListActivitiesByFacility(ctx context.Context, facilityID string, kind carbon.ActivityType, since, until time.Time) ([]carbon.ActivityData, error)
	ListActivitiesForCompany(ctx context.Context, companyID string, since, until time.Time) ([]carbon.ActivityData, error)
}

// TemplateStore persists industry onboarding templates.
type TemplateStore interface {
	GetTemplate(ctx context.Context, industry carbon.IndustryType) (carbon.IndustryTemplate, error)
	ListTemplates(ctx context.Context) ([]carbon.IndustryTemplate, error)
}

// ParameterStore persists tunable suggestion/ROI constants.
type ParameterStore interface {
	GetParameter(ctx context.Context, key string) (carbon.SuggestionParameter, error)
	ListParameters(ctx context.Context) ([]carbon.SuggestionParameter, error)
}

// InvoiceStore persists uploaded utility bills and their OCR results.
type InvoiceStore interface {
	CreateInvoice(ctx context.Context, inv carbon.Invoice) (carbon.Invoice, error)
	UpdateInvoice(ctx context.Context, inv carbon.Invoice) (carbon.Invoice, error)
	GetInvoice(ctx context.Context, id string) (carbon.Invoice, error)
	ListInvoicesByFacility(ctx context.Context, facilityID string) ([]carbon.Invoice, error)
	ListInvoicesByStatus(ctx context.Context, status carbon.InvoiceStatus, limit int) ([]carbon.Invoice, error)
}

// ReportStore persists asynchronous report jobs.
type ReportStore interface {
	CreateReport(ctx context.Context, r carbon.Report) (carbon.Report, error)
	UpdateReport(ctx context.Context, r carbon.Report) (carbon.Report, error)
	GetReport(ctx context.Context, id string) (carbon.Report, error)
	ListReportsByCompany(ctx context.Context, companyID string) ([]carbon.Report, error)
	ListExpiredReports(ctx context.Context, asOf time.Time) ([]carbon.Report, error)
	DeleteReport(ctx context.Context, id string) error
}

// SupplierStore persists the supplier network: suppliers, invitations and
// product footprints.
type SupplierStore interface {
	CreateSupplier(ctx context.Context, s carbon.Supplier) (carbon.Supplier, error)
	GetSupplier(ctx context.Context, id string) (carbon.Supplier, error)
	ListSuppliersForCompany(ctx context.Context, companyID string) ([]carbon.Supplier, error)

	CreateInvitation(ctx context.Context, inv carbon.SupplierInvitation) (carbon.SupplierInvitation, error)
	UpdateInvitation(ctx context.Context, inv carbon.SupplierInvitation) (carbon.SupplierInvitation, error)
	GetInvitationByToken(ctx context.Context, token string) (carbon.SupplierInvitation, error)
	ListPendingInvitations(ctx context.Context, asOf time.Time) ([]carbon.SupplierInvitation, error)

	CreateProductFootprint(ctx context.Context, p carbon.ProductFootprint) (carbon.ProductFootprint, error)
	UpdateProductFootprint(ctx context.Context, p carbon.ProductFootprint) (carbon.ProductFootprint, error)
	ListProductFootprints(ctx context.Context, supplierID string) ([]carbon.ProductFootprint, error)
	ListProductFootprintsByCategory(ctx context.Context, category string, minVerification carbon.VerificationLevel) ([]carbon.ProductFootprint, error)

	CreateScope3Emission(ctx context.Context, e carbon.Scope3Emission) (carbon.Scope3Emission, error)
	ListScope3EmissionsForFacility(ctx context.Context, facilityID string) ([]carbon.Scope3Emission, error)
}

// NotificationStore persists in-app notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n carbon.Notification) (carbon.Notification, error)
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]carbon.Notification, error)
	MarkRead(ctx context.Context, id string) error
}

// BadgeStore persists the gamification leaderboard.
type BadgeStore interface {
	ListBadges(ctx context.Context) ([]carbon.Badge, error)
	AwardBadge(ctx context.Context, ub carbon.UserBadge) error
	ListEarnedBadges(ctx context.Context, companyID string) ([]carbon.UserBadge, error)
	UpsertLeaderboardEntry(ctx context.Context, e carbon.LeaderboardEntry) error
	ListLeaderboard(ctx context.Context, industry carbon.IndustryType, limit int) ([]carbon.LeaderboardEntry, error)
}

// EventLogStore persists the outbox/idempotency ledger backing the event bus.
type EventLogStore interface {
	RecordEvent(ctx context.Context, e carbon.EventLog) (carbon.EventLog, error)
	SeenIdempotencyKey(ctx context.Context, key string) (bool, error)
	MarkProcessed(ctx context.Context, id string, failErr string) error
	ListUnprocessed(ctx context.Context, queue string, limit int) ([]carbon.EventLog, error)

	RecordDataQualityIssue(ctx context.Context, issue carbon.DataQualityIssue) (carbon.DataQualityIssue, error)
	ListDataQualityIssues(ctx context.Context, facilityID string, unresolvedOnly bool) ([]carbon.DataQualityIssue, error)
}
