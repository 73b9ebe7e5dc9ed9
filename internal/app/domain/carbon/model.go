// Package carbon holds the persistence-agnostic domain types shared across
// storage, services and the HTTP API.
package carbon

import "time"

// ActivityType is the kind of consumption an ActivityData row records.
type ActivityType string

const (
	ActivityElectricity ActivityType = "electricity"
	ActivityNaturalGas  ActivityType = "natural_gas"
	ActivityDieselFuel  ActivityType = "diesel_fuel"
)

// Scope is the GHG Protocol scope an activity's emissions are tagged with.
type Scope string

const (
	Scope1 Scope = "scope_1"
	Scope2 Scope = "scope_2"
	Scope3 Scope = "scope_3"
)

// ScopeForActivity derives the GHG Protocol scope from the activity kind:
// electricity is always indirect (Scope 2); combustion on-site is direct
// (Scope 1).
func ScopeForActivity(kind ActivityType) Scope {
	if kind == ActivityElectricity {
		return Scope2
	}
	return Scope1
}

// MemberRole is a company membership role.
type MemberRole string

const (
	RoleOwner     MemberRole = "owner"
	RoleAdmin     MemberRole = "admin"
	RoleDataEntry MemberRole = "data_entry"
	RoleViewer    MemberRole = "viewer"
)

// InvoiceStatus tracks a bill upload through the OCR pipeline.
type InvoiceStatus string

const (
	InvoicePending    InvoiceStatus = "pending"
	InvoiceProcessing InvoiceStatus = "processing"
	InvoiceCompleted  InvoiceStatus = "completed"
	InvoiceFailed     InvoiceStatus = "failed"
	InvoiceVerified   InvoiceStatus = "verified"
)

// FacilityType classifies the kind of site a Facility represents.
type FacilityType string

const (
	FacilityProduction  FacilityType = "production"
	FacilityOffice      FacilityType = "office"
	FacilityWarehouse   FacilityType = "warehouse"
	FacilityColdStorage FacilityType = "cold_storage"
)

// IndustryType classifies a company (or supplier) by broad sector, used for
// peer benchmarking and onboarding simulation data.
type IndustryType string

const (
	IndustryManufacturing IndustryType = "manufacturing"
	IndustryServices      IndustryType = "services"
	IndustryRetail        IndustryType = "retail"
	IndustryOther         IndustryType = "other"
)

// TargetMetric is the metric a SustainabilityTarget is measured against.
type TargetMetric string

const (
	TargetCO2eReductionPercentage TargetMetric = "co2e_reduction_percentage"
	TargetEnergyReductionKWh      TargetMetric = "energy_reduction_kwh"
)

// ReportType is the kind of artifact a Report job produces.
type ReportType string

const (
	ReportCBAMXML     ReportType = "cbam_xml"
	ReportROIAnalysis ReportType = "roi_analysis"
	ReportCombined    ReportType = "combined"
)

// ReportStatus tracks an asynchronous report job.
type ReportStatus string

const (
	ReportStatusPending    ReportStatus = "pending"
	ReportStatusProcessing ReportStatus = "processing"
	ReportStatusCompleted  ReportStatus = "completed"
	ReportStatusFailed     ReportStatus = "failed"
	ReportStatusExpired    ReportStatus = "expired"
)

// SupplierInvitationStatus tracks a pending supplier-network invite.
type SupplierInvitationStatus string

const (
	InvitationPending  SupplierInvitationStatus = "pending"
	InvitationAccepted SupplierInvitationStatus = "accepted"
	InvitationRejected SupplierInvitationStatus = "rejected"
	InvitationExpired  SupplierInvitationStatus = "expired"
)

// VerificationLevel is the confidence tier attached to a supplier-reported
// product footprint.
type VerificationLevel string

const (
	VerificationSelfDeclared  VerificationLevel = "self_declared"
	VerificationDocumentBacked VerificationLevel = "document_backed"
	VerificationAudited       VerificationLevel = "audited"
)

// User is a platform account. Credential hashing is an external collaborator;
// this type only carries the hash produced by it.
type User struct {
	ID             string
	Email          string
	HashedPassword string
	IsActive       bool
	IsSuperuser    bool
	CreatedAt      time.Time
}

// Company is the top-level tenant boundary. Every Facility, Member and piece
// of ActivityData is scoped to exactly one Company.
type Company struct {
	ID           string
	Name         string
	TaxNumber    string
	Country      string
	IndustryType IndustryType
	OwnerUserID  string
	CreatedAt    time.Time
}

// Facility is a physical site belonging to a Company.
type Facility struct {
	ID            string
	CompanyID     string
	Name          string
	City          string
	Address       string
	FacilityType  FacilityType
	SurfaceAreaM2 *float64
	CreatedAt     time.Time
}

// Member links a User to a Company with a role and an optional single-facility
// restriction. If FacilityID is empty the member may access every facility in
// the company.
type Member struct {
	UserID     string
	CompanyID  string
	Role       MemberRole
	FacilityID string
	JoinedAt   time.Time
}

// ActivityData is one reported (or simulated) consumption record.
type ActivityData struct {
	ID                    string
	FacilityID            string
	ActivityType          ActivityType
	Quantity              float64
	Unit                  string
	StartDate             time.Time
	EndDate               time.Time
	Scope                 Scope
	CalculatedCO2eKg      *float64
	IsFallbackCalculation bool
	IsSimulation          bool
	EmissionFactorSource  string
	FactorProvenance      string
	CreatedAt             time.Time
}

// CompanyFinancials is a per-company singleton carrying average unit costs,
// used by the ROI and suggestion engines.
type CompanyFinancials struct {
	CompanyID             string
	AvgElectricityCostKWh *float64
	AvgGasCostM3          *float64
}

// IndustryTemplate seeds onboarding simulation data and benchmark baselines.
type IndustryTemplate struct {
	ID                            string
	IndustryName                  string
	IndustryType                  IndustryType
	TypicalElectricityKWhPerEmp   float64
	TypicalGasM3PerEmp            float64
	TypicalFuelLitersPerVehicle   float64
	TypicalElectricityCostRatio   float64
	TypicalGasCostRatio           float64
	BestInClassElectricityKWh     *float64
	AverageElectricityKWh         *float64
	Description                   string
}

// SuggestionParameter is a named, tunable constant consumed by the
// suggestion and ROI engines (e.g. "ges_estimated_cost_per_kwp").
type SuggestionParameter struct {
	Key         string
	Value       float64
	Description string
}

// SustainabilityTarget is a company-declared emissions or energy goal.
type SustainabilityTarget struct {
	ID            string
	CompanyID     string
	TargetMetric  TargetMetric
	TargetValue   float64
	TargetYear    int
	BaselineYear  int
	BaselineValue *float64
	IsActive      bool
	Description   string
}

// Invoice tracks an uploaded utility bill through OCR extraction and user
// verification.
type Invoice struct {
	ID                   string
	FacilityID           string
	UserID               string
	Filename             string
	FilePath             string
	FileType             string
	Status               InvoiceStatus
	ExtractedActivity    ActivityType
	ExtractedQuantity    *float64
	ExtractedCostTL      *float64
	ExtractedStartDate   *time.Time
	ExtractedEndDate     *time.Time
	ExtractedText        string
	Confidence           float64
	IsVerified           bool
	VerificationNotes    string
	ActivityDataID       string
	CreatedAt            time.Time
	ProcessedAt          *time.Time
}

// Report tracks an asynchronous report-generation job.
type Report struct {
	ID                  string
	CompanyID           string
	UserID              string
	ReportType          ReportType
	StartDate           time.Time
	EndDate             time.Time
	JobID               string
	Status              ReportStatus
	FilePath            string
	FileSizeBytes       int64
	DownloadCount        int
	PeriodName          string
	TotalEmissionsTCO2e *float64
	TotalSavingsTL      *float64
	ErrorMessage        string
	NotifyUserWhenReady bool
	CreatedAt           time.Time
	RequestedAt         time.Time
	CompletedAt         *time.Time
	ExpiresAt           *time.Time
}

// Supplier is an external organisation invited onto a Company's Scope 3
// supplier network.
type Supplier struct {
	ID              string
	CompanyName     string
	Email           string
	ContactPerson   string
	Phone           string
	IndustryType    IndustryType
	ProductCategory string
	IsActive        bool
	Verified        bool
	CreatedAt       time.Time
}

// SupplierInvitation is a pending invite from a Company to a Supplier.
type SupplierInvitation struct {
	ID               string
	SupplierID       string
	CompanyID        string
	InvitedByUserID  string
	InviteToken      string
	Status           SupplierInvitationStatus
	RelationshipType string
	InvitedAt        time.Time
	AcceptedAt       *time.Time
	ExpiresAt        time.Time
}

// ProductFootprint is a per-unit emissions factor a Supplier declares for one
// of its products.
type ProductFootprint struct {
	ID                    string
	SupplierID            string
	ProductCode           string
	ProductName           string
	ProductCategory       string
	Unit                  string
	CO2ePerUnitKg         float64
	VerificationLevel     VerificationLevel
	VerificationNotes     string
	VerificationDocURL    string
	VerifiedAt            *time.Time
	VerifiedByUserID      string
	DataSource            string
	ExternalID            string
	CreatedAt             time.Time
}

// Scope3Emission is a customer-side record of a purchase from a supplier's
// ProductFootprint, producing a Scope 3 emissions figure.
type Scope3Emission struct {
	ID                 string
	FacilityID         string
	ProductFootprintID string
	QuantityPurchased  float64
	PurchaseDate       time.Time
	CalculatedCO2eKg   float64
	CreatedAt          time.Time
}

// Notification is an in-app message, optionally also delivered by email.
type Notification struct {
	ID               string
	UserID           string
	NotificationType string
	Title            string
	Message          string
	CompanyID        string
	FacilityID       string
	IsRead           bool
	ActionURL        string
	CreatedAt        time.Time
}

// Badge is an earnable recognition shown on the leaderboard.
type Badge struct {
	ID          string
	Code        string
	Name        string
	Description string
}

// UserBadge records a badge a company has earned.
type UserBadge struct {
	CompanyID string
	BadgeID   string
	EarnedAt  time.Time
}

// LeaderboardEntry is one row of the opt-in anonymised leaderboard.
type LeaderboardEntry struct {
	CompanyID       string
	DisplayName     string
	IndustryType    IndustryType
	CO2ePerM2Annual float64
	Rank            int
}

// EventLog persists every published domain event for replay/audit, keyed by
// idempotency key for at-least-once delivery dedup.
type EventLog struct {
	ID             string
	IdempotencyKey string
	Queue          string
	EventType      string
	Payload        []byte
	PublishedAt    time.Time
	ProcessedAt    *time.Time
	Attempts       int
	LastError      string
}

// DataQualityIssue records a validation or plausibility failure surfaced by
// the ingestion pipeline for operator/user follow-up.
type DataQualityIssue struct {
	ID         string
	FacilityID string
	Reason     string
	RawPayload []byte
	DetectedAt time.Time
	Resolved   bool
}
