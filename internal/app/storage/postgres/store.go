// Package postgres implements the storage interfaces against a PostgreSQL
// database, queried through sqlx for struct scanning.
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/carbonledger/platform/internal/app/domain/carbon"
	"github.com/carbonledger/platform/internal/app/storage"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Store implements every storage interface backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var (
	_ storage.UserStore         = (*Store)(nil)
	_ storage.CompanyStore      = (*Store)(nil)
	_ storage.FacilityStore     = (*Store)(nil)
	_ storage.ActivityStore     = (*Store)(nil)
	_ storage.TemplateStore     = (*Store)(nil)
	_ storage.ParameterStore    = (*Store)(nil)
	_ storage.InvoiceStore      = (*Store)(nil)
	_ storage.ReportStore       = (*Store)(nil)
	_ storage.SupplierStore     = (*Store)(nil)
	_ storage.NotificationStore = (*Store)(nil)
	_ storage.BadgeStore        = (*Store)(nil)
	_ storage.EventLogStore     = (*Store)(nil)
)

// New wraps an already-open *sql.DB as a Store.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

// --- UserStore ---------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u carbon.User) (carbon.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, hashed_password, is_active, is_superuser, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Email, u.HashedPassword, u.IsActive, u.IsSuperuser, u.CreatedAt)
	if err != nil {
		return carbon.User{}, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (carbon.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, email, hashed_password, is_active, is_superuser, created_at
		FROM users WHERE id = $1
	`, id)
	if err != nil {
		return carbon.User{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (carbon.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, email, hashed_password, is_active, is_superuser, created_at
		FROM users WHERE lower(email) = lower($1)
	`, email)
	if err != nil {
		return carbon.User{}, err
	}
	return row.toDomain(), nil
}

type userRow struct {
	ID             string    `db:"id"`
	Email          string    `db:"email"`
	HashedPassword string    `db:"hashed_password"`
	IsActive       bool      `db:"is_active"`
	IsSuperuser    bool      `db:"is_superuser"`
	CreatedAt      time.Time `db:"created_at"`
}

func (r userRow) toDomain() carbon.User {
	return carbon.User{
		ID:             r.ID,
		Email:          r.Email,
		HashedPassword: r.HashedPassword,
		IsActive:       r.IsActive,
		IsSuperuser:    r.IsSuperuser,
		CreatedAt:      r.CreatedAt,
	}
}

// --- CompanyStore --------------------------------------------------------

func (s *Store) CreateCompany(ctx context.Context, c carbon.Company) (carbon.Company, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return carbon.Company{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO companies (id, name, tax_number, country, industry_type, owner_user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.Name, c.TaxNumber, c.Country, c.IndustryType, c.OwnerUserID, c.CreatedAt)
	if err != nil {
		return carbon.Company{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO company_members (company_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
	`, c.ID, c.OwnerUserID, carbon.RoleOwner, c.CreatedAt)
	if err != nil {
		return carbon.Company{}, err
	}

	if err := tx.Commit(); err != nil {
		return carbon.Company{}, err
	}
	return c, nil
}

func (s *Store) GetCompany(ctx context.Context, id string) (carbon.Company, error) {
	var row companyRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name, tax_number, country, industry_type, owner_user_id, created_at
		FROM companies WHERE id = $1
	`, id)
	if err != nil {
		return carbon.Company{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListCompaniesByIndustry(ctx context.Context, industry carbon.IndustryType) ([]carbon.Company, error) {
	var rows []companyRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, tax_number, country, industry_type, owner_user_id, created_at
		FROM companies WHERE industry_type = $1 ORDER BY id
	`, industry)
	if err != nil {
		return nil, err
	}
	return companyRows(rows).toDomain(), nil
}

func (s *Store) ListCompaniesForUser(ctx context.Context, userID string) ([]carbon.Company, error) {
	var rows []companyRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT c.id, c.name, c.tax_number, c.country, c.industry_type, c.owner_user_id, c.created_at
		FROM companies c
		JOIN company_members m ON m.company_id = c.id
		WHERE m.user_id = $1
		ORDER BY c.id
	`, userID)
	if err != nil {
		return nil, err
	}
	return companyRows(rows).toDomain(), nil
}

func (s *Store) AddMember(ctx context.Context, m carbon.Member) error {
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO company_members (company_id, user_id, role, facility_id, joined_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (company_id, user_id) DO UPDATE SET role = $3, facility_id = $4
	`, m.CompanyID, m.UserID, m.Role, m.FacilityID, m.JoinedAt)
	return err
}

func (s *Store) RemoveMember(ctx context.Context, companyID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM company_members WHERE company_id = $1 AND user_id = $2
	`, companyID, userID)
	return err
}

func (s *Store) GetMember(ctx context.Context, companyID, userID string) (carbon.Member, error) {
	var row memberRow
	err := s.db.GetContext(ctx, &row, `
		SELECT company_id, user_id, role, facility_id, joined_at
		FROM company_members WHERE company_id = $1 AND user_id = $2
	`, companyID, userID)
	if err != nil {
		return carbon.Member{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListMembers(ctx context.Context, companyID string) ([]carbon.Member, error) {
	var rows []memberRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT company_id, user_id, role, facility_id, joined_at
		FROM company_members WHERE company_id = $1 ORDER BY user_id
	`, companyID)
	if err != nil {
		return nil, err
	}
	out := make([]carbon.Member, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) GetFinancials(ctx context.Context, companyID string) (carbon.CompanyFinancials, error) {
	var row struct {
		CompanyID     string   `db:"company_id"`
		AvgElecCost   *float64 `db:"avg_electricity_cost_kwh"`
		AvgGasCost    *float64 `db:"avg_gas_cost_m3"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT company_id, avg_electricity_cost_kwh, avg_gas_cost_m3
		FROM company_financials WHERE company_id = $1
	`, companyID)
	if err == sql.ErrNoRows {
		return carbon.CompanyFinancials{CompanyID: companyID}, nil
	}
	if err != nil {
		return carbon.CompanyFinancials{}, err
	}
	return carbon.CompanyFinancials{
		CompanyID:             row.CompanyID,
		AvgElectricityCostKWh: row.AvgElecCost,
		AvgGasCostM3:          row.AvgGasCost,
	}, nil
}

func (s *Store) UpsertFinancials(ctx context.Context, f carbon.CompanyFinancials) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO company_financials (company_id, avg_electricity_cost_kwh, avg_gas_cost_m3)
		VALUES ($1, $2, $3)
		ON CONFLICT (company_id) DO UPDATE SET avg_electricity_cost_kwh = $2, avg_gas_cost_m3 = $3
	`, f.CompanyID, f.AvgElectricityCostKWh, f.AvgGasCostM3)
	return err
}

func (s *Store) CreateTarget(ctx context.Context, t carbon.SustainabilityTarget) (carbon.SustainabilityTarget, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sustainability_targets
			(id, company_id, target_metric, target_value, target_year, baseline_year, baseline_value, is_active, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.CompanyID, t.TargetMetric, t.TargetValue, t.TargetYear, t.BaselineYear, t.BaselineValue, t.IsActive, t.Description)
	if err != nil {
		return carbon.SustainabilityTarget{}, err
	}
	return t, nil
}

func (s *Store) ListTargets(ctx context.Context, companyID string) ([]carbon.SustainabilityTarget, error) {
	var rows []targetRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, company_id, target_metric, target_value, target_year, baseline_year, baseline_value, is_active, description
		FROM sustainability_targets WHERE company_id = $1 ORDER BY id
	`, companyID)
	if err != nil {
		return nil, err
	}
	out := make([]carbon.SustainabilityTarget, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

type companyRow struct {
	ID           string    `db:"id"`
	Name         string    `db:"name"`
	TaxNumber    string    `db:"tax_number"`
	Country      string    `db:"country"`
	IndustryType string    `db:"industry_type"`
	OwnerUserID  string    `db:"owner_user_id"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r companyRow) toDomain() carbon.Company {
	return carbon.Company{
		ID:           r.ID,
		Name:         r.Name,
		TaxNumber:    r.TaxNumber,
		Country:      r.Country,
		IndustryType: carbon.IndustryType(r.IndustryType),
		OwnerUserID:  r.OwnerUserID,
		CreatedAt:    r.CreatedAt,
	}
}

type companyRows []companyRow

func (rows companyRows) toDomain() []carbon.Company {
	out := make([]carbon.Company, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out
}

type memberRow struct {
	CompanyID  string    `db:"company_id"`
	UserID     string    `db:"user_id"`
	Role       string    `db:"role"`
	FacilityID string    `db:"facility_id"`
	JoinedAt   time.Time `db:"joined_at"`
}

func (r memberRow) toDomain() carbon.Member {
	return carbon.Member{
		UserID:     r.UserID,
		CompanyID:  r.CompanyID,
		Role:       carbon.MemberRole(r.Role),
		FacilityID: r.FacilityID,
		JoinedAt:   r.JoinedAt,
	}
}

type targetRow struct {
	ID            string   `db:"id"`
	CompanyID     string   `db:"company_id"`
	TargetMetric  string   `db:"target_metric"`
	TargetValue   float64  `db:"target_value"`
	TargetYear    int      `db:"target_year"`
	BaselineYear  int      `db:"baseline_year"`
	BaselineValue *float64 `db:"baseline_value"`
	IsActive      bool     `db:"is_active"`
	Description   string   `db:"description"`
}

func (r targetRow) toDomain() carbon.SustainabilityTarget {
	return carbon.SustainabilityTarget{
		ID:            r.ID,
		CompanyID:     r.CompanyID,
		TargetMetric:  carbon.TargetMetric(r.TargetMetric),
		TargetValue:   r.TargetValue,
		TargetYear:    r.TargetYear,
		BaselineYear:  r.BaselineYear,
		BaselineValue: r.BaselineValue,
		IsActive:      r.IsActive,
		Description:   r.Description,
	}
}

// --- FacilityStore -------------------------------------------------------

func (s *Store) CreateFacility(ctx context.Context, f carbon.Facility) (carbon.Facility, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO facilities (id, company_id, name, city, address, facility_type, surface_area_m2, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, f.ID, f.CompanyID, f.Name, f.City, f.Address, f.FacilityType, f.SurfaceAreaM2, f.CreatedAt)
	if err != nil {
		return carbon.Facility{}, err
	}
	return f, nil
}

func (s *Store) GetFacility(ctx context.Context, id string) (carbon.Facility, error) {
	var row facilityRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, company_id, name, city, address, facility_type, surface_area_m2, created_at
		FROM facilities WHERE id = $1
	`, id)
	if err != nil {
		return carbon.Facility{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListFacilities(ctx context.Context, companyID string) ([]carbon.Facility, error) {
	var rows []facilityRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, company_id, name, city, address, facility_type, surface_area_m2, created_at
		FROM facilities WHERE company_id = $1 ORDER BY id
	`, companyID)
	if err != nil {
		return nil, err
	}
	return facilityRows(rows).toDomain(), nil
}

func (s *Store) ListFacilitiesByCityAndIndustry(ctx context.Context, city string, industry carbon.IndustryType) ([]carbon.Facility, error) {
	var rows []facilityRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT f.id, f.company_id, f.name, f.city, f.address, f.facility_type, f.surface_area_m2, f.created_at
		FROM facilities f
		JOIN companies c ON c.id = f.company_id
		WHERE lower(f.city) = lower($1) AND c.industry_type = $2
		ORDER BY f.id
	`, city, industry)
	if err != nil {
		return nil, err
	}
	return facilityRows(rows).toDomain(), nil
}

type facilityRow struct {
	ID            string    `db:"id"`
	CompanyID     string    `db:"company_id"`
	Name          string    `db:"name"`
	City          string    `db:"city"`
	Address       string    `db:"address"`
	FacilityType  string    `db:"facility_type"`
	SurfaceAreaM2 *float64  `db:"surface_area_m2"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r facilityRow) toDomain() carbon.Facility {
	return carbon.Facility{
		ID:            r.ID,
		CompanyID:     r.CompanyID,
		Name:          r.Name,
		City:          r.City,
		Address:       r.Address,
		FacilityType:  carbon.FacilityType(r.FacilityType),
		SurfaceAreaM2: r.SurfaceAreaM2,
		CreatedAt:     r.CreatedAt,
	}
}

type facilityRows []facilityRow

func (rows facilityRows) toDomain() []carbon.Facility {
	out := make([]carbon.Facility, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out
}

// --- ActivityStore ---------------------------------------------------------

func (s *Store) CreateActivity(ctx context.Context, a carbon.ActivityData) (carbon.ActivityData, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_data
			(id, facility_id, activity_type, quantity, unit, start_date, end_date, scope,
			 calculated_co2e_kg, is_fallback_calculation, is_simulation, emission_factor_source,
			 factor_provenance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, a.ID, a.FacilityID, a.ActivityType, a.Quantity, a.Unit, a.StartDate, a.EndDate, a.Scope,
		a.CalculatedCO2eKg, a.IsFallbackCalculation, a.IsSimulation, a.EmissionFactorSource,
		a.FactorProvenance, a.CreatedAt)
	if err != nil {
		return carbon.ActivityData{}, err
	}
	return a, nil
}

func (s *Store) UpdateActivity(ctx context.Context, a carbon.ActivityData) (carbon.ActivityData, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE activity_data
		SET facility_id = $2, activity_type = $3, quantity = $4, unit = $5, start_date = $6, end_date = $7,
			scope = $8, calculated_co2e_kg = $9, is_fallback_calculation = $10, is_simulation = $11,
			emission_factor_source = $12, factor_provenance = $13
		WHERE id = $1
	`, a.ID, a.FacilityID, a.ActivityType, a.Quantity, a.Unit, a.StartDate, a.EndDate,
		a.Scope, a.CalculatedCO2eKg, a.IsFallbackCalculation, a.IsSimulation, a.EmissionFactorSource,
		a.FactorProvenance)
	if err != nil {
		return carbon.ActivityData{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return carbon.ActivityData{}, sql.ErrNoRows
	}
	return s.GetActivity(ctx, a.ID)
}

func (s *Store) GetActivity(ctx context.Context, id string) (carbon.ActivityData, error) {
	var row activityRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, facility_id, activity_type, quantity, unit, start_date, end_date, scope,
			   calculated_co2e_kg, is_fallback_calculation, is_simulation, emission_factor_source,
			   factor_provenance, created_at
		FROM activity_data WHERE id = $1
	`, id)
	if err != nil {
		return carbon.ActivityData{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListActivitiesByFacility(ctx context.Context, facilityID string, kind carbon.ActivityType, since, until time.Time) ([]carbon.ActivityData, error) {
	var rows []activityRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, facility_id, activity_type, quantity, unit, start_date, end_date, scope,
			   calculated_co2e_kg, is_fallback_calculation, is_simulation, emission_factor_source,
			   factor_provenance, created_at
		FROM activity_data
		WHERE facility_id = $1
			AND ($2 = '' OR activity_type = $2)
			AND ($3::timestamptz IS NULL OR end_date >= $3)
			AND ($4::timestamptz IS NULL OR start_date <= $4)
		ORDER BY start_date
	`, facilityID, string(kind), zeroToNil(since), zeroToNil(until))
	if err != nil {
		return nil, err
	}
	return activityRows(rows).toDomain(), nil
}

func (s *Store) ListActivitiesForCompany(ctx context.Context, companyID string, since, until time.Time) ([]carbon.ActivityData, error) {
	var rows []activityRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT a.id, a.facility_id, a.activity_type, a.quantity, a.unit, a.start_date, a.end_date, a.scope,
			   a.calculated_co2e_kg, a.is_fallback_calculation, a.is_simulation, a.emission_factor_source,
			   a.factor_provenance, a.created_at
		FROM activity_data a
		JOIN facilities f ON f.id = a.facility_id
		WHERE f.company_id = $1
			AND ($2::timestamptz IS NULL OR a.end_date >= $2)
			AND ($3::timestamptz IS NULL OR a.start_date <= $3)
		ORDER BY a.start_date
	`, companyID, zeroToNil(since), zeroToNil(until))
	if err != nil {
		return nil, err
	}
	return activityRows(rows).toDomain(), nil
}

func zeroToNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

type activityRow struct {
	ID                    string    `db:"id"`
	FacilityID            string    `db:"facility_id"`
	ActivityType          string    `db:"activity_type"`
	Quantity              float64   `db:"quantity"`
	Unit                  string    `db:"unit"`
	StartDate             time.Time `db:"start_date"`
	EndDate               time.Time `db:"end_date"`
	Scope                 string    `db:"scope"`
	CalculatedCO2eKg      *float64  `db:"calculated_co2e_kg"`
	IsFallbackCalculation bool      `db:"is_fallback_calculation"`
	IsSimulation          bool      `db:"is_simulation"`
	EmissionFactorSource  string    `db:"emission_factor_source"`
	FactorProvenance      string    `db:"factor_provenance"`
	CreatedAt             time.Time `db:"created_at"`
}

func (r activityRow) toDomain() carbon.ActivityData {
	return carbon.ActivityData{
		ID:                    r.ID,
		FacilityID:            r.FacilityID,
		ActivityType:          carbon.ActivityType(r.ActivityType),
		Quantity:              r.Quantity,
		Unit:                  r.Unit,
		StartDate:             r.StartDate,
		EndDate:               r.EndDate,
		Scope:                 carbon.Scope(r.Scope),
		CalculatedCO2eKg:      r.CalculatedCO2eKg,
		IsFallbackCalculation: r.IsFallbackCalculation,
		IsSimulation:          r.IsSimulation,
		EmissionFactorSource:  r.EmissionFactorSource,
		FactorProvenance:      r.FactorProvenance,
		CreatedAt:             r.CreatedAt,
	}
}

type activityRows []activityRow

func (rows activityRows) toDomain() []carbon.ActivityData {
	out := make([]carbon.ActivityData, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out
}

// --- TemplateStore / ParameterStore ----------------------------------------

func (s *Store) GetTemplate(ctx context.Context, industry carbon.IndustryType) (carbon.IndustryTemplate, error) {
	var row templateRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, industry_name, industry_type, typical_electricity_kwh_per_emp, typical_gas_m3_per_emp,
			   typical_fuel_liters_per_vehicle, typical_electricity_cost_ratio, typical_gas_cost_ratio,
			   best_in_class_electricity_kwh, average_electricity_kwh, description
		FROM industry_templates WHERE industry_type = $1
	`, industry)
	if err != nil {
		return carbon.IndustryTemplate{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListTemplates(ctx context.Context) ([]carbon.IndustryTemplate, error) {
	var rows []templateRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, industry_name, industry_type, typical_electricity_kwh_per_emp, typical_gas_m3_per_emp,
			   typical_fuel_liters_per_vehicle, typical_electricity_cost_ratio, typical_gas_cost_ratio,
			   best_in_class_electricity_kwh, average_electricity_kwh, description
		FROM industry_templates ORDER BY industry_name
	`)
	if err != nil {
		return nil, err
	}
	out := make([]carbon.IndustryTemplate, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

type templateRow struct {
	ID                          string   `db:"id"`
	IndustryName                string   `db:"industry_name"`
	IndustryType                string   `db:"industry_type"`
	TypicalElectricityKWhPerEmp float64  `db:"typical_electricity_kwh_per_emp"`
	TypicalGasM3PerEmp          float64  `db:"typical_gas_m3_per_emp"`
	TypicalFuelLitersPerVehicle float64  `db:"typical_fuel_liters_per_vehicle"`
	TypicalElectricityCostRatio float64  `db:"typical_electricity_cost_ratio"`
	TypicalGasCostRatio         float64  `db:"typical_gas_cost_ratio"`
	BestInClassElectricityKWh   *float64 `db:"best_in_class_electricity_kwh"`
	AverageElectricityKWh       *float64 `db:"average_electricity_kwh"`
	Description                 string   `db:"description"`
}

func (r templateRow) toDomain() carbon.IndustryTemplate {
	return carbon.IndustryTemplate{
		ID:                          r.ID,
		IndustryName:                r.IndustryName,
		IndustryType:                carbon.IndustryType(r.IndustryType),
		TypicalElectricityKWhPerEmp: r.TypicalElectricityKWhPerEmp,
		TypicalGasM3PerEmp:          r.TypicalGasM3PerEmp,
		TypicalFuelLitersPerVehicle: r.TypicalFuelLitersPerVehicle,
		TypicalElectricityCostRatio: r.TypicalElectricityCostRatio,
		TypicalGasCostRatio:         r.TypicalGasCostRatio,
		BestInClassElectricityKWh:   r.BestInClassElectricityKWh,
		AverageElectricityKWh:       r.AverageElectricityKWh,
		Description:                 r.Description,
	}
}

func (s *Store) GetParameter(ctx context.Context, key string) (carbon.SuggestionParameter, error) {
	var row carbon.SuggestionParameter
	err := s.db.GetContext(ctx, &row, `
		SELECT key, value, description FROM suggestion_parameters WHERE key = $1
	`, key)
	if err != nil {
		return carbon.SuggestionParameter{}, err
	}
	return row, nil
}

func (s *Store) ListParameters(ctx context.Context) ([]carbon.SuggestionParameter, error) {
	var out []carbon.SuggestionParameter
	err := s.db.SelectContext(ctx, &out, `
		SELECT key, value, description FROM suggestion_parameters ORDER BY key
	`)
	return out, err
}

// --- InvoiceStore ----------------------------------------------------------

func (s *Store) CreateInvoice(ctx context.Context, inv carbon.Invoice) (carbon.Invoice, error) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	inv.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices
			(id, facility_id, user_id, filename, file_path, file_type, status, extracted_activity,
			 extracted_quantity, extracted_cost_tl, extracted_start_date, extracted_end_date, extracted_text,
			 confidence, is_verified, verification_notes, activity_data_id, created_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`, inv.ID, inv.FacilityID, inv.UserID, inv.Filename, inv.FilePath, inv.FileType, inv.Status,
		inv.ExtractedActivity, inv.ExtractedQuantity, inv.ExtractedCostTL, inv.ExtractedStartDate, inv.ExtractedEndDate,
		inv.ExtractedText, inv.Confidence, inv.IsVerified, inv.VerificationNotes, inv.ActivityDataID, inv.CreatedAt, inv.ProcessedAt)
	if err != nil {
		return carbon.Invoice{}, err
	}
	return inv, nil
}

func (s *Store) UpdateInvoice(ctx context.Context, inv carbon.Invoice) (carbon.Invoice, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE invoices
		SET facility_id = $2, user_id = $3, filename = $4, file_path = $5, file_type = $6, status = $7,
			extracted_activity = $8, extracted_quantity = $9, extracted_cost_tl = $10, extracted_start_date = $11,
			extracted_end_date = $12, extracted_text = $13, confidence = $14, is_verified = $15,
			verification_notes = $16, activity_data_id = $17, processed_at = $18
		WHERE id = $1
	`, inv.ID, inv.FacilityID, inv.UserID, inv.Filename, inv.FilePath, inv.FileType, inv.Status,
		inv.ExtractedActivity, inv.ExtractedQuantity, inv.ExtractedCostTL, inv.ExtractedStartDate, inv.ExtractedEndDate,
		inv.ExtractedText, inv.Confidence, inv.IsVerified, inv.VerificationNotes, inv.ActivityDataID, inv.ProcessedAt)
	if err != nil {
		return carbon.Invoice{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return carbon.Invoice{}, sql.ErrNoRows
	}
	return s.GetInvoice(ctx, inv.ID)
}

func (s *Store) GetInvoice(ctx context.Context, id string) (carbon.Invoice, error) {
	var row invoiceRow
	err := s.db.GetContext(ctx, &row, invoiceSelect+` WHERE id = $1`, id)
	if err != nil {
		return carbon.Invoice{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListInvoicesByFacility(ctx context.Context, facilityID string) ([]carbon.Invoice, error) {
	var rows []invoiceRow
	err := s.db.SelectContext(ctx, &rows, invoiceSelect+` WHERE facility_id = $1 ORDER BY id`, facilityID)
	if err != nil {
		return nil, err
	}
	return invoiceRows(rows).toDomain(), nil
}

func (s *Store) ListInvoicesByStatus(ctx context.Context, status carbon.InvoiceStatus, limit int) ([]carbon.Invoice, error) {
	query := invoiceSelect + ` WHERE status = $1 ORDER BY id`
	if limit > 0 {
		query += ` LIMIT $2`
		var rows []invoiceRow
		if err := s.db.SelectContext(ctx, &rows, query, status, limit); err != nil {
			return nil, err
		}
		return invoiceRows(rows).toDomain(), nil
	}
	var rows []invoiceRow
	if err := s.db.SelectContext(ctx, &rows, query, status); err != nil {
		return nil, err
	}
	return invoiceRows(rows).toDomain(), nil
}

const invoiceSelect = `
	SELECT id, facility_id, user_id, filename, file_path, file_type, status, extracted_activity,
		   extracted_quantity, extracted_cost_tl, extracted_start_date, extracted_end_date, extracted_text,
		   confidence, is_verified, verification_notes, activity_data_id, created_at, processed_at
	FROM invoices`

type invoiceRow struct {
	ID                 string     `db:"id"`
	FacilityID         string     `db:"facility_id"`
	UserID             string     `db:"user_id"`
	Filename           string     `db:"filename"`
	FilePath           string     `db:"file_path"`
	FileType           string     `db:"file_type"`
	Status             string     `db:"status"`
	ExtractedActivity  string     `db:"extracted_activity"`
	ExtractedQuantity  *float64   `db:"extracted_quantity"`
	ExtractedCostTL    *float64   `db:"extracted_cost_tl"`
	ExtractedStartDate *time.Time `db:"extracted_start_date"`
	ExtractedEndDate   *time.Time `db:"extracted_end_date"`
	ExtractedText      string     `db:"extracted_text"`
	Confidence         float64    `db:"confidence"`
	IsVerified         bool       `db:"is_verified"`
	VerificationNotes  string     `db:"verification_notes"`
	ActivityDataID     string     `db:"activity_data_id"`
	CreatedAt          time.Time  `db:"created_at"`
	ProcessedAt        *time.Time `db:"processed_at"`
}

func (r invoiceRow) toDomain() carbon.Invoice {
	return carbon.Invoice{
		ID:                 r.ID,
		FacilityID:         r.FacilityID,
		UserID:             r.UserID,
		Filename:           r.Filename,
		FilePath:           r.FilePath,
		FileType:           r.FileType,
		Status:             carbon.InvoiceStatus(r.Status),
		ExtractedActivity:  carbon.ActivityType(r.ExtractedActivity),
		ExtractedQuantity:  r.ExtractedQuantity,
		ExtractedCostTL:    r.ExtractedCostTL,
		ExtractedStartDate: r.ExtractedStartDate,
		ExtractedEndDate:   r.ExtractedEndDate,
		ExtractedText:      r.ExtractedText,
		Confidence:         r.Confidence,
		IsVerified:         r.IsVerified,
		VerificationNotes:  r.VerificationNotes,
		ActivityDataID:     r.ActivityDataID,
		CreatedAt:          r.CreatedAt,
		ProcessedAt:        r.ProcessedAt,
	}
}

type invoiceRows []invoiceRow

func (rows invoiceRows) toDomain() []carbon.Invoice {
	out := make([]carbon.Invoice, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out
}

// --- ReportStore -----------------------------------------------------------

func (s *Store) CreateReport(ctx context.Context, r carbon.Report) (carbon.Report, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = time.Now().UTC()
	if r.RequestedAt.IsZero() {
		r.RequestedAt = r.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports
			(id, company_id, user_id, report_type, start_date, end_date, job_id, status, file_path,
			 file_size_bytes, download_count, period_name, total_emissions_tco2e, total_savings_tl,
			 error_message, notify_user_when_ready, created_at, requested_at, completed_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`, r.ID, r.CompanyID, r.UserID, r.ReportType, r.StartDate, r.EndDate, r.JobID, r.Status, r.FilePath,
		r.FileSizeBytes, r.DownloadCount, r.PeriodName, r.TotalEmissionsTCO2e, r.TotalSavingsTL,
		r.ErrorMessage, r.NotifyUserWhenReady, r.CreatedAt, r.RequestedAt, r.CompletedAt, r.ExpiresAt)
	if err != nil {
		return carbon.Report{}, err
	}
	return r, nil
}

func (s *Store) UpdateReport(ctx context.Context, r carbon.Report) (carbon.Report, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reports
		SET status = $2, file_path = $3, file_size_bytes = $4, download_count = $5, total_emissions_tco2e = $6,
			total_savings_tl = $7, error_message = $8, completed_at = $9, expires_at = $10
		WHERE id = $1
	`, r.ID, r.Status, r.FilePath, r.FileSizeBytes, r.DownloadCount, r.TotalEmissionsTCO2e,
		r.TotalSavingsTL, r.ErrorMessage, r.CompletedAt, r.ExpiresAt)
	if err != nil {
		return carbon.Report{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return carbon.Report{}, sql.ErrNoRows
	}
	return s.GetReport(ctx, r.ID)
}

func (s *Store) GetReport(ctx context.Context, id string) (carbon.Report, error) {
	var row reportRow
	err := s.db.GetContext(ctx, &row, reportSelect+` WHERE id = $1`, id)
	if err != nil {
		return carbon.Report{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListReportsByCompany(ctx context.Context, companyID string) ([]carbon.Report, error) {
	var rows []reportRow
	err := s.db.SelectContext(ctx, &rows, reportSelect+` WHERE company_id = $1 ORDER BY requested_at DESC`, companyID)
	if err != nil {
		return nil, err
	}
	return reportRows(rows).toDomain(), nil
}

func (s *Store) ListExpiredReports(ctx context.Context, asOf time.Time) ([]carbon.Report, error) {
	var rows []reportRow
	err := s.db.SelectContext(ctx, &rows, reportSelect+`
		WHERE expires_at IS NOT NULL AND expires_at < $1 AND status != $2
	`, asOf, carbon.ReportStatusExpired)
	if err != nil {
		return nil, err
	}
	return reportRows(rows).toDomain(), nil
}

func (s *Store) DeleteReport(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE id = $1`, id)
	return err
}

const reportSelect = `
	SELECT id, company_id, user_id, report_type, start_date, end_date, job_id, status, file_path,
		   file_size_bytes, download_count, period_name, total_emissions_tco2e, total_savings_tl,
		   error_message, notify_user_when_ready, created_at, requested_at, completed_at, expires_at
	FROM reports`

type reportRow struct {
	ID                  string     `db:"id"`
	CompanyID           string     `db:"company_id"`
	UserID              string     `db:"user_id"`
	ReportType          string     `db:"report_type"`
	StartDate           time.Time  `db:"start_date"`
	EndDate             time.Time  `db:"end_date"`
	JobID               string     `db:"job_id"`
	Status              string     `db:"status"`
	FilePath            string     `db:"file_path"`
	FileSizeBytes       int64      `db:"file_size_bytes"`
	DownloadCount       int        `db:"download_count"`
	PeriodName          string     `db:"period_name"`
	TotalEmissionsTCO2e *float64   `db:"total_emissions_tco2e"`
	TotalSavingsTL      *float64   `db:"total_savings_tl"`
	ErrorMessage        string     `db:"error_message"`
	NotifyUserWhenReady bool       `db:"notify_user_when_ready"`
	CreatedAt           time.Time  `db:"created_at"`
	RequestedAt         time.Time  `db:"requested_at"`
	CompletedAt         *time.Time `db:"completed_at"`
	ExpiresAt           *time.Time `db:"expires_at"`
}

func (r reportRow) toDomain() carbon.Report {
	return carbon.Report{
		ID:                  r.ID,
		CompanyID:           r.CompanyID,
		UserID:              r.UserID,
		ReportType:          carbon.ReportType(r.ReportType),
		StartDate:           r.StartDate,
		EndDate:             r.EndDate,
		JobID:               r.JobID,
		Status:              carbon.ReportStatus(r.Status),
		FilePath:            r.FilePath,
		FileSizeBytes:       r.FileSizeBytes,
		DownloadCount:       r.DownloadCount,
		PeriodName:          r.PeriodName,
		TotalEmissionsTCO2e: r.TotalEmissionsTCO2e,
		TotalSavingsTL:      r.TotalSavingsTL,
		ErrorMessage:        r.ErrorMessage,
		NotifyUserWhenReady: r.NotifyUserWhenReady,
		CreatedAt:           r.CreatedAt,
		RequestedAt:         r.RequestedAt,
		CompletedAt:         r.CompletedAt,
		ExpiresAt:           r.ExpiresAt,
	}
}

type reportRows []reportRow

func (rows reportRows) toDomain() []carbon.Report {
	out := make([]carbon.Report, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out
}

// --- SupplierStore -----------------------------------------------------------

func (s *Store) CreateSupplier(ctx context.Context, sup carbon.Supplier) (carbon.Supplier, error) {
	if sup.ID == "" {
		sup.ID = uuid.NewString()
	}
	sup.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, company_name, email, contact_person, phone, industry_type, product_category, is_active, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, sup.ID, sup.CompanyName, sup.Email, sup.ContactPerson, sup.Phone, sup.IndustryType, sup.ProductCategory, sup.IsActive, sup.Verified, sup.CreatedAt)
	if err != nil {
		return carbon.Supplier{}, err
	}
	return sup, nil
}

func (s *Store) GetSupplier(ctx context.Context, id string) (carbon.Supplier, error) {
	var row supplierRow
	err := s.db.GetContext(ctx, &row, supplierSelect+` WHERE id = $1`, id)
	if err != nil {
		return carbon.Supplier{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListSuppliersForCompany(ctx context.Context, companyID string) ([]carbon.Supplier, error) {
	var rows []supplierRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT s.id, s.company_name, s.email, s.contact_person, s.phone, s.industry_type, s.product_category,
			   s.is_active, s.verified, s.created_at
		FROM suppliers s
		JOIN supplier_invitations i ON i.supplier_id = s.id
		WHERE i.company_id = $1 AND i.status = $2
		ORDER BY s.id
	`, companyID, carbon.InvitationAccepted)
	if err != nil {
		return nil, err
	}
	return supplierRows(rows).toDomain(), nil
}

const supplierSelect = `
	SELECT id, company_name, email, contact_person, phone, industry_type, product_category, is_active, verified, created_at
	FROM suppliers`

type supplierRow struct {
	ID              string    `db:"id"`
	CompanyName     string    `db:"company_name"`
	Email           string    `db:"email"`
	ContactPerson   string    `db:"contact_person"`
	Phone           string    `db:"phone"`
	IndustryType    string    `db:"industry_type"`
	ProductCategory string    `db:"product_category"`
	IsActive        bool      `db:"is_active"`
	Verified        bool      `db:"verified"`
	CreatedAt       time.Time `db:"created_at"`
}

func (r supplierRow) toDomain() carbon.Supplier {
	return carbon.Supplier{
		ID:              r.ID,
		CompanyName:     r.CompanyName,
		Email:           r.Email,
		ContactPerson:   r.ContactPerson,
		Phone:           r.Phone,
		IndustryType:    carbon.IndustryType(r.IndustryType),
		ProductCategory: r.ProductCategory,
		IsActive:        r.IsActive,
		Verified:        r.Verified,
		CreatedAt:       r.CreatedAt,
	}
}

type supplierRows []supplierRow

func (rows supplierRows) toDomain() []carbon.Supplier {
	out := make([]carbon.Supplier, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out
}

func (s *Store) CreateInvitation(ctx context.Context, inv carbon.SupplierInvitation) (carbon.SupplierInvitation, error) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	inv.InvitedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO supplier_invitations
			(id, supplier_id, company_id, invited_by_user_id, invite_token, status, relationship_type, invited_at, accepted_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, inv.ID, inv.SupplierID, inv.CompanyID, inv.InvitedByUserID, inv.InviteToken, inv.Status, inv.RelationshipType,
		inv.InvitedAt, inv.AcceptedAt, inv.ExpiresAt)
	if err != nil {
		return carbon.SupplierInvitation{}, err
	}
	return inv, nil
}

func (s *Store) UpdateInvitation(ctx context.Context, inv carbon.SupplierInvitation) (carbon.SupplierInvitation, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE supplier_invitations
		SET status = $2, relationship_type = $3, accepted_at = $4
		WHERE id = $1
	`, inv.ID, inv.Status, inv.RelationshipType, inv.AcceptedAt)
	if err != nil {
		return carbon.SupplierInvitation{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return carbon.SupplierInvitation{}, sql.ErrNoRows
	}
	return s.getInvitation(ctx, inv.ID)
}

func (s *Store) getInvitation(ctx context.Context, id string) (carbon.SupplierInvitation, error) {
	var row invitationRow
	err := s.db.GetContext(ctx, &row, invitationSelect+` WHERE id = $1`, id)
	if err != nil {
		return carbon.SupplierInvitation{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetInvitationByToken(ctx context.Context, token string) (carbon.SupplierInvitation, error) {
	var row invitationRow
	err := s.db.GetContext(ctx, &row, invitationSelect+` WHERE invite_token = $1`, token)
	if err != nil {
		return carbon.SupplierInvitation{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListPendingInvitations(ctx context.Context, asOf time.Time) ([]carbon.SupplierInvitation, error) {
	var rows []invitationRow
	err := s.db.SelectContext(ctx, &rows, invitationSelect+`
		WHERE status = $1 AND expires_at < $2
	`, carbon.InvitationPending, asOf)
	if err != nil {
		return nil, err
	}
	out := make([]carbon.SupplierInvitation, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

const invitationSelect = `
	SELECT id, supplier_id, company_id, invited_by_user_id, invite_token, status, relationship_type,
		   invited_at, accepted_at, expires_at
	FROM supplier_invitations`

type invitationRow struct {
	ID               string     `db:"id"`
	SupplierID       string     `db:"supplier_id"`
	CompanyID        string     `db:"company_id"`
	InvitedByUserID  string     `db:"invited_by_user_id"`
	InviteToken      string     `db:"invite_token"`
	Status           string     `db:"status"`
	RelationshipType string     `db:"relationship_type"`
	InvitedAt        time.Time  `db:"invited_at"`
	AcceptedAt       *time.Time `db:"accepted_at"`
	ExpiresAt        time.Time  `db:"expires_at"`
}

func (r invitationRow) toDomain() carbon.SupplierInvitation {
	return carbon.SupplierInvitation{
		ID:               r.ID,
		SupplierID:       r.SupplierID,
		CompanyID:        r.CompanyID,
		InvitedByUserID:  r.InvitedByUserID,
		InviteToken:      r.InviteToken,
		Status:           carbon.SupplierInvitationStatus(r.Status),
		RelationshipType: r.RelationshipType,
		InvitedAt:        r.InvitedAt,
		AcceptedAt:       r.AcceptedAt,
		ExpiresAt:        r.ExpiresAt,
	}
}

func (s *Store) CreateProductFootprint(ctx context.Context, p carbon.ProductFootprint) (carbon.ProductFootprint, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO product_footprints
			(id, supplier_id, product_code, product_name, product_category, unit, co2e_per_unit_kg,
			 verification_level, verification_notes, verification_doc_url, verified_at, verified_by_user_id,
			 data_source, external_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, p.ID, p.SupplierID, p.ProductCode, p.ProductName, p.ProductCategory, p.Unit, p.CO2ePerUnitKg,
		p.VerificationLevel, p.VerificationNotes, p.VerificationDocURL, p.VerifiedAt, p.VerifiedByUserID,
		p.DataSource, p.ExternalID, p.CreatedAt)
	if err != nil {
		return carbon.ProductFootprint{}, err
	}
	return p, nil
}

func (s *Store) UpdateProductFootprint(ctx context.Context, p carbon.ProductFootprint) (carbon.ProductFootprint, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE product_footprints
		SET co2e_per_unit_kg = $2, verification_level = $3, verification_notes = $4, verification_doc_url = $5,
			verified_at = $6, verified_by_user_id = $7
		WHERE id = $1
	`, p.ID, p.CO2ePerUnitKg, p.VerificationLevel, p.VerificationNotes, p.VerificationDocURL, p.VerifiedAt, p.VerifiedByUserID)
	if err != nil {
		return carbon.ProductFootprint{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return carbon.ProductFootprint{}, sql.ErrNoRows
	}
	return s.getProductFootprint(ctx, p.ID)
}

func (s *Store) getProductFootprint(ctx context.Context, id string) (carbon.ProductFootprint, error) {
	var row footprintRow
	err := s.db.GetContext(ctx, &row, footprintSelect+` WHERE id = $1`, id)
	if err != nil {
		return carbon.ProductFootprint{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListProductFootprints(ctx context.Context, supplierID string) ([]carbon.ProductFootprint, error) {
	var rows []footprintRow
	err := s.db.SelectContext(ctx, &rows, footprintSelect+` WHERE supplier_id = $1 ORDER BY id`, supplierID)
	if err != nil {
		return nil, err
	}
	return footprintRows(rows).toDomain(), nil
}

// verificationRank orders verification levels from weakest to strongest
// evidence so ListProductFootprintsByCategory can filter by a minimum tier.
var verificationRank = map[carbon.VerificationLevel]int{
	carbon.VerificationSelfDeclared:   0,
	carbon.VerificationDocumentBacked: 1,
	carbon.VerificationAudited:        2,
}

func (s *Store) ListProductFootprintsByCategory(ctx context.Context, category string, minVerification carbon.VerificationLevel) ([]carbon.ProductFootprint, error) {
	var rows []footprintRow
	err := s.db.SelectContext(ctx, &rows, footprintSelect+`
		WHERE lower(product_category) = lower($1)
			AND verification_level = ANY($2)
		ORDER BY id
	`, category, pq.Array(acceptableVerificationLevels(minVerification)))
	if err != nil {
		return nil, err
	}
	return footprintRows(rows).toDomain(), nil
}

func acceptableVerificationLevels(min carbon.VerificationLevel) []string {
	threshold := verificationRank[min]
	levels := make([]string, 0, len(verificationRank))
	for level, rank := range verificationRank {
		if rank >= threshold {
			levels = append(levels, string(level))
		}
	}
	return levels
}

const footprintSelect = `
	SELECT id, supplier_id, product_code, product_name, product_category, unit, co2e_per_unit_kg,
		   verification_level, verification_notes, verification_doc_url, verified_at, verified_by_user_id,
		   data_source, external_id, created_at
	FROM product_footprints`

type footprintRow struct {
	ID                 string     `db:"id"`
	SupplierID         string     `db:"supplier_id"`
	ProductCode        string     `db:"product_code"`
	ProductName        string     `db:"product_name"`
	ProductCategory    string     `db:"product_category"`
	Unit               string     `db:"unit"`
	CO2ePerUnitKg      float64    `db:"co2e_per_unit_kg"`
	VerificationLevel  string     `db:"verification_level"`
	VerificationNotes  string     `db:"verification_notes"`
	VerificationDocURL string     `db:"verification_doc_url"`
	VerifiedAt         *time.Time `db:"verified_at"`
	VerifiedByUserID   string     `db:"verified_by_user_id"`
	DataSource         string     `db:"data_source"`
	ExternalID         string     `db:"external_id"`
	CreatedAt          time.Time  `db:"created_at"`
}

func (r footprintRow) toDomain() carbon.ProductFootprint {
	return carbon.ProductFootprint{
		ID:                 r.ID,
		SupplierID:         r.SupplierID,
		ProductCode:        r.ProductCode,
		ProductName:        r.ProductName,
		ProductCategory:    r.ProductCategory,
		Unit:               r.Unit,
		CO2ePerUnitKg:      r.CO2ePerUnitKg,
		VerificationLevel:  carbon.VerificationLevel(r.VerificationLevel),
		VerificationNotes:  r.VerificationNotes,
		VerificationDocURL: r.VerificationDocURL,
		VerifiedAt:         r.VerifiedAt,
		VerifiedByUserID:   r.VerifiedByUserID,
		DataSource:         r.DataSource,
		ExternalID:         r.ExternalID,
		CreatedAt:          r.CreatedAt,
	}
}

type footprintRows []footprintRow

func (rows footprintRows) toDomain() []carbon.ProductFootprint {
	out := make([]carbon.ProductFootprint, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out
}

func (s *Store) CreateScope3Emission(ctx context.Context, e carbon.Scope3Emission) (carbon.Scope3Emission, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scope3_emissions (id, facility_id, product_footprint_id, quantity_purchased, purchase_date, calculated_co2e_kg, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.FacilityID, e.ProductFootprintID, e.QuantityPurchased, e.PurchaseDate, e.CalculatedCO2eKg, e.CreatedAt)
	if err != nil {
		return carbon.Scope3Emission{}, err
	}
	return e, nil
}

func (s *Store) ListScope3EmissionsForFacility(ctx context.Context, facilityID string) ([]carbon.Scope3Emission, error) {
	var rows []scope3Row
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, facility_id, product_footprint_id, quantity_purchased, purchase_date, calculated_co2e_kg, created_at
		FROM scope3_emissions WHERE facility_id = $1 ORDER BY id
	`, facilityID)
	if err != nil {
		return nil, err
	}
	out := make([]carbon.Scope3Emission, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

type scope3Row struct {
	ID                 string    `db:"id"`
	FacilityID         string    `db:"facility_id"`
	ProductFootprintID string    `db:"product_footprint_id"`
	QuantityPurchased  float64   `db:"quantity_purchased"`
	PurchaseDate       time.Time `db:"purchase_date"`
	CalculatedCO2eKg   float64   `db:"calculated_co2e_kg"`
	CreatedAt          time.Time `db:"created_at"`
}

func (r scope3Row) toDomain() carbon.Scope3Emission {
	return carbon.Scope3Emission{
		ID:                 r.ID,
		FacilityID:         r.FacilityID,
		ProductFootprintID: r.ProductFootprintID,
		QuantityPurchased:  r.QuantityPurchased,
		PurchaseDate:       r.PurchaseDate,
		CalculatedCO2eKg:   r.CalculatedCO2eKg,
		CreatedAt:          r.CreatedAt,
	}
}

// --- NotificationStore -------------------------------------------------------

func (s *Store) CreateNotification(ctx context.Context, n carbon.Notification) (carbon.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, notification_type, title, message, company_id, facility_id, is_read, action_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, n.ID, n.UserID, n.NotificationType, n.Title, n.Message, n.CompanyID, n.FacilityID, n.IsRead, n.ActionURL, n.CreatedAt)
	if err != nil {
		return carbon.Notification{}, err
	}
	return n, nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]carbon.Notification, error) {
	query := `
		SELECT id, user_id, notification_type, title, message, company_id, facility_id, is_read, action_url, created_at
		FROM notifications WHERE user_id = $1 AND ($2 = FALSE OR is_read = FALSE) ORDER BY created_at DESC`
	args := []any{userID, unreadOnly}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]carbon.Notification, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

type notificationRow struct {
	ID               string    `db:"id"`
	UserID           string    `db:"user_id"`
	NotificationType string    `db:"notification_type"`
	Title            string    `db:"title"`
	Message          string    `db:"message"`
	CompanyID        string    `db:"company_id"`
	FacilityID       string    `db:"facility_id"`
	IsRead           bool      `db:"is_read"`
	ActionURL        string    `db:"action_url"`
	CreatedAt        time.Time `db:"created_at"`
}

func (r notificationRow) toDomain() carbon.Notification {
	return carbon.Notification{
		ID:               r.ID,
		UserID:           r.UserID,
		NotificationType: r.NotificationType,
		Title:            r.Title,
		Message:          r.Message,
		CompanyID:        r.CompanyID,
		FacilityID:       r.FacilityID,
		IsRead:           r.IsRead,
		ActionURL:        r.ActionURL,
		CreatedAt:        r.CreatedAt,
	}
}

func (s *Store) MarkRead(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- BadgeStore ----------------------------------------------------------

func (s *Store) ListBadges(ctx context.Context) ([]carbon.Badge, error) {
	var out []carbon.Badge
	err := s.db.SelectContext(ctx, &out, `SELECT id, code, name, description FROM badges ORDER BY code`)
	return out, err
}

func (s *Store) AwardBadge(ctx context.Context, ub carbon.UserBadge) error {
	if ub.EarnedAt.IsZero() {
		ub.EarnedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO company_badges (company_id, badge_id, earned_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (company_id, badge_id) DO NOTHING
	`, ub.CompanyID, ub.BadgeID, ub.EarnedAt)
	return err
}

func (s *Store) ListEarnedBadges(ctx context.Context, companyID string) ([]carbon.UserBadge, error) {
	var rows []userBadgeRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT company_id, badge_id, earned_at FROM company_badges WHERE company_id = $1 ORDER BY earned_at
	`, companyID)
	if err != nil {
		return nil, err
	}
	out := make([]carbon.UserBadge, len(rows))
	for i, r := range rows {
		out[i] = carbon.UserBadge{CompanyID: r.CompanyID, BadgeID: r.BadgeID, EarnedAt: r.EarnedAt}
	}
	return out, nil
}

type userBadgeRow struct {
	CompanyID string    `db:"company_id"`
	BadgeID   string    `db:"badge_id"`
	EarnedAt  time.Time `db:"earned_at"`
}

func (s *Store) UpsertLeaderboardEntry(ctx context.Context, e carbon.LeaderboardEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leaderboard_entries (company_id, display_name, industry_type, co2e_per_m2_annual)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (company_id) DO UPDATE SET display_name = $2, industry_type = $3, co2e_per_m2_annual = $4
	`, e.CompanyID, e.DisplayName, e.IndustryType, e.CO2ePerM2Annual)
	return err
}

func (s *Store) ListLeaderboard(ctx context.Context, industry carbon.IndustryType, limit int) ([]carbon.LeaderboardEntry, error) {
	query := `
		SELECT company_id, display_name, industry_type, co2e_per_m2_annual,
			   row_number() OVER (ORDER BY co2e_per_m2_annual) AS rank
		FROM leaderboard_entries
		WHERE ($1 = '' OR industry_type = $1)
		ORDER BY co2e_per_m2_annual`
	args := []any{string(industry)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	var rows []leaderboardRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]carbon.LeaderboardEntry, len(rows))
	for i, r := range rows {
		out[i] = carbon.LeaderboardEntry{
			CompanyID:       r.CompanyID,
			DisplayName:     r.DisplayName,
			IndustryType:    carbon.IndustryType(r.IndustryType),
			CO2ePerM2Annual: r.CO2ePerM2Annual,
			Rank:            r.Rank,
		}
	}
	return out, nil
}

type leaderboardRow struct {
	CompanyID       string  `db:"company_id"`
	DisplayName     string  `db:"display_name"`
	IndustryType    string  `db:"industry_type"`
	CO2ePerM2Annual float64 `db:"co2e_per_m2_annual"`
	Rank            int     `db:"rank"`
}

// --- EventLogStore -----------------------------------------------------------

func (s *Store) RecordEvent(ctx context.Context, e carbon.EventLog) (carbon.EventLog, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.PublishedAt = time.Now().UTC()
	payload := e.Payload
	if payload == nil {
		payload = []byte("{}")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_log (id, idempotency_key, queue, event_type, payload, published_at, processed_at, attempts, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.IdempotencyKey, e.Queue, e.EventType, payload, e.PublishedAt, e.ProcessedAt, e.Attempts, e.LastError)
	if err != nil {
		return carbon.EventLog{}, err
	}
	return e, nil
}

func (s *Store) SeenIdempotencyKey(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS(SELECT 1 FROM event_log WHERE idempotency_key = $1)
	`, key)
	return exists, err
}

func (s *Store) MarkProcessed(ctx context.Context, id string, failErr string) error {
	var processedAt *time.Time
	if failErr == "" {
		now := time.Now().UTC()
		processedAt = &now
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE event_log SET attempts = attempts + 1, last_error = $2, processed_at = $3
		WHERE id = $1
	`, id, failErr, processedAt)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) ListUnprocessed(ctx context.Context, queue string, limit int) ([]carbon.EventLog, error) {
	query := `
		SELECT id, idempotency_key, queue, event_type, payload, published_at, processed_at, attempts, last_error
		FROM event_log WHERE queue = $1 AND processed_at IS NULL ORDER BY published_at`
	args := []any{queue}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	var rows []eventLogRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]carbon.EventLog, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

type eventLogRow struct {
	ID             string     `db:"id"`
	IdempotencyKey string     `db:"idempotency_key"`
	Queue          string     `db:"queue"`
	EventType      string     `db:"event_type"`
	Payload        []byte     `db:"payload"`
	PublishedAt    time.Time  `db:"published_at"`
	ProcessedAt    *time.Time `db:"processed_at"`
	Attempts       int        `db:"attempts"`
	LastError      string     `db:"last_error"`
}

func (r eventLogRow) toDomain() carbon.EventLog {
	return carbon.EventLog{
		ID:             r.ID,
		IdempotencyKey: r.IdempotencyKey,
		Queue:          r.Queue,
		EventType:      r.EventType,
		Payload:        r.Payload,
		PublishedAt:    r.PublishedAt,
		ProcessedAt:    r.ProcessedAt,
		Attempts:       r.Attempts,
		LastError:      r.LastError,
	}
}

func (s *Store) RecordDataQualityIssue(ctx context.Context, issue carbon.DataQualityIssue) (carbon.DataQualityIssue, error) {
	if issue.ID == "" {
		issue.ID = uuid.NewString()
	}
	issue.DetectedAt = time.Now().UTC()
	payload := issue.RawPayload
	if payload == nil {
		payload = []byte("{}")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO data_quality_issues (id, facility_id, reason, raw_payload, detected_at, resolved)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, issue.ID, issue.FacilityID, issue.Reason, payload, issue.DetectedAt, issue.Resolved)
	if err != nil {
		return carbon.DataQualityIssue{}, err
	}
	return issue, nil
}

func (s *Store) ListDataQualityIssues(ctx context.Context, facilityID string, unresolvedOnly bool) ([]carbon.DataQualityIssue, error) {
	query := `
		SELECT id, facility_id, reason, raw_payload, detected_at, resolved
		FROM data_quality_issues WHERE ($1 = '' OR facility_id = $1) AND ($2 = FALSE OR resolved = FALSE)
		ORDER BY detected_at`
	var rows []dataQualityRow
	if err := s.db.SelectContext(ctx, &rows, query, facilityID, unresolvedOnly); err != nil {
		return nil, err
	}
	out := make([]carbon.DataQualityIssue, len(rows))
	for i, r := range rows {
		out[i] = carbon.DataQualityIssue{
			ID:         r.ID,
			FacilityID: r.FacilityID,
			Reason:     r.Reason,
			RawPayload: r.RawPayload,
			DetectedAt: r.DetectedAt,
			Resolved:   r.Resolved,
		}
	}
	return out, nil
}

type dataQualityRow struct {
	ID         string    `db:"id"`
	FacilityID string    `db:"facility_id"`
	Reason     string    `db:"reason"`
	RawPayload []byte    `db:"raw_payload"`
	DetectedAt time.Time `db:"detected_at"`
	Resolved   bool      `db:"resolved"`
}
