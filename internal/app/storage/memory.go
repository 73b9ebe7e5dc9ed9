package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/carbonledger/platform/internal/app/domain/carbon"
)

// Memory is a thread-safe in-memory persistence layer implementing every
// storage interface in this package. It is intended for tests and local
// prototyping and deliberately keeps the implementation simple: every method
// takes the store's single lock rather than per-table locks.
type Memory struct {
	mu sync.RWMutex

	nextID int64

	users        map[string]carbon.User
	usersByEmail map[string]string

	companies map[string]carbon.Company
	members   map[string]carbon.Member // key: companyID+"|"+userID
	financial map[string]carbon.CompanyFinancials
	targets   map[string][]carbon.SustainabilityTarget

	facilities map[string]carbon.Facility
	activities map[string]carbon.ActivityData

	templates  map[carbon.IndustryType]carbon.IndustryTemplate
	parameters map[string]carbon.SuggestionParameter

	invoices map[string]carbon.Invoice
	reports  map[string]carbon.Report

	suppliers        map[string]carbon.Supplier
	invitations      map[string]carbon.SupplierInvitation
	invitationByTok  map[string]string
	footprints       map[string]carbon.ProductFootprint
	scope3Emissions  map[string]carbon.Scope3Emission

	notifications map[string]carbon.Notification

	badges          []carbon.Badge
	earnedBadges    map[string][]carbon.UserBadge
	leaderboard     map[string]carbon.LeaderboardEntry

	eventLog       map[string]carbon.EventLog
	idempotencyKey map[string]struct{}
	qualityIssues  map[string]carbon.DataQualityIssue
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		nextID:          1,
		users:           make(map[string]carbon.User),
		usersByEmail:    make(map[string]string),
		companies:       make(map[string]carbon.Company),
		members:         make(map[string]carbon.Member),
		financial:       make(map[string]carbon.CompanyFinancials),
		targets:         make(map[string][]carbon.SustainabilityTarget),
		facilities:      make(map[string]carbon.Facility),
		activities:      make(map[string]carbon.ActivityData),
		templates:       make(map[carbon.IndustryType]carbon.IndustryTemplate),
		parameters:      make(map[string]carbon.SuggestionParameter),
		invoices:        make(map[string]carbon.Invoice),
		reports:         make(map[string]carbon.Report),
		suppliers:       make(map[string]carbon.Supplier),
		invitations:     make(map[string]carbon.SupplierInvitation),
		invitationByTok: make(map[string]string),
		footprints:      make(map[string]carbon.ProductFootprint),
		scope3Emissions: make(map[string]carbon.Scope3Emission),
		notifications:   make(map[string]carbon.Notification),
		earnedBadges:    make(map[string][]carbon.UserBadge),
		leaderboard:     make(map[string]carbon.LeaderboardEntry),
		eventLog:        make(map[string]carbon.EventLog),
		idempotencyKey:  make(map[string]struct{}),
		qualityIssues:   make(map[string]carbon.DataQualityIssue),
	}
}

func (m *Memory) nextIDLocked() string {
	id := m.nextID
	m.nextID++
	return strconv.FormatInt(id, 10)
}

func memberKey(companyID, userID string) string { return companyID + "|" + userID }

// Users -----------------------------------------------------------------

func (m *Memory) CreateUser(_ context.Context, u carbon.User) (carbon.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.usersByEmail[strings.ToLower(u.Email)]; exists {
		return carbon.User{}, fmt.Errorf("user with email %s already exists", u.Email)
	}
	if u.ID == "" {
		u.ID = m.nextIDLocked()
	}
	u.CreatedAt = time.Now().UTC()
	m.users[u.ID] = u
	m.usersByEmail[strings.ToLower(u.Email)] = u.ID
	return u, nil
}

func (m *Memory) GetUser(_ context.Context, id string) (carbon.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return carbon.User{}, fmt.Errorf("user %s not found", id)
	}
	return u, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (carbon.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.usersByEmail[strings.ToLower(email)]
	if !ok {
		return carbon.User{}, fmt.Errorf("user with email %s not found", email)
	}
	return m.users[id], nil
}

// Companies / members -----------------------------------------------------

func (m *Memory) CreateCompany(_ context.Context, c carbon.Company) (carbon.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = m.nextIDLocked()
	}
	c.CreatedAt = time.Now().UTC()
	m.companies[c.ID] = c
	m.members[memberKey(c.ID, c.OwnerUserID)] = carbon.Member{
		UserID: c.OwnerUserID, CompanyID: c.ID, Role: carbon.RoleOwner, JoinedAt: c.CreatedAt,
	}
	return c, nil
}

func (m *Memory) GetCompany(_ context.Context, id string) (carbon.Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.companies[id]
	if !ok {
		return carbon.Company{}, fmt.Errorf("company %s not found", id)
	}
	return c, nil
}

func (m *Memory) ListCompaniesByIndustry(_ context.Context, industry carbon.IndustryType) ([]carbon.Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []carbon.Company
	for _, c := range m.companies {
		if c.IndustryType == industry {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListCompaniesForUser(_ context.Context, userID string) ([]carbon.Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []carbon.Company
	for _, mem := range m.members {
		if mem.UserID == userID {
			if c, ok := m.companies[mem.CompanyID]; ok {
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) AddMember(_ context.Context, mem carbon.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mem.JoinedAt.IsZero() {
		mem.JoinedAt = time.Now().UTC()
	}
	m.members[memberKey(mem.CompanyID, mem.UserID)] = mem
	return nil
}

func (m *Memory) RemoveMember(_ context.Context, companyID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members, memberKey(companyID, userID))
	return nil
}

func (m *Memory) GetMember(_ context.Context, companyID, userID string) (carbon.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mem, ok := m.members[memberKey(companyID, userID)]
	if !ok {
		return carbon.Member{}, fmt.Errorf("member %s/%s not found", companyID, userID)
	}
	return mem, nil
}

func (m *Memory) ListMembers(_ context.Context, companyID string) ([]carbon.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []carbon.Member
	for _, mem := range m.members {
		if mem.CompanyID == companyID {
			out = append(out, mem)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *Memory) GetFinancials(_ context.Context, companyID string) (carbon.CompanyFinancials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.financial[companyID]
	if !ok {
		return carbon.CompanyFinancials{CompanyID: companyID}, nil
	}
	return f, nil
}

func (m *Memory) UpsertFinancials(_ context.Context, f carbon.CompanyFinancials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.financial[f.CompanyID] = f
	return nil
}

func (m *Memory) CreateTarget(_ context.Context, t carbon.SustainabilityTarget) (carbon.SustainabilityTarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = m.nextIDLocked()
	}
	m.targets[t.CompanyID] = append(m.targets[t.CompanyID], t)
	return t, nil
}

func (m *Memory) ListTargets(_ context.Context, companyID string) ([]carbon.SustainabilityTarget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]carbon.SustainabilityTarget, len(m.targets[companyID]))
	copy(out, m.targets[companyID])
	return out, nil
}

// Facilities ---------------------------------------------------------------

func (m *Memory) CreateFacility(_ context.Context, f carbon.Facility) (carbon.Facility, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.ID == "" {
		f.ID = m.nextIDLocked()
	}
	f.CreatedAt = time.Now().UTC()
	m.facilities[f.ID] = f
	return f, nil
}

func (m *Memory) GetFacility(_ context.Context, id string) (carbon.Facility, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.facilities[id]
	if !ok {
		return carbon.Facility{}, fmt.Errorf("facility %s not found", id)
	}
	return f, nil
}

func (m *Memory) ListFacilities(_ context.Context, companyID string) ([]carbon.Facility, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []carbon.Facility
	for _, f := range m.facilities {
		if f.CompanyID == companyID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListFacilitiesByCityAndIndustry(_ context.Context, city string, industry carbon.IndustryType) ([]carbon.Facility, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []carbon.Facility
	for _, f := range m.facilities {
		if !strings.EqualFold(f.City, city) {
			continue
		}
		if c, ok := m.companies[f.CompanyID]; ok && c.IndustryType == industry {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Activity data --------------------------------------------------------------

func (m *Memory) CreateActivity(_ context.Context, a carbon.ActivityData) (carbon.ActivityData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = m.nextIDLocked()
	}
	a.CreatedAt = time.Now().UTC()
	m.activities[a.ID] = a
	return a, nil
}

func (m *Memory) UpdateActivity(_ context.Context, a carbon.ActivityData) (carbon.ActivityData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	original, ok := m.activities[a.ID]
	if !ok {
		return carbon.ActivityData{}, fmt.Errorf("activity %s not found", a.ID)
	}
	a.CreatedAt = original.CreatedAt
	m.activities[a.ID] = a
	return a, nil
}

func (m *Memory) GetActivity(_ context.Context, id string) (carbon.ActivityData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.activities[id]
	if !ok {
		return carbon.ActivityData{}, fmt.Errorf("activity %s not found", id)
	}
	return a, nil
}

func (m *Memory) ListActivitiesByFacility(_ context.Context, facilityID string, kind carbon.ActivityType, since, until time.Time) ([]carbon.ActivityData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []carbon.ActivityData
	for _, a := range m.activities {
		if a.FacilityID != facilityID {
			continue
		}
		if kind != "" && a.ActivityType != kind {
			continue
		}
		if !since.IsZero() && a.EndDate.Before(since) {
			continue
		}
		if !until.IsZero() && a.StartDate.After(until) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (m *Memory) ListActivitiesForCompany(_ context.Context, companyID string, since, until time.Time) ([]carbon.ActivityData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	facilityIDs := make(map[string]struct{})
	for _, f := range m.facilities {
		if f.CompanyID == companyID {
			facilityIDs[f.ID] = struct{}{}
		}
	}
	var out []carbon.ActivityData
	for _, a := range m.activities {
		if _, ok := facilityIDs[a.FacilityID]; !ok {
			continue
		}
		if !since.IsZero() && a.EndDate.Before(since) {
			continue
		}
		if !until.IsZero() && a.StartDate.After(until) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

// Templates / parameters -----------------------------------------------------

func (m *Memory) GetTemplate(_ context.Context, industry carbon.IndustryType) (carbon.IndustryTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[industry]
	if !ok {
		return carbon.IndustryTemplate{}, fmt.Errorf("template for industry %s not found", industry)
	}
	return t, nil
}

func (m *Memory) ListTemplates(_ context.Context) ([]carbon.IndustryTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]carbon.IndustryTemplate, 0, len(m.templates))
	for _, t := range m.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IndustryName < out[j].IndustryName })
	return out, nil
}

// SeedTemplate and SeedParameter are dev/test helpers, not part of the
// TemplateStore/ParameterStore interfaces.
func (m *Memory) SeedTemplate(t carbon.IndustryTemplate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[t.IndustryType] = t
}

func (m *Memory) SeedParameter(p carbon.SuggestionParameter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parameters[p.Key] = p
}

func (m *Memory) GetParameter(_ context.Context, key string) (carbon.SuggestionParameter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.parameters[key]
	if !ok {
		return carbon.SuggestionParameter{}, fmt.Errorf("parameter %s not found", key)
	}
	return p, nil
}

func (m *Memory) ListParameters(_ context.Context) ([]carbon.SuggestionParameter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]carbon.SuggestionParameter, 0, len(m.parameters))
	for _, p := range m.parameters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Invoices --------------------------------------------------------------

func (m *Memory) CreateInvoice(_ context.Context, inv carbon.Invoice) (carbon.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv.ID == "" {
		inv.ID = m.nextIDLocked()
	}
	inv.CreatedAt = time.Now().UTC()
	m.invoices[inv.ID] = inv
	return inv, nil
}

func (m *Memory) UpdateInvoice(_ context.Context, inv carbon.Invoice) (carbon.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	original, ok := m.invoices[inv.ID]
	if !ok {
		return carbon.Invoice{}, fmt.Errorf("invoice %s not found", inv.ID)
	}
	inv.CreatedAt = original.CreatedAt
	m.invoices[inv.ID] = inv
	return inv, nil
}

func (m *Memory) GetInvoice(_ context.Context, id string) (carbon.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invoices[id]
	if !ok {
		return carbon.Invoice{}, fmt.Errorf("invoice %s not found", id)
	}
	return inv, nil
}

func (m *Memory) ListInvoicesByFacility(_ context.Context, facilityID string) ([]carbon.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []carbon.Invoice
	for _, inv := range m.invoices {
		if inv.FacilityID == facilityID {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListInvoicesByStatus(_ context.Context, status carbon.InvoiceStatus, limit int) ([]carbon.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []carbon.Invoice
	for _, inv := range m.invoices {
		if inv.Status == status {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Reports --------------------------------------------------------------

func (m *Memory) CreateReport(_ context.Context, r carbon.Report) (carbon.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = m.nextIDLocked()
	}
	r.CreatedAt = time.Now().UTC()
	if r.RequestedAt.IsZero() {
		r.RequestedAt = r.CreatedAt
	}
	m.reports[r.ID] = r
	return r, nil
}

func (m *Memory) UpdateReport(_ context.Context, r carbon.Report) (carbon.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	original, ok := m.reports[r.ID]
	if !ok {
		return carbon.Report{}, fmt.Errorf("report %s not found", r.ID)
	}
	r.CreatedAt = original.CreatedAt
	r.RequestedAt = original.RequestedAt
	m.reports[r.ID] = r
	return r, nil
}

func (m *Memory) GetReport(_ context.Context, id string) (carbon.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[id]
	if !ok {
		return carbon.Report{}, fmt.Errorf("report %s not found", id)
	}
	return r, nil
}

func (m *Memory) ListReportsByCompany(_ context.Context, companyID string) ([]carbon.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []carbon.Report
	for _, r := range m.reports {
		if r.CompanyID == companyID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	return out, nil
}

func (m *Memory) ListExpiredReports(_ context.Context, asOf time.Time) ([]carbon.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []carbon.Report
	for _, r := range m.reports {
		if r.ExpiresAt != nil && r.ExpiresAt.Before(asOf) && r.Status != carbon.ReportStatusExpired {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) DeleteReport(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reports, id)
	return nil
}

// Suppliers / invitations / footprints / scope 3 -----------------------------

func (m *Memory) CreateSupplier(_ context.Context, s carbon.Supplier) (carbon.Supplier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = m.nextIDLocked()
	}
	s.CreatedAt = time.Now().UTC()
	m.suppliers[s.ID] = s
	return s, nil
}

func (m *Memory) GetSupplier(_ context.Context, id string) (carbon.Supplier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.suppliers[id]
	if !ok {
		return carbon.Supplier{}, fmt.Errorf("supplier %s not found", id)
	}
	return s, nil
}

func (m *Memory) ListSuppliersForCompany(_ context.Context, companyID string) ([]carbon.Supplier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []carbon.Supplier
	for _, inv := range m.invitations {
		if inv.CompanyID != companyID || inv.Status != carbon.InvitationAccepted {
			continue
		}
		if s, ok := m.suppliers[inv.SupplierID]; ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateInvitation(_ context.Context, inv carbon.SupplierInvitation) (carbon.SupplierInvitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv.ID == "" {
		inv.ID = m.nextIDLocked()
	}
	inv.InvitedAt = time.Now().UTC()
	m.invitations[inv.ID] = inv
	m.invitationByTok[inv.InviteToken] = inv.ID
	return inv, nil
}

func (m *Memory) UpdateInvitation(_ context.Context, inv carbon.SupplierInvitation) (carbon.SupplierInvitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	original, ok := m.invitations[inv.ID]
	if !ok {
		return carbon.SupplierInvitation{}, fmt.Errorf("invitation %s not found", inv.ID)
	}
	inv.InvitedAt = original.InvitedAt
	m.invitations[inv.ID] = inv
	return inv, nil
}

func (m *Memory) GetInvitationByToken(_ context.Context, token string) (carbon.SupplierInvitation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.invitationByTok[token]
	if !ok {
		return carbon.SupplierInvitation{}, fmt.Errorf("invitation token not found")
	}
	return m.invitations[id], nil
}

func (m *Memory) ListPendingInvitations(_ context.Context, asOf time.Time) ([]carbon.SupplierInvitation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []carbon.SupplierInvitation
	for _, inv := range m.invitations {
		if inv.Status == carbon.InvitationPending && inv.ExpiresAt.Before(asOf) {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (m *Memory) CreateProductFootprint(_ context.Context, p carbon.ProductFootprint) (carbon.ProductFootprint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = m.nextIDLocked()
	}
	p.CreatedAt = time.Now().UTC()
	m.footprints[p.ID] = p
	return p, nil
}

func (m *Memory) UpdateProductFootprint(_ context.Context, p carbon.ProductFootprint) (carbon.ProductFootprint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	original, ok := m.footprints[p.ID]
	if !ok {
		return carbon.ProductFootprint{}, fmt.Errorf("product footprint %s not found", p.ID)
	}
	p.CreatedAt = original.CreatedAt
	m.footprints[p.ID] = p
	return p, nil
}

func (m *Memory) ListProductFootprints(_ context.Context, supplierID string) ([]carbon.ProductFootprint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []carbon.ProductFootprint
	for _, p := range m.footprints {
		if p.SupplierID == supplierID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func verificationRank(v carbon.VerificationLevel) int {
	switch v {
	case carbon.VerificationAudited:
		return 2
	case carbon.VerificationDocumentBacked:
		return 1
	default:
		return 0
	}
}

func (m *Memory) ListProductFootprintsByCategory(_ context.Context, category string, minVerification carbon.VerificationLevel) ([]carbon.ProductFootprint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []carbon.ProductFootprint
	for _, p := range m.footprints {
		if !strings.EqualFold(p.ProductCategory, category) {
			continue
		}
		if verificationRank(p.VerificationLevel) < verificationRank(minVerification) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateScope3Emission(_ context.Context, e carbon.Scope3Emission) (carbon.Scope3Emission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = m.nextIDLocked()
	}
	e.CreatedAt = time.Now().UTC()
	m.scope3Emissions[e.ID] = e
	return e, nil
}

func (m *Memory) ListScope3EmissionsForFacility(_ context.Context, facilityID string) ([]carbon.Scope3Emission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []carbon.Scope3Emission
	for _, e := range m.scope3Emissions {
		if e.FacilityID == facilityID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Notifications --------------------------------------------------------------

func (m *Memory) CreateNotification(_ context.Context, n carbon.Notification) (carbon.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == "" {
		n.ID = m.nextIDLocked()
	}
	n.CreatedAt = time.Now().UTC()
	m.notifications[n.ID] = n
	return n, nil
}

func (m *Memory) ListNotifications(_ context.Context, userID string, unreadOnly bool, limit int) ([]carbon.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []carbon.Notification
	for _, n := range m.notifications {
		if n.UserID != userID {
			continue
		}
		if unreadOnly && n.IsRead {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MarkRead(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return fmt.Errorf("notification %s not found", id)
	}
	n.IsRead = true
	m.notifications[id] = n
	return nil
}

// Badges / leaderboard --------------------------------------------------------

func (m *Memory) ListBadges(_ context.Context) ([]carbon.Badge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]carbon.Badge, len(m.badges))
	copy(out, m.badges)
	return out, nil
}

func (m *Memory) SeedBadge(b carbon.Badge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.badges = append(m.badges, b)
}

func (m *Memory) AwardBadge(_ context.Context, ub carbon.UserBadge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ub.EarnedAt.IsZero() {
		ub.EarnedAt = time.Now().UTC()
	}
	m.earnedBadges[ub.CompanyID] = append(m.earnedBadges[ub.CompanyID], ub)
	return nil
}

func (m *Memory) ListEarnedBadges(_ context.Context, companyID string) ([]carbon.UserBadge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]carbon.UserBadge, len(m.earnedBadges[companyID]))
	copy(out, m.earnedBadges[companyID])
	return out, nil
}

func (m *Memory) UpsertLeaderboardEntry(_ context.Context, e carbon.LeaderboardEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaderboard[e.CompanyID] = e
	return nil
}

func (m *Memory) ListLeaderboard(_ context.Context, industry carbon.IndustryType, limit int) ([]carbon.LeaderboardEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []carbon.LeaderboardEntry
	for _, e := range m.leaderboard {
		if industry != "" && e.IndustryType != industry {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CO2ePerM2Annual < out[j].CO2ePerM2Annual })
	for i := range out {
		out[i].Rank = i + 1
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Event log / idempotency / data quality --------------------------------------

func (m *Memory) RecordEvent(_ context.Context, e carbon.EventLog) (carbon.EventLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = m.nextIDLocked()
	}
	e.PublishedAt = time.Now().UTC()
	m.eventLog[e.ID] = e
	if e.IdempotencyKey != "" {
		m.idempotencyKey[e.IdempotencyKey] = struct{}{}
	}
	return e, nil
}

func (m *Memory) SeenIdempotencyKey(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.idempotencyKey[key]
	return ok, nil
}

func (m *Memory) MarkProcessed(_ context.Context, id string, failErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.eventLog[id]
	if !ok {
		return fmt.Errorf("event %s not found", id)
	}
	e.Attempts++
	e.LastError = failErr
	if failErr == "" {
		now := time.Now().UTC()
		e.ProcessedAt = &now
	}
	m.eventLog[id] = e
	return nil
}

func (m *Memory) ListUnprocessed(_ context.Context, queue string, limit int) ([]carbon.EventLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []carbon.EventLog
	for _, e := range m.eventLog {
		if e.Queue != queue || e.ProcessedAt != nil {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt.Before(out[j].PublishedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) RecordDataQualityIssue(_ context.Context, issue carbon.DataQualityIssue) (carbon.DataQualityIssue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if issue.ID == "" {
		issue.ID = m.nextIDLocked()
	}
	issue.DetectedAt = time.Now().UTC()
	m.qualityIssues[issue.ID] = issue
	return issue, nil
}

func (m *Memory) ListDataQualityIssues(_ context.Context, facilityID string, unresolvedOnly bool) ([]carbon.DataQualityIssue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []carbon.DataQualityIssue
	for _, issue := range m.qualityIssues {
		if facilityID != "" && issue.FacilityID != facilityID {
			continue
		}
		if unresolvedOnly && issue.Resolved {
			continue
		}
		out = append(out, issue)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out, nil
}
