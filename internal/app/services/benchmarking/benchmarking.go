// Package benchmarking computes on-demand peer comparisons: a facility's
// emissions intensity against same-industry, same-city peers, gated behind
// a k-anonymity floor so no individual peer's figures are ever inferable.
package benchmarking

import (
	"context"
	"fmt"
	"time"

	"github.com/carbonledger/platform/internal/app/domain/carbon"
	"github.com/carbonledger/platform/internal/app/storage"
)

// minPeers is the k-anonymity floor: fewer distinct peer companies than this
// and the comparison is withheld entirely.
const minPeers = 3

// Comparison is the result of comparing one facility against its peer set.
type Comparison struct {
	DataAvailable      bool    `json:"data_available"`
	Message            string  `json:"message,omitempty"`
	PeerCount          int     `json:"peer_count"`
	Scope1IntensityKg  float64 `json:"scope1_intensity_kg_per_m2,omitempty"`
	Scope2IntensityKg  float64 `json:"scope2_intensity_kg_per_m2,omitempty"`
	TotalIntensityKg   float64 `json:"total_intensity_kg_per_m2,omitempty"`
	PeerAvgScope1Kg    float64 `json:"peer_avg_scope1_kg_per_m2,omitempty"`
	PeerAvgScope2Kg    float64 `json:"peer_avg_scope2_kg_per_m2,omitempty"`
	PeerAvgTotalKg     float64 `json:"peer_avg_total_kg_per_m2,omitempty"`
	// EfficiencyRatio is peer average / subject * 100; above 100 means the
	// subject is more carbon-efficient per m2 than its peers.
	EfficiencyRatio  float64 `json:"efficiency_ratio,omitempty"`
	BetterThanPeers  bool    `json:"better_than_peers"`
}

// Service computes peer comparisons on demand; it holds no state of its own.
type Service struct {
	companies  storage.CompanyStore
	facilities storage.FacilityStore
	activities storage.ActivityStore
}

// New builds the benchmarking service.
func New(companies storage.CompanyStore, facilities storage.FacilityStore, activities storage.ActivityStore) *Service {
	return &Service{companies: companies, facilities: facilities, activities: activities}
}

// Compare evaluates the subject facility's scope 1/2/total intensity against
// peers in the same industry and city, excluding the subject itself.
// Invariants: only activity data with a start date within the last 365 days,
// non-fallback calculations, and a facility with a recorded surface area are
// eligible, both for the subject and for peers.
func (s *Service) Compare(ctx context.Context, companyID, facilityID string) (Comparison, error) {
	company, err := s.companies.GetCompany(ctx, companyID)
	if err != nil {
		return Comparison{}, fmt.Errorf("get company: %w", err)
	}
	facility, err := s.facilities.GetFacility(ctx, facilityID)
	if err != nil {
		return Comparison{}, fmt.Errorf("get facility: %w", err)
	}
	if facility.SurfaceAreaM2 == nil || *facility.SurfaceAreaM2 <= 0 {
		return Comparison{DataAvailable: false, Message: "facility has no recorded surface area"}, nil
	}

	since := time.Now().UTC().AddDate(-1, 0, 0)
	until := time.Now().UTC()

	subjectS1, subjectS2, ok := s.facilityIntensity(ctx, facility, since, until)
	if !ok {
		return Comparison{DataAvailable: false, Message: "insufficient activity data for this facility in the last 365 days"}, nil
	}

	peerFacilities, err := s.facilities.ListFacilitiesByCityAndIndustry(ctx, facility.City, company.IndustryType)
	if err != nil {
		return Comparison{}, fmt.Errorf("list peer facilities: %w", err)
	}

	peerCompanies := make(map[string]struct{})
	var sumS1, sumS2 float64
	var peerSampleCount int
	for _, pf := range peerFacilities {
		if pf.ID == facility.ID {
			continue
		}
		if pf.SurfaceAreaM2 == nil || *pf.SurfaceAreaM2 <= 0 {
			continue
		}
		s1, s2, ok := s.facilityIntensity(ctx, pf, since, until)
		if !ok {
			continue
		}
		sumS1 += s1
		sumS2 += s2
		peerSampleCount++
		peerCompanies[pf.CompanyID] = struct{}{}
	}

	if len(peerCompanies) < minPeers {
		return Comparison{
			DataAvailable: false,
			PeerCount:     len(peerCompanies),
			Message:       fmt.Sprintf("fewer than %d peer companies have comparable data", minPeers),
		}, nil
	}

	totalIntensity := subjectS1 + subjectS2
	peerAvgTotal := (sumS1 + sumS2) / float64(peerSampleCount)

	var efficiencyRatio float64
	if totalIntensity > 0 {
		efficiencyRatio = peerAvgTotal / totalIntensity * 100
	}

	return Comparison{
		DataAvailable:     true,
		PeerCount:         len(peerCompanies),
		Scope1IntensityKg: subjectS1,
		Scope2IntensityKg: subjectS2,
		TotalIntensityKg:  totalIntensity,
		PeerAvgScope1Kg:   sumS1 / float64(peerSampleCount),
		PeerAvgScope2Kg:   sumS2 / float64(peerSampleCount),
		PeerAvgTotalKg:    peerAvgTotal,
		EfficiencyRatio:   efficiencyRatio,
		BetterThanPeers:   totalIntensity < peerAvgTotal,
	}, nil
}

// facilityIntensity returns kgCO2e/m2 for scope 1 and scope 2, using only
// non-fallback calculations from the trailing window.
func (s *Service) facilityIntensity(ctx context.Context, f carbon.Facility, since, until time.Time) (scope1, scope2 float64, ok bool) {
	acts, err := s.activities.ListActivitiesByFacility(ctx, f.ID, "", since, until)
	if err != nil || len(acts) == 0 {
		return 0, 0, false
	}
	var totalS1, totalS2 float64
	var counted bool
	for _, a := range acts {
		if a.IsFallbackCalculation || a.CalculatedCO2eKg == nil || a.StartDate.Before(since) {
			continue
		}
		counted = true
		if a.Scope == carbon.Scope2 {
			totalS2 += *a.CalculatedCO2eKg
		} else {
			totalS1 += *a.CalculatedCO2eKg
		}
	}
	if !counted || f.SurfaceAreaM2 == nil || *f.SurfaceAreaM2 <= 0 {
		return 0, 0, false
	}
	area := *f.SurfaceAreaM2
	return totalS1 / area, totalS2 / area, true
}
