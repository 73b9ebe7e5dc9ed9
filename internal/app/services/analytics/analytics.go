// Package analytics runs the periodic background jobs that keep the
// platform's comparative statistics fresh: an industry-wide electricity
// benchmark, daily per-facility anomaly detection, and a supplier
// product-category emissions-factor benchmark. All three are recomputed ahead
// of time rather than on read, so a benchmark lookup never blocks on a full
// table scan. The application schedules the industry benchmark (weekly) and
// anomaly detection (daily); the category benchmark is recomputed only when
// RefreshSupplierCategoryBenchmarks is called.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	core "github.com/carbonledger/platform/internal/app/core/service"
	"github.com/carbonledger/platform/internal/app/domain/carbon"
	"github.com/carbonledger/platform/internal/app/metrics"
	"github.com/carbonledger/platform/internal/app/services/notification"
	"github.com/carbonledger/platform/internal/app/storage"
	"github.com/carbonledger/platform/pkg/logger"
)

// anomalyThreshold is the fractional deviation from the 30-day mean that
// triggers an anomaly notification.
const anomalyThreshold = 0.20

// IndustryBenchmark is the cached statistic for one industry.
type IndustryBenchmark struct {
	Industry        carbon.IndustryType
	MeanKWh         float64
	P20KWh          float64
	SampleCompanies int
	ComputedAt      time.Time
}

// CategoryBenchmark is the cached statistic for one supplier product category.
type CategoryBenchmark struct {
	Category   string
	MeanKg     float64
	MedianKg   float64
	P25Kg      float64
	SampleSize int
	ComputedAt time.Time
}

// Service owns the recomputation jobs and the resulting read-through cache.
type Service struct {
	companies  storage.CompanyStore
	facilities storage.FacilityStore
	activities storage.ActivityStore
	suppliers  storage.SupplierStore
	notifier   *notification.Service
	log        *logger.Logger

	mu         sync.RWMutex
	industry   map[carbon.IndustryType]IndustryBenchmark
	categories map[string]CategoryBenchmark
}

// New builds the analytics service.
func New(companies storage.CompanyStore, facilities storage.FacilityStore, activities storage.ActivityStore, suppliers storage.SupplierStore, notifier *notification.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("analytics")
	}
	return &Service{
		companies: companies, facilities: facilities, activities: activities, suppliers: suppliers,
		notifier:   notifier,
		log:        log,
		industry:   make(map[carbon.IndustryType]IndustryBenchmark),
		categories: make(map[string]CategoryBenchmark),
	}
}

var allIndustries = []carbon.IndustryType{
	carbon.IndustryManufacturing, carbon.IndustryServices, carbon.IndustryRetail, carbon.IndustryOther,
}

// RefreshIndustryBenchmarks recomputes the mean and 20th-percentile
// electricity consumption over the last 30 days for every industry, across
// non-simulation activity data. Intended to run weekly.
func (s *Service) RefreshIndustryBenchmarks(ctx context.Context) error {
	finish := core.StartObservation(ctx, metrics.BenchmarkRefreshHooks(), map[string]string{"resource": "industry_benchmarks"})
	err := s.refreshIndustryBenchmarks(ctx)
	finish(err)
	return err
}

func (s *Service) refreshIndustryBenchmarks(ctx context.Context) error {
	since := time.Now().UTC().AddDate(0, 0, -30)
	until := time.Now().UTC()

	for _, industry := range allIndustries {
		companies, err := s.companies.ListCompaniesByIndustry(ctx, industry)
		if err != nil {
			return fmt.Errorf("list companies for industry %s: %w", industry, err)
		}

		var samples []float64
		for _, c := range companies {
			acts, err := s.activities.ListActivitiesForCompany(ctx, c.ID, since, until)
			if err != nil {
				return fmt.Errorf("list activities for company %s: %w", c.ID, err)
			}
			var total float64
			var any bool
			for _, a := range acts {
				if a.IsSimulation || a.ActivityType != carbon.ActivityElectricity {
					continue
				}
				total += a.Quantity
				any = true
			}
			if any {
				samples = append(samples, total)
			}
		}

		if len(samples) == 0 {
			continue
		}
		sort.Float64s(samples)
		bench := IndustryBenchmark{
			Industry:        industry,
			MeanKWh:         mean(samples),
			P20KWh:          percentile(samples, 0.20),
			SampleCompanies: len(samples),
			ComputedAt:      time.Now().UTC(),
		}
		s.mu.Lock()
		s.industry[industry] = bench
		s.mu.Unlock()
	}
	return nil
}

// IndustryBenchmarkFor returns the cached benchmark for an industry, if any
// has been computed yet.
func (s *Service) IndustryBenchmarkFor(industry carbon.IndustryType) (IndustryBenchmark, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.industry[industry]
	return b, ok
}

// DetectAnomalies compares each facility's last-day electricity consumption
// against its trailing 30-day mean and notifies the facility's company
// owner when the deviation exceeds anomalyThreshold. Intended to run daily.
func (s *Service) DetectAnomalies(ctx context.Context) error {
	finish := core.StartObservation(ctx, metrics.AnomalyDetectionHooks(), map[string]string{"resource": "daily_sweep"})
	err := s.detectAnomalies(ctx)
	finish(err)
	return err
}

func (s *Service) detectAnomalies(ctx context.Context) error {
	now := time.Now().UTC()
	recentSince := now.AddDate(0, 0, -1)
	baselineSince := now.AddDate(0, 0, -30)

	for _, industry := range allIndustries {
		companies, err := s.companies.ListCompaniesByIndustry(ctx, industry)
		if err != nil {
			return fmt.Errorf("list companies: %w", err)
		}
		for _, c := range companies {
			facilities, err := s.facilities.ListFacilities(ctx, c.ID)
			if err != nil {
				return fmt.Errorf("list facilities for company %s: %w", c.ID, err)
			}
			for _, f := range facilities {
				s.checkFacility(ctx, c, f, baselineSince, recentSince, now)
			}
		}
	}
	return nil
}

func (s *Service) checkFacility(ctx context.Context, c carbon.Company, f carbon.Facility, baselineSince, recentSince, now time.Time) {
	baseline, err := s.activities.ListActivitiesByFacility(ctx, f.ID, carbon.ActivityElectricity, baselineSince, recentSince)
	if err != nil || len(baseline) == 0 {
		return
	}
	var baselineTotal float64
	for _, a := range baseline {
		baselineTotal += a.Quantity
	}
	baselineMean := baselineTotal / 30

	recent, err := s.activities.ListActivitiesByFacility(ctx, f.ID, carbon.ActivityElectricity, recentSince, now)
	if err != nil || len(recent) == 0 {
		return
	}
	var recentTotal float64
	for _, a := range recent {
		recentTotal += a.Quantity
	}

	if baselineMean <= 0 {
		return
	}
	deviation := (recentTotal - baselineMean) / baselineMean
	if deviation < anomalyThreshold && deviation > -anomalyThreshold {
		return
	}

	if s.notifier == nil {
		return
	}
	_, err = s.notifier.Notify(ctx, carbon.Notification{
		UserID:           c.OwnerUserID,
		NotificationType: notification.TypeAnomalyDetected,
		Title:            "Unusual electricity consumption detected",
		Message:          fmt.Sprintf("%s consumed %.0f kWh yesterday, %.0f%% away from its 30-day average of %.0f kWh.", f.Name, recentTotal, deviation*100, baselineMean),
		CompanyID:        c.ID,
		FacilityID:       f.ID,
	}, "")
	if err != nil {
		s.log.WithError(err).WithField("facility_id", f.ID).Warn("anomaly notification failed")
	}
}

// RefreshSupplierCategoryBenchmarks recomputes the mean/median/25th
// percentile emissions factor per product category across every supplier
// footprint with a positive co2e_per_unit_kg.
func (s *Service) RefreshSupplierCategoryBenchmarks(ctx context.Context, categories []string) error {
	for _, category := range categories {
		footprints, err := s.suppliers.ListProductFootprintsByCategory(ctx, category, carbon.VerificationSelfDeclared)
		if err != nil {
			return fmt.Errorf("list product footprints for category %s: %w", category, err)
		}
		var samples []float64
		for _, f := range footprints {
			if f.CO2ePerUnitKg > 0 {
				samples = append(samples, f.CO2ePerUnitKg)
			}
		}
		if len(samples) == 0 {
			continue
		}
		sort.Float64s(samples)
		bench := CategoryBenchmark{
			Category:   category,
			MeanKg:     mean(samples),
			MedianKg:   percentile(samples, 0.50),
			P25Kg:      percentile(samples, 0.25),
			SampleSize: len(samples),
			ComputedAt: time.Now().UTC(),
		}
		s.mu.Lock()
		s.categories[category] = bench
		s.mu.Unlock()
	}
	return nil
}

// CategoryBenchmarkFor returns the cached benchmark for a product category.
func (s *Service) CategoryBenchmarkFor(category string) (CategoryBenchmark, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.categories[category]
	return b, ok
}

func mean(samples []float64) float64 {
	var total float64
	for _, v := range samples {
		total += v
	}
	return total / float64(len(samples))
}

// percentile assumes samples is already sorted ascending and interpolates
// linearly between the two nearest ranks.
func percentile(samples []float64, p float64) float64 {
	if len(samples) == 1 {
		return samples[0]
	}
	rank := p * float64(len(samples)-1)
	lower := int(rank)
	upper := lower + 1
	if upper >= len(samples) {
		return samples[len(samples)-1]
	}
	frac := rank - float64(lower)
	return samples[lower] + (samples[upper]-samples[lower])*frac
}
