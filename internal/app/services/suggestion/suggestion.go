// Package suggestion implements the facility-specific investment
// suggestion engine: a small registry of strategies, each deciding for
// itself whether it applies to a given facility's history before costing
// itself out.
package suggestion

import (
	"context"
	"fmt"
	"time"

	"github.com/carbonledger/platform/internal/app/domain/carbon"
	"github.com/carbonledger/platform/internal/app/storage"
)

// Suggestion is one strategy's costed recommendation for a facility.
type Suggestion struct {
	Strategy         string  `json:"strategy"`
	FacilityID       string  `json:"facility_id"`
	Reason           string  `json:"reason,omitempty"`
	InvestmentTRY    float64 `json:"investment_try"`
	AnnualSavingsTRY float64 `json:"annual_savings_try"`
	PaybackYears     float64 `json:"payback_years"`
}

// Strategy is a pluggable recommendation generator.
type Strategy interface {
	Name() string
	IsApplicable(ctx context.Context, deps Deps, facility carbon.Facility) (bool, string)
	Generate(ctx context.Context, deps Deps, facility carbon.Facility) (Suggestion, bool, error)
}

// Deps bundles the storage/parameter access every strategy needs, so adding
// a strategy never changes the registry's constructor signature.
type Deps struct {
	Activities storage.ActivityStore
	Financials storage.CompanyStore
	Parameters storage.ParameterStore
}

// Engine runs every registered strategy against a facility.
type Engine struct {
	deps       Deps
	strategies []Strategy
}

// New builds the suggestion engine with the platform's strategy set.
func New(deps Deps) *Engine {
	return &Engine{
		deps: deps,
		strategies: []Strategy{
			SolarStrategy{},
			InsulationStrategy{},
		},
	}
}

// Generate runs every strategy and returns only the suggestions each
// strategy decided to emit.
func (e *Engine) Generate(ctx context.Context, facility carbon.Facility) ([]Suggestion, error) {
	var out []Suggestion
	for _, strat := range e.strategies {
		ok, _ := strat.IsApplicable(ctx, e.deps, facility)
		if !ok {
			continue
		}
		s, emit, err := strat.Generate(ctx, e.deps, facility)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", strat.Name(), err)
		}
		if emit {
			out = append(out, s)
		}
	}
	return out, nil
}

func parameterOrDefault(ctx context.Context, params storage.ParameterStore, key string, def float64) float64 {
	p, err := params.GetParameter(ctx, key)
	if err != nil {
		return def
	}
	return p.Value
}

func monthsOfHistory(acts []carbon.ActivityData) float64 {
	if len(acts) == 0 {
		return 0
	}
	earliest := acts[0].StartDate
	latest := acts[0].EndDate
	for _, a := range acts[1:] {
		if a.StartDate.Before(earliest) {
			earliest = a.StartDate
		}
		if a.EndDate.After(latest) {
			latest = a.EndDate
		}
	}
	return latest.Sub(earliest).Hours() / 24 / 30
}

// SolarStrategy recommends rooftop solar (GES) for production/warehouse
// facilities with enough electricity history to size the system, skipping
// facilities whose annual consumption is too low to justify it.
type SolarStrategy struct{}

func (SolarStrategy) Name() string { return "solar_ges" }

func (SolarStrategy) IsApplicable(ctx context.Context, deps Deps, facility carbon.Facility) (bool, string) {
	if facility.FacilityType != carbon.FacilityProduction && facility.FacilityType != carbon.FacilityWarehouse {
		return false, "facility type not eligible for solar"
	}
	since := time.Now().UTC().AddDate(0, -9, 0)
	until := time.Now().UTC()
	acts, err := deps.Activities.ListActivitiesByFacility(ctx, facility.ID, carbon.ActivityElectricity, since, until)
	if err != nil || monthsOfHistory(acts) < 9 {
		return false, "insufficient electricity history"
	}
	return true, ""
}

func (s SolarStrategy) Generate(ctx context.Context, deps Deps, facility carbon.Facility) (Suggestion, bool, error) {
	since := time.Now().UTC().AddDate(-1, 0, 0)
	until := time.Now().UTC()
	acts, err := deps.Activities.ListActivitiesByFacility(ctx, facility.ID, carbon.ActivityElectricity, since, until)
	if err != nil {
		return Suggestion{}, false, err
	}
	var annualKWh float64
	for _, a := range acts {
		annualKWh += a.Quantity
	}
	if annualKWh < 10000 {
		return Suggestion{Strategy: s.Name(), FacilityID: facility.ID, Reason: "low_consumption"}, false, nil
	}

	costPerKWp := parameterOrDefault(ctx, deps.Parameters, "ges_estimated_cost_per_kwp", 8000)
	yieldPerKWp := parameterOrDefault(ctx, deps.Parameters, "ges_annual_yield_per_kwp", 1400)
	elecCost := parameterOrDefault(ctx, deps.Parameters, "ges_electricity_price_try_per_kwh", 0.475)
	cityFactor := parameterOrDefault(ctx, deps.Parameters, "city_factor_"+normaliseCityKey(facility.City), 1.0)
	maxROIYears := parameterOrDefault(ctx, deps.Parameters, "ges_max_roi_years", 10)

	kWp := annualKWh / yieldPerKWp * cityFactor
	investment := kWp * costPerKWp
	annualSavings := annualKWh * elecCost
	if annualSavings <= 0 {
		return Suggestion{}, false, nil
	}
	paybackYears := investment / annualSavings

	if paybackYears > maxROIYears {
		return Suggestion{}, false, nil
	}

	return Suggestion{
		Strategy:         s.Name(),
		FacilityID:       facility.ID,
		InvestmentTRY:    round2(investment),
		AnnualSavingsTRY: round2(annualSavings),
		PaybackYears:     round2(paybackYears),
	}, true, nil
}

// InsulationStrategy recommends building-envelope insulation for office
// facilities with natural-gas heating history and a known surface area.
type InsulationStrategy struct{}

func (InsulationStrategy) Name() string { return "insulation" }

func (InsulationStrategy) IsApplicable(ctx context.Context, deps Deps, facility carbon.Facility) (bool, string) {
	if facility.FacilityType != carbon.FacilityOffice {
		return false, "facility type not eligible for insulation"
	}
	if facility.SurfaceAreaM2 == nil || *facility.SurfaceAreaM2 <= 0 {
		return false, "no recorded surface area"
	}
	since := time.Now().UTC().AddDate(0, -6, 0)
	until := time.Now().UTC()
	acts, err := deps.Activities.ListActivitiesByFacility(ctx, facility.ID, carbon.ActivityNaturalGas, since, until)
	if err != nil || monthsOfHistory(acts) < 6 {
		return false, "insufficient gas history"
	}
	return true, ""
}

func (s InsulationStrategy) Generate(ctx context.Context, deps Deps, facility carbon.Facility) (Suggestion, bool, error) {
	since := time.Now().UTC().AddDate(-1, 0, 0)
	until := time.Now().UTC()
	acts, err := deps.Activities.ListActivitiesByFacility(ctx, facility.ID, carbon.ActivityNaturalGas, since, until)
	if err != nil {
		return Suggestion{}, false, err
	}
	var annualGasCost float64
	gasPrice := parameterOrDefault(ctx, deps.Parameters, "insulation_gas_price_try_per_m3", 5.0)
	for _, a := range acts {
		annualGasCost += a.Quantity * gasPrice
	}
	if annualGasCost <= 0 {
		return Suggestion{}, false, nil
	}

	costPerM2 := parameterOrDefault(ctx, deps.Parameters, "insulation_estimated_cost_per_m2", 150)
	savingsPct := parameterOrDefault(ctx, deps.Parameters, "insulation_savings_percentage", 0.20)
	maxROIYears := parameterOrDefault(ctx, deps.Parameters, "insulation_max_roi_years", 12)

	investment := *facility.SurfaceAreaM2 * costPerM2
	annualSavings := annualGasCost * savingsPct
	if annualSavings <= 0 {
		return Suggestion{}, false, nil
	}
	paybackYears := investment / annualSavings

	if paybackYears > maxROIYears {
		return Suggestion{}, false, nil
	}

	return Suggestion{
		Strategy:         s.Name(),
		FacilityID:       facility.ID,
		InvestmentTRY:    round2(investment),
		AnnualSavingsTRY: round2(annualSavings),
		PaybackYears:     round2(paybackYears),
	}, true, nil
}

func normaliseCityKey(city string) string {
	out := make([]rune, 0, len(city))
	for _, r := range city {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+32)
		case r == ' ':
			out = append(out, '_')
		}
	}
	return string(out)
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
