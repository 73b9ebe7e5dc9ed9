package reporting

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	core "github.com/carbonledger/platform/internal/app/core/service"
	"github.com/carbonledger/platform/internal/app/domain/carbon"
	"github.com/carbonledger/platform/internal/app/metrics"
	"github.com/carbonledger/platform/internal/app/services/calculation"
	"github.com/carbonledger/platform/internal/app/storage"
)

const (
	discountRate       = 0.15
	generalHorizonYrs  = 5
	solarHorizonYrs    = 25
	maxPaybackMonths   = 999
)

// Measure is one catalogue entry: a retrofit/upgrade the ROI engine can
// cost out for a facility.
type Measure struct {
	Key                string
	SavingsPercentage  float64 // fraction of the relevant consumption avoided
	CostPerUnit        float64 // TL per the measure's sizing unit
	Unit               string  // "kw_peak", "m2_wall", "kwp", "fixed"
	IsSolar            bool
}

// Catalogue is the fixed set of measures the ROI engine evaluates for every
// facility, in the platform's authoritative cost/savings table.
var Catalogue = []Measure{
	{Key: "lighting_upgrade", SavingsPercentage: 0.30, CostPerUnit: 500, Unit: "kw_peak"},
	{Key: "hvac_optimization", SavingsPercentage: 0.25, CostPerUnit: 1200, Unit: "kw_peak"},
	{Key: "insulation_improvement", SavingsPercentage: 0.20, CostPerUnit: 150, Unit: "m2_wall"},
	{Key: "solar_panel", SavingsPercentage: 0.40, CostPerUnit: 8000, Unit: "kwp", IsSolar: true},
	{Key: "energy_management", SavingsPercentage: 0.15, CostPerUnit: 50000, Unit: "fixed"},
	{Key: "process_optimization", SavingsPercentage: 0.18, CostPerUnit: 100000, Unit: "fixed"},
}

// MeasureResult is one catalogue entry costed out for a single facility.
type MeasureResult struct {
	Measure             string  `json:"measure"`
	AnnualSavingsTRY    float64 `json:"annual_savings_try"`
	InvestmentTRY       float64 `json:"investment_try"`
	PaybackMonths       float64 `json:"payback_months"`
	NPVTRY              float64 `json:"npv_try"`
	IRRPercent          float64 `json:"irr_percent"`
	CO2ReductionKgYear  float64 `json:"co2_reduction_kg_year"`
}

// FacilityROI is the ranked ROI result for one facility.
type FacilityROI struct {
	FacilityID string          `json:"facility_id"`
	Measures   []MeasureResult `json:"measures"`
	Top3       []MeasureResult `json:"top_3"`
}

// PortfolioROI aggregates every facility in a company.
type PortfolioROI struct {
	Facilities          []FacilityROI `json:"facilities"`
	TotalInvestmentTRY  float64       `json:"total_investment_try"`
	TotalAnnualSavingsTRY float64     `json:"total_annual_savings_try"`
	TotalCO2ReductionKgYear float64   `json:"total_co2_reduction_kg_year"`
}

// facilityConsumption is the last-12-months aggregate used to size measures.
type facilityConsumption struct {
	ElectricityKWh     float64
	ElectricityCostTRY float64
	GasM3              float64
	GasCostTRY         float64
	PeakKW             float64
	WallAreaM2         float64
	CO2eKg             float64
}

// GenerateROI computes the ranked ROI analysis for every facility in a
// company from the trailing twelve months of activity data.
func GenerateROI(ctx context.Context, facilities storage.FacilityStore, activities storage.ActivityStore, financials storage.CompanyStore, companyID string) (PortfolioROI, error) {
	finish := core.StartObservation(ctx, metrics.ROIReportHooks(), map[string]string{"company_id": companyID})
	portfolio, err := generateROI(ctx, facilities, activities, financials, companyID)
	finish(err)
	return portfolio, err
}

func generateROI(ctx context.Context, facilities storage.FacilityStore, activities storage.ActivityStore, financials storage.CompanyStore, companyID string) (PortfolioROI, error) {
	list, err := facilities.ListFacilities(ctx, companyID)
	if err != nil {
		return PortfolioROI{}, fmt.Errorf("list facilities: %w", err)
	}

	fin, err := financials.GetFinancials(ctx, companyID)
	if err != nil {
		fin = carbon.CompanyFinancials{CompanyID: companyID}
	}

	since := time.Now().UTC().AddDate(0, -12, 0)
	until := time.Now().UTC()

	var portfolio PortfolioROI
	for _, f := range list {
		acts, err := activities.ListActivitiesByFacility(ctx, f.ID, "", since, until)
		if err != nil {
			return PortfolioROI{}, fmt.Errorf("list activities for facility %s: %w", f.ID, err)
		}
		consumption := aggregateConsumption(acts, f, fin)
		result := costOutFacility(f.ID, consumption)
		portfolio.Facilities = append(portfolio.Facilities, result)
		for _, m := range result.Measures {
			portfolio.TotalInvestmentTRY += m.InvestmentTRY
			portfolio.TotalAnnualSavingsTRY += m.AnnualSavingsTRY
			portfolio.TotalCO2ReductionKgYear += m.CO2ReductionKgYear
		}
	}
	return portfolio, nil
}

func aggregateConsumption(acts []carbon.ActivityData, f carbon.Facility, fin carbon.CompanyFinancials) facilityConsumption {
	var c facilityConsumption
	elecCost := 0.475 // TRY/kWh equivalent fallback if no financials set
	if fin.AvgElectricityCostKWh != nil {
		elecCost = *fin.AvgElectricityCostKWh
	}
	gasCost := 5.0
	if fin.AvgGasCostM3 != nil {
		gasCost = *fin.AvgGasCostM3
	}

	for _, a := range acts {
		if a.IsSimulation {
			continue
		}
		switch a.ActivityType {
		case carbon.ActivityElectricity:
			c.ElectricityKWh += a.Quantity
			c.ElectricityCostTRY += a.Quantity * elecCost
		case carbon.ActivityNaturalGas:
			c.GasM3 += a.Quantity
			c.GasCostTRY += a.Quantity * gasCost
		}
		if a.CalculatedCO2eKg != nil {
			c.CO2eKg += *a.CalculatedCO2eKg
		}
	}

	c.PeakKW = c.ElectricityKWh / (365 * 24) * 4 // crude load-factor-4 peak estimate
	if f.SurfaceAreaM2 != nil {
		c.WallAreaM2 = *f.SurfaceAreaM2 * 0.6 // wall area approximated from footprint
	}
	return c
}

func costOutFacility(facilityID string, c facilityConsumption) FacilityROI {
	var results []MeasureResult
	for _, m := range Catalogue {
		res, ok := costMeasure(m, c)
		if !ok || res.PaybackMonths > maxPaybackMonths {
			continue
		}
		results = append(results, res)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].PaybackMonths != results[j].PaybackMonths {
			return results[i].PaybackMonths < results[j].PaybackMonths
		}
		return results[i].AnnualSavingsTRY > results[j].AnnualSavingsTRY
	})

	top3 := results
	if len(top3) > 3 {
		top3 = top3[:3]
	}

	return FacilityROI{FacilityID: facilityID, Measures: results, Top3: top3}
}

func costMeasure(m Measure, c facilityConsumption) (MeasureResult, bool) {
	var investment, annualSavings, co2Reduction float64

	switch m.Unit {
	case "kw_peak":
		if c.PeakKW <= 0 {
			return MeasureResult{}, false
		}
		investment = m.CostPerUnit * c.PeakKW
		annualSavings = c.ElectricityCostTRY * m.SavingsPercentage
		co2Reduction = c.CO2eKg * m.SavingsPercentage
	case "m2_wall":
		if c.WallAreaM2 <= 0 || c.GasCostTRY <= 0 {
			return MeasureResult{}, false
		}
		investment = m.CostPerUnit * c.WallAreaM2
		annualSavings = c.GasCostTRY * m.SavingsPercentage
		co2Reduction = c.CO2eKg * m.SavingsPercentage
	case "kwp":
		if c.ElectricityKWh <= 0 {
			return MeasureResult{}, false
		}
		kwp := c.ElectricityKWh / 1400 // rough annual-yield-per-kWp heuristic
		investment = m.CostPerUnit * kwp
		annualSavings = c.ElectricityCostTRY * m.SavingsPercentage
		co2Reduction = c.CO2eKg * m.SavingsPercentage
	case "fixed":
		if c.ElectricityCostTRY+c.GasCostTRY <= 0 {
			return MeasureResult{}, false
		}
		investment = m.CostPerUnit
		annualSavings = (c.ElectricityCostTRY + c.GasCostTRY) * m.SavingsPercentage
		co2Reduction = c.CO2eKg * m.SavingsPercentage
	default:
		return MeasureResult{}, false
	}

	if annualSavings <= 0 {
		return MeasureResult{}, false
	}

	paybackMonths := investment / annualSavings * 12

	horizon := generalHorizonYrs
	if m.IsSolar {
		horizon = solarHorizonYrs
	}
	npv := npvOf(investment, annualSavings, horizon, m.IsSolar)
	irr := simplifiedIRR(investment, annualSavings, horizon)

	return MeasureResult{
		Measure:            m.Key,
		AnnualSavingsTRY:   round2(annualSavings),
		InvestmentTRY:      round2(investment),
		PaybackMonths:      round2(paybackMonths),
		NPVTRY:             round2(npv),
		IRRPercent:         round2(irr * 100),
		CO2ReductionKgYear: round2(co2Reduction),
	}, true
}

// npvOf discounts the measure's annual savings at discountRate over the
// horizon, net of the upfront investment. Solar projects additionally model
// 0.5%/yr panel degradation and 10%/yr electricity price escalation.
func npvOf(investment, annualSavings float64, horizonYears int, solar bool) float64 {
	npv := -investment
	savings := annualSavings
	for year := 1; year <= horizonYears; year++ {
		cashflow := savings
		if solar {
			cashflow = annualSavings * math.Pow(0.995, float64(year-1)) * math.Pow(1.10, float64(year-1))
		}
		npv += cashflow / math.Pow(1+discountRate, float64(year))
	}
	return npv
}

// simplifiedIRR approximates the internal rate of return by bisection over
// a level annuity of annualSavings against the upfront investment, which is
// adequate given the measures have no intermediate cashflow variation
// outside solar's modeled escalation (folded into the NPV figure, not IRR).
func simplifiedIRR(investment, annualSavings float64, horizonYears int) float64 {
	low, high := -0.99, 5.0
	for i := 0; i < 60; i++ {
		mid := (low + high) / 2
		npv := -investment
		for year := 1; year <= horizonYears; year++ {
			npv += annualSavings / math.Pow(1+mid, float64(year))
		}
		if npv > 0 {
			low = mid
		} else {
			high = mid
		}
	}
	return (low + high) / 2
}
