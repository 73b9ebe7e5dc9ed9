// Package reporting generates the two asynchronous report types the
// platform offers: a CBAM declaration in XML, and a multi-measure ROI
// analysis. Both run as background jobs tracked through storage.Report and
// clean themselves up once expired.
package reporting

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"time"

	core "github.com/carbonledger/platform/internal/app/core/service"
	"github.com/carbonledger/platform/internal/app/domain/carbon"
	"github.com/carbonledger/platform/internal/app/metrics"
	"github.com/carbonledger/platform/internal/app/storage"
)

// productCodes maps the CBAM-regulated sectors onto their CN commodity
// codes, mirroring the regulator's own product-code table.
var productCodes = map[string]string{
	"electricity": "2716000000",
	"cement":      "2523",
	"iron_steel":  "72",
	"aluminium":   "76",
	"fertilizers": "31",
	"hydrogen":    "2804100000",
}

// industrySector maps the platform's own industry classification onto the
// CBAM sector vocabulary. The platform does not model per-facility product
// lines, so every facility in a company reports under the sector its
// parent company's industry most closely maps to; anything that doesn't
// map to a regulated sector reports "OTHER".
var industrySector = map[carbon.IndustryType]string{
	carbon.IndustryManufacturing: "iron_steel",
}

// productCodeFor resolves the CN product code a company's facilities
// declare under, defaulting to "OTHER" when the company's industry isn't
// one of the CBAM-regulated sectors.
func productCodeFor(industry carbon.IndustryType) string {
	sector, ok := industrySector[industry]
	if !ok {
		return "OTHER"
	}
	code, ok := productCodes[sector]
	if !ok {
		return "OTHER"
	}
	return code
}

// cbamNamespace is fixed by the regulatory schema; never changes per tenant.
const cbamNamespace = "urn:eu:cbam:report:v1"

// CBAM XML document structure.

type cbamReport struct {
	XMLName      xml.Name          `xml:"urn:eu:cbam:report:v1 CBAMReport"`
	Header       cbamHeader        `xml:"ReportHeader"`
	Declarant    cbamDeclarant     `xml:"Declarant"`
	Installations []cbamInstallation `xml:"Installations>Installation"`
	ImportedGoods []cbamImportedGood `xml:"ImportedGoods>ImportedGood"`
	Summary      cbamSummary       `xml:"Summary"`
	Verification cbamVerification  `xml:"Verification"`
}

type cbamHeader struct {
	ReportID    string `xml:"ReportID"`
	PeriodStart string `xml:"PeriodStart"`
	PeriodEnd   string `xml:"PeriodEnd"`
	GeneratedAt string `xml:"GeneratedAt"`
}

type cbamDeclarant struct {
	CompanyName  string `xml:"CompanyName"`
	TaxNumber    string `xml:"TaxNumber"`
	Country      string `xml:"Country"`
	ContactEmail string `xml:"ContactEmail"`
}

type cbamInstallation struct {
	FacilityID             string  `xml:"FacilityID"`
	FacilityName           string  `xml:"FacilityName"`
	City                   string  `xml:"City"`
	ProductCode            string  `xml:"ProductCode"`
	ElectricityImports      bool    `xml:"ElectricityImports"`
	DirectEmissionsTCO2e   float64 `xml:"DirectEmissionsTCO2e"`
	IndirectEmissionsTCO2e float64 `xml:"IndirectEmissionsTCO2e"`
	FactorProvenance       string  `xml:"FactorProvenance,omitempty"`
}

// cbamImportedGood is always emitted as an empty-but-schema-valid block:
// the platform does not yet track imported-goods declarations.
type cbamImportedGood struct {
	CNCode   string  `xml:"CNCode,omitempty"`
	Quantity float64 `xml:"Quantity,omitempty"`
}

type cbamSummary struct {
	TotalDirectEmissionsTCO2e   float64 `xml:"TotalDirectEmissionsTCO2e"`
	TotalIndirectEmissionsTCO2e float64 `xml:"TotalIndirectEmissionsTCO2e"`
	TotalEmissionsTCO2e         float64 `xml:"TotalEmissionsTCO2e"`
}

// cbamVerification is always PENDING: third-party verification is outside
// the platform's scope and happens after export.
type cbamVerification struct {
	Status string `xml:"Status"`
}

// GenerateCBAM renders the CBAM declaration for a company's facilities over
// [start,end], writes it to reportDir, and returns the populated Report
// ready to persist. users resolves the company's owner email for the
// declarant contact block; a lookup failure falls back to a placeholder
// rather than failing the whole report.
func GenerateCBAM(ctx context.Context, facilities storage.FacilityStore, activities storage.ActivityStore, users storage.UserStore, company carbon.Company, start, end time.Time, reportDir string) (carbon.Report, error) {
	finish := core.StartObservation(ctx, metrics.CBAMReportHooks(), map[string]string{"company_id": company.ID})
	report, err := generateCBAM(ctx, facilities, activities, users, company, start, end, reportDir)
	finish(err)
	return report, err
}

func generateCBAM(ctx context.Context, facilities storage.FacilityStore, activities storage.ActivityStore, users storage.UserStore, company carbon.Company, start, end time.Time, reportDir string) (carbon.Report, error) {
	list, err := facilities.ListFacilities(ctx, company.ID)
	if err != nil {
		return carbon.Report{}, fmt.Errorf("list facilities: %w", err)
	}

	ownerEmail := "info@example.com"
	if company.OwnerUserID != "" && users != nil {
		if owner, err := users.GetUser(ctx, company.OwnerUserID); err == nil {
			ownerEmail = owner.Email
		}
	}
	country := company.Country
	if country == "" {
		country = "TR"
	}

	doc := cbamReport{
		Header: cbamHeader{
			ReportID:    fmt.Sprintf("cbam-%s-%d", company.ID, time.Now().UTC().Unix()),
			PeriodStart: start.Format("2006-01-02"),
			PeriodEnd:   end.Format("2006-01-02"),
			GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		},
		Declarant: cbamDeclarant{
			CompanyName:  company.Name,
			TaxNumber:    company.TaxNumber,
			Country:      country,
			ContactEmail: ownerEmail,
		},
		ImportedGoods: []cbamImportedGood{},
		Verification: cbamVerification{Status: "PENDING"},
	}

	productCode := productCodeFor(company.IndustryType)
	var totalDirect, totalIndirect float64
	for _, f := range list {
		acts, err := activities.ListActivitiesForCompany(ctx, company.ID, start, end)
		if err != nil {
			return carbon.Report{}, fmt.Errorf("list activities: %w", err)
		}
		var direct, indirect float64
		var provenance string
		for _, a := range acts {
			if a.FacilityID != f.ID || a.CalculatedCO2eKg == nil {
				continue
			}
			tco2e := *a.CalculatedCO2eKg / 1000
			if a.Scope == carbon.Scope2 {
				indirect += tco2e
			} else {
				direct += tco2e
			}
			if provenance == "" {
				provenance = a.FactorProvenance
			}
		}
		doc.Installations = append(doc.Installations, cbamInstallation{
			FacilityID:             f.ID,
			FacilityName:           f.Name,
			City:                   f.City,
			ProductCode:            productCode,
			ElectricityImports:     false,
			DirectEmissionsTCO2e:   round2(direct),
			IndirectEmissionsTCO2e: round2(indirect),
			FactorProvenance:       provenance,
		})
		totalDirect += direct
		totalIndirect += indirect
	}
	doc.Summary = cbamSummary{
		TotalDirectEmissionsTCO2e:   round2(totalDirect),
		TotalIndirectEmissionsTCO2e: round2(totalIndirect),
		TotalEmissionsTCO2e:         round2(totalDirect + totalIndirect),
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return carbon.Report{}, fmt.Errorf("marshal cbam xml: %w", err)
	}
	out = append([]byte(xml.Header), out...)

	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return carbon.Report{}, fmt.Errorf("create report dir: %w", err)
	}
	filename := fmt.Sprintf("%s.xml", doc.Header.ReportID)
	fullPath := filepath.Join(reportDir, filename)
	if err := os.WriteFile(fullPath, out, 0o644); err != nil {
		return carbon.Report{}, fmt.Errorf("write cbam file: %w", err)
	}

	now := time.Now().UTC()
	expires := now.Add(7 * 24 * time.Hour)
	total := doc.Summary.TotalEmissionsTCO2e
	return carbon.Report{
		CompanyID:           company.ID,
		ReportType:          carbon.ReportCBAMXML,
		StartDate:           start,
		EndDate:             end,
		Status:              carbon.ReportStatusCompleted,
		FilePath:            fullPath,
		FileSizeBytes:       int64(len(out)),
		TotalEmissionsTCO2e: &total,
		CompletedAt:         &now,
		ExpiresAt:           &expires,
	}, nil
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
