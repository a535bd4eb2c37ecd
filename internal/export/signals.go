package export

import (
	"encoding/csv"
	"fmt"
	"os"

	"divergence-scanner-go/internal/models"
)

// naMarker is the explicit not-available marker for missing numeric values.
// It must never be replaced by zero.
const naMarker = "N/A"

func fmtFloat(v *float64, format string) string {
	if v == nil {
		return naMarker
	}
	return fmt.Sprintf(format, *v)
}

func fmtFundingPct(v *float64) string {
	if v == nil {
		return naMarker
	}
	return fmt.Sprintf("%.4f%%", *v*100)
}

// WriteSignalsCSV writes the stage-1 signal set of one run to a flat CSV:
// crowd-short and crowd-long sections, funding-confirmed rows first within
// each section. Signals arrive pre-sorted by open interest.
func WriteSignalsCSV(path string, signals []models.Signal, fundingConfirmPct float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create signals csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{
		"Symbol", "Setup", "OI (USDT)",
		"Crowd Long %", "Crowd Short %",
		"Top Acc Long %", "Top Acc Short %",
		"Top Pos Long %", "Top Pos Short %",
		"Funding Rate", "Current Price", "Volume 24h", "Volume 2h",
		"Funding Confirms",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write signals csv header: %w", err)
	}

	sections := []struct {
		title string
		setup string
	}{
		{"=== CROWD SHORT / TOP TRADERS LONG ===", models.SetupCrowdShortTopLong},
		{"=== CROWD LONG / TOP TRADERS SHORT ===", models.SetupCrowdLongTopShort},
	}

	for _, section := range sections {
		var confirmed, regular []models.Signal
		for _, sig := range signals {
			if sig.Setup != section.setup {
				continue
			}
			if sig.FundingConfirms(fundingConfirmPct) {
				confirmed = append(confirmed, sig)
			} else {
				regular = append(regular, sig)
			}
		}
		if len(confirmed)+len(regular) == 0 {
			continue
		}

		if err := w.Write([]string{section.title}); err != nil {
			return fmt.Errorf("failed to write section header: %w", err)
		}
		for _, sig := range append(confirmed, regular...) {
			row := signalRow(&sig, fundingConfirmPct)
			if err := w.Write(row); err != nil {
				return fmt.Errorf("failed to write signal row: %w", err)
			}
		}
	}
	return nil
}

func signalRow(sig *models.Signal, fundingConfirmPct float64) []string {
	confirms := ""
	if sig.FundingConfirms(fundingConfirmPct) {
		confirms = "YES"
	}
	return []string{
		sig.Symbol,
		sig.Setup,
		fmt.Sprintf("%.0f", sig.OpenInterestUSDT),
		fmt.Sprintf("%.1f", sig.CrowdLongPct),
		fmt.Sprintf("%.1f", sig.CrowdShortPct),
		fmt.Sprintf("%.1f", sig.TopAccountLongPct),
		fmt.Sprintf("%.1f", sig.TopAccountShortPct),
		fmt.Sprintf("%.1f", sig.TopPositionLongPct),
		fmt.Sprintf("%.1f", sig.TopPositionShortPct),
		fmtFundingPct(sig.FundingRate),
		fmtFloat(sig.CurrentPrice, "%.4f"),
		fmtFloat(sig.Volume24h, "%.0f"),
		fmtFloat(sig.Volume2h, "%.0f"),
		confirms,
	}
}
