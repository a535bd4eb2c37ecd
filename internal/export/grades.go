package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"divergence-scanner-go/internal/grader"
	"github.com/olekukonko/tablewriter"
)

func fmtInt(v *int) string {
	if v == nil {
		return naMarker
	}
	return strconv.Itoa(*v)
}

// sortReports orders reports best grade first, then largest open interest.
func sortReports(reports []*grader.GradeReport) []*grader.GradeReport {
	sorted := make([]*grader.GradeReport, len(reports))
	copy(sorted, reports)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].FinalGrade != sorted[j].FinalGrade {
			return sorted[i].FinalGrade < sorted[j].FinalGrade
		}
		return sorted[i].OpenInterestUSDT > sorted[j].OpenInterestUSDT
	})
	return sorted
}

// WriteGradesCSV writes one row per grade report, in the export contract's
// column order. Missing numerics stay N/A, never zero.
func WriteGradesCSV(path string, reports []*grader.GradeReport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create grades csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{
		"Symbol", "Setup", "OI (USDT)",
		"Volatility %", "Vol Grade",
		"Spread %", "Imbalance %", "OB Grade",
		"OI Grade",
		"Heavy Downs %", "Max Cons Down", "Drawdown Grade", "Stop Hunt Risk",
		"Final Grade", "Risk Level",
		"Funding Rate", "Price", "24h Vol", "2h Vol",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write grades csv header: %w", err)
	}

	for _, r := range sortReports(reports) {
		row := []string{
			r.Symbol,
			r.Setup,
			fmt.Sprintf("%.0f", r.OpenInterestUSDT),
			fmtFloat(r.VolatilityPct, "%.2f"),
			string(r.VolGrade),
			fmtFloat(r.SpreadPct, "%.4f"),
			fmtFloat(r.ImbalancePct, "%.1f"),
			string(r.OBGrade),
			string(r.OIGrade),
			fmtFloat(r.HeavyDownPct, "%.1f"),
			fmtInt(r.MaxConsecutiveDown),
			string(r.DrawdownGrade),
			string(r.StopHuntRisk),
			string(r.FinalGrade),
			string(r.RiskLevel),
			fmtFundingPct(r.FundingRate),
			fmtFloat(r.CurrentPrice, "%.4f"),
			fmtFloat(r.Volume24h, "%.0f"),
			fmtFloat(r.Volume2h, "%.0f"),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write grades csv row: %w", err)
		}
	}
	return nil
}

// gradesDocument is the JSON export shape, keyed by symbol.
type gradesDocument struct {
	Generated  string                         `json:"generated"`
	TotalCoins int                            `json:"total_coins"`
	Coins      map[string]*grader.GradeReport `json:"coins"`
}

// WriteGradesJSON writes the full grade reports as an inspectable JSON
// document keyed by symbol.
func WriteGradesJSON(path string, reports []*grader.GradeReport) error {
	doc := gradesDocument{
		Generated:  time.Now().Format(time.RFC3339),
		TotalCoins: len(reports),
		Coins:      make(map[string]*grader.GradeReport, len(reports)),
	}
	for _, r := range reports {
		doc.Coins[r.Symbol] = r
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create grades json: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode grades json: %w", err)
	}
	return nil
}

// PrintSummaryTable renders the graded run as a console table followed by
// the grade and risk distributions.
func PrintSummaryTable(w io.Writer, reports []*grader.GradeReport) {
	table := tablewriter.NewWriter(w)
	table.Header("Symbol", "Setup", "OI (USDT)", "Vol", "OB", "OI", "DD", "Stop Hunt", "Final", "Risk")

	for _, r := range sortReports(reports) {
		table.Append(
			r.Symbol,
			r.Setup,
			fmt.Sprintf("%.1fM", r.OpenInterestUSDT/1e6),
			string(r.VolGrade),
			string(r.OBGrade),
			string(r.OIGrade),
			string(r.DrawdownGrade),
			string(r.StopHuntRisk),
			string(r.FinalGrade),
			string(r.RiskLevel),
		)
	}
	table.Render()

	dist := grader.Distribute(reports)
	fmt.Fprintf(w, "\nGraded %d signals\n", len(reports))
	fmt.Fprintf(w, "Grades: A=%d B=%d C=%d D=%d\n",
		dist.Grades[grader.GradeA], dist.Grades[grader.GradeB],
		dist.Grades[grader.GradeC], dist.Grades[grader.GradeD])
	fmt.Fprintf(w, "Risk:   LOW=%d MEDIUM=%d HIGH=%d VERY_HIGH=%d\n",
		dist.Risks[grader.RiskLow], dist.Risks[grader.RiskMedium],
		dist.Risks[grader.RiskHigh], dist.Risks[grader.RiskVeryHigh])
}
