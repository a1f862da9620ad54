// Package export renders daily production records as downloadable reports.
package export

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"solar_monitor/internal/domain"
)

// Format is a report file format
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

// ContentType returns the MIME type of the format
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// FileName returns the download name for a record date
func (f Format) FileName(date string) string {
	return fmt.Sprintf("production-%s.%s", date, f)
}

var siteColumns = []string{
	"Site ID", "Site", "Capacity (MWp)", "Active Inverters", "Production (kWh)",
	"Avg Power (kW)", "Peak Power (kW)", "Efficiency (%)", "Data Points",
}

// Build renders rec in the requested format
func Build(rec domain.DailyProductionRecord, format Format) ([]byte, error) {
	switch format {
	case FormatXLSX:
		return BuildXLSX(rec)
	case FormatPDF:
		return BuildPDF(rec)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// BuildXLSX renders a summary sheet and one row per site
func BuildXLSX(rec domain.DailyProductionRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "summary"
	sitesSheet := "sites"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(sitesSheet); err != nil {
		return nil, err
	}

	s := rec.Summary
	rows := [][]interface{}{
		{"Daily Production Report"},
		{},
		{"Date", rec.Date},
		{"Total Sites", s.TotalSites},
		{"Active Sites", s.ActiveSites},
		{"Total Capacity (MWp)", s.TotalCapacityMWp},
		{"Total Production (kWh)", s.TotalProductionKWh},
		{"Total Power (kW)", s.TotalPowerKW},
		{"Average Efficiency (%)", s.AverageEfficiencyPct},
		{"Inverters (active/total)", fmt.Sprintf("%d/%d", s.ActiveInverters, s.TotalInverters)},
		{"Saved", string(rec.Metadata.SavedMethod)},
		{"Saved At", formatTime(rec.Metadata.SavedAt)},
		{"Updates", rec.Metadata.TotalUpdates},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return nil, err
		}
	}

	header := make([]interface{}, len(siteColumns))
	for i, c := range siteColumns {
		header[i] = c
	}
	if err := f.SetSheetRow(sitesSheet, "A1", &header); err != nil {
		return nil, err
	}
	for i, site := range rec.Sites {
		row := []interface{}{
			site.SiteID, site.SiteName, site.Capacity, site.ActiveInverterCount, site.TotalProductionKWh,
			site.AveragePowerKW, site.PeakPowerKW, site.EfficiencyPct, site.DataPointCount,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sitesSheet, cell, &row); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildPDF renders a one-page landscape report
func BuildPDF(rec domain.DailyProductionRecord) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "B", 14)
	pdf.AddPage()

	pdf.Cell(0, 8, "Daily Production Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)

	s := rec.Summary
	lines := []string{
		fmt.Sprintf("Date: %s", rec.Date),
		fmt.Sprintf("Sites: %d (%d active)", s.TotalSites, s.ActiveSites),
		fmt.Sprintf("Capacity: %.2f MWp", s.TotalCapacityMWp),
		fmt.Sprintf("Production: %.2f kWh", s.TotalProductionKWh),
		fmt.Sprintf("Power: %.2f kW", s.TotalPowerKW),
		fmt.Sprintf("Average efficiency: %.2f %%", s.AverageEfficiencyPct),
		fmt.Sprintf("Inverters: %d of %d active", s.ActiveInverters, s.TotalInverters),
		fmt.Sprintf("Saved %s at %s (%d updates)", rec.Metadata.SavedMethod, formatTime(rec.Metadata.SavedAt), rec.Metadata.TotalUpdates),
	}
	for _, line := range lines {
		pdf.Cell(0, 6, line)
		pdf.Ln(5)
	}
	pdf.Ln(4)

	widths := []float64{25, 55, 25, 25, 30, 28, 28, 25, 22}
	pdf.SetFont("Arial", "B", 9)
	for i, c := range siteColumns {
		pdf.CellFormat(widths[i], 6, c, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, site := range rec.Sites {
		cells := []string{
			site.SiteID,
			site.SiteName,
			fmt.Sprintf("%.2f", site.Capacity),
			fmt.Sprintf("%d", site.ActiveInverterCount),
			fmt.Sprintf("%.2f", site.TotalProductionKWh),
			fmt.Sprintf("%.2f", site.AveragePowerKW),
			fmt.Sprintf("%.2f", site.PeakPowerKW),
			fmt.Sprintf("%.2f", site.EfficiencyPct),
			fmt.Sprintf("%d", site.DataPointCount),
		}
		for i, c := range cells {
			align := "R"
			if i < 2 {
				align = "L"
			}
			pdf.CellFormat(widths[i], 6, c, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
