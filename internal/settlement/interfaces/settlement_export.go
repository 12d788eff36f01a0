package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	settlement "windpark-cloud/internal/settlement/domain"
)

// BuildSettlementPDF renders a minimal PDF for a settlement.
func BuildSettlementPDF(agg *settlement.Settlement) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Revenue Settlement")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Park: %s", agg.ParkID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s", agg.PeriodLabel()))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Mode: %s", agg.Mode))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Status: %s", agg.Status))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Version: %d", agg.Version))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", agg.UpdatedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	if agg.NetOperatorReference != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Net operator reference: %s", agg.NetOperatorReference))
		pdf.Ln(5)
	}

	pdf.Ln(4)
	pdf.Cell(0, 6, fmt.Sprintf("Total Production (kWh): %.3f", agg.TotalProductionKwh))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Net Revenue (EUR): %s", formatCents(agg.NetRevenueCents)))
	pdf.Ln(8)

	// Items table
	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(34, 6, "Turbine", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Recipient", "1", 0, "C", false, 0, "")
	pdf.CellFormat(34, 6, "Production (kWh)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(24, 6, "Share (%)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 6, "Revenue (EUR)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Invoice", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, item := range agg.Items {
		pdf.CellFormat(34, 6, item.TurbineID, "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, item.RecipientEntityID, "1", 0, "C", false, 0, "")
		pdf.CellFormat(34, 6, fmt.Sprintf("%.3f", item.ProductionShareKwh), "1", 0, "R", false, 0, "")
		pdf.CellFormat(24, 6, fmt.Sprintf("%.2f", item.ProductionSharePct), "1", 0, "R", false, 0, "")
		pdf.CellFormat(28, 6, formatCents(item.RevenueShareCents), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, item.InvoiceRef, "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	err := pdf.Output(&buf)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildSettlementXLSX renders a minimal XLSX for a settlement.
func BuildSettlementXLSX(agg *settlement.Settlement) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	itemsSheet := "items"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(itemsSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Revenue Settlement")
	_ = f.SetCellValue(summarySheet, "A3", "Park")
	_ = f.SetCellValue(summarySheet, "B3", agg.ParkID)
	_ = f.SetCellValue(summarySheet, "A4", "Period")
	_ = f.SetCellValue(summarySheet, "B4", agg.PeriodLabel())
	_ = f.SetCellValue(summarySheet, "A5", "Mode")
	_ = f.SetCellValue(summarySheet, "B5", string(agg.Mode))
	_ = f.SetCellValue(summarySheet, "A6", "Status")
	_ = f.SetCellValue(summarySheet, "B6", agg.Status)
	_ = f.SetCellValue(summarySheet, "A7", "Version")
	_ = f.SetCellValue(summarySheet, "B7", agg.Version)
	_ = f.SetCellValue(summarySheet, "A8", "Total Production (kWh)")
	_ = f.SetCellValue(summarySheet, "B8", agg.TotalProductionKwh)
	_ = f.SetCellValue(summarySheet, "A9", "Net Revenue (EUR)")
	_ = f.SetCellValue(summarySheet, "B9", float64(agg.NetRevenueCents)/100)
	_ = f.SetCellValue(summarySheet, "A10", "Net Operator Reference")
	_ = f.SetCellValue(summarySheet, "B10", agg.NetOperatorReference)

	_ = f.SetCellValue(itemsSheet, "A1", "Turbine")
	_ = f.SetCellValue(itemsSheet, "B1", "Recipient")
	_ = f.SetCellValue(itemsSheet, "C1", "Production (kWh)")
	_ = f.SetCellValue(itemsSheet, "D1", "Share (%)")
	_ = f.SetCellValue(itemsSheet, "E1", "Revenue (EUR)")
	_ = f.SetCellValue(itemsSheet, "F1", "Distribution Key")
	_ = f.SetCellValue(itemsSheet, "G1", "Invoice Ref")
	for i, item := range agg.Items {
		row := i + 2
		_ = f.SetCellValue(itemsSheet, fmt.Sprintf("A%d", row), item.TurbineID)
		_ = f.SetCellValue(itemsSheet, fmt.Sprintf("B%d", row), item.RecipientEntityID)
		_ = f.SetCellValue(itemsSheet, fmt.Sprintf("C%d", row), item.ProductionShareKwh)
		_ = f.SetCellValue(itemsSheet, fmt.Sprintf("D%d", row), item.ProductionSharePct)
		_ = f.SetCellValue(itemsSheet, fmt.Sprintf("E%d", row), float64(item.RevenueShareCents)/100)
		_ = f.SetCellValue(itemsSheet, fmt.Sprintf("F%d", row), item.DistributionKey)
		_ = f.SetCellValue(itemsSheet, fmt.Sprintf("G%d", row), item.InvoiceRef)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatCents(cents int64) string {
	return fmt.Sprintf("%.2f", float64(cents)/100)
}
