package files

import (
	"log"
	"path/filepath"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/xuri/excelize/v2"
)

// ConvertToPDF renders a spreadsheet as a paginated text document, one page
// per worksheet, and writes it next to the source with a .pdf extension.
// The returned path is the converted artifact; the source is left in place
// for the caller to dispose of.
func ConvertToPDF(srcPath string) (string, error) {
	wb, err := excelize.OpenFile(srcPath)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := wb.Close(); err != nil {
			log.Printf("[files] closing %s: %v", srcPath, err)
		}
	}()

	doc := fpdf.New("L", "mm", "A4", "")
	tr := doc.UnicodeTranslatorFromDescriptor("")

	for _, sheet := range wb.GetSheetList() {
		rows, err := wb.GetRows(sheet)
		if err != nil {
			return "", err
		}
		doc.AddPage()
		doc.SetFont("Helvetica", "B", 12)
		doc.CellFormat(0, 8, tr(sheet), "", 1, "L", false, 0, "")
		doc.Ln(2)
		for i, row := range rows {
			header := i == 0
			if header {
				doc.SetFont("Helvetica", "B", 9)
				doc.SetFillColor(225, 225, 225)
			} else {
				doc.SetFont("Helvetica", "", 9)
			}
			cells := make([]string, len(row))
			for j, display := range row {
				cells[j] = cellText(wb, sheet, i, j, display)
			}
			doc.MultiCell(0, 5, tr(strings.Join(cells, " | ")), "", "L", header)
		}
	}

	dst := strings.TrimSuffix(srcPath, filepath.Ext(srcPath)) + ".pdf"
	if err := doc.OutputFileAndClose(dst); err != nil {
		return "", err
	}
	return dst, nil
}

// cellText flattens one cell, preferring its display text, then the cached
// computed value, then the formula source.
func cellText(wb *excelize.File, sheet string, row, col int, display string) string {
	if display != "" {
		return display
	}
	axis, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err != nil {
		return ""
	}
	if v, err := wb.GetCellValue(sheet, axis); err == nil && v != "" {
		return v
	}
	if f, err := wb.GetCellFormula(sheet, axis); err == nil && f != "" {
		return "=" + f
	}
	return ""
}
