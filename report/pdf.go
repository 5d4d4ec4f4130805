package report

import (
	"fmt"
	"io"

	"github.com/go-pdf/fpdf"
)

const (
	rowHeight    = 7.0
	headerHeight = 8.0
)

// RenderPDF writes a landscape A4 document.
func RenderPDF(w io.Writer, s *Schedule) error {
	pdf := buildPDF(s)
	if err := pdf.Error(); err != nil {
		return fmt.Errorf("failed to render pdf: %w", err)
	}
	return pdf.Output(w)
}

func buildPDF(s *Schedule) *fpdf.Fpdf {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetTitle(Title, true)
	pdf.SetCreator("claims-engine", true)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AliasNbPages("")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	tableHeader := func() {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.SetFillColor(220, 226, 236)
		for _, c := range Columns {
			pdf.CellFormat(c.Width, headerHeight, c.Title, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
	}

	pdf.SetHeaderFunc(func() {
		pdf.SetFont("Helvetica", "B", 16)
		pdf.CellFormat(0, 10, Title, "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		for _, line := range s.HeaderLines() {
			pdf.CellFormat(0, 5, tr(line), "", 1, "L", false, 0, "")
		}
		pdf.Ln(3)
		if pdf.PageNo() > 1 {
			tableHeader()
		}
	})
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 8, fmt.Sprintf("Page %d of {nb}", pdf.PageNo()), "", 0, "R", false, 0, "")
	})

	pdf.AddPage()

	if warning := s.Warning(); warning != "" {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.SetFillColor(255, 236, 179)
		pdf.SetTextColor(138, 80, 0)
		pdf.CellFormat(0, 9, tr(warning), "1", 1, "L", true, 0, "")
		pdf.SetTextColor(0, 0, 0)
		pdf.Ln(2)
	}

	tableHeader()

	rows := s.Rows()
	if len(rows) == 0 {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.CellFormat(0, rowHeight, "No hearings scheduled for this period.", "1", 1, "C", false, 0, "")
		return pdf
	}

	pdf.SetFont("Helvetica", "", 10)
	for i, row := range rows {
		fill := i%2 == 1
		pdf.SetFillColor(245, 247, 250)
		for j, c := range Columns {
			pdf.CellFormat(c.Width, rowHeight, tr(row[j]), "1", 0, c.Align, fill, 0, "")
		}
		pdf.Ln(-1)
	}
	return pdf
}
