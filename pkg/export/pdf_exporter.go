package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

const (
	pdfUsableWidth = 277.0
	pdfRowHeight   = 6.0
)

// PDFExporter renders datasets into a landscape tabular PDF.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Write renders the dataset into w. The table header repeats on every page.
func (e *PDFExporter) Write(w io.Writer, data Dataset) error {
	if len(data.Columns) == 0 {
		return fmt.Errorf("pdf requires at least one column")
	}
	widths := columnWidths(data.Columns)
	titles := data.titles()

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(true, 15)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetHeaderFunc(func() {
		if data.Title != "" && pdf.PageNo() == 1 {
			pdf.SetFont("Arial", "B", 14)
			pdf.CellFormat(0, 10, tr(data.Title), "", 1, "C", false, 0, "")
			pdf.Ln(2)
		}
		pdf.SetFont("Arial", "B", 8)
		pdf.SetFillColor(230, 230, 230)
		for i, title := range titles {
			pdf.CellFormat(widths[i], 7, tr(title), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
	})
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Arial", "I", 7)
		pdf.CellFormat(0, 8, tr(fmt.Sprintf("%s  page %d", data.Footer, pdf.PageNo())), "", 0, "R", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Arial", "", 7)
	for _, row := range data.Rows {
		for i, col := range data.Columns {
			text := fitText(pdf, tr(row[col.Key]), widths[i]-2)
			pdf.CellFormat(widths[i], pdfRowHeight, text, "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return nil
}

func columnWidths(columns []Column) []float64 {
	widths := make([]float64, len(columns))
	fixed, flexible := 0.0, 0
	for i, col := range columns {
		widths[i] = col.Width
		if col.Width > 0 {
			fixed += col.Width
		} else {
			flexible++
		}
	}
	if flexible > 0 {
		share := (pdfUsableWidth - fixed) / float64(flexible)
		if share < 10 {
			share = 10
		}
		for i := range widths {
			if widths[i] <= 0 {
				widths[i] = share
			}
		}
	}
	return widths
}

// fitText truncates value with an ellipsis so it fits into width.
func fitText(pdf *gofpdf.Fpdf, value string, width float64) string {
	if pdf.GetStringWidth(value) <= width {
		return value
	}
	runes := []rune(value)
	for len(runes) > 0 && pdf.GetStringWidth(string(runes)+"...") > width {
		runes = runes[:len(runes)-1]
	}
	return strings.TrimSpace(string(runes)) + "..."
}
