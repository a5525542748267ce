package report

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"example.com/par2rename/internal/common"
)

// core fonts are cp1252; fold the Turkish letters it lacks
var cp1252Fold = strings.NewReplacer("ş", "s", "Ş", "S", "ğ", "g", "Ğ", "G", "ı", "i", "İ", "I")

type pdfDoc struct {
	pdf *gofpdf.Fpdf
	tr  Translator
	enc func(string) string
}

func (d pdfDoc) text(s string) string {
	return d.enc(cp1252Fold.Replace(s))
}

// SaveRenamePDF renders a rename batch summary, and its audit entries when
// given, into a PDF document. A manifest digest is printed as a QR code.
func SaveRenamePDF(s Summary, audit []common.PatchEntry, lang Language, out string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := NewTranslator(lang)
	d := pdfDoc{pdf: pdf, tr: tr, enc: pdf.UnicodeTranslatorFromDescriptor("")}
	pdf.SetTitle(d.text(tr.T("report.title")), false)
	pdf.SetAuthor("par2rename", false)
	pdf.SetCreator("par2rename", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	d.title(tr.T("report.title"))
	if err := d.summarySection(s); err != nil {
		return err
	}
	d.renamesSection(s)
	d.filesSection(s.Files)
	if audit != nil {
		d.auditSection(audit)
	}

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func (d pdfDoc) title(title string) {
	d.pdf.SetFont("Helvetica", "B", 18)
	d.pdf.Cell(0, 10, d.text(title))
	d.pdf.Ln(12)
}

func (d pdfDoc) heading(key string) {
	d.pdf.SetFont("Helvetica", "B", 12)
	d.pdf.Cell(0, 8, d.text(d.tr.T(key)))
	d.pdf.Ln(9)
}

func (d pdfDoc) summarySection(s Summary) error {
	d.heading("summary.heading")
	pdf := d.pdf
	top := pdf.GetY()

	pdf.SetFont("Helvetica", "", 11)
	items := []struct {
		label string
		value string
	}{
		{label: "label.batch", value: emptyFallback(s.BatchID, "-")},
		{label: "label.created", value: s.CreatedAt.Format(time.RFC3339)},
		{label: "label.set", value: emptyFallback(s.SetID, "-")},
		{label: "label.fileCount", value: strconv.Itoa(int(s.FileCount))},
		{label: "label.renamed", value: strconv.Itoa(s.Renamed)},
		{label: "label.processed", value: strconv.Itoa(s.Processed)},
		{label: "label.failed", value: strconv.Itoa(s.Failed)},
		{label: "label.status", value: d.tr.T(statusKey(s))},
	}
	for _, item := range items {
		pdf.CellFormat(45, 6, d.text(d.tr.T(item.label)), "", 0, "L", false, 0, "")
		pdf.CellFormat(95, 6, d.text(item.value), "", 1, "L", false, 0, "")
	}
	pdf.SetFont("Helvetica", "I", 10)
	pdf.MultiCell(140, 5, d.text(d.tr.Format("completion", s.Renamed, s.Processed)), "", "L", false)
	bottom := pdf.GetY()

	if s.ManifestDigest != "" {
		png, err := DigestToQR(s.ManifestDigest, 256)
		if err != nil {
			return fmt.Errorf("manifest qr: %w", err)
		}
		opts := gofpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader("manifest-qr", opts, bytes.NewReader(png))
		pdf.ImageOptions("manifest-qr", 160, top, 35, 35, false, opts, 0, "")
		pdf.SetXY(155, top+36)
		pdf.SetFont("Helvetica", "", 7)
		pdf.MultiCell(45, 3, d.text(d.tr.T("qr.caption")+" "+shortDigest(s.ManifestDigest)), "", "C", false)
		if y := top + 45; y > bottom {
			bottom = y
		}
		pdf.SetX(15)
	}
	pdf.SetY(bottom + 4)
	return nil
}

func (d pdfDoc) renamesSection(s Summary) {
	d.heading("renames.heading")
	if len(s.Renames) == 0 {
		d.pdf.SetFont("Helvetica", "", 11)
		d.pdf.MultiCell(0, 6, d.text(d.tr.T("renames.none")), "", "L", false)
		d.pdf.Ln(4)
		return
	}
	widths := []float64{90, 90}
	d.tableHeader(widths, "table.from", "table.to")
	d.pdf.SetFont("Helvetica", "", 9)
	for _, r := range s.Renames {
		renderTableRow(d.pdf, widths, []string{d.text(r.Original), d.text(r.New)}, 5)
	}
	d.pdf.Ln(4)
}

func (d pdfDoc) filesSection(files []FileSummary) {
	d.heading("files.heading")
	widths := []float64{62, 78, 20, 20}
	d.tableHeader(widths, "table.input", "table.output", "table.packets", "table.renamed")
	d.pdf.SetFont("Helvetica", "", 9)
	for _, f := range files {
		result := f.Output
		if f.Error != "" {
			result = f.Error
		}
		renderTableRow(d.pdf, widths, []string{
			d.text(f.Input),
			d.text(result),
			strconv.Itoa(f.Packets),
			strconv.Itoa(f.Renamed),
		}, 5)
	}
	d.pdf.Ln(4)
}

func (d pdfDoc) auditSection(entries []common.PatchEntry) {
	d.heading("audit.heading")
	if len(entries) == 0 {
		d.pdf.SetFont("Helvetica", "", 11)
		d.pdf.MultiCell(0, 6, d.text(d.tr.T("audit.none")), "", "L", false)
		return
	}
	for i, e := range entries {
		d.pdf.SetFont("Helvetica", "B", 9)
		line := d.tr.Format("audit.entry", e.File, e.Offset, e.OldName, e.NewName, e.OldLength, e.NewLength)
		d.pdf.MultiCell(0, 5, d.text(fmt.Sprintf("%d. %s", i+1, line)), "", "L", false)
		d.pdf.SetFont("Helvetica", "", 8)
		meta := strings.Join([]string{e.Ts.Format(time.RFC3339), e.BeforeChecksumHex + " -> " + e.AfterChecksumHex}, " | ")
		d.pdf.MultiCell(0, 4, d.text(meta), "", "L", false)
		d.pdf.Ln(1)
	}
}

func (d pdfDoc) tableHeader(widths []float64, keys ...string) {
	d.pdf.SetFillColor(240, 240, 240)
	d.pdf.SetFont("Helvetica", "B", 10)
	for i, k := range keys {
		d.pdf.CellFormat(widths[i], 7, d.text(d.tr.T(k)), "1", 0, "L", true, 0, "")
	}
	d.pdf.Ln(-1)
}

func renderTableRow(pdf *gofpdf.Fpdf, widths []float64, values []string, lineHeight float64) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		text := strings.TrimSpace(val)
		if text == "" {
			text = "-"
		}
		lines := pdf.SplitText(text, widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottomMargin := pdf.GetMargins()
	if yStart+rowHeight > pageHeight-bottomMargin {
		pdf.AddPage()
		yStart = pdf.GetY()
	}
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		pdf.MultiCell(widths[i], lineHeight, strings.Join(lines, "\n"), "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

func statusKey(s Summary) string {
	switch {
	case s.Aborted:
		return "status.aborted"
	case s.Failed > 0:
		return "status.failed"
	default:
		return "status.ok"
	}
}

func shortDigest(d string) string {
	if len(d) > 16 {
		return d[:16] + "..."
	}
	return d
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}
