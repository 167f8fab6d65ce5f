package printing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/mmdatafocus/order_printer/config"
	"github.com/mmdatafocus/order_printer/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/sirupsen/logrus"
)

const (
	pdfPageWidthMm  = 58.0
	pdfMarginMm     = 3.0
	pdfLineHeightMm = 4.0
	pdfFontSize     = 8.0
	pdfFontFamily   = "receipt"
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func init() {
	api.DisableConfigDir()
}

// PDFBackend renders a receipt PDF, checks it with pdfcpu and spools the file.
type PDFBackend struct {
	Spooler  Spooler
	FontPath string
	TempDir  string
	// Archiver is optional; archive failures are logged and never fail the job.
	Archiver Archiver
	Logger   *logrus.Logger
	Now      func() time.Time
}

func (b *PDFBackend) RenderAndPrint(ctx context.Context, payload models.OrderPayload, printer string) error {
	fail := func(err error) error {
		return &PrintError{Method: MethodPDF, Printer: printer, Err: err}
	}

	now := time.Now()
	if b.Now != nil {
		now = b.Now()
	}

	raw, err := os.CreateTemp(b.TempDir, "receipt-*.pdf")
	if err != nil {
		return fail(err)
	}
	rawPath := raw.Name()
	_ = raw.Close()
	defer os.Remove(rawPath)

	if err := RenderPDF(BuildReceipt(payload, now), b.FontPath, rawPath); err != nil {
		return fail(err)
	}

	optimized := strings.TrimSuffix(rawPath, ".pdf") + ".opt.pdf"
	defer os.Remove(optimized)
	if err := checkPDF(rawPath, optimized); err != nil {
		return fail(err)
	}

	if b.Archiver != nil {
		name := fmt.Sprintf("%s_%s.pdf", unsafeFileChars.ReplaceAllString(payload.OrderId, "_"), now.UTC().Format("20060102T150405"))
		if err := b.Archiver.Archive(ctx, name, optimized); err != nil {
			logger := b.Logger
			if logger == nil {
				logger = config.GetLogger()
			}
			config.LogError(logger, "printing", "PDFBackend.RenderAndPrint", "archive receipt", payload.OrderId, err)
		}
	}

	if err := b.Spooler.PrintFile(ctx, printer, optimized); err != nil {
		return fail(err)
	}
	return nil
}

// RenderPDF writes lines to a single receipt-width page at path.
// Without fontPath the core Helvetica font is used, which only covers cp1252.
func RenderPDF(lines []ReceiptLine, fontPath, path string) error {
	height := 2*pdfMarginMm + pdfLineHeightMm*float64(estimateRows(lines))
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           fpdf.SizeType{Wd: pdfPageWidthMm, Ht: height},
	})
	pdf.SetMargins(pdfMarginMm, pdfMarginMm, pdfMarginMm)
	pdf.SetAutoPageBreak(false, 0)

	translate := func(s string) string { return s }
	family := pdfFontFamily
	if fontPath != "" {
		pdf.AddUTF8Font(pdfFontFamily, "", fontPath)
		pdf.AddUTF8Font(pdfFontFamily, "B", fontPath)
	} else {
		family = "Helvetica"
		translate = pdf.UnicodeTranslatorFromDescriptor("")
	}
	pdf.AddPage()

	usable := pdfPageWidthMm - 2*pdfMarginMm
	for _, line := range lines {
		if line.Rule {
			y := pdf.GetY() + pdfLineHeightMm/2
			pdf.Line(pdfMarginMm, y, pdfMarginMm+usable, y)
			pdf.Ln(pdfLineHeightMm)
			continue
		}
		style := ""
		if line.Bold {
			style = "B"
		}
		pdf.SetFont(family, style, pdfFontSize)
		pdf.MultiCell(usable, pdfLineHeightMm, translate(line.Text), "", pdfAlign(line.Align), false)
	}

	if err := pdf.Error(); err != nil {
		return err
	}
	return pdf.OutputFileAndClose(path)
}

// checkPDF optimizes in into out and makes sure the result has a page.
func checkPDF(in, out string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.OptimizeFile(in, out, cfg); err != nil {
		return fmt.Errorf("optimize receipt pdf: %w", err)
	}
	pages, err := api.PageCountFile(out)
	if err != nil {
		return err
	}
	if pages < 1 {
		return errors.New("receipt pdf has no pages")
	}
	return nil
}

func estimateRows(lines []ReceiptLine) int {
	rows := 0
	for _, l := range lines {
		n := len([]rune(l.Text))/ReceiptWidth + 1
		rows += n
	}
	return rows + 2
}

func pdfAlign(a Align) string {
	switch a {
	case AlignCenter:
		return "C"
	case AlignRight:
		return "R"
	default:
		return "L"
	}
}
