package clients

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
)

// InvoiceLine is one waterfall adjustment printed on the invoice.
type InvoiceLine struct {
	Label  string
	Amount decimal.Decimal
}

// InvoiceData is everything printed on a settlement invoice.
type InvoiceData struct {
	SettlementID   string
	LegID          string
	ShipmentID     string
	Step           int
	RequesterName  string
	CourierName    string
	Origin         string
	Destination    string
	Base           decimal.Decimal
	Lines          []InvoiceLine
	Total          decimal.Decimal
	Currency       string
	TransactionRef string
	IssuedAt       time.Time
}

// PDFInvoiceRenderer lays out invoices as single page A4 PDFs.
type PDFInvoiceRenderer struct {
	issuer string
}

func NewPDFInvoiceRenderer(issuer string) *PDFInvoiceRenderer {
	return &PDFInvoiceRenderer{issuer: issuer}
}

// Render returns the PDF bytes of the invoice.
func (r *PDFInvoiceRenderer) Render(data InvoiceData) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Invoice %s", data.SettlementID), true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, r.issuer)
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 10)
	rows := [][2]string{
		{"Invoice", data.SettlementID},
		{"Issued", data.IssuedAt.Format("2006-01-02 15:04 MST")},
		{"Shipment", data.ShipmentID},
		{"Leg", fmt.Sprintf("%s (step %d)", data.LegID, data.Step)},
		{"Requester", data.RequesterName},
		{"Courier", data.CourierName},
		{"From", data.Origin},
		{"To", data.Destination},
	}
	if data.TransactionRef != "" {
		rows = append(rows, [2]string{"Transaction", data.TransactionRef})
	}

	for _, row := range rows {
		pdf.CellFormat(40, 6, row[0], "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, row[1], "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(130, 7, "Description", "B", 0, "L", false, 0, "")
	pdf.CellFormat(0, 7, "Amount", "B", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(130, 6, "Leg price", "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 6, r.money(data.Base, data.Currency), "", 1, "R", false, 0, "")

	for _, line := range data.Lines {
		pdf.CellFormat(130, 6, line.Label, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, r.money(line.Amount, data.Currency), "", 1, "R", false, 0, "")
	}

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(130, 8, "Total charged", "T", 0, "L", false, 0, "")
	pdf.CellFormat(0, 8, r.money(data.Total, data.Currency), "T", 1, "R", false, 0, "")

	var buf bytes.Buffer

	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render invoice %s: %w", data.SettlementID, err)
	}

	return buf.Bytes(), nil
}

func (r *PDFInvoiceRenderer) money(amount decimal.Decimal, currency string) string {
	return fmt.Sprintf("%s %s", amount.StringFixed(2), currency)
}
