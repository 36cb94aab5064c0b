package template

import (
	"bytes"
	"fmt"
	"image/png"
	"time"

	"github.com/signintech/gopdf"
)

// CertificateDocument is everything printed on an attendance certificate.
type CertificateDocument struct {
	CertificateID   string
	AttendeeID      string
	EventTitle      string
	EventLocation   string
	EventDate       time.Time
	IssuedAt        time.Time
	VerificationURL string
	VerificationQR  []byte
}

type CertificatePDFGenerator struct {
	FontPath   string
	IssuerName string
}

func NewCertificatePDFGenerator(fontPath, issuerName string) *CertificatePDFGenerator {
	return &CertificatePDFGenerator{FontPath: fontPath, IssuerName: issuerName}
}

func (g *CertificatePDFGenerator) Render(doc CertificateDocument) ([]byte, error) {
	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4Landscape})
	// Fixed metadata keeps re-renders of the same certificate byte-stable.
	pdf.SetInfo(gopdf.PdfInfo{
		Title:        "Certificate of Attendance " + doc.CertificateID,
		Author:       g.IssuerName,
		Creator:      g.IssuerName,
		Producer:     g.IssuerName,
		CreationDate: doc.IssuedAt,
	})
	pdf.AddPage()

	if err := pdf.AddTTFFont("dejavu", g.FontPath); err != nil {
		return nil, fmt.Errorf("failed to load font: %w", err)
	}

	if err := pdf.SetFont("dejavu", "", 30); err != nil {
		return nil, fmt.Errorf("failed to set font: %w", err)
	}
	addHeader(pdf)

	if err := pdf.SetFont("dejavu", "", 14); err != nil {
		return nil, fmt.Errorf("failed to set font: %w", err)
	}
	pdf.SetY(150)
	addCertificateInfo(pdf, doc)

	if len(doc.VerificationQR) > 0 {
		addQRCode(pdf, doc.VerificationQR)
	}

	pdf.SetY(520)
	addFooter(pdf, g.IssuerName, doc.VerificationURL)

	var buf bytes.Buffer
	if err := pdf.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func addHeader(pdf *gopdf.GoPdf) {
	pdf.SetLineWidth(2)
	pdf.Line(40, 40, 802, 40)
	pdf.SetX(60)
	pdf.SetY(80)
	pdf.Cell(nil, "CERTIFICATE OF ATTENDANCE")
}

func addCertificateInfo(pdf *gopdf.GoPdf, doc CertificateDocument) {
	info := []struct {
		Label string
		Value string
	}{
		{"Awarded to", doc.AttendeeID},
		{"For attending", doc.EventTitle},
		{"Held on", doc.EventDate.Format("2 January 2006")},
		{"Location", doc.EventLocation},
		{"Certificate ID", doc.CertificateID},
		{"Issued", doc.IssuedAt.Format("2006-01-02 15:04 MST")},
	}

	for _, item := range info {
		if item.Value == "" {
			continue
		}
		pdf.SetX(60)
		pdf.Cell(nil, item.Label+": "+item.Value)
		pdf.Br(28)
	}
}

func addQRCode(pdf *gopdf.GoPdf, qrCode []byte) {
	img, err := png.Decode(bytes.NewReader(qrCode))
	if err != nil {
		pdf.SetXY(640, 150)
		pdf.Cell(nil, "Failed to load QR code")
		return
	}

	rect := &gopdf.Rect{W: 140, H: 140}
	if err := pdf.ImageFrom(img, 640, 150, rect); err != nil {
		pdf.SetXY(640, 150)
		pdf.Cell(nil, "Failed to draw QR code")
	}
}

func addFooter(pdf *gopdf.GoPdf, issuer, verifyURL string) {
	pdf.SetX(60)
	pdf.Cell(nil, "Issued by "+issuer)
	pdf.Br(20)
	pdf.SetX(60)
	pdf.Cell(nil, "Verify at "+verifyURL)
}
