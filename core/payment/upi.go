package payment

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/skip2/go-qrcode"
)

// Merchant identifies the UPI payee of direct transfers.
type Merchant struct {
	VPA      string
	Name     string
	Currency string

	// Note overrides the per order transfer note when set.
	Note string
}

// UPIURI builds a BHIM intent link, upi://pay?pa=..&pn=..&am=..&cu=..&tn=..
// The payee address keeps its '@', spaces are written as %20 and an empty
// note is left out.
func (m Merchant) UPIURI(amount int64, note string) string {
	if m.Note != "" {
		note = m.Note
	}
	cur := m.Currency
	if cur == "" {
		cur = "INR"
	}

	var b strings.Builder
	b.WriteString("upi://pay?pa=")
	b.WriteString(strings.ReplaceAll(upiEscape(m.VPA), "%40", "@"))
	b.WriteString("&pn=")
	b.WriteString(upiEscape(m.Name))
	b.WriteString("&am=")
	b.WriteString(strconv.FormatInt(amount, 10))
	b.WriteString("&cu=")
	b.WriteString(upiEscape(cur))
	if note != "" {
		b.WriteString("&tn=")
		b.WriteString(upiEscape(note))
	}
	return b.String()
}

// Some UPI apps render '+' literally, so spaces are percent encoded.
func upiEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// QRDataURL renders text as a PNG QR code inlined in a data url.
func QRDataURL(text string) (string, error) {
	png, err := qrcode.Encode(text, qrcode.Medium, 256)
	if err != nil {
		return "", fmt.Errorf("encoding qr code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
