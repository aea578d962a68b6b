package email

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/coachingcentre/notes-store/core/order"
)

// Links holds the public addresses embedded in messages.
type Links struct {
	APIBaseURL  string
	MerchantUPI string
}

type Templates struct {
	links Links
}

func NewTemplates(l Links) *Templates {
	l.APIBaseURL = strings.TrimRight(l.APIBaseURL, "/")
	return &Templates{links: l}
}

var layouts = template.Must(template.New("mail").Funcs(template.FuncMap{
	"date": func(o order.Order) string { return o.CreatedAt.Format("02 Jan 2006") },
}).Parse(`
{{define "confirmation"}}
<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #2563eb;">Order Confirmation</h2>
  <p>Dear {{.Order.Customer.Name}},</p>
  <p>Thank you for your order! Here are the details:</p>
  <div style="background: #f3f4f6; padding: 20px; border-radius: 8px; margin: 20px 0;">
    <h3>Order Summary</h3>
    <p><strong>Order ID:</strong> {{.Order.ID}}</p>
    <p><strong>Total Amount:</strong> &#8377;{{.Order.Amount}}</p>
    <p><strong>Date:</strong> {{date .Order}}</p>
  </div>
  <div style="margin: 20px 0;">
    <h3>Items Purchased:</h3>
    {{range .Order.Items}}
    <div style="border-bottom: 1px solid #e5e7eb; padding: 10px 0;">
      <p><strong>{{.Title}}</strong></p>
      <p>Quantity: {{.Qty}} | Price: &#8377;{{.Price}}</p>
    </div>
    {{end}}
  </div>
  <div style="background: #dbeafe; padding: 20px; border-radius: 8px; margin: 20px 0;">
    <h3>Payment Instructions</h3>
    <p>Please complete your payment using the UPI QR code or link below:</p>
    <p><strong>UPI ID:</strong> {{.UPI}}</p>
    <p><strong>Amount:</strong> &#8377;{{.Order.Amount}}</p>
    <p><strong>Note:</strong> Order {{.Order.ID}}</p>
  </div>
  <p>Once payment is confirmed, you'll receive download links for your notes.</p>
  <p>Best regards,<br>Coaching Centre Team</p>
</div>
{{end}}

{{define "paid"}}
<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #059669;">Payment Confirmed!</h2>
  <p>Dear {{.Order.Customer.Name}},</p>
  <p>Your payment has been confirmed. You can now download your study materials.</p>
  <div style="background: #f0fdf4; padding: 20px; border-radius: 8px; margin: 20px 0;">
    <h3>Order Details</h3>
    <p><strong>Order ID:</strong> {{.Order.ID}}</p>
    <p><strong>Amount Paid:</strong> &#8377;{{.Order.Amount}}</p>
  </div>
  <div style="margin: 20px 0;">
    <h3>Download Your Notes:</h3>
    {{range .Downloads}}
    <div style="border: 1px solid #d1d5db; padding: 15px; border-radius: 8px; margin: 10px 0;">
      <p><strong>{{.Title}}</strong></p>
      <p>Quantity: {{.Qty}}</p>
      <a href="{{.URL}}" style="background: #2563eb; color: white; padding: 10px 20px; text-decoration: none; border-radius: 6px; display: inline-block;">Download PDF</a>
    </div>
    {{end}}
  </div>
  <p>Keep your order ID safe for future reference.</p>
  <p>Happy studying!<br>Coaching Centre Team</p>
</div>
{{end}}
`))

type download struct {
	Title string
	Qty   int64
	URL   string
}

// OrderConfirmation tells the customer how to pay for o.
func (t *Templates) OrderConfirmation(o order.Order) (Message, error) {
	data := struct {
		Order order.Order
		UPI   string
	}{o, t.links.MerchantUPI}

	html, err := render("confirmation", data)
	if err != nil {
		return Message{}, err
	}
	return Message{To: o.Customer.Email, Subject: "Order Confirmation - " + o.ID, HTML: html}, nil
}

// PaymentSuccess hands out the download links of a paid order.
func (t *Templates) PaymentSuccess(o order.Order) (Message, error) {
	dls := make([]download, len(o.Items))
	for i, it := range o.Items {
		dls[i] = download{
			Title: it.Title,
			Qty:   it.Qty,
			URL:   fmt.Sprintf("%s/api/orders/%s/download/%s", t.links.APIBaseURL, o.ID, it.ID),
		}
	}

	data := struct {
		Order     order.Order
		Downloads []download
	}{o, dls}

	html, err := render("paid", data)
	if err != nil {
		return Message{}, err
	}
	return Message{To: o.Customer.Email, Subject: "Payment Confirmed - Download Your Notes", HTML: html}, nil
}

func render(name string, data interface{}) (string, error) {
	var b bytes.Buffer
	if err := layouts.ExecuteTemplate(&b, name, data); err != nil {
		return "", fmt.Errorf("rendering %s mail: %w", name, err)
	}
	return b.String(), nil
}
