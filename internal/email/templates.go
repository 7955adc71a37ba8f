package email

import (
	"bytes"
	"fmt"
	"strconv"
	"text/template"

	"github.com/bumperworks/preorders/internal/models"
)

type confirmationLine struct {
	Plate    string
	Quantity int
	Total    string
}

type confirmationData struct {
	OrderNumber  string
	CustomerName string
	Lines        []confirmationLine
	TotalWeight  string
	Subtotal     string
	Shipping     string
	Total        string
}

var confirmationTemplate = template.Must(template.New("order_confirmation").Parse(`Hi {{if .CustomerName}}{{.CustomerName}}{{else}}there{{end}},

Thanks for your preorder. Payment for order {{.OrderNumber}} has been received.

{{range .Lines}}  {{.Quantity}} x {{.Plate}}  {{.Total}}
{{end}}
Total weight: {{.TotalWeight}} lb
Subtotal: {{.Subtotal}}
Freight:  {{.Shipping}}
Total:    {{.Total}}

We will e-mail you again when your plates ship.
`))

// OrderConfirmation renders the plain-text receipt sent once an order is paid.
func OrderConfirmation(order *models.Order) (*Email, error) {
	if order == nil {
		return nil, fmt.Errorf("order is required")
	}
	if order.CustomerEmail == "" {
		return nil, fmt.Errorf("order %s has no customer email", order.OrderNumber)
	}

	data := confirmationData{
		OrderNumber:  order.OrderNumber,
		CustomerName: order.CustomerName,
		TotalWeight:  strconv.FormatFloat(order.TotalWeightLbs(), 'f', -1, 64),
		Subtotal:     formatCents(order.SubtotalCents),
		Shipping:     formatCents(order.ShippingCents),
		Total:        formatCents(order.TotalCents),
	}
	for _, item := range order.Items {
		data.Lines = append(data.Lines, confirmationLine{
			Plate:    strconv.FormatFloat(item.WeightLbs, 'f', -1, 64) + " lb plate",
			Quantity: item.Quantity,
			Total:    formatCents(item.TotalCents()),
		})
	}

	var body bytes.Buffer
	if err := confirmationTemplate.Execute(&body, data); err != nil {
		return nil, fmt.Errorf("failed to render order confirmation: %w", err)
	}

	return &Email{
		To:      order.CustomerEmail,
		Subject: "Order confirmed - " + order.OrderNumber,
		Text:    body.String(),
	}, nil
}

func formatCents(cents int) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
