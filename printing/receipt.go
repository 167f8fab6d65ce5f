package printing

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/order_printer/models"
	"github.com/mmdatafocus/order_printer/utils"
)

// ReceiptWidth is the character width of a 58mm thermal roll.
const ReceiptWidth = 32

const defaultShopName = "Online Shop"

type Align int

const (
	AlignLeft Align = iota
	AlignCenter
	AlignRight
)

// ReceiptLine is one printable line. A Rule line is a full-width separator.
type ReceiptLine struct {
	Text  string
	Align Align
	Rule  bool
	Bold  bool
}

func blank() ReceiptLine { return ReceiptLine{} }

func left(format string, args ...interface{}) ReceiptLine {
	return ReceiptLine{Text: fmt.Sprintf(format, args...)}
}

// BuildReceipt lays out the receipt shared by every backend.
func BuildReceipt(p models.OrderPayload, printedAt time.Time) []ReceiptLine {
	shop := strings.TrimSpace(p.ShopName)
	if shop == "" {
		shop = defaultShopName
	}

	lines := []ReceiptLine{
		{Text: shop, Align: AlignCenter, Bold: true},
		blank(),
		left("Order No: %s", p.OrderId),
		left("Created: %s", truncate(p.CreatedAt, 19)),
		blank(),
		left("Customer: %s", customerName(p)),
		left("Phone: %s", utils.FormatPhoneNumber(p.ShippingAddress.Phone, p.ShippingAddress.CountryCode)),
		blank(),
	}

	addr := p.ShippingAddress
	if addr.Address1 != "" {
		lines = append(lines, left("%s", addr.Address1))
	}
	if addr.Address2 != "" {
		lines = append(lines, left("%s", addr.Address2))
	}
	if zip := strings.TrimSpace(addr.Zip + " " + addr.CountryCode); zip != "" {
		lines = append(lines, left("%s", zip))
	}
	lines = append(lines,
		blank(),
		ReceiptLine{Rule: true},
		left("%s%s", padRight("Item", ReceiptWidth-4), " Qty"),
		ReceiptLine{Rule: true},
	)

	for _, item := range p.LineItems {
		lines = append(lines,
			left("%s", item.Name),
			ReceiptLine{Text: strconv.Itoa(item.Quantity), Align: AlignRight},
		)
		if len(item.OptionValues) > 0 {
			lines = append(lines, left("  Options: %s", strings.Join(item.OptionValues, ", ")))
		}
		lines = append(lines, blank())
	}

	total := strings.TrimSpace(utils.FormatAmount(p.TotalPrice.Amount) + " " + p.TotalPrice.CurrencyCode)
	lines = append(lines,
		ReceiptLine{Rule: true},
		ReceiptLine{Text: "Total: " + total, Align: AlignRight, Bold: true},
		blank(),
	)

	if msg := strings.TrimSpace(p.CustomerMessage); msg != "" {
		lines = append(lines, left("Note: %s", msg), blank())
	}

	lines = append(lines,
		ReceiptLine{Text: "Printed: " + printedAt.Format("2006-01-02 15:04:05"), Align: AlignCenter},
		blank(),
	)
	return lines
}

func customerName(p models.OrderPayload) string {
	if name := strings.TrimSpace(p.ShippingAddress.FirstName + " " + p.ShippingAddress.LastName); name != "" {
		return name
	}
	if name := strings.TrimSpace(p.CustomerInfo.FirstName + " " + p.CustomerInfo.LastName); name != "" {
		return name
	}
	return "(no name)"
}

func truncate(s string, n int) string {
	return utils.TruncateRunes(s, n)
}

func padRight(s string, width int) string {
	if n := len([]rune(s)); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}
