package ordersync

import (
	"strconv"
	"strings"

	"github.com/mmdatafocus/order_printer/allvalue"
	"github.com/mmdatafocus/order_printer/models"
)

// NormalizeOrder maps an upstream order document to the stored payload.
// Missing fields become zero values. The returned ValidationError is informational
// unless the caller has no other key for the order.
func NormalizeOrder(nodeId string, raw allvalue.RawOrder) (models.OrderPayload, *ValidationError) {
	p := models.OrderPayload{
		OrderId:         strings.TrimSpace(string(raw.Name)),
		CreatedAt:       string(raw.CreatedAt),
		ContactEmail:    string(raw.ContactEmail),
		CustomerMessage: string(raw.CustomerMessage),
		LineItems:       []models.LineItem{},
	}
	if a := raw.ShippingAddress; a != nil {
		p.ShippingAddress = models.ShippingAddress{
			FirstName:   string(a.FirstName),
			LastName:    string(a.LastName),
			Phone:       string(a.Phone),
			Address1:    string(a.Address1),
			Address2:    string(a.Address2),
			Zip:         string(a.Zip),
			CountryCode: string(a.CountryCode),
		}
	}
	for _, item := range raw.LineItems {
		options := make([]string, 0, len(item.OptionValues))
		for _, ov := range item.OptionValues {
			if v := string(ov.Name); v != "" {
				options = append(options, v)
			}
		}
		p.LineItems = append(p.LineItems, models.LineItem{
			Name:         string(item.Name),
			Quantity:     parseQuantity(string(item.Quantity)),
			OptionValues: options,
		})
	}
	if raw.TotalPrice != nil && raw.TotalPrice.ShopMoney != nil {
		p.TotalPrice = models.Money{
			Amount:       string(raw.TotalPrice.ShopMoney.Amount),
			CurrencyCode: string(raw.TotalPrice.ShopMoney.CurrencyCode),
		}
	}
	if c := raw.Customer; c != nil {
		p.CustomerInfo = models.CustomerInfo{FirstName: string(c.FirstName), LastName: string(c.LastName)}
	}

	if p.OrderId == "" {
		return p, &ValidationError{NodeId: nodeId, Reason: "order has no name"}
	}
	return p, nil
}

func parseQuantity(v string) int {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return int(f)
	}
	return 0
}
