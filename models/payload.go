package models

// OrderPayload is the normalized order document persisted with every Order.
// JSON field names are kept stable because stored rows and print templates depend on them.
type OrderPayload struct {
	OrderId         string          `json:"order_id"`
	CreatedAt       string          `json:"created_at"`
	ContactEmail    string          `json:"contact_email"`
	CustomerMessage string          `json:"customer_message"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	LineItems       []LineItem      `json:"line_items"`
	TotalPrice      Money           `json:"total_price"`
	CustomerInfo    CustomerInfo    `json:"customer_info"`
	ShopName        string          `json:"shop_name,omitempty"`
}

type ShippingAddress struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Phone       string `json:"phone"`
	Address1    string `json:"address1"`
	Address2    string `json:"address2"`
	Zip         string `json:"zip"`
	CountryCode string `json:"countryCode"`
}

type LineItem struct {
	Name         string   `json:"name"`
	Quantity     int      `json:"quantity"`
	OptionValues []string `json:"option_values"`
}

type Money struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currency_code"`
}

type CustomerInfo struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}
