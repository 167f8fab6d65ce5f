package allvalue

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FlexString accepts any JSON scalar. Numbers and booleans keep their literal text.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	switch data[0] {
	case '{', '[':
		return fmt.Errorf("allvalue: expected a scalar, got %.32s", data)
	}
	*f = FlexString(data)
	return nil
}

// RawOrder is the order detail document as returned by the OrderDetails query.
// Every field may be absent or null upstream.
type RawOrder struct {
	Name            FlexString    `json:"name"`
	CreatedAt       FlexString    `json:"createdAt"`
	ContactEmail    FlexString    `json:"contactEmail"`
	CustomerMessage FlexString    `json:"customerMessage"`
	ShippingAddress *RawAddress   `json:"shippingAddress"`
	LineItems       []RawLineItem `json:"lineItems"`
	TotalPrice      *RawPriceSet  `json:"totalPrice"`
	Customer        *RawCustomer  `json:"customer"`
}

type RawAddress struct {
	FirstName   FlexString `json:"firstName"`
	LastName    FlexString `json:"lastName"`
	Phone       FlexString `json:"phone"`
	Address1    FlexString `json:"address1"`
	Address2    FlexString `json:"address2"`
	Zip         FlexString `json:"zip"`
	CountryCode FlexString `json:"countryCode"`
}

type RawLineItem struct {
	Name         FlexString `json:"name"`
	Quantity     FlexString `json:"quantity"`
	OptionValues []struct {
		Name FlexString `json:"name"`
	} `json:"optionValues"`
}

type RawPriceSet struct {
	ShopMoney *RawMoney `json:"shopMoney"`
}

type RawMoney struct {
	Amount       FlexString `json:"amount"`
	CurrencyCode FlexString `json:"currencyCode"`
}

type RawCustomer struct {
	FirstName FlexString `json:"firstName"`
	LastName  FlexString `json:"lastName"`
}

// OrderSummary is one node of the orders connection.
type OrderSummary struct {
	NodeId string `json:"nodeId"`
	Name   string `json:"name"`
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

type orderDetailsData struct {
	Order *RawOrder `json:"order"`
}

type ordersData struct {
	Orders struct {
		Edges []struct {
			Cursor string        `json:"cursor"`
			Node   *OrderSummary `json:"node"`
		} `json:"edges"`
		PageInfo struct {
			HasNextPage bool `json:"hasNextPage"`
		} `json:"pageInfo"`
	} `json:"orders"`
}
