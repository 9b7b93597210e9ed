// Package models provides domain models for the storefront client.
package models

import (
	"encoding/json"
	"fmt"
)

// InstrumentID identifies a tradable instrument.
type InstrumentID int64

// CartLineItem is one cart entry: an instrument and the quantity to buy.
// Fields the backend sends that the cart does not interpret are kept in Extra
// and written back unchanged.
type CartLineItem struct {
	ID        InstrumentID   `json:"id"`
	Ticker    string         `json:"ticker"`
	SellPrice float64        `json:"sellprice"`
	Quantity  int            `json:"quantity"`
	Extra     map[string]any `json:"-"`
}

var cartKnownFields = map[string]bool{
	"id":        true,
	"ticker":    true,
	"sellprice": true,
	"quantity":  true,
}

// LineTotal returns quantity × sell price.
func (c CartLineItem) LineTotal() float64 {
	return c.SellPrice * float64(c.Quantity)
}

// Clone returns a deep copy of the line item.
func (c CartLineItem) Clone() CartLineItem {
	out := c
	if c.Extra != nil {
		out.Extra = make(map[string]any, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// MarshalJSON flattens Extra next to the known fields.
func (c CartLineItem) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(c.Extra)+4)
	for k, v := range c.Extra {
		if !cartKnownFields[k] {
			m[k] = v
		}
	}
	m["id"] = c.ID
	m["ticker"] = c.Ticker
	m["sellprice"] = c.SellPrice
	m["quantity"] = c.Quantity
	return json.Marshal(m)
}

// UnmarshalJSON reads the known fields and keeps everything else in Extra.
func (c *CartLineItem) UnmarshalJSON(data []byte) error {
	type known struct {
		ID        InstrumentID `json:"id"`
		Ticker    string       `json:"ticker"`
		SellPrice float64      `json:"sellprice"`
		Quantity  int          `json:"quantity"`
	}
	var k known
	if err := json.Unmarshal(data, &k); err != nil {
		return fmt.Errorf("decoding cart line item: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding cart line item: %w", err)
	}

	c.ID = k.ID
	c.Ticker = k.Ticker
	c.SellPrice = k.SellPrice
	c.Quantity = k.Quantity
	c.Extra = nil
	for key, v := range raw {
		if cartKnownFields[key] {
			continue
		}
		if c.Extra == nil {
			c.Extra = make(map[string]any)
		}
		c.Extra[key] = v
	}
	return nil
}

// CartItemFromQuote builds a cart line from a quote row, keeping the quote's
// other columns as passthrough fields.
func CartItemFromQuote(q QuoteRecord) CartLineItem {
	return CartLineItem{
		ID:        q.ID,
		Ticker:    q.Ticker,
		SellPrice: q.SellPrice,
		Quantity:  1,
		Extra: map[string]any{
			"sellqty": q.SellQty,
			"ltp":     q.LTP,
			"ltq":     q.LTQ,
			"dates":   q.Dates,
		},
	}
}

// CartTotal sums quantity × sell price over all lines.
func CartTotal(items []CartLineItem) float64 {
	var total float64
	for _, it := range items {
		total += it.LineTotal()
	}
	return total
}
