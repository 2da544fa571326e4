package payment

import (
	"github.com/shopspring/decimal"
)

const receiptDescriptionLimit = 128

// ReceiptItem is one fiscal receipt line. Amount is the unit price.
type ReceiptItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Amount      Amount          `json:"amount"`
	VatCode     int             `json:"vat_code"`
	Shipping    bool            `json:"-"`
}

// Receipt is the optional fiscal receipt attached at creation.
type Receipt struct {
	Items         []ReceiptItem `json:"items"`
	Email         string        `json:"email,omitempty"`
	TaxSystemCode int           `json:"tax_system_code,omitempty"`
}

// TaxRateMap maps a local tax category id to a gateway VAT code.
type TaxRateMap map[string]int

// Resolve returns the mapped code for localID, or fallback when unmapped.
func (m TaxRateMap) Resolve(localID string, fallback int) int {
	if code, ok := m[localID]; ok && code > 0 {
		return code
	}
	return fallback
}

// Total sums price*quantity over all lines.
func (r *Receipt) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range r.Items {
		total = total.Add(it.Amount.Value.Mul(it.Quantity))
	}
	return total
}

// Normalize adjusts goods prices so the receipt total equals amount exactly.
// Shipping lines keep their price. Rounding leftovers go to the last goods
// line with an integral quantity, splitting one unit off when needed.
func (r *Receipt) Normalize(amount decimal.Decimal) error {
	if len(r.Items) == 0 {
		return invalid("receipt.items", "receipt has no items")
	}
	for i, it := range r.Items {
		if !it.Quantity.IsPositive() {
			return invalid("receipt.items", "quantity must be positive")
		}
		if it.Amount.Value.IsNegative() {
			return invalid("receipt.items", "price must not be negative")
		}
		if len([]rune(it.Description)) > receiptDescriptionLimit {
			r.Items[i].Description = string([]rune(it.Description)[:receiptDescriptionLimit])
		}
	}
	if r.Total().Equal(amount) {
		return nil
	}

	shipping := decimal.Zero
	goods := decimal.Zero
	for _, it := range r.Items {
		line := it.Amount.Value.Mul(it.Quantity)
		if it.Shipping {
			shipping = shipping.Add(line)
		} else {
			goods = goods.Add(line)
		}
	}
	target := amount.Sub(shipping)
	if !target.IsPositive() || !goods.IsPositive() {
		return invalid("receipt", "receipt total cannot be matched to payment amount")
	}

	coef := target.Div(goods)
	scaled := decimal.Zero
	for i, it := range r.Items {
		if it.Shipping {
			continue
		}
		price := it.Amount.Value.Mul(coef).Round(2)
		r.Items[i].Amount.Value = price
		scaled = scaled.Add(price.Mul(it.Quantity))
	}
	diff := target.Sub(scaled)
	if diff.IsZero() {
		return nil
	}

	for i := len(r.Items) - 1; i >= 0; i-- {
		it := r.Items[i]
		if it.Shipping || !it.Quantity.Equal(it.Quantity.Truncate(0)) {
			continue
		}
		adjusted := it.Amount.Value.Add(diff)
		if adjusted.IsNegative() {
			return invalid("receipt", "receipt total cannot be matched to payment amount")
		}
		if it.Quantity.Equal(decimal.NewFromInt(1)) {
			r.Items[i].Amount.Value = adjusted
			return nil
		}
		r.Items[i].Quantity = it.Quantity.Sub(decimal.NewFromInt(1))
		single := it
		single.Quantity = decimal.NewFromInt(1)
		single.Amount.Value = adjusted
		r.Items = append(r.Items[:i+1], append([]ReceiptItem{single}, r.Items[i+1:]...)...)
		return nil
	}
	return invalid("receipt", "receipt total cannot be matched to payment amount")
}
