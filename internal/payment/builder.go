package payment

import (
	"strings"

	"github.com/shopspring/decimal"
)

const defaultCurrency = "RUB"

// zeroDecimalCurrencies have no minor units and are sent as whole numbers.
var zeroDecimalCurrencies = map[string]struct{}{
	"HUF": {},
}

// Order is the checkout order as seen by the builder.
type Order struct {
	ID       string
	Total    decimal.Decimal
	Currency string
	Email    string
	Shipping *ShippingLine
}

// ShippingLine is the shipping method selected for the order.
type ShippingLine struct {
	Name  string
	Price decimal.Decimal
	TaxID string
}

// CartItem is a single cart line.
type CartItem struct {
	Name     string
	Price    decimal.Decimal
	Quantity decimal.Decimal
	TaxID    string
}

// BuildInput groups everything needed for one creation request.
type BuildInput struct {
	Order     Order
	Cart      []CartItem
	Method    MethodParams
	ReturnURL string
	ClientIP  string
}

// BuilderConfig carries the receipt and metadata settings resolved at startup.
type BuilderConfig struct {
	SendReceipt    bool
	TaxRates       TaxRateMap
	DefaultTaxRate int
	TaxSystemCode  int
	CMSName        string
	ModuleVersion  string
}

// RequestBuilder assembles gateway creation requests.
type RequestBuilder struct {
	cfg BuilderConfig
}

// NewRequestBuilder returns a builder, defaulting the VAT code to 1 when unset.
func NewRequestBuilder(cfg BuilderConfig) *RequestBuilder {
	if cfg.DefaultTaxRate <= 0 {
		cfg.DefaultTaxRate = 1
	}
	if cfg.TaxRates == nil {
		cfg.TaxRates = TaxRateMap{}
	}
	return &RequestBuilder{cfg: cfg}
}

// Build returns a request ready to submit, or a *RequestValidationError.
// Capture is always false: every payment is authorize-only.
func (b *RequestBuilder) Build(in BuildInput) (CreatePaymentRequest, error) {
	var zero CreatePaymentRequest
	orderID := strings.TrimSpace(in.Order.ID)
	if orderID == "" {
		return zero, invalid("order.id", "order id is required")
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Order.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	value := FormatAmount(in.Order.Total, currency)
	if !value.IsPositive() {
		return zero, invalid("amount", "amount must be positive")
	}
	method := in.Method
	if method == nil {
		method = Generic{}
	}

	req := CreatePaymentRequest{
		Amount:            Amount{Value: value, Currency: currency},
		Capture:           false,
		PaymentMethodData: method.methodData(),
		ClientIP:          strings.TrimSpace(in.ClientIP),
		Metadata: map[string]string{
			MetadataOrderID: orderID,
		},
	}
	if b.cfg.CMSName != "" {
		req.Metadata["cms_name"] = b.cfg.CMSName
	}
	if b.cfg.ModuleVersion != "" {
		req.Metadata["module_version"] = b.cfg.ModuleVersion
	}

	switch method.confirmation() {
	case ConfirmationExternal:
		req.Confirmation = Confirmation{Type: ConfirmationExternal}
	default:
		returnURL := strings.TrimSpace(in.ReturnURL)
		if returnURL == "" {
			return zero, invalid("confirmation.return_url", "return url is required")
		}
		req.Confirmation = Confirmation{Type: ConfirmationRedirect, ReturnURL: returnURL}
	}

	if b.cfg.SendReceipt && len(in.Cart) > 0 {
		receipt, err := b.receipt(in.Order, in.Cart, currency)
		if err != nil {
			return zero, err
		}
		if err := receipt.Normalize(req.Amount.Value); err != nil {
			return zero, err
		}
		req.Receipt = receipt
	}
	return req, nil
}

func (b *RequestBuilder) receipt(order Order, cart []CartItem, currency string) (*Receipt, error) {
	email := strings.TrimSpace(order.Email)
	if email == "" {
		return nil, invalid("receipt.email", "buyer email is required for receipts")
	}
	receipt := &Receipt{Email: email, TaxSystemCode: b.cfg.TaxSystemCode}
	for _, item := range cart {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			return nil, invalid("receipt.items", "item name is required")
		}
		receipt.Items = append(receipt.Items, ReceiptItem{
			Description: name,
			Quantity:    item.Quantity,
			Amount:      Amount{Value: item.Price, Currency: currency},
			VatCode:     b.cfg.TaxRates.Resolve(item.TaxID, b.cfg.DefaultTaxRate),
		})
	}
	if s := order.Shipping; s != nil && strings.TrimSpace(s.Name) != "" {
		receipt.Items = append(receipt.Items, ReceiptItem{
			Description: strings.TrimSpace(s.Name),
			Quantity:    decimal.NewFromInt(1),
			Amount:      Amount{Value: s.Price, Currency: currency},
			VatCode:     b.cfg.TaxRates.Resolve(s.TaxID, b.cfg.DefaultTaxRate),
			Shipping:    true,
		})
	}
	return receipt, nil
}

// FormatAmount rounds value to the precision the gateway expects for currency.
func FormatAmount(value decimal.Decimal, currency string) decimal.Decimal {
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(currency)]; ok {
		return value.Round(0)
	}
	return value.Round(2)
}
