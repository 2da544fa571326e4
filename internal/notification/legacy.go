package notification

import (
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-kassa/internal/common"
	"github.com/noah-isme/toko-kassa/internal/payment"
)

// numericCurrencies maps ISO 4217 numeric codes used by wallet notifications.
var numericCurrencies = map[string]string{
	"643": "RUB",
	"840": "USD",
	"978": "EUR",
}

// Transfer is an incoming wallet transfer notification, posted as a form.
type Transfer struct {
	NotificationType string
	OperationID      string
	Amount           string
	Currency         string
	Datetime         string
	Sender           string
	Codepro          string
	Label            string
	Hash             string
}

// ParseTransfer reads the notification fields from a posted form. The label
// takes part in the signature and is checked by RequireLabel after Verify.
func ParseTransfer(form url.Values) (Transfer, error) {
	t := Transfer{
		NotificationType: form.Get("notification_type"),
		OperationID:      form.Get("operation_id"),
		Amount:           form.Get("amount"),
		Currency:         form.Get("currency"),
		Datetime:         form.Get("datetime"),
		Sender:           form.Get("sender"),
		Codepro:          form.Get("codepro"),
		Label:            form.Get("label"),
		Hash:             form.Get("sha1_hash"),
	}
	switch {
	case strings.TrimSpace(t.Hash) == "":
		return Transfer{}, invalid("sha1_hash is required")
	case strings.TrimSpace(t.OperationID) == "":
		return Transfer{}, invalid("operation_id is required")
	}
	return t, nil
}

// RequireLabel rejects a transfer that names no order.
func (t Transfer) RequireLabel() error {
	if strings.TrimSpace(t.Label) == "" {
		return invalid("label is required")
	}
	return nil
}

// LegacyVerifier authenticates wallet notifications with the shared secret.
type LegacyVerifier struct {
	Secret string
}

// Signature computes the expected digest. The field order is fixed by the
// wallet protocol and the secret sits between codepro and label.
func (v LegacyVerifier) Signature(t Transfer) string {
	parts := []string{
		t.NotificationType,
		t.OperationID,
		t.Amount,
		t.Currency,
		t.Datetime,
		t.Sender,
		t.Codepro,
		v.Secret,
		t.Label,
	}
	return common.Sha1Hex(strings.Join(parts, "&"))
}

// Verify returns ErrSignatureMismatch unless the provided hash matches.
func (v LegacyVerifier) Verify(t Transfer) error {
	if v.Secret == "" {
		return ErrSignatureMismatch
	}
	if !common.EqualHex(v.Signature(t), t.Hash) {
		return ErrSignatureMismatch
	}
	return nil
}

// Payment translates a verified transfer into a settled payment for the order in Label.
func (t Transfer) Payment() (payment.Payment, error) {
	if err := t.RequireLabel(); err != nil {
		return payment.Payment{}, err
	}
	value, err := decimal.NewFromString(strings.TrimSpace(t.Amount))
	if err != nil {
		return payment.Payment{}, invalid("amount is not a number")
	}
	currency := strings.TrimSpace(t.Currency)
	if code, ok := numericCurrencies[currency]; ok {
		currency = code
	}
	return payment.Payment{
		ID:       t.OperationID,
		Status:   payment.StatusSucceeded,
		Paid:     true,
		Amount:   payment.Amount{Value: value, Currency: currency},
		Metadata: map[string]string{payment.MetadataOrderID: t.Label},
	}, nil
}
