package payment

import (
	"errors"
	"regexp"
	"strings"

	validator "github.com/go-playground/validator/v10"
)

// MethodKind identifies a gateway payment method.
type MethodKind string

const (
	MethodWallet        MethodKind = "yandex_money"
	MethodBankCard      MethodKind = "bank_card"
	MethodSberbank      MethodKind = "sberbank"
	MethodQiwi          MethodKind = "qiwi"
	MethodWebmoney      MethodKind = "webmoney"
	MethodCash          MethodKind = "cash"
	MethodMobileBalance MethodKind = "mobile_balance"
	MethodAlfabank      MethodKind = "alfabank"
	MethodApplePay      MethodKind = "apple_pay"
	MethodAndroidPay    MethodKind = "android_pay"
	MethodInstallments  MethodKind = "installments"
)

var knownMethods = map[MethodKind]struct{}{
	MethodWallet:        {},
	MethodBankCard:      {},
	MethodSberbank:      {},
	MethodQiwi:          {},
	MethodWebmoney:      {},
	MethodCash:          {},
	MethodMobileBalance: {},
	MethodAlfabank:      {},
	MethodApplePay:      {},
	MethodAndroidPay:    {},
	MethodInstallments:  {},
}

// Known reports whether k is a method the gateway accepts.
func (k MethodKind) Known() bool {
	_, ok := knownMethods[k]
	return ok
}

// MethodParams is the typed payment-method choice made at checkout.
// Implementations: Wallet, Qiwi, Alfabank, Generic.
type MethodParams interface {
	Kind() MethodKind
	methodData() *PaymentMethodData
	confirmation() ConfirmationType
}

// Wallet pays from a gateway wallet account.
type Wallet struct{}

func (Wallet) Kind() MethodKind { return MethodWallet }
func (Wallet) methodData() *PaymentMethodData {
	return &PaymentMethodData{Type: MethodWallet}
}
func (Wallet) confirmation() ConfirmationType { return ConfirmationRedirect }

// Qiwi pays from a Qiwi wallet identified by phone number.
type Qiwi struct {
	Phone string `validate:"required,numeric,min=4,max=16"`
}

func (Qiwi) Kind() MethodKind { return MethodQiwi }
func (q Qiwi) methodData() *PaymentMethodData {
	return &PaymentMethodData{Type: MethodQiwi, Phone: digitsOnly(q.Phone)}
}
func (Qiwi) confirmation() ConfirmationType { return ConfirmationRedirect }

// Alfabank pays through Alfa-Click; the buyer confirms outside the page.
type Alfabank struct {
	Login string `validate:"required"`
}

func (Alfabank) Kind() MethodKind { return MethodAlfabank }
func (a Alfabank) methodData() *PaymentMethodData {
	return &PaymentMethodData{Type: MethodAlfabank, Login: strings.TrimSpace(a.Login)}
}
func (Alfabank) confirmation() ConfirmationType { return ConfirmationExternal }

// Generic is any other method. An empty Method lets the buyer choose on the gateway page.
type Generic struct {
	Method MethodKind
}

func (g Generic) Kind() MethodKind { return g.Method }
func (g Generic) methodData() *PaymentMethodData {
	if g.Method == "" {
		return nil
	}
	return &PaymentMethodData{Type: g.Method}
}
func (Generic) confirmation() ConfirmationType { return ConfirmationRedirect }

// RawMethodParams is the form shape posted by the checkout method-selection step.
type RawMethodParams struct {
	PaymentType string `json:"payment_type"`
	QiwiPhone   string `json:"qiwiPhone,omitempty"`
	AlfaLogin   string `json:"alfaLogin,omitempty"`
}

var (
	validate   = validator.New(validator.WithRequiredStructEnabled())
	nonDigitRe = regexp.MustCompile(`[^\d]+`)
)

// DecodeMethodParams validates the raw checkout form once and returns the typed
// method. allowGatewaySelection permits an empty payment type.
func DecodeMethodParams(raw RawMethodParams, allowGatewaySelection bool) (MethodParams, error) {
	kind := MethodKind(strings.TrimSpace(raw.PaymentType))
	if kind == "" {
		if allowGatewaySelection {
			return Generic{}, nil
		}
		return nil, invalid("payment_type", "payment method is required")
	}
	if !kind.Known() {
		return nil, invalid("payment_type", "unknown payment method "+string(kind))
	}
	switch kind {
	case MethodQiwi:
		q := Qiwi{Phone: digitsOnly(raw.QiwiPhone)}
		if err := validate.Struct(q); err != nil {
			return nil, fieldError("qiwiPhone", "value is not a phone number", err)
		}
		return q, nil
	case MethodAlfabank:
		a := Alfabank{Login: strings.TrimSpace(raw.AlfaLogin)}
		if err := validate.Struct(a); err != nil {
			return nil, fieldError("alfaLogin", "alfa-click login is required", err)
		}
		return a, nil
	case MethodWallet:
		return Wallet{}, nil
	default:
		return Generic{Method: kind}, nil
	}
}

func fieldError(field, reason string, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return invalid(field, reason+" ("+verrs[0].Tag()+")")
	}
	return invalid(field, reason)
}

func digitsOnly(value string) string {
	return nonDigitRe.ReplaceAllString(value, "")
}
