package checkout

import (
	"errors"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-kassa/internal/payment"
)

// Form targets of the legacy wallet integration.
const (
	WalletFormURL     = "https://money.yandex.ru/quickpay/confirm.xml"
	WalletDemoFormURL = "https://demomoney.yandex.ru/quickpay/confirm.xml"
	TransferFormURL   = "https://money.yandex.ru/fastpay/confirm"
)

// Field is one hidden input of an auto-submitted form.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Form is a POST form the storefront renders and submits on the buyer's behalf.
type Form struct {
	Action string  `json:"action"`
	Method string  `json:"method"`
	Fields []Field `json:"fields"`
}

// Get returns the value of the named field.
func (f Form) Get(name string) string {
	for _, fl := range f.Fields {
		if fl.Name == name {
			return fl.Value
		}
	}
	return ""
}

// WalletOrder is what the wallet form needs to know about the order.
type WalletOrder struct {
	ID          string
	Number      string
	Total       decimal.Decimal
	Comment     string
	PaymentType string
	SuccessURL  string
}

// WalletConfig carries the receiving wallet account.
type WalletConfig struct {
	Account  string
	TestMode bool
	// ShopName prefixes the payment description shown to the buyer.
	ShopName string
}

// WalletForm builds the quickpay form for a wallet or bank-card payment.
// The order id travels as label and comes back in the signed notification.
func WalletForm(cfg WalletConfig, order WalletOrder) Form {
	action := WalletFormURL
	if cfg.TestMode {
		action = WalletDemoFormURL
	}
	title := strings.TrimSpace(strings.TrimSpace(cfg.ShopName) + " order " + orderNumber(order))
	return Form{
		Action: action,
		Method: "POST",
		Fields: []Field{
			{"receiver", cfg.Account},
			{"formcomment", title},
			{"short-dest", title},
			{"writable-targets", "false"},
			{"comment-needed", "true"},
			{"label", order.ID},
			{"quickpay-form", "shop"},
			{"paymentType", order.PaymentType},
			{"targets", title},
			{"sum", payment.FormatAmount(order.Total, "RUB").StringFixed(2)},
			{"comment", order.Comment},
			{"need-fio", "true"},
			{"need-email", "true"},
			{"need-phone", "false"},
			{"need-address", "false"},
			{"successURL", order.SuccessURL},
		},
	}
}

// TransferConfig carries the direct-transfer form settings.
type TransferConfig struct {
	FormID string
	// Narrative is the payment purpose template with %field% placeholders.
	Narrative string
	CMSName   string
}

// ErrPayerNameRequired is returned when a direct transfer has no payer full name.
var ErrPayerNameRequired = errors.New("checkout: payer full name is required")

// TransferForm builds the direct bank transfer form.
func TransferForm(cfg TransferConfig, total decimal.Decimal, payerName string, vars map[string]string) (Form, error) {
	fio := strings.TrimSpace(payerName)
	if fio == "" {
		return Form{}, ErrPayerNameRequired
	}
	cms := cfg.CMSName
	if cms == "" {
		cms = "toko-kassa"
	}
	return Form{
		Action: TransferFormURL,
		Method: "POST",
		Fields: []Field{
			{"formId", cfg.FormID},
			{"narrative", RenderNarrative(cfg.Narrative, vars)},
			{"fio", fio},
			{"sum", payment.FormatAmount(total, "RUB").StringFixed(2)},
			{"quickPayVersion", "2"},
			{"cms_name", cms},
		},
	}, nil
}

// RenderNarrative replaces every %name% in tpl with vars[name]. Unknown
// placeholders are left as they are.
func RenderNarrative(tpl string, vars map[string]string) string {
	if tpl == "" || len(vars) == 0 {
		return tpl
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	// longer names first so %order_id% is not shadowed by %order%
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "%"+k+"%", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}

func orderNumber(o WalletOrder) string {
	if n := strings.TrimSpace(o.Number); n != "" {
		return n
	}
	return o.ID
}
