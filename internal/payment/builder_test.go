package payment_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-kassa/internal/payment"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func baseInput() payment.BuildInput {
	return payment.BuildInput{
		Order:     payment.Order{ID: "42", Total: dec("100"), Currency: "RUB", Email: "buyer@example.com"},
		ReturnURL: "https://shop.test/return?order_id=42",
		ClientIP:  "203.0.113.9",
	}
}

func TestBuildIsAuthorizeOnlyWithOrderMetadata(t *testing.T) {
	b := payment.NewRequestBuilder(payment.BuilderConfig{CMSName: "toko-kassa", ModuleVersion: "1.0.0"})
	in := baseInput()
	in.Method = payment.Generic{Method: payment.MethodBankCard}

	req, err := b.Build(in)
	require.NoError(t, err)
	require.False(t, req.Capture)
	require.Equal(t, "42", req.Metadata[payment.MetadataOrderID])
	require.Equal(t, "toko-kassa", req.Metadata["cms_name"])
	require.Equal(t, "1.0.0", req.Metadata["module_version"])
	require.Equal(t, payment.ConfirmationRedirect, req.Confirmation.Type)
	require.Equal(t, in.ReturnURL, req.Confirmation.ReturnURL)
	require.Equal(t, "203.0.113.9", req.ClientIP)
	require.Equal(t, payment.MethodBankCard, req.PaymentMethodData.Type)
	require.Nil(t, req.Receipt)
}

func TestBuildNormalizesMethodFields(t *testing.T) {
	b := payment.NewRequestBuilder(payment.BuilderConfig{})

	method, err := payment.DecodeMethodParams(payment.RawMethodParams{PaymentType: "qiwi", QiwiPhone: "+7 (912) 345-67-89"}, false)
	require.NoError(t, err)
	in := baseInput()
	in.Method = method
	req, err := b.Build(in)
	require.NoError(t, err)
	require.Equal(t, "79123456789", req.PaymentMethodData.Phone)

	method, err = payment.DecodeMethodParams(payment.RawMethodParams{PaymentType: "alfabank", AlfaLogin: "  alfa.user  "}, false)
	require.NoError(t, err)
	in.Method = method
	in.ReturnURL = ""
	req, err = b.Build(in)
	require.NoError(t, err, "external confirmation needs no return url")
	require.Equal(t, "alfa.user", req.PaymentMethodData.Login)
	require.Equal(t, payment.ConfirmationExternal, req.Confirmation.Type)
	require.Empty(t, req.Confirmation.ReturnURL)
}

func TestDecodeMethodParams(t *testing.T) {
	cases := []struct {
		name  string
		raw   payment.RawMethodParams
		allow bool
		want  payment.MethodKind
		fails bool
	}{
		{name: "gateway choice allowed", raw: payment.RawMethodParams{}, allow: true, want: ""},
		{name: "gateway choice refused", raw: payment.RawMethodParams{}, fails: true},
		{name: "unknown", raw: payment.RawMethodParams{PaymentType: "bitcoin"}, fails: true},
		{name: "wallet", raw: payment.RawMethodParams{PaymentType: "yandex_money"}, want: payment.MethodWallet},
		{name: "card", raw: payment.RawMethodParams{PaymentType: "bank_card"}, want: payment.MethodBankCard},
		{name: "qiwi short", raw: payment.RawMethodParams{PaymentType: "qiwi", QiwiPhone: "12"}, fails: true},
		{name: "qiwi long", raw: payment.RawMethodParams{PaymentType: "qiwi", QiwiPhone: "12345678901234567"}, fails: true},
		{name: "qiwi letters only", raw: payment.RawMethodParams{PaymentType: "qiwi", QiwiPhone: "phone"}, fails: true},
		{name: "alfa blank", raw: payment.RawMethodParams{PaymentType: "alfabank", AlfaLogin: "   "}, fails: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := payment.DecodeMethodParams(tc.raw, tc.allow)
			if tc.fails {
				require.Error(t, err)
				require.True(t, payment.IsRequestValidation(err))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, m.Kind())
		})
	}
}

func TestBuildRejectsInvalidInput(t *testing.T) {
	b := payment.NewRequestBuilder(payment.BuilderConfig{})

	in := baseInput()
	in.Order.ID = " "
	_, err := b.Build(in)
	require.True(t, payment.IsRequestValidation(err))

	in = baseInput()
	in.Order.Total = dec("0.001")
	_, err = b.Build(in)
	require.True(t, payment.IsRequestValidation(err), "amount rounds to zero")

	in = baseInput()
	in.ReturnURL = ""
	_, err = b.Build(in)
	require.True(t, payment.IsRequestValidation(err))
}

func TestFormatAmount(t *testing.T) {
	require.True(t, dec("1235").Equal(payment.FormatAmount(dec("1234.50"), "HUF")))
	require.True(t, dec("1234.57").Equal(payment.FormatAmount(dec("1234.567"), "RUB")))
	require.True(t, dec("10").Equal(payment.FormatAmount(dec("10"), "EUR")))
}

func TestBuildReceiptMapsTaxAndMatchesAmount(t *testing.T) {
	b := payment.NewRequestBuilder(payment.BuilderConfig{
		SendReceipt:   true,
		TaxRates:      payment.TaxRateMap{"vat20": 4},
		TaxSystemCode: 2,
	})
	in := baseInput()
	in.Order.Shipping = &payment.ShippingLine{Name: "Courier", Price: dec("10"), TaxID: "vat20"}
	in.Cart = []payment.CartItem{
		{Name: "Tea", Price: dec("30"), Quantity: dec("1"), TaxID: "unmapped"},
		{Name: "Cup", Price: dec("40"), Quantity: dec("2"), TaxID: "vat20"},
	}

	req, err := b.Build(in)
	require.NoError(t, err)
	require.NotNil(t, req.Receipt)
	r := req.Receipt
	require.Equal(t, "buyer@example.com", r.Email)
	require.Equal(t, 2, r.TaxSystemCode)
	require.True(t, req.Amount.Value.Equal(r.Total()), "receipt total %s must equal amount %s", r.Total(), req.Amount.Value)

	require.Equal(t, 1, r.Items[0].VatCode, "unmapped categories use the default rate")
	require.Equal(t, 4, r.Items[1].VatCode)
	last := r.Items[len(r.Items)-1]
	require.Equal(t, "Courier", last.Description)
	require.True(t, dec("10").Equal(last.Amount.Value), "shipping keeps its price")
}

func TestReceiptNormalizeSplitsUnitForRemainder(t *testing.T) {
	r := &payment.Receipt{Items: []payment.ReceiptItem{
		{Description: "A", Quantity: dec("3"), Amount: payment.Amount{Value: dec("10"), Currency: "RUB"}},
	}}
	require.NoError(t, r.Normalize(dec("20")))
	require.True(t, dec("20").Equal(r.Total()))
	require.Len(t, r.Items, 2)
	require.True(t, dec("2").Equal(r.Items[0].Quantity))
	require.True(t, dec("1").Equal(r.Items[1].Quantity))
}

func TestBuildReceiptRequiresEmail(t *testing.T) {
	b := payment.NewRequestBuilder(payment.BuilderConfig{SendReceipt: true})
	in := baseInput()
	in.Order.Email = ""
	in.Cart = []payment.CartItem{{Name: "Tea", Price: dec("100"), Quantity: dec("1")}}
	_, err := b.Build(in)
	require.True(t, payment.IsRequestValidation(err))
}
