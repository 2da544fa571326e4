package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-kassa/internal/auth"
	"github.com/noah-isme/toko-kassa/internal/common"
	"github.com/noah-isme/toko-kassa/internal/config"
	"github.com/noah-isme/toko-kassa/internal/payment"
)

var (
	// ErrDisabled is returned when no payment integration is configured.
	ErrDisabled = errors.New("checkout: payments are disabled")
	// ErrNotCreated tells the buyer to choose another payment method.
	ErrNotCreated = errors.New("payment not created, choose another method")
)

// PaymentCreator submits gateway payments.
type PaymentCreator interface {
	CreatePayment(ctx context.Context, in payment.BuildInput) (*payment.Payment, error)
}

// Poller reconciles an order on the buyer's return.
type Poller interface {
	Poll(ctx context.Context, orderID string) (payment.PollResult, error)
}

// ReturnTokens issues and verifies return URL tokens.
type ReturnTokens interface {
	Issue(orderID string) (string, error)
	Verify(token, orderID string) error
}

// Pages are the storefront destinations the return poll redirects to.
type Pages struct {
	Success  string
	Awaiting string
	Method   string
	Failed   string
}

// Service turns checkout requests into gateway payments or legacy forms and
// maps return polls to storefront redirects.
type Service struct {
	Mode             config.IntegrationMode
	Payments         PaymentCreator
	Poller           Poller
	Tokens           ReturnTokens
	ReturnURLBase    string
	GatewaySelection bool
	Wallet           WalletConfig
	Transfer         TransferConfig
	Pages            Pages
	Logger           zerolog.Logger
}

// OrderInput is the order part of a create request.
type OrderInput struct {
	ID       string            `json:"id" validate:"required"`
	Number   string            `json:"number"`
	Total    decimal.Decimal   `json:"total"`
	Currency string            `json:"currency" validate:"omitempty,len=3"`
	Email    string            `json:"email" validate:"omitempty,email"`
	Comment  string            `json:"comment"`
	Shipping *ShippingInput    `json:"shipping"`
	Extra    map[string]string `json:"extra"`
}

// ShippingInput is the selected shipping method.
type ShippingInput struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	TaxID string          `json:"taxId"`
}

// ItemInput is one cart line.
type ItemInput struct {
	Name     string          `json:"name" validate:"required"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	TaxID    string          `json:"taxId"`
}

// CreateRequest is the body of POST /api/v1/payments.
type CreateRequest struct {
	Order     OrderInput              `json:"order" validate:"required"`
	Cart      []ItemInput             `json:"cart" validate:"dive"`
	Method    payment.RawMethodParams `json:"method"`
	PayerName string                  `json:"payerName"`
}

// CreateResponse describes where the buyer goes next.
type CreateResponse struct {
	Mode            config.IntegrationMode `json:"mode"`
	PaymentID       string                 `json:"paymentId,omitempty"`
	Status          payment.Status         `json:"status,omitempty"`
	ConfirmationURL string                 `json:"confirmationUrl,omitempty"`
	Form            *Form                  `json:"form,omitempty"`
}

// Create starts a payment for the order in the configured mode.
func (s *Service) Create(ctx context.Context, req CreateRequest, clientIP string) (CreateResponse, error) {
	switch s.Mode {
	case config.ModeGateway:
		return s.createGateway(ctx, req, clientIP)
	case config.ModeWallet:
		form := WalletForm(s.Wallet, WalletOrder{
			ID:          req.Order.ID,
			Number:      req.Order.Number,
			Total:       req.Order.Total,
			Comment:     req.Order.Comment,
			PaymentType: strings.TrimSpace(req.Method.PaymentType),
			SuccessURL:  s.Pages.Success,
		})
		return CreateResponse{Mode: s.Mode, Form: &form}, nil
	case config.ModeDirectTransfer:
		form, err := TransferForm(s.Transfer, req.Order.Total, req.PayerName, narrativeVars(req.Order))
		if err != nil {
			return CreateResponse{}, err
		}
		return CreateResponse{Mode: s.Mode, Form: &form}, nil
	default:
		return CreateResponse{}, ErrDisabled
	}
}

func (s *Service) createGateway(ctx context.Context, req CreateRequest, clientIP string) (CreateResponse, error) {
	if s.Payments == nil || s.Tokens == nil {
		return CreateResponse{}, ErrDisabled
	}
	method, err := payment.DecodeMethodParams(req.Method, s.GatewaySelection)
	if err != nil {
		s.Logger.Warn().Err(err).Str("order_id", req.Order.ID).Msg("payment method rejected")
		return CreateResponse{}, fmt.Errorf("%w: %w", ErrNotCreated, err)
	}
	returnURL, err := s.ReturnURL(req.Order.ID)
	if err != nil {
		return CreateResponse{}, err
	}
	in := payment.BuildInput{
		Order:     toOrder(req.Order),
		Cart:      toCart(req.Cart),
		Method:    method,
		ReturnURL: returnURL,
		ClientIP:  clientIP,
	}
	p, err := s.Payments.CreatePayment(ctx, in)
	if err != nil {
		if payment.IsRequestValidation(err) {
			s.Logger.Warn().Err(err).Str("order_id", req.Order.ID).Msg("payment request rejected")
			return CreateResponse{}, fmt.Errorf("%w: %w", ErrNotCreated, err)
		}
		s.Logger.Error().Err(err).Str("order_id", req.Order.ID).Msg("payment not created")
		return CreateResponse{}, fmt.Errorf("%w: %w", ErrNotCreated, err)
	}
	return CreateResponse{Mode: s.Mode, PaymentID: p.ID, Status: p.Status, ConfirmationURL: p.RedirectURL()}, nil
}

// ReturnURL is the gateway return URL for the order, carrying a signed token.
func (s *Service) ReturnURL(orderID string) (string, error) {
	token, err := s.Tokens.Issue(orderID)
	if err != nil {
		return "", fmt.Errorf("issue return token: %w", err)
	}
	q := url.Values{}
	q.Set("order_id", orderID)
	q.Set("token", token)
	return s.ReturnURLBase + "?" + q.Encode(), nil
}

// ReturnResult is the outcome of a return poll.
type ReturnResult struct {
	Outcome  payment.Outcome `json:"outcome"`
	Redirect string          `json:"redirect"`
}

// Return verifies the return token and reconciles the order.
func (s *Service) Return(ctx context.Context, orderID, token string) (ReturnResult, error) {
	if s.Poller == nil || s.Tokens == nil {
		return ReturnResult{}, ErrDisabled
	}
	if err := s.Tokens.Verify(token, orderID); err != nil {
		return ReturnResult{}, err
	}
	res, err := s.Poller.Poll(ctx, orderID)
	if err != nil {
		s.Logger.Error().Err(err).Str("order_id", orderID).Msg("return poll failed")
		return ReturnResult{}, common.Unavailable("PAYMENT_STATUS_UNAVAILABLE", "payment status unavailable, retry later", err)
	}
	return ReturnResult{Outcome: res.Outcome, Redirect: s.redirectFor(res.Outcome, orderID)}, nil
}

func (s *Service) redirectFor(outcome payment.Outcome, orderID string) string {
	var page string
	switch outcome {
	case payment.OutcomeSucceeded:
		page = s.Pages.Success
	case payment.OutcomeAwaiting:
		page = s.Pages.Awaiting
	case payment.OutcomeFailed:
		page = s.Pages.Failed
	}
	if page == "" {
		page = s.Pages.Method
	}
	return withOrder(page, orderID)
}

func withOrder(page, orderID string) string {
	u, err := url.Parse(page)
	if err != nil {
		return page
	}
	q := u.Query()
	q.Set("order_id", orderID)
	u.RawQuery = q.Encode()
	return u.String()
}

func toOrder(o OrderInput) payment.Order {
	out := payment.Order{
		ID:       strings.TrimSpace(o.ID),
		Total:    o.Total,
		Currency: o.Currency,
		Email:    o.Email,
	}
	if o.Shipping != nil {
		out.Shipping = &payment.ShippingLine{Name: o.Shipping.Name, Price: o.Shipping.Price, TaxID: o.Shipping.TaxID}
	}
	return out
}

func toCart(items []ItemInput) []payment.CartItem {
	out := make([]payment.CartItem, 0, len(items))
	for _, it := range items {
		out = append(out, payment.CartItem{Name: it.Name, Price: it.Price, Quantity: it.Quantity, TaxID: it.TaxID})
	}
	return out
}

func narrativeVars(o OrderInput) map[string]string {
	vars := make(map[string]string, len(o.Extra)+4)
	for k, v := range o.Extra {
		vars[k] = v
	}
	vars["order_id"] = o.ID
	vars["order_number"] = o.Number
	vars["order_total"] = o.Total.StringFixed(2)
	vars["email"] = o.Email
	return vars
}

var _ ReturnTokens = (*auth.ReturnTokens)(nil)
