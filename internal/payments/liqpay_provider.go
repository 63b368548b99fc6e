package payments

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	domain "github.com/op17/storefront-api/internal/domain"
)

// LiqPayCheckoutURL is the form action the client posts data and signature to.
const LiqPayCheckoutURL = "https://www.liqpay.ua/api/3/checkout"

// LiqPayProviderConfig configures the LiqPayProvider.
type LiqPayProviderConfig struct {
	PublicKey  string
	PrivateKey string
	ServerURL  string
	ResultURL  string
	Sandbox    bool
	Logger     Logger
}

// LiqPayProvider implements the redirect-form flow.
type LiqPayProvider struct {
	publicKey  string
	privateKey string
	serverURL  string
	resultURL  string
	sandbox    bool
	logger     Logger
}

var _ Provider = (*LiqPayProvider)(nil)

// liqpayPayload keeps the field order stable; the signature covers the encoded bytes.
type liqpayPayload struct {
	PublicKey   string  `json:"public_key"`
	Version     string  `json:"version"`
	Action      string  `json:"action"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Description string  `json:"description"`
	OrderID     string  `json:"order_id"`
	ServerURL   string  `json:"server_url,omitempty"`
	ResultURL   string  `json:"result_url,omitempty"`
	Sandbox     string  `json:"sandbox,omitempty"`
}

// NewLiqPayProvider constructs the provider. Both keys are required.
func NewLiqPayProvider(cfg LiqPayProviderConfig) (*LiqPayProvider, error) {
	publicKey := strings.TrimSpace(cfg.PublicKey)
	privateKey := strings.TrimSpace(cfg.PrivateKey)
	if publicKey == "" || privateKey == "" {
		return nil, fmt.Errorf("%w: liqpay keys are not configured", ErrProviderMisconfigured)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &LiqPayProvider{
		publicKey:  publicKey,
		privateKey: privateKey,
		serverURL:  strings.TrimSpace(cfg.ServerURL),
		resultURL:  strings.TrimSpace(cfg.ResultURL),
		sandbox:    cfg.Sandbox,
		logger:     logger,
	}, nil
}

func (p *LiqPayProvider) Name() domain.PaymentProvider { return domain.ProviderLiqPay }

// SupportsCurrency reports true for every storefront currency.
func (p *LiqPayProvider) SupportsCurrency(currency domain.Currency) bool {
	return SupportsCurrency(domain.ProviderLiqPay, currency)
}

// Initiate builds the signed checkout form. No network call is made.
func (p *LiqPayProvider) Initiate(ctx context.Context, order domain.Order, payment domain.Payment) (Launch, error) {
	if p == nil {
		return Launch{}, errors.New("liqpay: provider is nil")
	}
	if !p.SupportsCurrency(order.Currency) {
		return Launch{}, ErrUnsupportedCurrency
	}
	amountMinor := payment.AmountMinor
	if amountMinor <= 0 {
		amountMinor = order.TotalMinor
	}
	payload := liqpayPayload{
		PublicKey:   p.publicKey,
		Version:     "3",
		Action:      "pay",
		Amount:      float64(amountMinor) / 100,
		Currency:    string(order.Currency),
		Description: "Order " + order.OrderNumber,
		OrderID:     order.OrderNumber,
		ServerURL:   p.serverURL,
		ResultURL:   p.resultURL,
	}
	if p.sandbox {
		payload.Sandbox = "1"
	}
	encoded, err := encodeLiqPayPayload(payload)
	if err != nil {
		return Launch{}, fmt.Errorf("liqpay: encode payload: %w", err)
	}
	data := base64.StdEncoding.EncodeToString(encoded)

	raw := map[string]any{}
	if err := json.Unmarshal(encoded, &raw); err != nil {
		return Launch{}, fmt.Errorf("liqpay: encode payload: %w", err)
	}

	p.logger(ctx, "payments.liqpay.checkout.created", map[string]any{
		"orderNumber": order.OrderNumber,
		"currency":    order.Currency,
		"amountMinor": amountMinor,
	})

	return Launch{
		Provider:  domain.ProviderLiqPay,
		URL:       LiqPayCheckoutURL,
		Data:      data,
		Signature: LiqPaySignature(p.privateKey, data),
		InvoiceID: order.OrderNumber,
		Raw:       raw,
	}, nil
}

// VerifyAndDecode checks the form-encoded data/signature pair and decodes data.
func (p *LiqPayProvider) VerifyAndDecode(ctx context.Context, rawBody []byte, _ http.Header) (Notification, error) {
	if p == nil {
		return Notification{}, errors.New("liqpay: provider is nil")
	}
	form, err := url.ParseQuery(string(rawBody))
	if err != nil {
		return Notification{}, ErrInvalidPayload
	}
	data := form.Get("data")
	signature := form.Get("signature")
	if data == "" || signature == "" {
		return Notification{}, ErrInvalidPayload
	}
	if LiqPaySignature(p.privateKey, data) != signature {
		return Notification{}, ErrInvalidSignature
	}

	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return Notification{}, ErrInvalidPayload
	}
	raw, err := decodeJSONObject(decoded)
	if err != nil {
		return Notification{}, ErrInvalidPayload
	}

	paymentID := stringField(raw, "payment_id")
	if paymentID == "" {
		paymentID = stringField(raw, "transaction_id")
	}
	n := Notification{
		Provider:       domain.ProviderLiqPay,
		OrderReference: stringField(raw, "order_id"),
		PaymentID:      paymentID,
		Status:         stringField(raw, "status"),
		Raw:            raw,
	}
	p.logger(ctx, "payments.liqpay.webhook.verified", map[string]any{
		"orderReference": n.OrderReference,
		"paymentId":      n.PaymentID,
		"status":         n.Status,
	})
	return n, nil
}

// MapStatus maps LiqPay statuses case-insensitively; unknown values stay pending.
func (p *LiqPayProvider) MapStatus(native string) domain.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(native)) {
	case "success", "sandbox":
		return domain.PaymentStatusCaptured
	case "failure", "error", "reversed":
		return domain.PaymentStatusFailed
	default:
		return domain.PaymentStatusPending
	}
}

// LiqPaySignature returns base64(sha1(privateKey + data + privateKey)).
func LiqPaySignature(privateKey, data string) string {
	sum := sha1.Sum([]byte(privateKey + data + privateKey))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func encodeLiqPayPayload(payload liqpayPayload) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func decodeJSONObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("payload is not an object")
	}
	return out, nil
}

// stringField reads a string or numeric field; provider ids arrive as either.
func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

func objectField(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	nested, _ := m[key].(map[string]any)
	return nested
}
