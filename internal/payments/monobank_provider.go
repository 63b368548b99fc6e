package payments

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	domain "github.com/op17/storefront-api/internal/domain"
)

const (
	// DefaultMonobankBaseURL is the acquiring API host.
	DefaultMonobankBaseURL = "https://api.monobank.ua"

	monobankInvoicePath = "/api/merchant/invoice/create"
	monobankSignHeader  = "X-Sign"
)

var monobankCurrencyCodes = map[domain.Currency]int{
	domain.CurrencyUAH: 980,
	domain.CurrencyUSD: 840,
	domain.CurrencyEUR: 978,
}

// MonobankProviderConfig configures the MonobankProvider.
type MonobankProviderConfig struct {
	Token       string
	PublicKey   string
	BaseURL     string
	RedirectURL string
	WebhookURL  string
	Timeout     time.Duration
	HTTPClient  *http.Client
	Logger      Logger
}

// MonobankProvider implements the invoice API flow.
type MonobankProvider struct {
	client      *resty.Client
	publicKey   crypto.PublicKey
	redirectURL string
	webhookURL  string
	logger      Logger
}

var _ Provider = (*MonobankProvider)(nil)

type monobankInvoiceRequest struct {
	Amount           int64                    `json:"amount"`
	Ccy              int                      `json:"ccy"`
	MerchantPaymInfo monobankMerchantPaymInfo `json:"merchantPaymInfo"`
	RedirectURL      string                   `json:"redirectUrl,omitempty"`
	WebHookURL       string                   `json:"webHookUrl,omitempty"`
}

type monobankMerchantPaymInfo struct {
	Reference   string `json:"reference"`
	Destination string `json:"destination"`
}

type monobankInvoiceResponse struct {
	InvoiceID string `json:"invoiceId"`
	PageURL   string `json:"pageUrl"`
}

// NewMonobankProvider constructs the provider. The token and webhook public key are required.
func NewMonobankProvider(cfg MonobankProviderConfig) (*MonobankProvider, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, fmt.Errorf("%w: monobank token is not configured", ErrProviderMisconfigured)
	}
	if strings.TrimSpace(cfg.PublicKey) == "" {
		return nil, fmt.Errorf("%w: monobank webhook public key is not configured", ErrProviderMisconfigured)
	}
	publicKey, err := ParseMonobankPublicKey(cfg.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderMisconfigured, err)
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultMonobankBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var client *resty.Client
	if cfg.HTTPClient != nil {
		client = resty.NewWithClient(cfg.HTTPClient)
	} else {
		client = resty.New()
	}
	client.SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("X-Token", token).
		SetHeader("Content-Type", "application/json")

	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &MonobankProvider{
		client:      client,
		publicKey:   publicKey,
		redirectURL: strings.TrimSpace(cfg.RedirectURL),
		webhookURL:  strings.TrimSpace(cfg.WebhookURL),
		logger:      logger,
	}, nil
}

func (p *MonobankProvider) Name() domain.PaymentProvider { return domain.ProviderMonobank }

// SupportsCurrency reports true only for UAH.
func (p *MonobankProvider) SupportsCurrency(currency domain.Currency) bool {
	return SupportsCurrency(domain.ProviderMonobank, currency) && monobankCurrencyCodes[currency] == 980
}

// Initiate creates an invoice. Any non-2xx response aborts without retry.
func (p *MonobankProvider) Initiate(ctx context.Context, order domain.Order, payment domain.Payment) (Launch, error) {
	if p == nil {
		return Launch{}, errors.New("monobank: provider is nil")
	}
	if !p.SupportsCurrency(order.Currency) {
		return Launch{}, ErrUnsupportedCurrency
	}
	amountMinor := payment.AmountMinor
	if amountMinor <= 0 {
		amountMinor = order.TotalMinor
	}
	reference := order.OrderNumber
	if reference == "" {
		reference = order.ID
	}
	body := monobankInvoiceRequest{
		Amount: amountMinor,
		Ccy:    monobankCurrencyCodes[order.Currency],
		MerchantPaymInfo: monobankMerchantPaymInfo{
			Reference:   reference,
			Destination: "Order " + order.OrderNumber,
		},
		RedirectURL: p.redirectURL,
		WebHookURL:  p.webhookURL,
	}

	var invoice monobankInvoiceResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&invoice).
		Post(monobankInvoicePath)
	if err != nil {
		return Launch{}, &ProviderError{Provider: domain.ProviderMonobank, Detail: err.Error(), Err: err}
	}
	if resp.IsError() {
		p.logger(ctx, "payments.monobank.invoice.failed", map[string]any{
			"orderNumber": order.OrderNumber,
			"status":      resp.StatusCode(),
		})
		return Launch{}, &ProviderError{Provider: domain.ProviderMonobank, Status: resp.StatusCode(), Detail: resp.String()}
	}

	raw := map[string]any{}
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		raw = map[string]any{"invoiceId": invoice.InvoiceID, "pageUrl": invoice.PageURL}
	}

	p.logger(ctx, "payments.monobank.invoice.created", map[string]any{
		"orderNumber": order.OrderNumber,
		"invoiceId":   invoice.InvoiceID,
	})

	return Launch{
		Provider:  domain.ProviderMonobank,
		URL:       invoice.PageURL,
		InvoiceID: invoice.InvoiceID,
		Raw:       raw,
	}, nil
}

// VerifyAndDecode checks the X-Sign header against the raw body before decoding it.
func (p *MonobankProvider) VerifyAndDecode(ctx context.Context, rawBody []byte, headers http.Header) (Notification, error) {
	if p == nil {
		return Notification{}, errors.New("monobank: provider is nil")
	}
	signature := strings.TrimSpace(headers.Get(monobankSignHeader))
	if signature == "" {
		return Notification{}, ErrInvalidSignature
	}
	if err := verifyMonobankSignature(p.publicKey, rawBody, signature); err != nil {
		return Notification{}, ErrInvalidSignature
	}

	raw, err := decodeJSONObject(rawBody)
	if err != nil {
		return Notification{}, ErrInvalidPayload
	}
	invoice := objectField(raw, "invoice")

	reference := stringField(raw, "reference")
	if reference == "" {
		reference = stringField(objectField(raw, "merchantPaymInfo"), "reference")
	}
	invoiceID := stringField(raw, "invoiceId")
	if invoiceID == "" {
		invoiceID = stringField(invoice, "invoiceId")
	}
	status := stringField(raw, "status")
	if status == "" {
		status = stringField(invoice, "status")
	}

	n := Notification{
		Provider:       domain.ProviderMonobank,
		OrderReference: reference,
		PaymentID:      invoiceID,
		InvoiceID:      invoiceID,
		Status:         status,
		Raw:            raw,
	}
	p.logger(ctx, "payments.monobank.webhook.verified", map[string]any{
		"orderReference": n.OrderReference,
		"invoiceId":      n.InvoiceID,
		"status":         n.Status,
	})
	return n, nil
}

// MapStatus maps Monobank statuses case-insensitively; unknown values stay pending.
func (p *MonobankProvider) MapStatus(native string) domain.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(native)) {
	case "success", "paid":
		return domain.PaymentStatusCaptured
	case "failure", "expired", "reversed", "canceled":
		return domain.PaymentStatusFailed
	default:
		return domain.PaymentStatusPending
	}
}

// MonobankPEM wraps an unformatted base64 key body into a PUBLIC KEY PEM block with 64-char lines.
func MonobankPEM(publicKeyBase64 string) string {
	sanitized := strings.Join(strings.Fields(publicKeyBase64), "")
	var b strings.Builder
	b.WriteString("-----BEGIN PUBLIC KEY-----\n")
	for len(sanitized) > 64 {
		b.WriteString(sanitized[:64])
		b.WriteByte('\n')
		sanitized = sanitized[64:]
	}
	b.WriteString(sanitized)
	b.WriteString("\n-----END PUBLIC KEY-----")
	return b.String()
}

// ParseMonobankPublicKey accepts either a bare base64 key body or a base64-encoded PEM document.
func ParseMonobankPublicKey(value string) (crypto.PublicKey, error) {
	value = strings.TrimSpace(value)
	if !strings.Contains(value, "BEGIN") {
		if decoded, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(value), "")); err == nil && strings.Contains(string(decoded), "BEGIN PUBLIC KEY") {
			value = string(decoded)
		} else {
			value = MonobankPEM(value)
		}
	}
	block, _ := pem.Decode([]byte(value))
	if block == nil {
		return nil, errors.New("monobank: public key is not valid PEM")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("monobank: parse public key: %w", err)
	}
	switch key.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
		return key, nil
	default:
		return nil, fmt.Errorf("monobank: unsupported public key type %T", key)
	}
}

func verifyMonobankSignature(key crypto.PublicKey, body []byte, signatureBase64 string) error {
	signature, err := base64.StdEncoding.DecodeString(signatureBase64)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(body)
	switch k := key.(type) {
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(k, crypto.SHA256, digest[:], signature)
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(k, digest[:], signature) {
			return errors.New("ecdsa verification failed")
		}
		return nil
	default:
		return fmt.Errorf("unsupported key type %T", key)
	}
}
