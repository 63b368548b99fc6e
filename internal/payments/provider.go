package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	domain "github.com/op17/storefront-api/internal/domain"
)

var (
	// ErrUnsupportedProvider is returned when the registry cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrProviderMisconfigured indicates the provider is known but its credentials are missing.
	ErrProviderMisconfigured = errors.New("payments: provider misconfigured")
	// ErrUnsupportedCurrency is returned before any external call when the provider cannot settle the currency.
	ErrUnsupportedCurrency = errors.New("payments: currency not supported by provider")
	// ErrInvalidSignature is returned when webhook authenticity cannot be established.
	ErrInvalidSignature = errors.New("payments: invalid signature")
	// ErrInvalidPayload is returned when a webhook body cannot be decoded.
	ErrInvalidPayload = errors.New("payments: invalid payload")
	// ErrProviderRequestFailed wraps transport and non-success responses from the provider API.
	ErrProviderRequestFailed = errors.New("payments: provider request failed")
)

// ProviderError carries the upstream status and raw response text of a failed provider call.
type ProviderError struct {
	Provider domain.PaymentProvider
	Status   int
	Detail   string
	Err      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("payments: %s request failed", strings.ToLower(string(e.Provider)))
	if e.Status > 0 {
		msg = fmt.Sprintf("%s with status %d", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ProviderError) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Err == nil {
		return []error{ErrProviderRequestFailed}
	}
	return []error{ErrProviderRequestFailed, e.Err}
}

// Launch is what the client needs to hand the buyer over to the provider.
type Launch struct {
	Provider domain.PaymentProvider
	// URL is the form action for redirect providers or the hosted invoice page.
	URL       string
	Data      string
	Signature string
	// InvoiceID is the provider-side reference to persist on the payment.
	InvoiceID string
	Raw       map[string]any
}

// Notification is a verified and decoded webhook callback.
type Notification struct {
	Provider       domain.PaymentProvider
	OrderReference string
	PaymentID      string
	InvoiceID      string
	Status         string
	Raw            map[string]any
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	Name() domain.PaymentProvider
	SupportsCurrency(currency domain.Currency) bool
	Initiate(ctx context.Context, order domain.Order, payment domain.Payment) (Launch, error)
	// VerifyAndDecode must return ErrInvalidSignature or ErrInvalidPayload without partial results.
	VerifyAndDecode(ctx context.Context, rawBody []byte, headers http.Header) (Notification, error)
	MapStatus(native string) domain.PaymentStatus
}

// SupportsCurrency reports whether the named provider can settle currency, independent of configuration.
func SupportsCurrency(name domain.PaymentProvider, currency domain.Currency) bool {
	switch name {
	case domain.ProviderMonobank:
		return currency == domain.CurrencyUAH
	case domain.ProviderLiqPay:
		_, err := domain.ParseCurrency(string(currency))
		return err == nil
	}
	return false
}

// Logger receives structured provider events.
type Logger func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}

// Registry resolves providers by name.
type Registry struct {
	providers map[domain.PaymentProvider]Provider
	disabled  map[domain.PaymentProvider]error
}

// NewRegistry constructs a Registry over the supplied providers. Nil entries are skipped.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{
		providers: make(map[domain.PaymentProvider]Provider, len(providers)),
		disabled:  make(map[domain.PaymentProvider]error),
	}
	for _, p := range providers {
		if p == nil {
			continue
		}
		name := p.Name()
		if _, ok := domain.ParsePaymentProvider(string(name)); !ok {
			return nil, fmt.Errorf("payments: invalid provider registration %q", name)
		}
		if _, dup := r.providers[name]; dup {
			return nil, fmt.Errorf("payments: provider %q registered twice", name)
		}
		r.providers[name] = p
	}
	return r, nil
}

// Disable records that a known provider could not be constructed. Lookups report ErrProviderMisconfigured.
func (r *Registry) Disable(name domain.PaymentProvider, reason error) {
	if r == nil {
		return
	}
	if reason == nil {
		reason = ErrProviderMisconfigured
	}
	delete(r.providers, name)
	r.disabled[name] = reason
}

// Provider returns the adapter registered under name.
func (r *Registry) Provider(name domain.PaymentProvider) (Provider, error) {
	if r == nil {
		return nil, ErrUnsupportedProvider
	}
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	if reason, ok := r.disabled[name]; ok {
		if errors.Is(reason, ErrProviderMisconfigured) {
			return nil, reason
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderMisconfigured, reason)
	}
	return nil, ErrUnsupportedProvider
}

// Names lists the registered providers.
func (r *Registry) Names() []domain.PaymentProvider {
	if r == nil {
		return nil
	}
	out := make([]domain.PaymentProvider, 0, len(r.providers))
	for _, name := range []domain.PaymentProvider{domain.ProviderLiqPay, domain.ProviderMonobank} {
		if _, ok := r.providers[name]; ok {
			out = append(out, name)
		}
	}
	return out
}
