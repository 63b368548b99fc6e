package services

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	domain "github.com/op17/storefront-api/internal/domain"
	"github.com/op17/storefront-api/internal/payments"
	"github.com/op17/storefront-api/internal/repositories/memory"
)

func liqpayWebhookBody(t *testing.T, privateKey string, fields map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	data := base64.StdEncoding.EncodeToString(raw)
	form := url.Values{}
	form.Set("data", data)
	form.Set("signature", payments.LiqPaySignature(privateKey, data))
	return []byte(form.Encode())
}

func countEvents(t *testing.T, store *memory.Store, orderID string, kind domain.OrderEventType) int {
	t.Helper()
	events, err := store.OrderEvents().List(context.Background(), orderID)
	require.NoError(t, err)
	n := 0
	for _, event := range events {
		if event.Type == kind {
			n++
		}
	}
	return n
}

func mustOrder(t *testing.T, store *memory.Store, orderID string) domain.Order {
	t.Helper()
	order, err := store.Orders().FindByID(context.Background(), orderID)
	require.NoError(t, err)
	return order
}

func TestPaymentInitiateLiqPayStampsPayment(t *testing.T) {
	store := newCatalogStore(5)
	ctx := context.Background()
	order := placeOrder(t, store, validCheckout(""), map[string]int64{"var_tee_m": 1})
	svc := newTestPaymentService(t, store, newTestLiqPayRegistry(t))

	launch, err := svc.Initiate(ctx, InitiatePaymentCommand{OrderID: order.ID, Provider: "liqpay"})
	require.NoError(t, err)
	require.Equal(t, payments.LiqPayCheckoutURL, launch.URL)
	require.NotEmpty(t, launch.Data)
	require.Equal(t, payments.LiqPaySignature("priv_test", launch.Data), launch.Signature)
	require.Equal(t, order.OrderNumber, launch.InvoiceID)

	payment, err := store.Payments().FindByOrderAndProvider(ctx, order.ID, domain.ProviderLiqPay)
	require.NoError(t, err)
	require.Equal(t, launch.PaymentID, payment.ID)
	require.Equal(t, domain.PaymentStatusPending, payment.Status)
	require.NotNil(t, payment.ProviderInvoiceID)
	require.Equal(t, order.OrderNumber, *payment.ProviderInvoiceID)
	require.Equal(t, order.OrderNumber, payment.Raw["order_id"])

	again, err := svc.Initiate(ctx, InitiatePaymentCommand{OrderID: order.ID, Provider: "LIQPAY"})
	require.NoError(t, err)
	require.Equal(t, launch.PaymentID, again.PaymentID, "one payment per order and provider")
}

func TestPaymentInitiateErrors(t *testing.T) {
	store := newCatalogStore(5)
	ctx := context.Background()
	order := placeOrder(t, store, validCheckout(""), map[string]int64{"var_tee_m": 1})
	svc := newTestPaymentService(t, store, newTestLiqPayRegistry(t))

	_, err := svc.Initiate(ctx, InitiatePaymentCommand{OrderID: order.ID, Provider: "stripe"})
	require.ErrorIs(t, err, ErrPaymentUnsupportedProvider)

	_, err = svc.Initiate(ctx, InitiatePaymentCommand{OrderID: order.ID, Provider: "monobank"})
	require.ErrorIs(t, err, ErrPaymentProviderMisconfigured)

	_, err = svc.Initiate(ctx, InitiatePaymentCommand{OrderID: "missing", Provider: "liqpay"})
	require.ErrorIs(t, err, ErrPaymentOrderNotFound)
}

func TestPaymentWebhookMarksOrderPaidOnce(t *testing.T) {
	store := newCatalogStore(5)
	ctx := context.Background()
	cmd := validCheckout("")
	cmd.Provider = "LIQPAY"
	order := placeOrder(t, store, cmd, map[string]int64{"var_tee_m": 2})
	svc := newTestPaymentService(t, store, newTestLiqPayRegistry(t))

	body := liqpayWebhookBody(t, "priv_test", map[string]any{
		"order_id":   order.OrderNumber,
		"payment_id": 987654,
		"status":     "success",
	})

	first, err := svc.HandleWebhook(ctx, domain.ProviderLiqPay, body, http.Header{})
	require.NoError(t, err)
	require.True(t, first.OrderPaid)
	require.Equal(t, order.ID, first.OrderID)
	require.Equal(t, domain.PaymentStatusCaptured, first.PaymentStatus)

	second, err := svc.HandleWebhook(ctx, domain.ProviderLiqPay, body, http.Header{})
	require.NoError(t, err)
	require.False(t, second.OrderPaid)
	require.Equal(t, first.PaymentID, second.PaymentID)

	require.Equal(t, domain.OrderStatusPaid, mustOrder(t, store, order.ID).Status)
	require.Equal(t, 1, countEvents(t, store, order.ID, domain.OrderEventStatusChange))

	events, err := store.OrderEvents().List(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, "Payment confirmed (LiqPay)", events[0].Message)
	require.Equal(t, "success", events[0].Metadata["status"])

	payment, err := store.Payments().FindByOrderAndProvider(ctx, order.ID, domain.ProviderLiqPay)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusCaptured, payment.Status)
	require.NotNil(t, payment.ProviderPaymentID)
	require.Equal(t, "987654", *payment.ProviderPaymentID)
}

func TestPaymentWebhookRejectsBadSignatureWithoutSideEffects(t *testing.T) {
	store := newCatalogStore(5)
	ctx := context.Background()
	order := placeOrder(t, store, validCheckout(""), map[string]int64{"var_tee_m": 1})
	svc := newTestPaymentService(t, store, newTestLiqPayRegistry(t))

	body := liqpayWebhookBody(t, "someone-else", map[string]any{
		"order_id": order.OrderNumber,
		"status":   "success",
	})
	_, err := svc.HandleWebhook(ctx, domain.ProviderLiqPay, body, http.Header{})
	require.ErrorIs(t, err, ErrPaymentUnauthorized)

	require.Equal(t, domain.OrderStatusPending, mustOrder(t, store, order.ID).Status)
	list, err := store.Payments().ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Empty(t, list)
	require.Zero(t, countEvents(t, store, order.ID, domain.OrderEventStatusChange))
}

func TestPaymentWebhookFailureKeepsOrderPending(t *testing.T) {
	store := newCatalogStore(5)
	ctx := context.Background()
	order := placeOrder(t, store, validCheckout(""), map[string]int64{"var_tee_m": 1})
	svc := newTestPaymentService(t, store, newTestLiqPayRegistry(t))

	body := liqpayWebhookBody(t, "priv_test", map[string]any{
		"order_id":       order.ID,
		"transaction_id": "tx_1",
		"status":         "failure",
	})
	result, err := svc.HandleWebhook(ctx, domain.ProviderLiqPay, body, http.Header{})
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusFailed, result.PaymentStatus)
	require.False(t, result.OrderPaid)
	require.Equal(t, domain.OrderStatusPending, mustOrder(t, store, order.ID).Status)

	payment, err := store.Payments().FindByProviderReference(ctx, domain.ProviderLiqPay, "tx_1")
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusFailed, payment.Status)
}

func TestPaymentWebhookErrors(t *testing.T) {
	store := newCatalogStore(5)
	ctx := context.Background()
	svc := newTestPaymentService(t, store, newTestLiqPayRegistry(t))

	body := liqpayWebhookBody(t, "priv_test", map[string]any{"order_id": "OP17-19990101-0000", "status": "success"})
	_, err := svc.HandleWebhook(ctx, domain.ProviderLiqPay, body, http.Header{})
	require.ErrorIs(t, err, ErrPaymentOrderNotFound)

	_, err = svc.HandleWebhook(ctx, domain.ProviderLiqPay, []byte("data=abc"), http.Header{})
	require.ErrorIs(t, err, ErrPaymentInvalidPayload)

	_, err = svc.HandleWebhook(ctx, domain.ProviderMonobank, []byte(`{}`), http.Header{})
	require.ErrorIs(t, err, ErrPaymentProviderMisconfigured)
}

func TestPaymentMonobankWebhookPaysUAHOrder(t *testing.T) {
	store := newCatalogStore(5)
	ctx := context.Background()
	rate, err := domain.ParseRate("41.5")
	require.NoError(t, err)
	store.PutFxRate(domain.FxRate{Base: domain.CurrencyEUR, Quote: domain.CurrencyUAH, Rate: rate, Source: "ECB", AsOf: fixedNow})

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	monobank, err := payments.NewMonobankProvider(payments.MonobankProviderConfig{
		Token:     "token",
		PublicKey: base64.StdEncoding.EncodeToString(der),
		BaseURL:   "http://127.0.0.1:1",
	})
	require.NoError(t, err)
	registry, err := payments.NewRegistry(monobank)
	require.NoError(t, err)
	svc := newTestPaymentService(t, store, registry)

	cmd := validCheckout("")
	cmd.Currency = "UAH"
	cmd.Provider = "monobank"
	order := placeOrder(t, store, cmd, map[string]int64{"var_tee_m": 1})
	require.EqualValues(t, 49800, order.TotalMinor)

	body := []byte(`{"invoiceId":"inv_42","status":"success","reference":"` + order.OrderNumber + `","amount":49800,"ccy":980}`)
	digest := sha256.Sum256(body)
	signature, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	require.NoError(t, err)
	headers := http.Header{}
	headers.Set("X-Sign", base64.StdEncoding.EncodeToString(signature))

	result, err := svc.HandleWebhook(ctx, domain.ProviderMonobank, body, headers)
	require.NoError(t, err)
	require.True(t, result.OrderPaid)
	require.Equal(t, domain.OrderStatusPaid, mustOrder(t, store, order.ID).Status)

	events, err := store.OrderEvents().List(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, "Payment confirmed (Monobank)", events[0].Message)

	headers.Set("X-Sign", base64.StdEncoding.EncodeToString([]byte("forged")))
	_, err = svc.HandleWebhook(ctx, domain.ProviderMonobank, body, headers)
	require.ErrorIs(t, err, ErrPaymentUnauthorized)
}

func TestPaymentWebhookLeavesAdvancedOrdersAlone(t *testing.T) {
	for _, status := range []domain.OrderStatus{domain.OrderStatusShipped, domain.OrderStatusRefunded} {
		t.Run(string(status), func(t *testing.T) {
			store := newCatalogStore(5)
			ctx := context.Background()
			cmd := validCheckout("")
			cmd.Provider = "LIQPAY"
			order := placeOrder(t, store, cmd, map[string]int64{"var_tee_m": 1})
			require.NoError(t, store.Orders().UpdateStatus(ctx, order.ID, status, fixedNow))
			svc := newTestPaymentService(t, store, newTestLiqPayRegistry(t))

			body := liqpayWebhookBody(t, "priv_test", map[string]any{
				"order_id":   order.OrderNumber,
				"payment_id": "lp_late",
				"status":     "success",
			})
			result, err := svc.HandleWebhook(ctx, domain.ProviderLiqPay, body, http.Header{})
			require.NoError(t, err)
			require.False(t, result.OrderPaid)
			require.Equal(t, domain.PaymentStatusCaptured, result.PaymentStatus)

			require.Equal(t, status, mustOrder(t, store, order.ID).Status)
			require.Zero(t, countEvents(t, store, order.ID, domain.OrderEventStatusChange))

			payment, err := store.Payments().FindByOrderAndProvider(ctx, order.ID, domain.ProviderLiqPay)
			require.NoError(t, err)
			require.Equal(t, domain.PaymentStatusCaptured, payment.Status)
			require.Equal(t, "lp_late", payment.Raw["payment_id"])
		})
	}
}
