package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jankos/backend/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

func testBillingService(t *testing.T) (*BillingService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	wallet := NewWalletService(db)
	service := &BillingService{
		db:            db,
		wallet:        wallet,
		pricing:       config.LoadPricingConfig(),
		validator:     NewValidationHelper(),
		webhookSecret: "whsec_test",
	}
	return service, mock, func() { db.Close() }
}

func stripeEvent(id, eventType string, raw string) stripe.Event {
	return stripe.Event{
		ID:   id,
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: json.RawMessage(raw)},
	}
}

func TestBillingService_ProcessEvent_Duplicate(t *testing.T) {
	service, mock, closeDB := testBillingService(t)
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO stripe_events").
		WithArgs("evt_1", "checkout.session.completed").
		WillReturnResult(sqlmock.NewResult(0, 0)) // already seen
	mock.ExpectCommit()

	event := stripeEvent("evt_1", "checkout.session.completed", `{"id":"cs_1"}`)
	err := service.ProcessEvent(event)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBillingService_ProcessEvent_PackPurchase(t *testing.T) {
	service, mock, closeDB := testBillingService(t)
	defer closeDB()

	raw := `{"id":"cs_1","amount_total":2900,"metadata":{"user_id":"buyer1","type":"pack","pack_id":"creator","credits":"200"}}`

	t.Run("credits buyer and posts referrer commission", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO stripe_events").
			WithArgs("evt_2", "checkout.session.completed").
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec("UPDATE profiles").
			WithArgs(int64(200), "buyer1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO transactions").
			WithArgs("buyer1", int64(200), "purchase", "Purchased Creator Pack (200 credits)", "cs_1", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))

		mock.ExpectQuery("SELECT referrer_id FROM referrals").
			WithArgs("buyer1").
			WillReturnRows(sqlmock.NewRows([]string{"referrer_id"}).AddRow("ref1"))
		mock.ExpectQuery("SELECT commission_rate FROM affiliate_codes").
			WithArgs("ref1").
			WillReturnRows(sqlmock.NewRows([]string{"commission_rate"}).AddRow(0.30))

		// 30% of 2900 cents
		mock.ExpectExec("INSERT INTO affiliate_earnings").
			WithArgs("ref1", "buyer1", int64(10), int64(870), int64(2900), "pending").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE affiliate_codes").
			WithArgs(int64(870), "ref1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		err := service.ProcessEvent(stripeEvent("evt_2", "checkout.session.completed", raw))
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no commission for unreferred buyer", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO stripe_events").
			WithArgs("evt_3", "checkout.session.completed").
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec("UPDATE profiles").
			WithArgs(int64(200), "buyer1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO transactions").
			WithArgs("buyer1", int64(200), "purchase", "Purchased Creator Pack (200 credits)", "cs_1", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

		mock.ExpectQuery("SELECT referrer_id FROM referrals").
			WithArgs("buyer1").
			WillReturnRows(sqlmock.NewRows([]string{"referrer_id"}))

		mock.ExpectCommit()

		err := service.ProcessEvent(stripeEvent("evt_3", "checkout.session.completed", raw))
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBillingService_ProcessEvent_SubscriptionStart(t *testing.T) {
	service, mock, closeDB := testBillingService(t)
	defer closeDB()

	raw := `{"id":"cs_2","metadata":{"user_id":"owner1","type":"subscription","plan_id":"creator-monthly"}}`

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO stripe_events").
		WithArgs("evt_4", "checkout.session.completed").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec("UPDATE profiles").
		WithArgs("active", "creator-monthly", int64(100), "owner1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec("UPDATE profiles").
		WithArgs(int64(100), "owner1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO transactions").
		WithArgs("owner1", int64(100), "purchase", "Creator subscription started (100 credits)", "cs_2", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))

	// No commission posting on subscriptions without a referral row
	mock.ExpectCommit()

	err := service.ProcessEvent(stripeEvent("evt_4", "checkout.session.completed", raw))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBillingService_ProcessEvent_Renewal(t *testing.T) {
	service, mock, closeDB := testBillingService(t)
	defer closeDB()

	t.Run("subscription cycle credits the monthly allotment", func(t *testing.T) {
		raw := `{"id":"in_1","billing_reason":"subscription_cycle","customer":{"id":"cus_1"}}`

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO stripe_events").
			WithArgs("evt_5", "invoice.paid").
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectQuery("SELECT id, monthly_credits FROM profiles").
			WithArgs("cus_1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "monthly_credits"}).AddRow("owner1", int64(100)))

		mock.ExpectExec("UPDATE profiles").
			WithArgs(int64(100), "owner1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO transactions").
			WithArgs("owner1", int64(100), "renewal", "Subscription renewal (100 credits)", "in_1", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(13))

		mock.ExpectCommit()

		err := service.ProcessEvent(stripeEvent("evt_5", "invoice.paid", raw))
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("first invoice is not double credited", func(t *testing.T) {
		raw := `{"id":"in_2","billing_reason":"subscription_create","customer":{"id":"cus_1"}}`

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO stripe_events").
			WithArgs("evt_6", "invoice.paid").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := service.ProcessEvent(stripeEvent("evt_6", "invoice.paid", raw))
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBillingService_ProcessEvent_SubscriptionDeleted(t *testing.T) {
	service, mock, closeDB := testBillingService(t)
	defer closeDB()

	raw := `{"id":"sub_1","customer":{"id":"cus_1"}}`

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO stripe_events").
		WithArgs("evt_7", "customer.subscription.deleted").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec("UPDATE profiles").
		WithArgs("canceled", "cus_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectCommit()

	err := service.ProcessEvent(stripeEvent("evt_7", "customer.subscription.deleted", raw))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBillingService_HandleWebhook_Signature(t *testing.T) {
	service, mock, closeDB := testBillingService(t)
	defer closeDB()

	payload := []byte(fmt.Sprintf(
		`{"id":"evt_8","api_version":%q,"type":"payment_intent.created","data":{"object":{}}}`,
		stripe.APIVersion))

	t.Run("rejects a bad signature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/stripe/webhook", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", "t=123,v1=deadbeef")
		rec := httptest.NewRecorder()

		service.HandleWebhook(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("accepts a valid signature", func(t *testing.T) {
		now := time.Now()
		sig := webhook.ComputeSignature(now, payload, service.webhookSecret)
		header := fmt.Sprintf("t=%d,v1=%x", now.Unix(), sig)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO stripe_events").
			WithArgs("evt_8", "payment_intent.created").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		req := httptest.NewRequest(http.MethodPost, "/api/v1/stripe/webhook", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", header)
		rec := httptest.NewRecorder()

		service.HandleWebhook(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
