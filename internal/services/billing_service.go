package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/jankos/backend/internal/config"
	"github.com/jankos/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/webhook"
)

// BillingService creates hosted checkout sessions and consumes Stripe
// webhook events. Each webhook event is applied inside one SQL
// transaction guarded by the stripe_events table, so redelivered events
// are acknowledged without re-applying their mutations.
type BillingService struct {
	db            *sql.DB
	wallet        *WalletService
	pricing       *config.PricingConfig
	validator     *ValidationHelper
	webhookSecret string
	successURL    string
	cancelURL     string
}

func NewBillingService(db *sql.DB, wallet *WalletService, pricing *config.PricingConfig) *BillingService {
	stripe.Key = viper.GetString("stripe.secret_key")
	return &BillingService{
		db:            db,
		wallet:        wallet,
		pricing:       pricing,
		validator:     NewValidationHelper(),
		webhookSecret: viper.GetString("stripe.webhook_secret"),
		successURL:    viper.GetString("app.checkout_success_url"),
		cancelURL:     viper.GetString("app.checkout_cancel_url"),
	}
}

// CheckoutRequest selects a credit pack or a subscription plan.
type CheckoutRequest struct {
	Type     string `json:"type" validate:"required,oneof=pack subscription"`
	PackID   string `json:"packId,omitempty"`
	PlanID   string `json:"planId,omitempty"`
	IsAnnual bool   `json:"isAnnual,omitempty"`
}

// CreateCheckout starts a hosted checkout session
// @Summary Create checkout session
// @Description Create a Stripe hosted checkout session for a credit pack or subscription
// @Tags billing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CheckoutRequest true "Checkout request"
// @Success 200 {object} object{url=string}
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /stripe/checkout [post]
func (s *BillingService) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	userID := RequestUserID(r)
	if userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req CheckoutRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	customerID, email, err := s.ensureStripeCustomer(userID)
	if err != nil {
		log.Printf("[BILLING] Customer setup failed for %s: %v", userID, err)
		SendErrorResponse(w, "Failed to start checkout", http.StatusInternalServerError, nil)
		return
	}

	var params *stripe.CheckoutSessionParams
	switch req.Type {
	case "pack":
		pack := s.pricing.Pack(req.PackID)
		if pack == nil {
			SendErrorResponse(w, "Unknown credit pack", http.StatusBadRequest, nil)
			return
		}
		params = s.packCheckoutParams(pack)
		params.AddMetadata("pack_id", pack.ID)
		params.AddMetadata("credits", strconv.FormatInt(pack.Credits, 10))
	case "subscription":
		plan := s.pricing.Plan(req.PlanID)
		if plan == nil {
			SendErrorResponse(w, "Unknown subscription plan", http.StatusBadRequest, nil)
			return
		}
		params = s.planCheckoutParams(plan, req.IsAnnual)
		params.AddMetadata("plan_id", plan.ID)
	}
	params.Customer = stripe.String(customerID)
	params.AddMetadata("user_id", userID)
	params.AddMetadata("type", req.Type)

	sess, err := session.New(params)
	if err != nil {
		log.Printf("[BILLING] Checkout session creation failed for %s (%s): %v", userID, email, err)
		SendErrorResponse(w, "Failed to start checkout", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[BILLING] Checkout session %s created for user %s (type=%s)", sess.ID, userID, req.Type)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"url": sess.URL})
}

func (s *BillingService) packCheckoutParams(pack *config.CreditPack) *stripe.CheckoutSessionParams {
	return &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(string(stripe.CurrencyUSD)),
				UnitAmount: stripe.Int64(pack.PriceCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(pack.Name),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
	}
}

func (s *BillingService) planCheckoutParams(plan *config.Plan, isAnnual bool) *stripe.CheckoutSessionParams {
	price := plan.MonthlyPriceCents
	interval := "month"
	if isAnnual {
		price = plan.AnnualPriceCents
		interval = "year"
	}
	return &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(string(stripe.CurrencyUSD)),
				UnitAmount: stripe.Int64(price),
				Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
					Interval: stripe.String(interval),
				},
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(plan.Name + " subscription"),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
	}
}

func (s *BillingService) ensureStripeCustomer(userID string) (customerID, email string, err error) {
	err = s.db.QueryRow(`SELECT stripe_customer_id, email FROM profiles WHERE id = $1`, userID).Scan(&customerID, &email)
	if err == sql.ErrNoRows {
		return "", "", ErrProfileNotFound
	}
	if err != nil {
		return "", "", err
	}
	if customerID != "" {
		return customerID, email, nil
	}

	cust, err := customer.New(&stripe.CustomerParams{Email: stripe.String(email)})
	if err != nil {
		return "", "", fmt.Errorf("create stripe customer: %w", err)
	}
	if _, err := s.db.Exec(`UPDATE profiles SET stripe_customer_id = $1, updated_at = NOW() WHERE id = $2`, cust.ID, userID); err != nil {
		return "", "", err
	}
	return cust.ID, email, nil
}

// HandleWebhook consumes one Stripe event
// @Summary Stripe webhook
// @Description Consume a signed Stripe webhook event
// @Tags billing
// @Accept json
// @Produce json
// @Success 200 {object} object{received=bool}
// @Failure 400 {object} ErrorResponse
// @Router /stripe/webhook [post]
func (s *BillingService) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 65536))
	if err != nil {
		SendErrorResponse(w, "Failed to read payload", http.StatusServiceUnavailable, nil)
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), s.webhookSecret)
	if err != nil {
		log.Printf("[BILLING] Webhook signature verification failed: %v", err)
		SendErrorResponse(w, "Invalid signature", http.StatusBadRequest, nil)
		return
	}

	if err := s.ProcessEvent(event); err != nil {
		log.Printf("[BILLING] Failed to process event %s (%s): %v", event.ID, event.Type, err)
		// Non-2xx makes Stripe redeliver; the idempotency guard makes
		// the retry safe.
		SendErrorResponse(w, "Failed to process event", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"received": true})
}

// ProcessEvent applies one verified event. Duplicate deliveries are
// detected via stripe_events inside the same transaction as the
// mutations and acknowledged as no-ops.
func (s *BillingService) ProcessEvent(event stripe.Event) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO stripe_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING`,
		event.ID, string(event.Type))
	if err != nil {
		return err
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		log.Printf("[BILLING] Duplicate event %s ignored", event.ID)
		return tx.Commit()
	}

	switch string(event.Type) {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return fmt.Errorf("parse checkout session: %w", err)
		}
		if err := s.applyCheckoutCompleted(tx, &sess); err != nil {
			return err
		}
	case "invoice.paid":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return fmt.Errorf("parse invoice: %w", err)
		}
		if err := s.applyInvoicePaid(tx, &invoice); err != nil {
			return err
		}
	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("parse subscription: %w", err)
		}
		if err := s.applySubscriptionDeleted(tx, &sub); err != nil {
			return err
		}
	default:
		log.Printf("[BILLING] Ignoring event type %s (%s)", event.Type, event.ID)
	}

	return tx.Commit()
}

func (s *BillingService) applyCheckoutCompleted(tx *sql.Tx, sess *stripe.CheckoutSession) error {
	userID := sess.Metadata["user_id"]
	if userID == "" {
		return fmt.Errorf("checkout session %s missing user_id metadata", sess.ID)
	}

	switch sess.Metadata["type"] {
	case "pack":
		credits, err := strconv.ParseInt(sess.Metadata["credits"], 10, 64)
		if err != nil || credits <= 0 {
			return fmt.Errorf("checkout session %s has invalid credits metadata %q", sess.ID, sess.Metadata["credits"])
		}
		pack := s.pricing.Pack(sess.Metadata["pack_id"])
		description := fmt.Sprintf("Purchased %d credits", credits)
		if pack != nil {
			description = fmt.Sprintf("Purchased %s (%d credits)", pack.Name, credits)
		}
		txnID, err := s.wallet.CreditTx(tx, userID, credits, models.TxnKindPurchase, description, sess.ID)
		if err != nil {
			return err
		}
		log.Printf("[BILLING] Credited %d credits to %s (session %s)", credits, userID, sess.ID)
		return s.postCommission(tx, userID, txnID, sess.AmountTotal)

	case "subscription":
		plan := s.pricing.Plan(sess.Metadata["plan_id"])
		if plan == nil {
			return fmt.Errorf("checkout session %s references unknown plan %q", sess.ID, sess.Metadata["plan_id"])
		}
		_, err := tx.Exec(`
			UPDATE profiles
			SET subscription_status = $1, subscription_plan_id = $2, monthly_credits = $3, updated_at = NOW()
			WHERE id = $4`,
			models.SubscriptionActive, plan.ID, plan.MonthlyCredits, userID)
		if err != nil {
			return err
		}
		_, err = s.wallet.CreditTx(tx, userID, plan.MonthlyCredits, models.TxnKindPurchase,
			fmt.Sprintf("%s subscription started (%d credits)", plan.Name, plan.MonthlyCredits), sess.ID)
		if err != nil {
			return err
		}
		log.Printf("[BILLING] Subscription %s activated for %s", plan.ID, userID)
		return nil

	default:
		return fmt.Errorf("checkout session %s has unknown type metadata %q", sess.ID, sess.Metadata["type"])
	}
}

func (s *BillingService) applyInvoicePaid(tx *sql.Tx, invoice *stripe.Invoice) error {
	// The first invoice of a subscription is already credited by
	// checkout.session.completed; only cycle renewals add credits here.
	if string(invoice.BillingReason) != "subscription_cycle" {
		log.Printf("[BILLING] Ignoring invoice with billing reason %s", invoice.BillingReason)
		return nil
	}
	if invoice.Customer == nil {
		return fmt.Errorf("invoice %s has no customer", invoice.ID)
	}

	var profileID string
	var monthlyCredits int64
	err := tx.QueryRow(`SELECT id, monthly_credits FROM profiles WHERE stripe_customer_id = $1`, invoice.Customer.ID).
		Scan(&profileID, &monthlyCredits)
	if err == sql.ErrNoRows {
		return fmt.Errorf("no profile for stripe customer %s", invoice.Customer.ID)
	}
	if err != nil {
		return err
	}
	if monthlyCredits <= 0 {
		log.Printf("[BILLING] Profile %s has no monthly allotment, skipping renewal", profileID)
		return nil
	}

	_, err = s.wallet.CreditTx(tx, profileID, monthlyCredits, models.TxnKindRenewal,
		fmt.Sprintf("Subscription renewal (%d credits)", monthlyCredits), invoice.ID)
	if err != nil {
		return err
	}
	log.Printf("[BILLING] Renewal credited %d credits to %s", monthlyCredits, profileID)
	return nil
}

func (s *BillingService) applySubscriptionDeleted(tx *sql.Tx, sub *stripe.Subscription) error {
	if sub.Customer == nil {
		return fmt.Errorf("subscription %s has no customer", sub.ID)
	}
	result, err := tx.Exec(`
		UPDATE profiles
		SET subscription_status = $1, monthly_credits = 0, updated_at = NOW()
		WHERE stripe_customer_id = $2`,
		models.SubscriptionCanceled, sub.Customer.ID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("no profile for stripe customer %s", sub.Customer.ID)
	}
	log.Printf("[BILLING] Subscription canceled for stripe customer %s", sub.Customer.ID)
	return nil
}

// postCommission records the referrer's cut of a referred purchase. The
// earning row, the running totals and the purchase credit all share the
// caller's transaction.
func (s *BillingService) postCommission(tx *sql.Tx, purchaserID string, txnID, amountPaidCents int64) error {
	if amountPaidCents <= 0 {
		return nil
	}

	var referrerID string
	err := tx.QueryRow(`SELECT referrer_id FROM referrals WHERE referred_id = $1 AND status = 'active'`, purchaserID).
		Scan(&referrerID)
	if err == sql.ErrNoRows {
		return nil // not a referred account
	}
	if err != nil {
		return err
	}

	var rate float64
	err = tx.QueryRow(`SELECT commission_rate FROM affiliate_codes WHERE profile_id = $1`, referrerID).Scan(&rate)
	if err == sql.ErrNoRows {
		log.Printf("[BILLING] Referrer %s has no affiliate code, skipping commission", referrerID)
		return nil
	}
	if err != nil {
		return err
	}

	commission := decimal.NewFromInt(amountPaidCents).
		Mul(decimal.NewFromFloat(rate)).
		Round(0).IntPart()
	if commission <= 0 {
		return nil
	}

	_, err = tx.Exec(`
		INSERT INTO affiliate_earnings (affiliate_id, referred_id, transaction_id, commission_cents, paid_amount_cents, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		referrerID, purchaserID, txnID, commission, amountPaidCents, models.EarningPending)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		UPDATE affiliate_codes
		SET total_earnings_cents = total_earnings_cents + $1
		WHERE profile_id = $2`,
		commission, referrerID)
	if err != nil {
		return err
	}

	log.Printf("[BILLING] Commission of %d cents posted to %s for purchase by %s", commission, referrerID, purchaserID)
	return nil
}
