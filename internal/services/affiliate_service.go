package services

import (
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jankos/backend/internal/config"
	"github.com/jankos/backend/internal/models"
)

var (
	ErrSelfReferral    = errors.New("cannot use your own referral code")
	ErrAlreadyReferred = errors.New("account already has a referrer")
	ErrCodeNotFound    = errors.New("referral code not found")
)

// AffiliateService manages referral codes, referral registration and
// commission earnings.
type AffiliateService struct {
	db      *sql.DB
	pricing *config.PricingConfig
}

func NewAffiliateService(db *sql.DB, pricing *config.PricingConfig) *AffiliateService {
	return &AffiliateService{db: db, pricing: pricing}
}

// EnsureCode returns the profile's referral code, creating one on first
// use. Creation retries on the rare code collision.
func (s *AffiliateService) EnsureCode(profileID string) (*models.AffiliateCode, error) {
	code, err := s.getCode(profileID)
	if err == nil {
		return code, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	for attempt := 0; attempt < 5; attempt++ {
		candidate, err := generateReferralCode()
		if err != nil {
			return nil, err
		}
		result, err := s.db.Exec(`
			INSERT INTO affiliate_codes (profile_id, code, commission_rate)
			VALUES ($1, $2, $3)
			ON CONFLICT (code) DO NOTHING`,
			profileID, candidate, s.pricing.AffiliateCommissionRate)
		if err != nil {
			return nil, err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return nil, err
		}
		if rows == 1 {
			log.Printf("[AFFILIATE] Created referral code %s for %s", candidate, profileID)
			return s.getCode(profileID)
		}
	}
	// Concurrent EnsureCode for the same profile also lands here via
	// the profile_id unique constraint, so re-read before giving up.
	if code, err := s.getCode(profileID); err == nil {
		return code, nil
	}
	return nil, errors.New("could not allocate a referral code")
}

func (s *AffiliateService) getCode(profileID string) (*models.AffiliateCode, error) {
	var code models.AffiliateCode
	err := s.db.QueryRow(`
		SELECT profile_id, code, commission_rate, total_earnings_cents, total_referrals, created_at
		FROM affiliate_codes WHERE profile_id = $1`, profileID).
		Scan(&code.ProfileID, &code.Code, &code.CommissionRate, &code.TotalEarningsCents, &code.TotalReferrals, &code.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &code, nil
}

// RegisterReferral links a newly registered account to the owner of the
// given code. Self-referrals and second referrers are rejected without
// side effects.
func (s *AffiliateService) RegisterReferral(referredID, code string) error {
	return s.registerReferral(s.db, referredID, code)
}

// RegisterReferralTx is RegisterReferral inside an existing transaction,
// used during account registration.
func (s *AffiliateService) RegisterReferralTx(tx *sql.Tx, referredID, code string) error {
	return s.registerReferral(tx, referredID, code)
}

type execQueryer interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

func (s *AffiliateService) registerReferral(q execQueryer, referredID, code string) error {
	var referrerID string
	err := q.QueryRow(`SELECT profile_id FROM affiliate_codes WHERE code = $1`, code).Scan(&referrerID)
	if err == sql.ErrNoRows {
		return ErrCodeNotFound
	}
	if err != nil {
		return err
	}
	if referrerID == referredID {
		return ErrSelfReferral
	}

	var exists bool
	err = q.QueryRow(`SELECT EXISTS(SELECT 1 FROM referrals WHERE referred_id = $1)`, referredID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyReferred
	}

	_, err = q.Exec(`
		INSERT INTO referrals (id, referrer_id, referred_id, code_used, status)
		VALUES ($1, $2, $3, $4, 'active')`,
		uuid.New().String(), referrerID, referredID, code)
	if err != nil {
		return err
	}
	_, err = q.Exec(`
		UPDATE affiliate_codes SET total_referrals = total_referrals + 1 WHERE profile_id = $1`,
		referrerID)
	if err != nil {
		return err
	}

	log.Printf("[AFFILIATE] %s referred by %s (code %s)", referredID, referrerID, code)
	return nil
}

// ListReferrals returns the accounts referred by the given profile.
func (s *AffiliateService) ListReferrals(profileID string) ([]models.Referral, error) {
	rows, err := s.db.Query(`
		SELECT r.id, r.referrer_id, r.referred_id, p.email, r.code_used, r.status, r.created_at
		FROM referrals r
		JOIN profiles p ON p.id = r.referred_id
		WHERE r.referrer_id = $1
		ORDER BY r.created_at DESC`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	referrals := []models.Referral{}
	for rows.Next() {
		var ref models.Referral
		if err := rows.Scan(&ref.ID, &ref.ReferrerID, &ref.ReferredID, &ref.ReferredEmail, &ref.CodeUsed, &ref.Status, &ref.CreatedAt); err != nil {
			return nil, err
		}
		referrals = append(referrals, ref)
	}
	return referrals, rows.Err()
}

// ListEarnings returns the profile's commission history, newest first.
func (s *AffiliateService) ListEarnings(profileID string) ([]models.AffiliateEarning, error) {
	rows, err := s.db.Query(`
		SELECT id, affiliate_id, referred_id, transaction_id, commission_cents, paid_amount_cents, status, created_at
		FROM affiliate_earnings
		WHERE affiliate_id = $1
		ORDER BY created_at DESC`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	earnings := []models.AffiliateEarning{}
	for rows.Next() {
		var e models.AffiliateEarning
		if err := rows.Scan(&e.ID, &e.AffiliateID, &e.ReferredID, &e.TransactionID, &e.CommissionCents, &e.PaidAmountCents, &e.Status, &e.CreatedAt); err != nil {
			return nil, err
		}
		earnings = append(earnings, e)
	}
	return earnings, rows.Err()
}

const referralCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func normalizeReferralCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func generateReferralCode() (string, error) {
	code := make([]byte, 8)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(referralCharset))))
		if err != nil {
			return "", fmt.Errorf("failed to generate referral code: %w", err)
		}
		code[i] = referralCharset[n.Int64()]
	}
	return string(code), nil
}

// GetMyCode returns the caller's referral code and totals
// @Summary Get referral code
// @Description Return the caller's referral code, creating one on first use
// @Tags affiliate
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.AffiliateCode
// @Failure 401 {object} ErrorResponse
// @Router /affiliate/code [get]
func (s *AffiliateService) GetMyCode(w http.ResponseWriter, r *http.Request) {
	userID := RequestUserID(r)
	if userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	code, err := s.EnsureCode(userID)
	if err != nil {
		log.Printf("[AFFILIATE] Failed to ensure code for %s: %v", userID, err)
		SendErrorResponse(w, "Failed to load referral code", http.StatusInternalServerError, nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(code)
}

type registerReferralRequest struct {
	UserID        string `json:"userId,omitempty"`
	AffiliateCode string `json:"affiliateCode" validate:"required"`
}

// RegisterReferralHandler attaches a referral code to the caller's account
// @Summary Register a referral
// @Description Record which affiliate code referred the caller's account
// @Tags affiliate
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body registerReferralRequest true "Referral registration"
// @Success 201 {object} map[string]bool
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /affiliate/register [post]
func (s *AffiliateService) RegisterReferralHandler(w http.ResponseWriter, r *http.Request) {
	userID := RequestUserID(r)
	if userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req registerReferralRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if req.AffiliateCode == "" {
		SendErrorResponse(w, "affiliateCode is required", http.StatusBadRequest, nil)
		return
	}
	// The body may echo the user id; it must match the token's subject.
	if req.UserID != "" && req.UserID != userID {
		SendErrorResponse(w, "Cannot register a referral for another account", http.StatusForbidden, nil)
		return
	}

	err := s.RegisterReferral(userID, normalizeReferralCode(req.AffiliateCode))
	switch {
	case errors.Is(err, ErrCodeNotFound):
		SendErrorResponse(w, "Referral code not found", http.StatusNotFound, nil)
	case errors.Is(err, ErrSelfReferral):
		SendErrorResponse(w, "Cannot use your own referral code", http.StatusBadRequest, nil)
	case errors.Is(err, ErrAlreadyReferred):
		SendErrorResponse(w, "Account already has a referrer", http.StatusConflict, nil)
	case err != nil:
		log.Printf("[AFFILIATE] Failed to register referral for %s: %v", userID, err)
		SendErrorResponse(w, "Failed to register referral", http.StatusInternalServerError, nil)
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]bool{"success": true})
	}
}

// GetMyReferrals lists referred accounts
// @Summary List referrals
// @Tags affiliate
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Referral
// @Failure 401 {object} ErrorResponse
// @Router /affiliate/referrals [get]
func (s *AffiliateService) GetMyReferrals(w http.ResponseWriter, r *http.Request) {
	userID := RequestUserID(r)
	if userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	referrals, err := s.ListReferrals(userID)
	if err != nil {
		log.Printf("[AFFILIATE] Failed to list referrals for %s: %v", userID, err)
		SendErrorResponse(w, "Failed to load referrals", http.StatusInternalServerError, nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(referrals)
}

// GetMyEarnings lists commission earnings
// @Summary List earnings
// @Tags affiliate
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.AffiliateEarning
// @Failure 401 {object} ErrorResponse
// @Router /affiliate/earnings [get]
func (s *AffiliateService) GetMyEarnings(w http.ResponseWriter, r *http.Request) {
	userID := RequestUserID(r)
	if userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	earnings, err := s.ListEarnings(userID)
	if err != nil {
		log.Printf("[AFFILIATE] Failed to list earnings for %s: %v", userID, err)
		SendErrorResponse(w, "Failed to load earnings", http.StatusInternalServerError, nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(earnings)
}
