package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/jankos/backend/internal/models"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrProfileNotFound     = errors.New("profile not found")
)

// WalletService mutates credit balances. Every mutation is a single
// conditional UPDATE plus an appended transaction row, committed in one
// SQL transaction, so a reserve can never drive a balance negative and
// the transactions table always reconciles with the balance column.
type WalletService struct {
	db *sql.DB
}

func NewWalletService(db *sql.DB) *WalletService {
	return &WalletService{db: db}
}

// GetBalance reads the current balance.
func (s *WalletService) GetBalance(profileID string) (int64, error) {
	var balance int64
	err := s.db.QueryRow(`SELECT balance FROM profiles WHERE id = $1`, profileID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrProfileNotFound
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Reserve deducts amount at the start of a generation attempt. Fails with
// ErrInsufficientCredits without mutating anything when the balance is
// too low.
func (s *WalletService) Reserve(profileID string, amount int64, description string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.ReserveTx(tx, profileID, amount, description); err != nil {
		return err
	}
	return tx.Commit()
}

// ReserveTx is Reserve inside a caller-owned transaction.
func (s *WalletService) ReserveTx(tx *sql.Tx, profileID string, amount int64, description string) error {
	if amount <= 0 {
		return fmt.Errorf("reserve amount must be positive, got %d", amount)
	}

	result, err := tx.Exec(`
		UPDATE profiles
		SET balance = balance - $1, updated_at = NOW()
		WHERE id = $2 AND balance >= $1`,
		amount, profileID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		// Distinguish a missing profile from a low balance.
		var exists bool
		if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM profiles WHERE id = $1)`, profileID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrProfileNotFound
		}
		return ErrInsufficientCredits
	}

	_, err = s.appendTransaction(tx, profileID, -amount, models.TxnKindSpend, description, "")
	return err
}

// Refund restores credits for a reserved unit of work that failed.
func (s *WalletService) Refund(profileID string, amount int64, description string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.RefundTx(tx, profileID, amount, description); err != nil {
		return err
	}
	return tx.Commit()
}

// RefundTx is Refund inside a caller-owned transaction.
func (s *WalletService) RefundTx(tx *sql.Tx, profileID string, amount int64, description string) error {
	if amount <= 0 {
		return fmt.Errorf("refund amount must be positive, got %d", amount)
	}

	if err := s.addBalance(tx, profileID, amount); err != nil {
		return err
	}
	_, err := s.appendTransaction(tx, profileID, amount, models.TxnKindRefund, description, "")
	return err
}

// Credit adds purchased or renewed credits and returns the id of the
// appended transaction row (commission postings reference it).
func (s *WalletService) Credit(profileID string, amount int64, kind, description, stripeRef string) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	txnID, err := s.CreditTx(tx, profileID, amount, kind, description, stripeRef)
	if err != nil {
		return 0, err
	}
	return txnID, tx.Commit()
}

// CreditTx is Credit inside a caller-owned transaction. The webhook
// handler uses it so credit, commission and idempotency guard commit
// together.
func (s *WalletService) CreditTx(tx *sql.Tx, profileID string, amount int64, kind, description, stripeRef string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	if kind != models.TxnKindPurchase && kind != models.TxnKindRenewal {
		return 0, fmt.Errorf("invalid credit kind %q", kind)
	}

	if err := s.addBalance(tx, profileID, amount); err != nil {
		return 0, err
	}
	return s.appendTransaction(tx, profileID, amount, kind, description, stripeRef)
}

func (s *WalletService) addBalance(tx *sql.Tx, profileID string, amount int64) error {
	result, err := tx.Exec(`
		UPDATE profiles
		SET balance = balance + $1, updated_at = NOW()
		WHERE id = $2`,
		amount, profileID)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrProfileNotFound
	}
	return nil
}

func (s *WalletService) appendTransaction(tx *sql.Tx, profileID string, delta int64, kind, description, stripeRef string) (int64, error) {
	var id int64
	err := tx.QueryRow(`
		INSERT INTO transactions (profile_id, delta, kind, description, stripe_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		profileID, delta, kind, description, stripeRef, time.Now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append transaction: %w", err)
	}
	return id, nil
}

// GetCreditBalance returns the caller's balance
// @Summary Get credit balance
// @Description Get the authenticated user's current credit balance
// @Tags credits
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{balance=int64}
// @Failure 401 {object} ErrorResponse
// @Router /credits/balance [get]
func (s *WalletService) GetCreditBalance(w http.ResponseWriter, r *http.Request) {
	userID := RequestUserID(r)
	if userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := s.GetBalance(userID)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			SendErrorResponse(w, "Profile not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[WALLET] Balance lookup failed for %s: %v", userID, err)
			SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"balance": balance})
}

// ListTransactions returns the caller's activity history
// @Summary List transactions
// @Description Get the authenticated user's balance history, newest first
// @Tags credits
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Number of entries to return (default: 50, max: 100)"
// @Success 200 {object} object{transactions=[]models.Transaction,count=int}
// @Failure 401 {object} ErrorResponse
// @Router /transactions [get]
func (s *WalletService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := RequestUserID(r)
	if userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	rows, err := s.db.Query(`
		SELECT id, profile_id, delta, kind, description, stripe_ref, created_at
		FROM transactions
		WHERE profile_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		userID, limit)
	if err != nil {
		log.Printf("[WALLET] Transaction listing failed for %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.ProfileID, &t.Delta, &t.Kind, &t.Description, &t.StripeRef, &t.CreatedAt); err != nil {
			log.Printf("[WALLET] Transaction scan failed: %v", err)
			SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
			return
		}
		transactions = append(transactions, t)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
	})
}
