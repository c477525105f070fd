package services

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jankos/backend/internal/config"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func setupAuthViper() {
	viper.Set("argon2.salt_length", 16)
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 64*1024)
	viper.Set("argon2.threads", 4)
	viper.Set("argon2.key_length", 32)
	viper.Set("jwt.secret_key", "test-secret")
	viper.Set("jwt.expiry_hours", 24)
}

func testAuthService(t *testing.T) (*AuthService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	setupAuthViper()
	pricing := config.LoadPricingConfig()
	wallet := NewWalletService(db)
	affiliate := NewAffiliateService(db, pricing)
	service := NewAuthService(db, nil, wallet, affiliate, pricing)
	return service, mock, func() { db.Close() }
}

func TestAuthService_Register(t *testing.T) {
	service, mock, closeDB := testAuthService(t)
	defer closeDB()

	t.Run("successful registration grants the welcome bonus", func(t *testing.T) {
		req := RegisterRequest{
			Email:       "test@example.com",
			Password:    "password123",
			DisplayName: "Jane Doe",
		}

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO profiles").
			WithArgs(sqlmock.AnyArg(), req.Email, sqlmock.AnyArg(), req.DisplayName, "none").
			WillReturnResult(sqlmock.NewResult(0, 1))

		// Welcome bonus
		mock.ExpectExec("UPDATE profiles").
			WithArgs(int64(5), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), int64(5), "purchase", "Welcome bonus (5 credits)", "", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

		mock.ExpectCommit()

		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Register(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response AuthResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.NotEmpty(t, response.Token)
		assert.Equal(t, req.Email, response.User.Email)
		assert.Equal(t, int64(5), response.User.Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("registration with a referral code links the referrer", func(t *testing.T) {
		req := RegisterRequest{
			Email:        "referred@example.com",
			Password:     "password123",
			DisplayName:  "Ref User",
			ReferralCode: "abcd2345",
		}

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO profiles").
			WithArgs(sqlmock.AnyArg(), req.Email, sqlmock.AnyArg(), req.DisplayName, "none").
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec("UPDATE profiles").
			WithArgs(int64(5), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), int64(5), "purchase", "Welcome bonus (5 credits)", "", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))

		// Code lookup is uppercased before the query
		mock.ExpectQuery("SELECT profile_id FROM affiliate_codes").
			WithArgs("ABCD2345").
			WillReturnRows(sqlmock.NewRows([]string{"profile_id"}).AddRow("referrer1"))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec("INSERT INTO referrals").
			WithArgs(sqlmock.AnyArg(), "referrer1", sqlmock.AnyArg(), "ABCD2345").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE affiliate_codes SET total_referrals").
			WithArgs("referrer1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Register(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown referral code does not block registration", func(t *testing.T) {
		req := RegisterRequest{
			Email:        "optimist@example.com",
			Password:     "password123",
			DisplayName:  "Opt User",
			ReferralCode: "NOPE2345",
		}

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO profiles").
			WithArgs(sqlmock.AnyArg(), req.Email, sqlmock.AnyArg(), req.DisplayName, "none").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE profiles").
			WithArgs(int64(5), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), int64(5), "purchase", "Welcome bonus (5 credits)", "", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))

		mock.ExpectQuery("SELECT profile_id FROM affiliate_codes").
			WithArgs("NOPE2345").
			WillReturnRows(sqlmock.NewRows([]string{"profile_id"}))

		mock.ExpectCommit()

		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Register(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid request body", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer([]byte("invalid")))
		w := httptest.NewRecorder()

		service.Register(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuthService_Login(t *testing.T) {
	service, mock, closeDB := testAuthService(t)
	defer closeDB()

	profileColumns := []string{"id", "email", "display_name", "password_hash", "balance", "subscription_status", "subscription_plan_id"}

	t.Run("successful login", func(t *testing.T) {
		hashedPassword, _ := hashPassword("password123")

		mock.ExpectQuery("SELECT id, email, display_name, password_hash").
			WithArgs("test@example.com").
			WillReturnRows(sqlmock.NewRows(profileColumns).
				AddRow("u1", "test@example.com", "Jane Doe", hashedPassword, int64(5), "none", ""))

		req := LoginRequest{Email: "test@example.com", Password: "password123"}

		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Login(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response AuthResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.NotEmpty(t, response.Token)
		assert.Equal(t, "u1", response.User.ID)
	})

	t.Run("wrong password", func(t *testing.T) {
		hashedPassword, _ := hashPassword("password123")

		mock.ExpectQuery("SELECT id, email, display_name, password_hash").
			WithArgs("test@example.com").
			WillReturnRows(sqlmock.NewRows(profileColumns).
				AddRow("u1", "test@example.com", "Jane Doe", hashedPassword, int64(5), "none", ""))

		req := LoginRequest{Email: "test@example.com", Password: "wrongpass"}

		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Login(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("user not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, email, display_name, password_hash").
			WithArgs("nonexistent@example.com").
			WillReturnError(sql.ErrNoRows)

		req := LoginRequest{Email: "nonexistent@example.com", Password: "password123"}

		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Login(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestPasswordHashing(t *testing.T) {
	setupAuthViper()

	hash, err := hashPassword("s3cret-passphrase")
	assert.NoError(t, err)
	assert.NotEmpty(t, hash)

	assert.True(t, verifyPassword("s3cret-passphrase", hash))
	assert.False(t, verifyPassword("other-passphrase", hash))
	assert.False(t, verifyPassword("s3cret-passphrase", "not$areal$hash"))
}
