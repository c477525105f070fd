package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jankos/backend/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestAffiliateService_RegisterReferral(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAffiliateService(db, config.LoadPricingConfig())

	t.Run("successful registration bumps referrer totals", func(t *testing.T) {
		mock.ExpectQuery("SELECT profile_id FROM affiliate_codes").
			WithArgs("ABCD2345").
			WillReturnRows(sqlmock.NewRows([]string{"profile_id"}).AddRow("referrer1"))

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("newuser1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		mock.ExpectExec("INSERT INTO referrals").
			WithArgs(sqlmock.AnyArg(), "referrer1", "newuser1", "ABCD2345").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE affiliate_codes SET total_referrals").
			WithArgs("referrer1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := service.RegisterReferral("newuser1", "ABCD2345")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown code", func(t *testing.T) {
		mock.ExpectQuery("SELECT profile_id FROM affiliate_codes").
			WithArgs("NOPE2345").
			WillReturnRows(sqlmock.NewRows([]string{"profile_id"}))

		err := service.RegisterReferral("newuser1", "NOPE2345")
		assert.ErrorIs(t, err, ErrCodeNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("self referral is rejected without side effects", func(t *testing.T) {
		mock.ExpectQuery("SELECT profile_id FROM affiliate_codes").
			WithArgs("ABCD2345").
			WillReturnRows(sqlmock.NewRows([]string{"profile_id"}).AddRow("referrer1"))

		err := service.RegisterReferral("referrer1", "ABCD2345")
		assert.ErrorIs(t, err, ErrSelfReferral)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second referrer is rejected without side effects", func(t *testing.T) {
		mock.ExpectQuery("SELECT profile_id FROM affiliate_codes").
			WithArgs("ABCD2345").
			WillReturnRows(sqlmock.NewRows([]string{"profile_id"}).AddRow("referrer1"))

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("newuser1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		err := service.RegisterReferral("newuser1", "ABCD2345")
		assert.ErrorIs(t, err, ErrAlreadyReferred)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAffiliateService_EnsureCode(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAffiliateService(db, config.LoadPricingConfig())

	codeColumns := []string{"profile_id", "code", "commission_rate", "total_earnings_cents", "total_referrals", "created_at"}

	t.Run("returns an existing code", func(t *testing.T) {
		mock.ExpectQuery("SELECT profile_id, code, commission_rate").
			WithArgs("profile1").
			WillReturnRows(sqlmock.NewRows(codeColumns).
				AddRow("profile1", "ABCD2345", 0.30, int64(870), int64(3), time.Now()))

		code, err := service.EnsureCode("profile1")
		assert.NoError(t, err)
		assert.Equal(t, "ABCD2345", code.Code)
		assert.Equal(t, int64(3), code.TotalReferrals)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("creates a code on first use", func(t *testing.T) {
		mock.ExpectQuery("SELECT profile_id, code, commission_rate").
			WithArgs("profile2").
			WillReturnRows(sqlmock.NewRows(codeColumns))

		mock.ExpectExec("INSERT INTO affiliate_codes").
			WithArgs("profile2", sqlmock.AnyArg(), 0.30).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectQuery("SELECT profile_id, code, commission_rate").
			WithArgs("profile2").
			WillReturnRows(sqlmock.NewRows(codeColumns).
				AddRow("profile2", "EFGH6789", 0.30, int64(0), int64(0), time.Now()))

		code, err := service.EnsureCode("profile2")
		assert.NoError(t, err)
		assert.Equal(t, "EFGH6789", code.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGenerateReferralCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := generateReferralCode()
		assert.NoError(t, err)
		assert.Len(t, code, 8)
		for _, c := range code {
			assert.Contains(t, referralCharset, string(c))
		}
		seen[code] = true
	}
	// 50 draws from a 32^8 space should never collide
	assert.Greater(t, len(seen), 45)
}

func TestAffiliateService_RegisterReferralHandler(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAffiliateService(db, config.LoadPricingConfig())

	doRequest := func(userID, body string) *httptest.ResponseRecorder {
		r := httptest.NewRequest("POST", "/api/v1/affiliate/register", strings.NewReader(body))
		if userID != "" {
			r = r.WithContext(context.WithValue(r.Context(), "userID", userID))
		}
		w := httptest.NewRecorder()
		service.RegisterReferralHandler(w, r)
		return w
	}

	t.Run("registers and normalizes the code", func(t *testing.T) {
		mock.ExpectQuery("SELECT profile_id FROM affiliate_codes").
			WithArgs("ABCD2345").
			WillReturnRows(sqlmock.NewRows([]string{"profile_id"}).AddRow("referrer1"))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("newuser1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec("INSERT INTO referrals").
			WithArgs(sqlmock.AnyArg(), "referrer1", "newuser1", "ABCD2345").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE affiliate_codes SET total_referrals").
			WithArgs("referrer1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		w := doRequest("newuser1", `{"affiliateCode":" abcd2345 "}`)
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown code returns 404", func(t *testing.T) {
		mock.ExpectQuery("SELECT profile_id FROM affiliate_codes").
			WithArgs("NOPE2345").
			WillReturnRows(sqlmock.NewRows([]string{"profile_id"}))

		w := doRequest("newuser1", `{"affiliateCode":"NOPE2345"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("mismatched body user id is forbidden", func(t *testing.T) {
		w := doRequest("newuser1", `{"userId":"someoneelse","affiliateCode":"ABCD2345"}`)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("missing code returns 400", func(t *testing.T) {
		w := doRequest("newuser1", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unauthenticated returns 401", func(t *testing.T) {
		w := doRequest("", `{"affiliateCode":"ABCD2345"}`)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
