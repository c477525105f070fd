package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jankos/backend/internal/config"
	"github.com/jankos/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestTeamService_Invite(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTeamService(db, config.LoadPricingConfig())

	t.Run("successful invite", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT subscription_status, subscription_plan_id FROM profiles").
			WithArgs("owner1").
			WillReturnRows(sqlmock.NewRows([]string{"subscription_status", "subscription_plan_id"}).
				AddRow("active", "creator-monthly"))
		mock.ExpectQuery("SELECT COUNT").
			WithArgs("owner1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectQuery("INSERT INTO team_members").
			WithArgs(sqlmock.AnyArg(), "owner1", "teammate@example.com", "invited", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
		mock.ExpectCommit()

		member, err := service.Invite("owner1", "Teammate@Example.com ")
		assert.NoError(t, err)
		assert.Equal(t, "teammate@example.com", member.Email)
		assert.Equal(t, models.MemberInvited, member.Status)
		assert.NotEmpty(t, member.InviteToken)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no active subscription", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT subscription_status, subscription_plan_id FROM profiles").
			WithArgs("owner1").
			WillReturnRows(sqlmock.NewRows([]string{"subscription_status", "subscription_plan_id"}).
				AddRow("none", ""))
		mock.ExpectRollback()

		_, err := service.Invite("owner1", "teammate@example.com")
		assert.ErrorIs(t, err, ErrNoActiveSubscription)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("seat limit counts the owner", func(t *testing.T) {
		// Creator plan has 3 seats: the owner plus 2 members.
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT subscription_status, subscription_plan_id FROM profiles").
			WithArgs("owner1").
			WillReturnRows(sqlmock.NewRows([]string{"subscription_status", "subscription_plan_id"}).
				AddRow("active", "creator-monthly"))
		mock.ExpectQuery("SELECT COUNT").
			WithArgs("owner1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectRollback()

		_, err := service.Invite("owner1", "third@example.com")
		assert.ErrorIs(t, err, ErrSeatLimitReached)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate email", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT subscription_status, subscription_plan_id FROM profiles").
			WithArgs("owner1").
			WillReturnRows(sqlmock.NewRows([]string{"subscription_status", "subscription_plan_id"}).
				AddRow("active", "studio-monthly"))
		mock.ExpectQuery("SELECT COUNT").
			WithArgs("owner1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectQuery("INSERT INTO team_members").
			WithArgs(sqlmock.AnyArg(), "owner1", "teammate@example.com", "invited", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"})) // conflict, nothing returned
		mock.ExpectRollback()

		_, err := service.Invite("owner1", "teammate@example.com")
		assert.ErrorIs(t, err, ErrAlreadyInvited)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTeamService_AcceptInvite(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTeamService(db, config.LoadPricingConfig())

	t.Run("activates a pending invite", func(t *testing.T) {
		mock.ExpectQuery("UPDATE team_members").
			WithArgs("active", "token1", "invited").
			WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "email", "status", "created_at"}).
				AddRow("m1", "owner1", "teammate@example.com", "active", time.Now()))

		member, err := service.AcceptInvite("token1")
		assert.NoError(t, err)
		assert.Equal(t, models.MemberActive, member.Status)
	})

	t.Run("unknown or used token", func(t *testing.T) {
		mock.ExpectQuery("UPDATE team_members").
			WithArgs("active", "badtoken", "invited").
			WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "email", "status", "created_at"}))

		_, err := service.AcceptInvite("badtoken")
		assert.ErrorIs(t, err, ErrInviteNotFound)
	})
}

func TestTeamService_RemoveMember(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTeamService(db, config.LoadPricingConfig())

	t.Run("removes an owned seat", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM team_members").
			WithArgs("m1", "owner1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, service.RemoveMember("owner1", "m1"))
	})

	t.Run("cannot remove another owner's seat", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM team_members").
			WithArgs("m1", "intruder").
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, service.RemoveMember("intruder", "m1"), ErrInviteNotFound)
	})
}
