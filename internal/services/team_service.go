package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jankos/backend/internal/config"
	"github.com/jankos/backend/internal/models"
)

var (
	ErrNoActiveSubscription = errors.New("team invites require an active subscription")
	ErrSeatLimitReached     = errors.New("team seat limit reached")
	ErrAlreadyInvited       = errors.New("this email has already been invited")
	ErrInviteNotFound       = errors.New("invite not found")
)

// TeamService manages seat invites for subscription owners. Seat limits
// come from the owner's plan and count the owner as one seat.
type TeamService struct {
	db        *sql.DB
	pricing   *config.PricingConfig
	validator *ValidationHelper
}

func NewTeamService(db *sql.DB, pricing *config.PricingConfig) *TeamService {
	return &TeamService{db: db, pricing: pricing, validator: NewValidationHelper()}
}

// Invite creates a pending seat invite for the given email.
func (s *TeamService) Invite(ownerID, email string) (*models.TeamMember, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var status, planID string
	err = tx.QueryRow(`SELECT subscription_status, subscription_plan_id FROM profiles WHERE id = $1`, ownerID).
		Scan(&status, &planID)
	if err == sql.ErrNoRows {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	if status != models.SubscriptionActive {
		return nil, ErrNoActiveSubscription
	}
	plan := s.pricing.Plan(planID)
	if plan == nil {
		return nil, ErrNoActiveSubscription
	}

	var seatsUsed int
	err = tx.QueryRow(`SELECT COUNT(*) FROM team_members WHERE owner_id = $1`, ownerID).Scan(&seatsUsed)
	if err != nil {
		return nil, err
	}
	// The owner occupies one seat.
	if seatsUsed+1 >= plan.SeatLimit {
		return nil, ErrSeatLimitReached
	}

	member := &models.TeamMember{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		Email:       email,
		Status:      models.MemberInvited,
		InviteToken: uuid.New().String(),
	}
	err = tx.QueryRow(`
		INSERT INTO team_members (id, owner_id, email, status, invite_token)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner_id, email) DO NOTHING
		RETURNING created_at`,
		member.ID, member.OwnerID, member.Email, member.Status, member.InviteToken).
		Scan(&member.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAlreadyInvited
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	log.Printf("[TEAM] %s invited %s (seat %d of %d)", ownerID, email, seatsUsed+2, plan.SeatLimit)
	return member, nil
}

// AcceptInvite activates the seat matching the invite token.
func (s *TeamService) AcceptInvite(token string) (*models.TeamMember, error) {
	var member models.TeamMember
	err := s.db.QueryRow(`
		UPDATE team_members
		SET status = $1
		WHERE invite_token = $2 AND status = $3
		RETURNING id, owner_id, email, status, created_at`,
		models.MemberActive, token, models.MemberInvited).
		Scan(&member.ID, &member.OwnerID, &member.Email, &member.Status, &member.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrInviteNotFound
	}
	if err != nil {
		return nil, err
	}
	log.Printf("[TEAM] Invite accepted for %s (owner %s)", member.Email, member.OwnerID)
	return &member, nil
}

// ListMembers returns the owner's seats, invited and active.
func (s *TeamService) ListMembers(ownerID string) ([]models.TeamMember, error) {
	rows, err := s.db.Query(`
		SELECT id, owner_id, email, status, created_at
		FROM team_members
		WHERE owner_id = $1
		ORDER BY created_at ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []models.TeamMember{}
	for rows.Next() {
		var m models.TeamMember
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.Email, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// RemoveMember deletes a seat owned by the caller.
func (s *TeamService) RemoveMember(ownerID, memberID string) error {
	result, err := s.db.Exec(`DELETE FROM team_members WHERE id = $1 AND owner_id = $2`, memberID, ownerID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrInviteNotFound
	}
	log.Printf("[TEAM] %s removed member %s", ownerID, memberID)
	return nil
}

// InviteRequest carries the email to invite.
type InviteRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// InviteMember invites an email to the caller's team
// @Summary Invite team member
// @Description Invite an email to occupy one of the caller's plan seats
// @Tags team
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body InviteRequest true "Invite request"
// @Success 201 {object} models.TeamMember
// @Failure 400 {object} ErrorResponse
// @Failure 402 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /team/invite [post]
func (s *TeamService) InviteMember(w http.ResponseWriter, r *http.Request) {
	userID := RequestUserID(r)
	if userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req InviteRequest
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

	member, err := s.Invite(userID, req.Email)
	switch {
	case errors.Is(err, ErrNoActiveSubscription):
		SendErrorResponse(w, err.Error(), http.StatusPaymentRequired, nil)
		return
	case errors.Is(err, ErrSeatLimitReached):
		SendErrorResponse(w, err.Error(), http.StatusForbidden, nil)
		return
	case errors.Is(err, ErrAlreadyInvited):
		SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
		return
	case err != nil:
		log.Printf("[TEAM] Invite failed for %s: %v", userID, err)
		SendErrorResponse(w, "Failed to create invite", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(member)
}

// GetMembers lists the caller's team seats
// @Summary List team members
// @Tags team
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.TeamMember
// @Failure 401 {object} ErrorResponse
// @Router /team/members [get]
func (s *TeamService) GetMembers(w http.ResponseWriter, r *http.Request) {
	userID := RequestUserID(r)
	if userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	members, err := s.ListMembers(userID)
	if err != nil {
		log.Printf("[TEAM] Failed to list members for %s: %v", userID, err)
		SendErrorResponse(w, "Failed to load team members", http.StatusInternalServerError, nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(members)
}

// AcceptInviteHandler activates a seat invite
// @Summary Accept team invite
// @Tags team
// @Produce json
// @Param token query string true "Invite token"
// @Success 200 {object} models.TeamMember
// @Failure 404 {object} ErrorResponse
// @Router /team/accept [post]
func (s *TeamService) AcceptInviteHandler(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		SendErrorResponse(w, "Missing invite token", http.StatusBadRequest, nil)
		return
	}
	member, err := s.AcceptInvite(token)
	if errors.Is(err, ErrInviteNotFound) {
		SendErrorResponse(w, "Invite not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[TEAM] Accept invite failed: %v", err)
		SendErrorResponse(w, "Failed to accept invite", http.StatusInternalServerError, nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(member)
}
