package handlers

import (
	"fmt"
	"log"
	"net/http"

	"github.com/jankos/backend/internal/services"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/viper"
)

type AffiliateHandler struct {
	service *services.AffiliateService
}

func NewAffiliateHandler(service *services.AffiliateService) *AffiliateHandler {
	return &AffiliateHandler{service: service}
}

// ReferralQR renders the caller's referral link as a QR code
// @Summary Referral QR code
// @Description Render the caller's referral signup link as a PNG QR code
// @Tags affiliate
// @Produce png
// @Security BearerAuth
// @Success 200 {file} binary
// @Failure 401 {object} services.ErrorResponse
// @Router /affiliate/qr [get]
func (h *AffiliateHandler) ReferralQR(w http.ResponseWriter, r *http.Request) {
	userID := services.RequestUserID(r)
	if userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	code, err := h.service.EnsureCode(userID)
	if err != nil {
		log.Printf("[AFFILIATE] Failed to ensure code for %s: %v", userID, err)
		services.SendErrorResponse(w, "Failed to load referral code", http.StatusInternalServerError, nil)
		return
	}

	link := fmt.Sprintf("%s/signup?ref=%s", viper.GetString("app.base_url"), code.Code)
	png, err := qrcode.Encode(link, qrcode.Medium, 256)
	if err != nil {
		log.Printf("[AFFILIATE] QR encoding failed for %s: %v", userID, err)
		services.SendErrorResponse(w, "Failed to render QR code", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}
