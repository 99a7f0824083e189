// internal/notification/handlers.go

package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ispoon/ispoon-backend/internal/auth"
	"github.com/ispoon/ispoon-backend/internal/common/logger"
	"github.com/ispoon/ispoon-backend/internal/common/utils"
)

type Handler struct {
	service Service
	log     *zap.Logger
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service, log: logger.WithModule("notification.http")}
}

// GetPreferences returns the caller's notification settings
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	pref, err := h.service.GetPreferences(r.Context(), userID)
	if err != nil {
		h.log.Error("get preferences failed", zap.Int64("user_id", userID), zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to fetch notification preferences")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"preferences": pref,
	})
}

// UpdatePreferences applies a partial settings update
func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req PreferenceUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	pref, err := h.service.UpdatePreferences(r.Context(), userID, req)
	if err != nil {
		h.log.Error("update preferences failed", zap.Int64("user_id", userID), zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to update notification preferences")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"preferences": pref,
	})
}

// RegisterPushToken stores the device's FCM token
func (h *Handler) RegisterPushToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req RegisterPushTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.RegisterPushToken(r.Context(), userID, &req); err != nil {
		h.log.Error("register push token failed", zap.Int64("user_id", userID), zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to register push token")
		return
	}

	utils.RespondWithMessage(w, http.StatusOK, "Push token registered")
}

// GetHistory lists the caller's notifications, newest first
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	history, err := h.service.History(r.Context(), userID, limit, offset)
	if err != nil {
		h.log.Error("notification history failed", zap.Int64("user_id", userID), zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to fetch notification history")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"notifications": history.Notifications,
		"limit":         history.Limit,
		"offset":        history.Offset,
	})
}

// MarkOpened records that the caller opened a notification
func (h *Handler) MarkOpened(w http.ResponseWriter, r *http.Request) {
	h.acknowledge(w, r, h.service.MarkOpened, "Notification marked as opened")
}

// MarkActionTaken records that the caller acted on a notification
func (h *Handler) MarkActionTaken(w http.ResponseWriter, r *http.Request) {
	h.acknowledge(w, r, h.service.MarkActionTaken, "Notification action recorded")
}

func (h *Handler) acknowledge(w http.ResponseWriter, r *http.Request, mark func(ctx context.Context, id int64) error, message string) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	notificationID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid notification ID")
		return
	}

	// ownership is checked here; the service trusts the id it is given
	if _, err := h.service.GetNotification(r.Context(), notificationID, userID); err != nil {
		h.respondLookupError(w, err)
		return
	}

	if err := mark(r.Context(), notificationID); err != nil {
		h.respondLookupError(w, err)
		return
	}

	utils.RespondWithMessage(w, http.StatusOK, message)
}

func (h *Handler) respondLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotificationNotFound):
		utils.RespondWithError(w, http.StatusNotFound, "Notification not found")
	case errors.Is(err, ErrUnauthorized):
		utils.RespondWithError(w, http.StatusForbidden, "Unauthorized")
	default:
		h.log.Error("notification lookup failed", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to update notification")
	}
}

// GetTemplates lists active notification types grouped by category
func (h *Handler) GetTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.service.ListTemplates(r.Context())
	if err != nil {
		h.log.Error("list templates failed", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to fetch notification templates")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"templates": templates,
	})
}

// Schedule is the internal entry point other backend services use to
// request a notification
func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := h.service.Schedule(r.Context(), &req)
	h.respondScheduled(w, n, err)
}

// MealPaceRequest reports a finished meal's average pace
type MealPaceRequest struct {
	UserID int64   `json:"user_id" validate:"required,gt=0"`
	MealID int64   `json:"meal_id" validate:"required,gt=0"`
	Pace   float64 `json:"avg_pace_bpm" validate:"gte=0"`
}

// CheckMealPace lets the meal pipeline trigger a fast eating alert
func (h *Handler) CheckMealPace(w http.ResponseWriter, r *http.Request) {
	var req MealPaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := h.service.CheckMealPace(r.Context(), req.UserID, req.MealID, req.Pace)
	h.respondScheduled(w, n, err)
}

func (h *Handler) respondScheduled(w http.ResponseWriter, n *Notification, err error) {
	if err != nil {
		h.log.Error("schedule notification failed", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to schedule notification")
		return
	}
	if n == nil {
		utils.RespondWithJSON(w, http.StatusAccepted, map[string]interface{}{
			"success":   true,
			"scheduled": false,
		})
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"success":      true,
		"scheduled":    true,
		"notification": n,
	})
}
