package notification

import (
	"github.com/gorilla/mux"

	"github.com/ispoon/ispoon-backend/internal/auth"
)

func RegisterRoutes(router *mux.Router, handler *Handler, authMiddleware *auth.Middleware) {
	// Protected routes
	api := router.PathPrefix("/api/v1/notifications").Subrouter()
	api.Use(authMiddleware.Authenticate)

	// Preferences
	api.HandleFunc("/preferences", handler.GetPreferences).Methods("GET")
	api.HandleFunc("/preferences", handler.UpdatePreferences).Methods("PUT")

	// Push tokens
	api.HandleFunc("/push-token", handler.RegisterPushToken).Methods("POST")

	// Ledger
	api.HandleFunc("/history", handler.GetHistory).Methods("GET")
	api.HandleFunc("/templates", handler.GetTemplates).Methods("GET")
	api.HandleFunc("/{id:[0-9]+}/opened", handler.MarkOpened).Methods("POST")
	api.HandleFunc("/{id:[0-9]+}/action", handler.MarkActionTaken).Methods("POST")

	// Service-to-service routes
	internal := router.PathPrefix("/api/v1/internal/notifications").Subrouter()
	internal.Use(authMiddleware.RequireInternalKey)

	internal.HandleFunc("/schedule", handler.Schedule).Methods("POST")
	internal.HandleFunc("/meal-pace", handler.CheckMealPace).Methods("POST")
}
