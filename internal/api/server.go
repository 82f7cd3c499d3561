// Package api exposes the HTTP routes: the page WebSocket, operational
// endpoints, per-user schedule management and the cached app shell.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"mealcue/internal/database"
	"mealcue/internal/middleware"
	"mealcue/internal/workers"
	"mealcue/pkg/models"
)

type Scheduler interface {
	ScheduleDay(ctx context.Context, settings models.ScheduleSettings) ([]models.Reminder, error)
	CancelUser(ctx context.Context, userID string) int
}

type Store interface {
	Ping(ctx context.Context) error
	GetSettings(ctx context.Context, userID string) (*models.ScheduleSettings, error)
	ListReminders(ctx context.Context, userID string) ([]database.StoredReminder, error)
}

type Notifications interface {
	List(userID string) []models.NotificationRecord
	Count() int
}

type Hub interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
	Stats() (users, windows int)
}

type Counter interface {
	Len() int
}

type LogSource interface {
	Lines() []string
}

type WorkerStats interface {
	GetStats() workers.WorkerStats
}

type CacheInfo interface {
	http.Handler
	Current() string
}

// Deps are the components the routes read from.
type Deps struct {
	Store         Store
	Scheduler     Scheduler
	Notifications Notifications
	Hub           Hub
	Pending       Counter
	Logs          LogSource
	Workers       WorkerStats
	Cache         CacheInfo
	PushEnabled   bool
}

type Server struct {
	deps      Deps
	startTime time.Time
	logger    zerolog.Logger
}

func NewServer(deps Deps, logger zerolog.Logger) *Server {
	return &Server{
		deps:      deps,
		startTime: time.Now(),
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.Recovery(s.logger), middleware.RequestLogger(s.logger))

	router.HandleFunc("/ws", s.deps.Hub.HandleWebSocket)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stats", s.statsHandler).Methods(http.MethodGet)
	api.HandleFunc("/health", s.healthCheckHandler).Methods(http.MethodGet)
	api.HandleFunc("/logs", s.logsHandler).Methods(http.MethodGet)

	users := api.PathPrefix("/users/{userID}").Subrouter()
	users.Use(middleware.RequireUserID)
	users.HandleFunc("/schedule", s.getScheduleHandler).Methods(http.MethodGet)
	users.HandleFunc("/schedule", s.putScheduleHandler).Methods(http.MethodPut)
	users.HandleFunc("/reminders", s.listRemindersHandler).Methods(http.MethodGet)
	users.HandleFunc("/reminders", s.clearRemindersHandler).Methods(http.MethodDelete)
	users.HandleFunc("/notifications", s.notificationsHandler).Methods(http.MethodGet)

	if s.deps.Cache != nil {
		router.PathPrefix("/").Handler(s.deps.Cache)
	}

	return middleware.CORS(router)
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	users, windows := s.deps.Hub.Stats()
	response := map[string]any{
		"connected_users":   users,
		"open_windows":      windows,
		"pending_reminders": s.deps.Pending.Len(),
		"notifications":     s.deps.Notifications.Count(),
		"uptime":            formatDuration(time.Since(s.startTime)),
		"db_status":         s.deps.Store.Ping(ctx) == nil,
		"firebase_ok":       s.deps.PushEnabled,
		"timestamp":         time.Now().Unix(),
	}
	if s.deps.Workers != nil {
		response["workers"] = s.deps.Workers.GetStats()
	}
	if s.deps.Cache != nil {
		response["cache"] = s.deps.Cache.Current()
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) logsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"logs": s.deps.Logs.Lines(),
	})
}

func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK

	if err := s.deps.Store.Ping(r.Context()); err != nil {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]string{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) getScheduleHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	settings, err := s.deps.Store.GetSettings(r.Context(), userID)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no schedule for user")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to load schedule")
		writeError(w, http.StatusInternalServerError, "failed to load schedule")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) putScheduleHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	var settings models.ScheduleSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if settings.UserID != "" && settings.UserID != userID {
		writeError(w, http.StatusBadRequest, "userId does not match path")
		return
	}
	settings.UserID = userID

	for meal := range settings.Times {
		if !meal.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown meal type %q", meal))
			return
		}
	}

	reminders, err := s.deps.Scheduler.ScheduleDay(r.Context(), settings)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"userId":    userID,
		"reminders": reminders,
	})
}

type reminderView struct {
	models.Reminder
	State     models.State `json:"state"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

func (s *Server) listRemindersHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	stored, err := s.deps.Store.ListReminders(r.Context(), userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to list reminders")
		writeError(w, http.StatusInternalServerError, "failed to list reminders")
		return
	}

	out := make([]reminderView, 0, len(stored))
	for _, sr := range stored {
		out = append(out, reminderView{Reminder: sr.Reminder, State: sr.State, UpdatedAt: sr.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"reminders": out})
}

func (s *Server) clearRemindersHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	n := s.deps.Scheduler.CancelUser(r.Context(), userID)
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": n})
}

func (s *Server) notificationsHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": s.deps.Notifications.List(userID),
	})
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
