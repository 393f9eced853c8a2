package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"

	"github.com/platinummonkey/orgkit/pkg/httputil"
	"github.com/platinummonkey/orgkit/pkg/notify"
)

const (
	defaultNotificationLimit = 15
	maxNotificationLimit     = 100
)

// NotificationHandlers serves the authenticated user's notification inbox.
type NotificationHandlers struct {
	store notify.Store
	clock clockwork.Clock
}

// NewNotificationHandlers creates a new NotificationHandlers
func NewNotificationHandlers(store notify.Store, clock clockwork.Clock) *NotificationHandlers {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &NotificationHandlers{store: store, clock: clock}
}

// RegisterRoutes registers notification routes
func (h *NotificationHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/notifications", h.List).Methods("GET")
	router.HandleFunc("/notifications/unread-count", h.UnreadCount).Methods("GET")
	router.HandleFunc("/notifications/mark-all-read", h.MarkAllRead).Methods("POST")
	router.HandleFunc("/notifications/{notification_id}/read", h.MarkRead).Methods("PATCH")
	router.HandleFunc("/notifications/{notification_id}", h.Delete).Methods("DELETE")
}

type notificationListResponse struct {
	Notifications []*notify.Notification `json:"notifications"`
	UnreadCount   int64                  `json:"unread_count"`
}

// List returns the newest notifications. ?unread=true restricts the list
// to unread ones and ?limit caps it.
func (h *NotificationHandlers) List(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	unreadOnly, err := httputil.ParseQueryBool(r, "unread", false)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid unread parameter")
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", defaultNotificationLimit)
	if err != nil || limit < 1 {
		httputil.WriteBadRequest(w, "invalid limit parameter")
		return
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}

	list, err := h.store.List(r.Context(), user.ID, unreadOnly, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	unread, err := h.store.UnreadCount(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*notify.Notification{}
	}

	httputil.WriteSuccess(w, notificationListResponse{Notifications: list, UnreadCount: unread})
}

// UnreadCount returns the number of unread notifications.
func (h *NotificationHandlers) UnreadCount(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	count, err := h.store.UnreadCount(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]int64{"count": count})
}

// MarkRead marks one notification as read.
func (h *NotificationHandlers) MarkRead(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	id, ok := httputil.ParsePathUUIDOrError(w, r, "notification_id")
	if !ok {
		return
	}

	if err := h.store.MarkRead(r.Context(), user.ID, id, h.clock.Now().UTC()); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// MarkAllRead marks every unread notification as read.
func (h *NotificationHandlers) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	updated, err := h.store.MarkAllRead(r.Context(), user.ID, h.clock.Now().UTC())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]int64{"updated": updated})
}

// Delete removes a notification.
func (h *NotificationHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	id, ok := httputil.ParsePathUUIDOrError(w, r, "notification_id")
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), user.ID, id); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
