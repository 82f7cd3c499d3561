// Package signaling keeps the WebSocket connections of open application
// pages and routes their messages to the reminder pipeline.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"mealcue/internal/protocol"
	"mealcue/internal/router"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 50 * time.Second
	writeTimeout = 10 * time.Second
)

var ErrNoOpener = errors.New("no window opener configured")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Opener starts a new application window for a user who has none open,
// e.g. through a web push data message.
type Opener interface {
	OpenWindow(ctx context.Context, userID, url string) error
}

// Window is one connected page.
type Window struct {
	id   string
	conn *websocket.Conn

	metaMu sync.RWMutex
	userID string
	url    string

	writeMu sync.Mutex
}

func (w *Window) ID() string { return w.id }

func (w *Window) URL() string {
	w.metaMu.RLock()
	defer w.metaMu.RUnlock()
	return w.url
}

// UserID is empty until the page sends REGISTER.
func (w *Window) UserID() string {
	w.metaMu.RLock()
	defer w.metaMu.RUnlock()
	return w.userID
}

// Focus asks the page to bring itself to the foreground.
func (w *Window) Focus(ctx context.Context) error {
	return w.PostMessage(ctx, protocol.FocusWindow{Type: protocol.TypeFocusWindow, URL: w.URL()})
}

func (w *Window) PostMessage(ctx context.Context, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	return w.write(ctx, websocket.TextMessage, data)
}

func (w *Window) write(ctx context.Context, messageType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	w.conn.SetWriteDeadline(deadline)
	return w.conn.WriteMessage(messageType, data)
}

type Hub struct {
	mu      sync.RWMutex
	windows map[string]map[string]*Window

	services Services
	opener   Opener
	logger   zerolog.Logger
}

func NewHub(opener Opener, logger zerolog.Logger) *Hub {
	return &Hub{
		windows: make(map[string]map[string]*Window),
		opener:  opener,
		logger:  logger.With().Str("component", "signaling").Logger(),
	}
}

// Bind attaches the pipeline handlers. It must be called before serving.
func (h *Hub) Bind(s Services) {
	h.services = s
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	win := &Window{id: uuid.NewString(), conn: conn}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	done := make(chan struct{})
	var pinger sync.WaitGroup
	pinger.Add(1)
	go func() {
		defer pinger.Done()
		h.keepAlive(win, done)
	}()

	ctx := context.WithoutCancel(r.Context())
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Str("window", win.id).Msg("connection closed")
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		if messageType != websocket.TextMessage {
			continue
		}
		h.handleMessage(ctx, win, message)
	}

	close(done)
	pinger.Wait()
	h.unregister(win)
}

func (h *Hub) keepAlive(win *Window, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := win.write(context.Background(), websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) register(win *Window, userID, url string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prev := win.UserID(); prev != "" && prev != userID {
		h.removeLocked(win)
	}
	win.metaMu.Lock()
	win.userID = userID
	win.url = url
	win.metaMu.Unlock()

	byID, ok := h.windows[userID]
	if !ok {
		byID = make(map[string]*Window)
		h.windows[userID] = byID
	}
	byID[win.id] = win
}

func (h *Hub) unregister(win *Window) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(win)
	if userID := win.UserID(); userID != "" {
		h.logger.Info().Str("user_id", userID).Str("window", win.id).Msg("window disconnected")
	}
}

func (h *Hub) removeLocked(win *Window) {
	userID := win.UserID()
	byID, ok := h.windows[userID]
	if !ok {
		return
	}
	delete(byID, win.id)
	if len(byID) == 0 {
		delete(h.windows, userID)
	}
}

// MatchAll returns every open window of userID.
func (h *Hub) MatchAll(userID string) []router.Window {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]router.Window, 0, len(h.windows[userID]))
	for _, w := range h.windows[userID] {
		out = append(out, w)
	}
	return out
}

func (h *Hub) OpenWindow(ctx context.Context, userID, url string) error {
	if h.opener == nil {
		return ErrNoOpener
	}
	return h.opener.OpenWindow(ctx, userID, url)
}

// PostToUser sends msg to every window of userID and returns how many
// writes succeeded.
func (h *Hub) PostToUser(ctx context.Context, userID string, msg any) int {
	n := 0
	for _, w := range h.MatchAll(userID) {
		if err := w.PostMessage(ctx, msg); err != nil {
			h.logger.Warn().Err(err).Str("window", w.ID()).Msg("post failed")
			continue
		}
		n++
	}
	return n
}

// Broadcast sends msg to every connected window.
func (h *Hub) Broadcast(ctx context.Context, msg any) int {
	h.mu.RLock()
	users := make([]string, 0, len(h.windows))
	for u := range h.windows {
		users = append(users, u)
	}
	h.mu.RUnlock()

	n := 0
	for _, u := range users {
		n += h.PostToUser(ctx, u, msg)
	}
	return n
}

// Stats reports connected users and windows.
func (h *Hub) Stats() (users, windows int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, byID := range h.windows {
		windows += len(byID)
	}
	return len(h.windows), windows
}
