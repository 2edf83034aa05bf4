// Package feed serves the bubble UI: a websocket pushing task snapshots
// and assistant status, plus HTTP endpoints for the typed input path.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"nebula/internal/store"
	"nebula/internal/voice"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 16
)

// Frame is one websocket message as read by either side.
type Frame struct {
	Kind   string       `json:"kind"`
	Tasks  []store.Task `json:"tasks,omitempty"`
	Status string       `json:"status,omitempty"`
	State  string       `json:"state,omitempty"`
	Alert  bool         `json:"alert,omitempty"`
}

// tasksFrame always carries the list, so an empty nebula is sent as [].
type tasksFrame struct {
	Kind  string       `json:"kind"`
	Tasks []store.Task `json:"tasks"`
}

type Tasks interface {
	Complete(ctx context.Context, id string) error
	Snapshot() []store.Task
}

// Adder creates a task from typed text, due date included.
type Adder interface {
	AddTask(ctx context.Context, text string) (string, error)
}

// Control is the microphone button of the UI.
type Control interface {
	Toggle()
	Activate()
}

type client struct {
	conn *ws.Conn
	send chan []byte
}

type Server struct {
	tasks Tasks
	adder Adder
	ctl   Control

	upgrader ws.Upgrader

	mu         sync.Mutex
	clients    map[*client]struct{}
	lastTasks  []byte
	lastStatus []byte
}

func New(tasks Tasks, adder Adder, ctl Control) *Server {
	return &Server{
		tasks: tasks,
		adder: adder,
		ctl:   ctl,
		upgrader: ws.Upgrader{
			// the UI is served from a file or another local port
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.serveWS)
	mux.HandleFunc("GET /tasks", s.listTasks)
	mux.HandleFunc("POST /tasks", s.addTask)
	mux.HandleFunc("DELETE /tasks/{id}", s.completeTask)
	return mux
}

// ListenAndServe runs until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
		s.closeAll()
	}()

	log.Info("Feed listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("feed: %w", err)
	}
	return nil
}

// PublishTasks is a store subscriber.
func (s *Server) PublishTasks(tasks []store.Task) {
	if tasks == nil {
		tasks = []store.Task{}
	}
	s.broadcast("tasks", tasksFrame{Kind: "tasks", Tasks: tasks}, &s.lastTasks)
}

// PublishStatus is a voice status observer.
func (s *Server) PublishStatus(st voice.Status) {
	s.broadcast("status", Frame{Kind: "status", Status: st.Message, State: st.State.String(), Alert: st.Alert}, &s.lastStatus)
}

func (s *Server) broadcast(kind string, f any, last *[]byte) {
	data, err := json.Marshal(f)
	if err != nil {
		log.Error("Failed to encode frame", "kind", kind, "err", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	*last = data
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			log.Warn("Dropping slow feed client", "remote", c.conn.RemoteAddr())
			s.dropLocked(c)
		}
	}
}

func (s *Server) dropLocked(c *client) {
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	close(c.send)
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		s.dropLocked(c)
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("Websocket upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	for _, last := range [][]byte{s.lastTasks, s.lastStatus} {
		if last != nil {
			c.send <- last
		}
	}
	s.mu.Unlock()

	log.Debug("Feed client connected", "remote", conn.RemoteAddr())

	go s.writeLoop(c)
	s.readLoop(c)
}

func (s *Server) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(ws.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(ws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readLoop(c *client) {
	defer func() {
		s.mu.Lock()
		s.dropLocked(c)
		s.mu.Unlock()
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if !isClosed(err) {
				log.Debug("Feed read failed", "err", err)
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			log.Warn("Bad frame from feed client", "msg", string(msg), "err", err)
			continue
		}
		s.handleFrame(f)
	}
}

func (s *Server) handleFrame(f Frame) {
	if s.ctl == nil {
		return
	}
	switch f.Kind {
	case "toggle":
		s.ctl.Toggle()
	case "activate":
		s.ctl.Activate()
	default:
		log.Warn("Unknown frame kind", "kind", f.Kind)
	}
}

func isClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks := store.Filter(s.tasks.Snapshot(), r.URL.Query().Get("q"))
	if tasks == nil {
		tasks = []store.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

type addRequest struct {
	Text string `json:"text"`
}

func (s *Server) addTask(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty task"})
		return
	}

	id, err := s.adder.AddTask(r.Context(), text)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) completeTask(w http.ResponseWriter, r *http.Request) {
	err := s.tasks.Complete(r.Context(), r.PathValue("id"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		log.Error("Failed to complete task", "id", r.PathValue("id"), "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("Failed to write response", "err", err)
	}
}
