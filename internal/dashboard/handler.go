package dashboard

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/Mschirtzinger/taskboard/internal/board"
	"github.com/Mschirtzinger/taskboard/internal/schema"
	tbsync "github.com/Mschirtzinger/taskboard/internal/sync"
)

// SessionData reports who the workspace is signed in as.
type SessionData struct {
	SignedIn bool         `json:"signedIn"`
	User     *schema.User `json:"user,omitempty"`
}

// TasksData contains the task mirror.
type TasksData struct {
	Ordered bool          `json:"ordered"`
	Tasks   []schema.Task `json:"tasks"`
}

// InvitesData contains both invitation lists.
type InvitesData struct {
	Pending []schema.TeamInvite `json:"pending"`
	Sent    []schema.TeamInvite `json:"sent"`
}

// Handler turns workspace events into dashboard messages and serves
// the /api snapshot routes.
type Handler struct {
	server    *Server
	workspace *tbsync.Workspace
	logger    *log.Logger
	now       func() time.Time

	remove func()
}

// NewHandler creates a handler and registers its routes on server.
func NewHandler(server *Server, workspace *tbsync.Workspace, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	h := &Handler{
		server:    server,
		workspace: workspace,
		logger:    logger,
		now:       time.Now,
	}

	server.SetWelcome(h.Snapshot)
	server.Handle("/api/session", h.handleSession)
	server.Handle("/api/tasks", h.handleTasks)
	server.Handle("/api/board", h.handleBoard)
	server.Handle("/api/stats", h.handleStats)
	server.Handle("/api/projects", h.handleProjects)
	server.Handle("/api/invites", h.handleInvites)
	server.Handle("/api/roster", h.handleRoster)
	return h
}

// Attach starts forwarding workspace events to clients.
func (h *Handler) Attach() {
	if h.remove == nil {
		h.remove = h.workspace.OnChange(h.OnEvent)
	}
}

// Detach stops forwarding workspace events.
func (h *Handler) Detach() {
	if h.remove != nil {
		h.remove()
		h.remove = nil
	}
}

// OnEvent broadcasts the mirrors affected by ev.
func (h *Handler) OnEvent(ev tbsync.Event) {
	var msgs []Message

	switch ev.Kind {
	case tbsync.EventSignedIn:
		msgs = h.bundleMessages(ev.Bundle)
	case tbsync.EventSignedOut:
		msgs = h.encode(msgs, MessageTypeSession, SessionData{})
	case tbsync.EventTasks:
		// Task changes move derived project counts and statistics too.
		msgs = h.encode(msgs, MessageTypeTasks, tasksData(ev.Bundle))
		msgs = h.encode(msgs, MessageTypeStats, h.stats(ev.Bundle))
		msgs = h.encode(msgs, MessageTypeProjects, ev.Bundle.Projects.List())
	case tbsync.EventProjects:
		msgs = h.encode(msgs, MessageTypeProjects, ev.Bundle.Projects.List())
	case tbsync.EventInvites:
		msgs = h.encode(msgs, MessageTypeInvites, invitesData(ev.Bundle))
	case tbsync.EventRoster:
		msgs = h.encode(msgs, MessageTypeRoster, ev.Bundle.Roster.Members())
	default:
		h.logger.Printf("Ignoring unknown event %q", ev.Kind)
	}

	for _, msg := range msgs {
		h.server.Broadcast(msg)
	}
}

// Snapshot returns the full current state as a message sequence.
func (h *Handler) Snapshot() []Message {
	b := h.workspace.Current()
	if b == nil {
		return h.encode(nil, MessageTypeSession, SessionData{})
	}
	return h.bundleMessages(b)
}

func (h *Handler) bundleMessages(b *tbsync.Bundle) []Message {
	user := b.Scope.User()
	msgs := h.encode(nil, MessageTypeSession, SessionData{SignedIn: true, User: &user})
	msgs = h.encode(msgs, MessageTypeTasks, tasksData(b))
	msgs = h.encode(msgs, MessageTypeStats, h.stats(b))
	msgs = h.encode(msgs, MessageTypeProjects, b.Projects.List())
	msgs = h.encode(msgs, MessageTypeInvites, invitesData(b))
	msgs = h.encode(msgs, MessageTypeRoster, b.Roster.Members())
	return msgs
}

func (h *Handler) encode(msgs []Message, typ MessageType, data any) []Message {
	msg, err := NewMessage(typ, data)
	if err != nil {
		h.logger.Printf("Failed to encode %s: %v", typ, err)
		return msgs
	}
	return append(msgs, msg)
}

func (h *Handler) stats(b *tbsync.Bundle) board.Stats {
	return board.Summarize(b.Tasks.List(), b.Scope.UserID(), h.now())
}

func tasksData(b *tbsync.Bundle) TasksData {
	return TasksData{Ordered: b.Tasks.Ordered(), Tasks: b.Tasks.List()}
}

func invitesData(b *tbsync.Bundle) InvitesData {
	return InvitesData{Pending: b.Invites.Pending(), Sent: b.Invites.Sent()}
}

// bundle returns the active bundle or writes a 503.
func (h *Handler) bundle(w http.ResponseWriter) *tbsync.Bundle {
	b := h.workspace.Current()
	if b == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "not signed in"})
	}
	return b
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	b := h.workspace.Current()
	if b == nil {
		writeJSON(w, http.StatusOK, SessionData{})
		return
	}
	user := b.Scope.User()
	writeJSON(w, http.StatusOK, SessionData{SignedIn: true, User: &user})
}

// handleTasks serves the task mirror. Query parameters: status,
// priority, assignee ("me" or a user id), project, q, sort and
// order ("asc" or "desc").
func (h *Handler) handleTasks(w http.ResponseWriter, r *http.Request) {
	b := h.bundle(w)
	if b == nil {
		return
	}

	q := r.URL.Query()
	filter := board.Filter{
		Status:     schema.Status(q.Get("status")),
		Priority:   schema.Priority(q.Get("priority")),
		AssigneeID: q.Get("assignee"),
		ProjectID:  q.Get("project"),
		Text:       q.Get("q"),
	}
	if filter.Status == "all" {
		filter.Status = ""
	}
	if filter.AssigneeID == "me" {
		filter.AssigneeID = b.Scope.UserID()
	}

	tasks := board.Apply(b.Tasks.List(), filter)

	if field := q.Get("sort"); field != "" {
		sortField, err := board.ParseSortField(field)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		desc := strings.EqualFold(q.Get("order"), "desc")
		tasks = board.Sort(tasks, sortField, desc, assigneeName(b))
	}

	writeJSON(w, http.StatusOK, TasksData{Ordered: b.Tasks.Ordered(), Tasks: tasks})
}

func (h *Handler) handleBoard(w http.ResponseWriter, r *http.Request) {
	if b := h.bundle(w); b != nil {
		writeJSON(w, http.StatusOK, board.Kanban(b.Tasks.List()))
	}
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if b := h.bundle(w); b != nil {
		writeJSON(w, http.StatusOK, h.stats(b))
	}
}

func (h *Handler) handleProjects(w http.ResponseWriter, r *http.Request) {
	if b := h.bundle(w); b != nil {
		writeJSON(w, http.StatusOK, b.Projects.List())
	}
}

func (h *Handler) handleInvites(w http.ResponseWriter, r *http.Request) {
	if b := h.bundle(w); b != nil {
		writeJSON(w, http.StatusOK, invitesData(b))
	}
}

func (h *Handler) handleRoster(w http.ResponseWriter, r *http.Request) {
	if b := h.bundle(w); b != nil {
		writeJSON(w, http.StatusOK, b.Roster.Members())
	}
}

// assigneeName resolves ids through the roster. Unknown ids sort as "".
func assigneeName(b *tbsync.Bundle) board.NameFunc {
	return func(id string) string {
		if u, ok := b.Roster.Lookup(id); ok {
			return u.DisplayName()
		}
		return ""
	}
}
