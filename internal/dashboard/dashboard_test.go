package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Mschirtzinger/taskboard/internal/board"
	"github.com/Mschirtzinger/taskboard/internal/docstore"
	"github.com/Mschirtzinger/taskboard/internal/schema"
	tbsync "github.com/Mschirtzinger/taskboard/internal/sync"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func startServer(t *testing.T) *Server {
	t.Helper()
	server := NewServer(&Config{Port: 0, Host: "127.0.0.1", Logger: quietLogger()})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func dial(t *testing.T, server *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

// readUntil reads messages until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(Message) bool) Message {
	t.Helper()
	for i := 0; i < 50; i++ {
		if msg := readMessage(t, conn); match(msg) {
			return msg
		}
	}
	t.Fatal("no matching message")
	return Message{}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func getJSON(t *testing.T, server *Server, path string, v any) int {
	t.Helper()
	resp, err := http.Get("http://" + server.GetAddr() + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("GET %s: bad JSON: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Host: "127.0.0.1", Logger: quietLogger()})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if addr := server.GetAddr(); addr == "" || addr == "127.0.0.1:0" {
		t.Errorf("GetAddr() = %q, want bound address", addr)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestHealth(t *testing.T) {
	server := startServer(t)

	var body map[string]any
	if code := getJSON(t, server, "/health", &body); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if body["status"] != "ok" {
		t.Errorf("health = %v", body)
	}
}

func TestMessageBroadcast(t *testing.T) {
	server := startServer(t)

	clients := []*websocket.Conn{dial(t, server), dial(t, server), dial(t, server)}
	eventually(t, "3 clients", func() bool { return server.ClientCount() == 3 })

	msg, err := NewMessage(MessageTypeRoster, []string{"alice"})
	if err != nil {
		t.Fatalf("NewMessage() failed: %v", err)
	}
	server.Broadcast(msg)

	for i, conn := range clients {
		got := readMessage(t, conn)
		if got.Type != MessageTypeRoster || string(got.Data) != `["alice"]` {
			t.Errorf("client %d got %s %s", i, got.Type, got.Data)
		}
	}
}

func TestBroadcast_KeepsLatestPerType(t *testing.T) {
	tests := []struct {
		name  string
		sends []MessageType
		want  []string
	}{
		{
			name:  "single type",
			sends: []MessageType{MessageTypeTasks, MessageTypeTasks, MessageTypeTasks},
			want:  []string{"tasks:2"},
		},
		{
			name:  "interleaved types keep first-queued order",
			sends: []MessageType{MessageTypeRoster, MessageTypeTasks, MessageTypeRoster, MessageTypeTasks},
			want:  []string{"roster:2", "tasks:3"},
		},
		{
			name:  "more than a channel's worth",
			sends: repeatType(MessageTypeStats, 500),
			want:  []string{"stats:499"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Not started, so nothing drains the queue.
			server := NewServer(&Config{Port: 0, Host: "127.0.0.1", Logger: quietLogger()})
			for i, typ := range tt.sends {
				msg, err := NewMessage(typ, i)
				if err != nil {
					t.Fatalf("NewMessage() failed: %v", err)
				}
				server.Broadcast(msg)
			}

			var got []string
			for _, msg := range server.takePending() {
				got = append(got, string(msg.Type)+":"+string(msg.Data))
			}
			if len(got) != len(tt.want) {
				t.Fatalf("pending = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("pending[%d] = %s, want %s", i, got[i], tt.want[i])
				}
			}
			if rest := server.takePending(); len(rest) != 0 {
				t.Errorf("second takePending() = %d messages, want 0", len(rest))
			}
		})
	}
}

func repeatType(typ MessageType, n int) []MessageType {
	out := make([]MessageType, n)
	for i := range out {
		out[i] = typ
	}
	return out
}

func TestBroadcast_DeliversLatestUnderLoad(t *testing.T) {
	server := startServer(t)
	conn := dial(t, server)
	eventually(t, "client registered", func() bool { return server.ClientCount() == 1 })

	const n = 1000
	for i := 0; i < n; i++ {
		msg, err := NewMessage(MessageTypeStats, i)
		if err != nil {
			t.Fatalf("NewMessage() failed: %v", err)
		}
		server.Broadcast(msg)
	}

	// Intermediate values may be skipped, but never the last, and never
	// out of order.
	prev := -1
	for i := 0; i < n; i++ {
		msg := readMessage(t, conn)
		var v int
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			t.Fatalf("Failed to unmarshal stats: %v", err)
		}
		if v <= prev {
			t.Fatalf("got %d after %d", v, prev)
		}
		if v == n-1 {
			return
		}
		prev = v
	}
	t.Fatal("latest message never delivered")
}

func TestClientDisconnect(t *testing.T) {
	server := startServer(t)

	conn := dial(t, server)
	eventually(t, "client registered", func() bool { return server.ClientCount() == 1 })

	_ = conn.Close(websocket.StatusNormalClosure, "")
	eventually(t, "client removed", func() bool { return server.ClientCount() == 0 })
}

func TestWelcomeMessages(t *testing.T) {
	server := startServer(t)
	server.SetWelcome(func() []Message {
		first, _ := NewMessage(MessageTypeSession, SessionData{})
		second, _ := NewMessage(MessageTypeStats, board.Stats{Total: 2})
		return []Message{first, second}
	})

	conn := dial(t, server)
	if got := readMessage(t, conn); got.Type != MessageTypeSession {
		t.Errorf("first message = %s, want session", got.Type)
	}
	if got := readMessage(t, conn); got.Type != MessageTypeStats {
		t.Errorf("second message = %s, want stats", got.Type)
	}
}

// workspaceFixture runs a handler over a real store and workspace.
type workspaceFixture struct {
	server    *Server
	workspace *tbsync.Workspace
	alice     *schema.User
}

func setupWorkspace(t *testing.T) *workspaceFixture {
	t.Helper()

	storeConfig := docstore.DefaultConfig()
	storeConfig.Logger = quietLogger()
	db, err := docstore.Open(filepath.Join(t.TempDir(), "store.db"), storeConfig)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	db.SetRule(schema.CollectionTasks, "createdBy")
	db.SetRule(schema.CollectionProjects, "createdBy")
	db.SetRule(schema.CollectionInvites, "fromUserId", "toUserId")
	db.SetRule(schema.CollectionMemberships, "teamLeaderId", "memberId")

	alice := &schema.User{ID: "u-alice", Email: "alice@example.com", Name: "Alice", Username: "alice", Role: schema.RoleMember}
	if err := db.Set(context.Background(), schema.CollectionUsers, alice.ID, alice); err != nil {
		t.Fatalf("Set(user) failed: %v", err)
	}

	ws := tbsync.NewWorkspace(db, &tbsync.Config{
		TeamRefreshInterval:   time.Hour,
		InviteRefreshInterval: time.Hour,
		Logger:                quietLogger(),
	})
	t.Cleanup(ws.Close)

	server := startServer(t)
	h := NewHandler(server, ws, quietLogger())
	h.now = func() time.Time { return time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC) }
	h.Attach()
	t.Cleanup(h.Detach)

	return &workspaceFixture{server: server, workspace: ws, alice: alice}
}

func TestHandler_SignedOut(t *testing.T) {
	f := setupWorkspace(t)

	var session SessionData
	if code := getJSON(t, f.server, "/api/session", &session); code != http.StatusOK || session.SignedIn {
		t.Errorf("/api/session = %d %+v, want signed out", code, session)
	}
	if code := getJSON(t, f.server, "/api/tasks", nil); code != http.StatusServiceUnavailable {
		t.Errorf("/api/tasks status = %d, want 503", code)
	}

	conn := dial(t, f.server)
	msg := readMessage(t, conn)
	if msg.Type != MessageTypeSession || string(msg.Data) != `{"signedIn":false}` {
		t.Errorf("welcome = %s %s, want signed-out session", msg.Type, msg.Data)
	}
}

func TestHandler_StreamsMirrors(t *testing.T) {
	f := setupWorkspace(t)

	conn := dial(t, f.server)
	readUntil(t, conn, func(m Message) bool { return m.Type == MessageTypeSession })
	eventually(t, "client registered", func() bool { return f.server.ClientCount() == 1 })

	if err := f.workspace.SignIn(f.alice); err != nil {
		t.Fatalf("SignIn() failed: %v", err)
	}
	readUntil(t, conn, func(m Message) bool {
		var s SessionData
		return m.Type == MessageTypeSession && json.Unmarshal(m.Data, &s) == nil && s.SignedIn
	})

	b := f.workspace.Current()
	ctx := context.Background()
	if _, err := b.Tasks.Create(ctx, schema.Task{Title: "Ship it", Priority: schema.PriorityHigh, AssignedTo: "u-alice", DueDate: "2026-10-16"}); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	msg := readUntil(t, conn, func(m Message) bool {
		var data TasksData
		return m.Type == MessageTypeTasks && json.Unmarshal(m.Data, &data) == nil &&
			len(data.Tasks) == 1 && !data.Tasks[0].IsTemporary()
	})
	var data TasksData
	_ = json.Unmarshal(msg.Data, &data)
	if data.Tasks[0].Title != "Ship it" {
		t.Errorf("streamed task = %+v", data.Tasks[0])
	}

	stats := readUntil(t, conn, func(m Message) bool { return m.Type == MessageTypeStats })
	var st board.Stats
	if err := json.Unmarshal(stats.Data, &st); err != nil {
		t.Fatal(err)
	}
	if st.Total != 1 || st.DueToday != 1 || st.Mine != 1 || st.HighPriority != 1 {
		t.Errorf("stats = %+v", st)
	}

	f.workspace.SignOut()
	readUntil(t, conn, func(m Message) bool {
		return m.Type == MessageTypeSession && string(m.Data) == `{"signedIn":false}`
	})
}

func TestHandler_TaskQueries(t *testing.T) {
	f := setupWorkspace(t)
	if err := f.workspace.SignIn(f.alice); err != nil {
		t.Fatalf("SignIn() failed: %v", err)
	}
	b := f.workspace.Current()
	ctx := context.Background()

	drafts := []schema.Task{
		{Title: "beta", Status: schema.StatusPending, AssignedTo: "u-alice"},
		{Title: "alpha", Status: schema.StatusCompleted, AssignedTo: "u-alice"},
		{Title: "gamma", Status: schema.StatusPending, AssignedTo: "u-bob"},
	}
	for _, d := range drafts {
		if _, err := b.Tasks.Create(ctx, d); err != nil {
			t.Fatalf("Create(%s) failed: %v", d.Title, err)
		}
	}
	eventually(t, "confirmed tasks", func() bool {
		var data TasksData
		getJSON(t, f.server, "/api/tasks", &data)
		if len(data.Tasks) != 3 {
			return false
		}
		for _, task := range data.Tasks {
			if task.IsTemporary() {
				return false
			}
		}
		return true
	})

	tests := []struct {
		query string
		want  []string
	}{
		{"?assignee=me&sort=title", []string{"alpha", "beta"}},
		{"?status=pending&sort=title&order=desc", []string{"gamma", "beta"}},
		{"?status=all&sort=title", []string{"alpha", "beta", "gamma"}},
		{"?q=AMM", []string{"gamma"}},
	}
	for _, tt := range tests {
		var data TasksData
		if code := getJSON(t, f.server, "/api/tasks"+tt.query, &data); code != http.StatusOK {
			t.Errorf("%s: status %d", tt.query, code)
			continue
		}
		var titles []string
		for _, task := range data.Tasks {
			titles = append(titles, task.Title)
		}
		if len(titles) != len(tt.want) {
			t.Errorf("%s = %v, want %v", tt.query, titles, tt.want)
			continue
		}
		for i := range titles {
			if titles[i] != tt.want[i] {
				t.Errorf("%s = %v, want %v", tt.query, titles, tt.want)
				break
			}
		}
	}

	if code := getJSON(t, f.server, "/api/tasks?sort=color", nil); code != http.StatusBadRequest {
		t.Errorf("bad sort status = %d, want 400", code)
	}

	var columns []board.Column
	getJSON(t, f.server, "/api/board", &columns)
	if len(columns) != 3 || len(columns[0].Tasks) != 2 || len(columns[2].Tasks) != 1 {
		t.Errorf("board = %+v", columns)
	}

	var roster []schema.User
	getJSON(t, f.server, "/api/roster", &roster)
	if len(roster) != 1 || roster[0].ID != "u-alice" {
		t.Errorf("roster = %+v, want only alice", roster)
	}
}
