package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// MockPanelServer mocks the team panel REST API: member search and login-code creation.
type MockPanelServer struct {
	*httptest.Server
	Token string

	mu          sync.Mutex
	members     map[string][]map[string]any // discord id -> members
	codes       []string
	createdAt   time.Time
	searchCalls int
	createCalls int
	failStatus  int
}

// NewMockPanelServer starts a panel mock that expects "Authorization: Token <token>".
func NewMockPanelServer(t *testing.T, token string) *MockPanelServer {
	t.Helper()
	m := &MockPanelServer{
		Token:     token,
		members:   make(map[string][]map[string]any),
		createdAt: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /members", m.handleMembers)
	mux.HandleFunc("POST /login-codes", m.handleLoginCodes)
	m.Server = httptest.NewServer(m.auth(mux))
	t.Cleanup(m.Close)
	return m
}

func (m *MockPanelServer) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token "+m.Token {
			http.Error(w, `{"detail":"Invalid token."}`, http.StatusUnauthorized)
			return
		}
		m.mu.Lock()
		status := m.failStatus
		m.mu.Unlock()
		if status != 0 {
			http.Error(w, `{"detail":"mock failure"}`, status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AddMember registers a member so searches for discordID find it. id may be a number or string.
func (m *MockPanelServer) AddMember(id any, realName, discordID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[discordID] = append(m.members[discordID], map[string]any{
		"id": id, "real_name": realName, "discord_id": discordID,
	})
}

// QueueCode sets the codes handed out by successive creations.
func (m *MockPanelServer) QueueCode(codes ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes = append(m.codes, codes...)
}

// FailWith makes every request return status; 0 restores normal behavior.
func (m *MockPanelServer) FailWith(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failStatus = status
}

// Calls reports how many searches and creations were served.
func (m *MockPanelServer) Calls() (search, create int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.searchCalls, m.createCalls
}

func (m *MockPanelServer) handleMembers(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.searchCalls++
	found := m.members[r.URL.Query().Get("discord_id")]
	m.mu.Unlock()
	if found == nil {
		found = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, found)
}

func (m *MockPanelServer) handleLoginCodes(w http.ResponseWriter, r *http.Request) {
	var in struct {
		MemberID json.RawMessage `json:"member_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || len(in.MemberID) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "member_id required"})
		return
	}
	m.mu.Lock()
	m.createCalls++
	code := fmt.Sprintf("CODE%03d", m.createCalls)
	if len(m.codes) > 0 {
		code, m.codes = m.codes[0], m.codes[1:]
	}
	created := m.createdAt
	m.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]string{
		"code":       code,
		"created_at": created.Format(time.RFC3339Nano),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockStreamServer is a websocket endpoint that sends a fixed list of text
// frames on every connection and then hangs up.
type MockStreamServer struct {
	*httptest.Server

	mu      sync.Mutex
	frames  []string
	conns   int
	headers []http.Header
}

// NewMockStreamServer starts a stream mock serving frames.
func NewMockStreamServer(t *testing.T, frames ...string) *MockStreamServer {
	t.Helper()
	m := &MockStreamServer{frames: frames}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.conns++
		m.headers = append(m.headers, r.Header.Clone())
		frames := append([]string(nil), m.frames...)
		m.mu.Unlock()

		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := wsutil.WriteServerText(conn, []byte(f)); err != nil {
				return
			}
		}
		_ = wsutil.WriteServerMessage(conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, "bye"))
	}))
	t.Cleanup(m.Close)
	return m
}

// WSURL returns the ws:// address of the server with path appended.
func (m *MockStreamServer) WSURL(path string) string {
	return "ws" + strings.TrimPrefix(m.Server.URL, "http") + path
}

// Connections reports how many handshakes the server accepted.
func (m *MockStreamServer) Connections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns
}

// Header returns the request headers of the i-th handshake.
func (m *MockStreamServer) Header(i int) http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.headers) {
		return nil
	}
	return m.headers[i]
}
