package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libraryhub/internal/catalog"
	"libraryhub/internal/circulation"
	"libraryhub/internal/eventstore"
	"libraryhub/internal/membership"
	"libraryhub/internal/reports"
	"libraryhub/internal/storage/storagetest"
)

type harness struct {
	t       *testing.T
	srv     *httptest.Server
	members membership.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := storagetest.Open(t)
	es := eventstore.NewEventStore(db)
	books := catalog.NewStore(db, es)
	users := membership.NewStore(db, es)
	ledger := circulation.NewLedger(db, es)
	members := membership.NewService(db, users, membership.NewTokenIssuer("secret", time.Hour))

	s := New(Services{
		Catalog:     catalog.NewService(db, books, ledger),
		Members:     members,
		Circulation: circulation.NewService(db, ledger, books, users),
		Reports:     reports.NewService(db, books, users, ledger),
	}, WithHealthCheck(db))

	srv := newTestServer(t, s)

	for _, u := range []membership.NewUser{
		{Username: "admin1", Password: "adminpass", Role: membership.RoleAdmin},
		{Username: "assistant1", Password: "assistantpass", Role: membership.RoleAssistant},
		{Username: "teacher1", Password: "teacherpass", Role: membership.RoleTeacher},
		{Username: "student1", Password: "studentpass", Role: membership.RoleStudent},
	} {
		_, err := members.RegisterUser(context.Background(), u)
		require.NoError(t, err)
	}
	return &harness{t: t, srv: srv, members: members}
}

func newTestServer(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func (h *harness) do(method, path, token string, body interface{}) (int, map[string]interface{}) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.srv.Client().Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (h *harness) login(role membership.Role, username, password string) string {
	h.t.Helper()
	code, out := h.do(http.MethodPost, "/api/login", "", map[string]string{
		"role": string(role), "username": username, "password": password,
	})
	require.Equal(h.t, http.StatusOK, code, out)
	return out["token"].(string)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	code, out := h.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", out["status"])
}

func TestLoginFailures(t *testing.T) {
	h := newHarness(t)

	code, out := h.do(http.MethodPost, "/api/login", "", map[string]string{"role": "admin", "username": "admin1", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "Invalid credentials.", out["message"])

	code, _ = h.do(http.MethodPost, "/api/login", "", map[string]string{"role": "student", "username": "admin1", "password": "adminpass"})
	assert.Equal(t, http.StatusUnauthorized, code, "role must match the account")
}

func TestRoleGates(t *testing.T) {
	h := newHarness(t)
	student := h.login(membership.RoleStudent, "student1", "studentpass")
	teacher := h.login(membership.RoleTeacher, "teacher1", "teacherpass")
	book := map[string]interface{}{"isbn": "111", "title": "Klara and the Sun", "author": "Kazuo Ishiguro", "totalCopies": 2}

	code, out := h.do(http.MethodPost, "/api/addbook", "", book)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "invalid_token", out["code"])

	code, out = h.do(http.MethodPost, "/api/addbook", student, book)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "forbidden", out["code"])

	code, _ = h.do(http.MethodPost, "/api/addbook", "not-a-token", book)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = h.do(http.MethodGet, "/api/reports/library-stats", student, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, out = h.do(http.MethodGet, "/api/reports/library-stats", teacher, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, out, "stats")

	code, _ = h.do(http.MethodPost, "/api/users", teacher, map[string]string{"username": "x", "password": "secret1", "role": "student"})
	assert.Equal(t, http.StatusForbidden, code)

	code, out = h.do(http.MethodGet, "/api/books", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["success"])
}

func TestCirculationOverHTTP(t *testing.T) {
	h := newHarness(t)
	admin := h.login(membership.RoleAdmin, "admin1", "adminpass")
	assistant := h.login(membership.RoleAssistant, "assistant1", "assistantpass")
	student := h.login(membership.RoleStudent, "student1", "studentpass")

	code, out := h.do(http.MethodPost, "/api/addbook", admin, map[string]interface{}{
		"isbn": "222", "title": "Project Hail Mary", "author": "Andy Weir", "totalCopies": 1,
	})
	require.Equal(t, http.StatusCreated, code, out)
	bookID := out["book"].(map[string]interface{})["id"].(string)

	code, out = h.do(http.MethodPost, "/api/addbook", admin, map[string]interface{}{
		"isbn": "222", "title": "Again", "author": "Someone",
	})
	assert.Equal(t, http.StatusConflict, code)

	u, err := h.members.GetUserByUsername(context.Background(), "student1")
	require.NoError(t, err)
	loan := map[string]string{"bookId": bookID, "userId": u.ID.String()}

	code, out = h.do(http.MethodPost, "/api/issuebook", assistant, loan)
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, "Book issued successfully!", out["message"])

	code, out = h.do(http.MethodPost, "/api/issuebook", assistant, loan)
	assert.Equal(t, http.StatusConflict, code)

	code, out = h.do(http.MethodPost, "/api/viewissued", student, map[string]string{"username": "student1"})
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, out["books"], 1)

	code, _ = h.do(http.MethodPost, "/api/viewissued", student, map[string]string{"username": "teacher1"})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = h.do(http.MethodPost, "/api/removebook", admin, map[string]string{"isbn": "222"})
	assert.Equal(t, http.StatusConflict, code, "a book on loan cannot be removed")

	code, out = h.do(http.MethodPost, "/api/returnbook", assistant, loan)
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, float64(0), out["fine"])

	code, out = h.do(http.MethodGet, "/api/reports/popular-books", assistant, nil)
	require.Equal(t, http.StatusOK, code)
	popular := out["books"].([]interface{})
	require.Len(t, popular, 1)
	assert.Equal(t, float64(1), popular[0].(map[string]interface{})["totalBorrowed"])
}

func TestDeactivatedUserLosesAccess(t *testing.T) {
	h := newHarness(t)
	admin := h.login(membership.RoleAdmin, "admin1", "adminpass")
	student := h.login(membership.RoleStudent, "student1", "studentpass")

	code, out := h.do(http.MethodPost, "/api/users/status", admin, map[string]interface{}{"username": "student1", "isActive": false})
	require.Equal(t, http.StatusOK, code, out)

	code, _ = h.do(http.MethodPost, "/api/getfines", student, map[string]string{"username": "student1"})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestUnknownRoute(t *testing.T) {
	h := newHarness(t)
	code, out := h.do(http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, out["success"])
}

type downDB struct{}

func (downDB) PingContext(context.Context) error { return errors.New("connection refused") }

func TestHealthReportsDatabaseDown(t *testing.T) {
	s := New(Services{}, WithHealthCheck(downDB{}))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListenAndServeStops(t *testing.T) {
	s := New(Services{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
