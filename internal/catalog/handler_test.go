package catalog

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h http.HandlerFunc, method, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec.Code, out
}

func TestHandlerAddAndSearch(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)

	code, out := serve(t, h.AddBook, http.MethodPost, `{"isbn":"978-0593318171","title":"Klara and the Sun","author":"Kazuo Ishiguro","category":"Fiction","totalCopies":2}`)
	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "Book added successfully!", out["message"])

	code, out = serve(t, h.AddBook, http.MethodPost, `{"isbn":"978-0593318171","title":"Again","author":"X"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "duplicate_isbn", out["code"])

	code, out = serve(t, h.SearchBooks, http.MethodPost, `{"query":"klara"}`)
	assert.Equal(t, http.StatusOK, code)
	books, ok := out["books"].([]interface{})
	require.True(t, ok)
	assert.Len(t, books, 1)
}

func TestHandlerRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)

	code, out := serve(t, h.AddBook, http.MethodPost, `{not json`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "malformed_body", out["code"])

	code, out = serve(t, h.RemoveBook, http.MethodPost, `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "isbn_required", out["code"])

	code, out = serve(t, h.UpdateBook, http.MethodPost, `{"isbn":"missing","title":"x"}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Book not found.", out["message"])
}

func TestHandlerListBooksEmpty(t *testing.T) {
	f := newFixture(t)
	code, out := serve(t, NewHandler(f.svc).ListBooks, http.MethodGet, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []interface{}{}, out["books"])
}
