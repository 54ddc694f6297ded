package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionFrom(t *testing.T) {
	const (
		a = "s_0f8fad5b-d9cb-469f-a165-70867728950e"
		b = "s_7c9e6679-7425-40de-944b-e07fc1f90ae7"
	)
	tests := []struct {
		name     string
		explicit string
		cookie   string
		header   string
		query    string
		want     string
	}{
		{name: "nothing", want: ""},
		{name: "explicit wins", explicit: a, cookie: b, want: a},
		{name: "cookie before header", cookie: a, header: b, want: a},
		{name: "header", header: b, want: b},
		{name: "query", query: a, want: a},
		{name: "malformed skipped", explicit: "../../etc", cookie: "s1", header: b, want: b},
		{name: "all malformed", explicit: "x", cookie: "s_nope", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/api/chat"
			if tt.query != "" {
				target += "?session_id=" + tt.query
			}
			r := httptest.NewRequest(http.MethodPost, target, nil)
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: CookieName, Value: tt.cookie})
			}
			if tt.header != "" {
				r.Header.Set(sessionHeader, tt.header)
			}
			assert.Equal(t, tt.want, sessionFrom(r, tt.explicit))
		})
	}
}

func TestResolveSession(t *testing.T) {
	t.Run("issues a new id", func(t *testing.T) {
		w := httptest.NewRecorder()
		sid := resolveSession(w, httptest.NewRequest(http.MethodPost, "/", nil), "bogus")
		assert.True(t, validSessionID(sid))
		assert.Contains(t, w.Header().Get("Set-Cookie"), CookieName+"="+sid)
		assert.NotContains(t, w.Header().Get("Set-Cookie"), "Secure")
	})

	t.Run("refreshes an existing cookie", func(t *testing.T) {
		existing := newSessionID()
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.AddCookie(&http.Cookie{Name: CookieName, Value: existing})
		r.Header.Set("X-Forwarded-Proto", "https")
		w := httptest.NewRecorder()
		assert.Equal(t, existing, resolveSession(w, r, ""))
		cookie := w.Header().Get("Set-Cookie")
		assert.Contains(t, cookie, "Max-Age=1800")
		assert.Contains(t, cookie, "Secure")
	})
}
