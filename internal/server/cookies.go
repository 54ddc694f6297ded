package server

import (
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"
)

const (
	// CookieName is the name of the session cookie
	CookieName = "mago_session"
	// CookieMaxAge matches the idle lifetime of session history; every
	// request that uses the session pushes it forward.
	CookieMaxAge = 30 * time.Minute

	sessionHeader = "X-Session-Id"
	sessionQuery  = "session_id"
)

// Session ids are client-visible and become map keys of the history store,
// so anything that is not shaped like one we issued is ignored.
var sessionIDRe = regexp.MustCompile(`^s_[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func newSessionID() string { return "s_" + uuid.NewString() }

func validSessionID(id string) bool { return sessionIDRe.MatchString(id) }

// sessionFrom returns the caller's session id: the explicit value if given,
// then the cookie, the X-Session-Id header and the session_id query
// parameter. Malformed values are skipped.
func sessionFrom(r *http.Request, explicit string) string {
	candidates := []string{explicit, r.Header.Get(sessionHeader), r.URL.Query().Get(sessionQuery)}
	if c, err := r.Cookie(CookieName); err == nil {
		candidates = append([]string{explicit, c.Value}, candidates[1:]...)
	}
	for _, id := range candidates {
		if validSessionID(id) {
			return id
		}
	}
	return ""
}

// resolveSession returns the caller's session id, issuing a new one when
// there is none, and (re)sets the cookie.
func resolveSession(w http.ResponseWriter, r *http.Request, explicit string) string {
	sid := sessionFrom(r, explicit)
	if sid == "" {
		sid = newSessionID()
	}
	setSessionCookie(w, r, sid)
	return sid
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, sid string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sid,
		Path:     "/",
		MaxAge:   int(CookieMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
