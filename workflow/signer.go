package workflow

import "net/http"

// CSRF cookie and header names shared with the server.
const (
	CSRFCookieName = "csrftoken"
	CSRFHeaderName = "X-CSRFToken"
	// CSRFFormField carries the token in HTML form posts.
	CSRFFormField = "csrfmiddlewaretoken"
)

// Signer adds credentials to outgoing mutating requests. The hosting
// application supplies it; the workflow never parses cookies itself.
type Signer interface {
	Sign(req *http.Request)
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(req *http.Request)

func (f SignerFunc) Sign(req *http.Request) { f(req) }

// NoSigner leaves requests untouched.
var NoSigner Signer = SignerFunc(func(*http.Request) {})

// CSRFSigner echoes token in the X-CSRFToken header and presents the matching
// cookie, satisfying a double-submit check.
func CSRFSigner(token string) Signer {
	if token == "" {
		return NoSigner
	}
	return SignerFunc(func(req *http.Request) {
		req.Header.Set(CSRFHeaderName, token)
		req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: token})
	})
}
