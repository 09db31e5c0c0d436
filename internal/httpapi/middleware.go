package httpapi

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// Authorizer decides whether a client certificate fingerprint is trusted.
type Authorizer interface {
	TrustsCert(fingerprint string) bool
}

// AuthorizerFunc adapts a plain function into an Authorizer.
type AuthorizerFunc func(fingerprint string) bool

func (f AuthorizerFunc) TrustsCert(fingerprint string) bool { return f(fingerprint) }

// WithAuth rejects requests without a client certificate (401) or with an
// untrusted one (403).
func WithAuth(auth Authorizer, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
			w.WriteHeader(401)
			return
		}
		if auth == nil || !auth.TrustsCert(Fingerprint(r.TLS.PeerCertificates[0].Raw)) {
			w.WriteHeader(403)
			return
		}
		next(w, r, ps)
	}
}

// WithLogging logs one line per request with the response status.
func WithLogging(log *zap.SugaredLogger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wp := &responseProxy{ResponseWriter: w, status: 200}
		next.ServeHTTP(wp, r)
		log.Infof("%s %s - %d (%s)", r.Method, r.URL, wp.status, r.RemoteAddr)
	})
}

// responseProxy retains the response status for logging purposes.
type responseProxy struct {
	http.ResponseWriter
	status int
}

func (r *responseProxy) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
