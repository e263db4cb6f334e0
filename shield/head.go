package shield

import "net/http"

// HeadToGet serves HEAD on the panel's GET routes; health probes send
// HEAD /healthz. net/http drops the body of HEAD responses. The caller's
// request is left untouched.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		get := r.Clone(r.Context())
		get.Method = http.MethodGet
		next.ServeHTTP(w, get)
	})
}
