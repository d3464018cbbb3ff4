package httpfront

import "net/http"

// applyCORS sets permissive CORS headers per spec: the request's own Origin
// is echoed back (rather than a fixed allow-list) so browser clients behind
// any origin can reach the proxy, credentials are allowed, and the method/
// header sets are left wide open since the proxy has no notion of which
// headers a given upstream MCP server cares about.
func applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
	h.Set("Access-Control-Allow-Headers", "*")
	h.Set("Access-Control-Expose-Headers", "*")
	h.Set("Vary", "Origin")
}
