package httpfront

import (
	"io"
	"net/http"
	"net/url"
)

// DefaultMaxPassthroughBody bounds how much of a ?target= passthrough
// request body is forwarded upstream; it exists only to keep a misbehaving
// or malicious client from streaming an unbounded body through the proxy.
const DefaultMaxPassthroughBody = 10 << 20 // 10MiB

// passthrough forwards the request opaquely to the URL named by the
// "target" query parameter. It is outside core MCP semantics: no session
// handling, no JSON-RPC framing, just a transparent HTTP relay gated by
// Config.EnableProxy.
func (rt *Router) passthrough(w http.ResponseWriter, r *http.Request, target string) {
	targetURL, err := url.Parse(target)
	if err != nil || targetURL.Scheme == "" || targetURL.Host == "" {
		http.Error(w, "invalid target", http.StatusBadRequest)
		return
	}

	limit := rt.cfg.MaxPassthroughBody
	if limit <= 0 {
		limit = DefaultMaxPassthroughBody
	}
	body := io.LimitReader(r.Body, limit)

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL.String(), body)
	if err != nil {
		http.Error(w, "failed to build upstream request", http.StatusInternalServerError)
		return
	}
	for name, values := range r.Header {
		if name == "Host" {
			continue
		}
		for _, v := range values {
			outReq.Header.Add(name, v)
		}
	}

	client := rt.httpClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(outReq)
	if err != nil {
		rt.logf("target passthrough to %s: %v", targetURL.Host, err)
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (rt *Router) logf(format string, args ...interface{}) {
	if rt.logger != nil {
		rt.logger.Errorf(format, args...)
	}
}
