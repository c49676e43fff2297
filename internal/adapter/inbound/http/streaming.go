package http

import (
	"net/http"

	"github.com/olegmukhin/thoughtgate/internal/domain/streambody"
)

// streamResponse copies upstream's response onto w using the zero-copy
// streaming body component. Status and headers are set before the first
// byte is written; if the very first frame fails (n == 0), nothing has
// reached the wire yet and the caller can still substitute a JSON-RPC
// error response instead. Once any byte has been forwarded, a later error
// only closes the connection — the client observes a truncated body, never
// a corrupted one.
func (h *Handler) streamResponse(w http.ResponseWriter, upstream *http.Response, cancel <-chan struct{}) (int64, error) {
	for k, vs := range upstream.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(upstream.StatusCode)

	body := streambody.New(upstream.Body, h.streamReadTimeout, h.streamTotalTimeout, cancel, nil)
	defer body.Close()

	return streambody.Forward(w, body, h.streamWriteTimeout)
}
