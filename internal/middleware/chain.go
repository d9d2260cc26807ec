package middleware

import (
	"net/http"
	"slices"
)

// Chain wraps h so that middlewares run in the order given: the first one
// sees the request first.
func Chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for _, mw := range slices.Backward(middlewares) {
		h = mw(h)
	}
	return h
}
