package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mihaimyh/hookq/pkg/hookq"
)

// maxBodyBytes caps webhook payloads at 256KB. Provider payloads are
// typically under 100KB, so this is a safe upper bound against memory
// exhaustion.
const maxBodyBytes = 256 * 1024

// Handler exposes the router over HTTP. One POST endpoint per provider.
type Handler struct {
	router *Router
	logger hookq.Logger
}

// NewHandler creates the HTTP surface for a Router.
func NewHandler(router *Router, logger hookq.Logger) *Handler {
	if logger == nil {
		logger = &hookq.NoopLogger{}
	}
	return &Handler{router: router, logger: logger}
}

// Routes returns a chi router with the provider endpoints mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/stripe", h.serve(h.router.HandleStripe))
	r.Post("/asaas", h.serve(h.router.HandleAsaas))
	r.Post("/custom", h.serve(h.router.HandleCustom))
	return r
}

func (h *Handler) serve(handle func(context.Context, *Request) Result) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("X-Content-Type-Options", "nosniff")

		body, err := readBody(w, r)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, errPayloadTooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			writeJSON(w, status, Result{Message: err.Error()})
			return
		}

		req := &Request{
			Body:       body,
			Headers:    r.Header,
			ReceivedAt: time.Now().UTC(),
		}

		result := handle(r.Context(), req)
		switch {
		case result.Success:
			writeJSON(w, http.StatusOK, result)
		case result.authFailure:
			writeJSON(w, http.StatusUnauthorized, result)
		default:
			writeJSON(w, http.StatusBadRequest, result)
		}
	}
}

var errPayloadTooLarge = errors.New("payload too large")

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, errPayloadTooLarge
		}
		return nil, errors.New("failed to read request body")
	}
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, result Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(result)
}
