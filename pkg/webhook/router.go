package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mihaimyh/hookq/pkg/hookq"
)

// Request is the immutable inbound webhook value. Body carries the raw
// bytes the transport received; signature verification depends on them
// being byte-for-byte what the provider signed.
type Request struct {
	Body       []byte
	Headers    http.Header
	ReceivedAt time.Time

	parsed map[string]any
}

// Header performs a case-insensitive header lookup. Header names are not
// guaranteed consistent case across transports, and not every transport
// stores them in canonical MIME form.
func (r *Request) Header(name string) string {
	if r.Headers == nil {
		return ""
	}
	if v := r.Headers.Get(name); v != "" {
		return v
	}
	for key, values := range r.Headers {
		if strings.EqualFold(key, name) && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

// Parsed returns the JSON body as a map, decoding at most once.
func (r *Request) Parsed() (map[string]any, error) {
	if r.parsed != nil {
		return r.parsed, nil
	}
	var body map[string]any
	if err := json.Unmarshal(r.Body, &body); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	r.parsed = body
	return body, nil
}

// signingPayload returns the bytes to verify. When the transport could not
// preserve the raw body it falls back to re-serializing the parsed form;
// re-serialization can differ byte-for-byte from what the provider signed
// and spuriously fail HMAC comparison, so raw capture belongs at the HTTP
// boundary.
func (r *Request) signingPayload() []byte {
	if len(r.Body) > 0 {
		return r.Body
	}
	if r.parsed == nil {
		return nil
	}
	raw, err := json.Marshal(r.parsed)
	if err != nil {
		return nil
	}
	return raw
}

// Result is reported synchronously to the HTTP layer. All failure paths
// enqueue nothing; retry, if any, is the sending provider's responsibility.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	EventID string `json:"eventId,omitempty"`

	// authFailure distinguishes authentication rejections for HTTP status
	// mapping.
	authFailure bool
}

// EventEmitter hands a verified, attributed event to the job producer.
type EventEmitter interface {
	Emit(ctx context.Context, organizationID string, provider hookq.Provider, eventType string, payload map[string]any, headers map[string]string) (*hookq.Job, error)
}

// OrganizationStore confirms tenant existence for the custom provider path.
type OrganizationStore interface {
	GetOrganization(ctx context.Context, id string) (*hookq.Organization, error)
}

// Secrets holds the per-provider shared secrets. An empty secret makes the
// corresponding provider fail closed.
type Secrets struct {
	Stripe string
	Asaas  string
	Custom string
}

// RouterConfig configures a Router.
type RouterConfig struct {
	Secrets       Secrets
	Emitter       EventEmitter
	Organizations OrganizationStore
	Logger        hookq.Logger
	Metrics       hookq.Metrics
}

// Validate checks that the configuration is valid.
func (c *RouterConfig) Validate() error {
	if c.Emitter == nil {
		return fmt.Errorf("emitter is required")
	}
	if c.Organizations == nil {
		return fmt.Errorf("organization store is required")
	}
	return nil
}

// Router is the per-provider webhook entry point: it authenticates the
// payload, resolves the tenant, and hands the normalized event to the
// emitter. It knows nothing about queues.
type Router struct {
	cfg RouterConfig
}

// NewRouter creates a Router with the given configuration.
func NewRouter(cfg RouterConfig) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = &hookq.NoopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &hookq.NoopMetrics{}
	}
	return &Router{cfg: cfg}, nil
}

// HandleStripe processes a Stripe webhook. The tenant id lives at
// data.object.metadata.organization_id.
func (rt *Router) HandleStripe(ctx context.Context, req *Request) Result {
	if rt.cfg.Secrets.Stripe == "" {
		rt.cfg.Metrics.RecordWebhookError(string(hookq.ProviderStripe), string(ReasonMissingSecret))
		return Result{Message: "Stripe webhook secret not configured", authFailure: true}
	}

	sig := req.Header("Stripe-Signature")
	if res := Verify(req.signingPayload(), sig, rt.cfg.Secrets.Stripe, SchemeHMACTimestamp); !res.Valid {
		rt.cfg.Metrics.RecordWebhookError(string(hookq.ProviderStripe), string(res.Reason))
		return Result{Message: "Invalid Stripe signature", authFailure: true}
	}

	body, err := req.Parsed()
	if err != nil {
		return Result{Message: "Invalid webhook payload"}
	}

	eventType, _ := body["type"].(string)
	if eventType == "" {
		eventType = "unknown"
	}

	orgID := stringAt(body, "data", "object", "metadata", "organization_id")
	if orgID == "" {
		rt.cfg.Metrics.RecordWebhookError(string(hookq.ProviderStripe), "missing_organization")
		return Result{Message: "Organization ID not found in webhook payload"}
	}

	return rt.emit(ctx, hookq.ProviderStripe, orgID, eventType, body, req)
}

// HandleAsaas processes an Asaas webhook authenticated by the
// asaas-access-token header. The tenant id comes from the external
// reference, either top-level or nested under the payment object.
func (rt *Router) HandleAsaas(ctx context.Context, req *Request) Result {
	if rt.cfg.Secrets.Asaas == "" {
		rt.cfg.Metrics.RecordWebhookError(string(hookq.ProviderAsaas), string(ReasonMissingSecret))
		return Result{Message: "Asaas webhook secret not configured", authFailure: true}
	}

	token := req.Header("asaas-access-token")
	if res := Verify(req.signingPayload(), token, rt.cfg.Secrets.Asaas, SchemeStaticToken); !res.Valid {
		rt.cfg.Metrics.RecordWebhookError(string(hookq.ProviderAsaas), string(res.Reason))
		return Result{Message: "Invalid Asaas signature", authFailure: true}
	}

	body, err := req.Parsed()
	if err != nil {
		return Result{Message: "Invalid webhook payload"}
	}

	eventType, _ := body["event"].(string)
	if eventType == "" {
		eventType = "unknown"
	}

	orgID := stringAt(body, "externalReference")
	if orgID == "" {
		orgID = stringAt(body, "payment", "externalReference")
	}
	if orgID == "" {
		rt.cfg.Metrics.RecordWebhookError(string(hookq.ProviderAsaas), "missing_organization")
		return Result{Message: "Organization ID not found in webhook payload"}
	}

	return rt.emit(ctx, hookq.ProviderAsaas, orgID, eventType, body, req)
}

// HandleCustom processes a custom webhook authenticated by the
// x-webhook-token header. Because this path carries no payload-embedded
// proof beyond the shared secret, the claimed tenant must also exist in the
// persistence layer.
func (rt *Router) HandleCustom(ctx context.Context, req *Request) Result {
	if rt.cfg.Secrets.Custom == "" {
		rt.cfg.Metrics.RecordWebhookError(string(hookq.ProviderCustom), string(ReasonMissingSecret))
		return Result{Message: "Custom webhook secret not configured", authFailure: true}
	}

	token := req.Header("x-webhook-token")
	if res := Verify(req.signingPayload(), token, rt.cfg.Secrets.Custom, SchemeStaticToken); !res.Valid {
		rt.cfg.Metrics.RecordWebhookError(string(hookq.ProviderCustom), string(res.Reason))
		return Result{Message: "Invalid webhook signature", authFailure: true}
	}

	body, err := req.Parsed()
	if err != nil {
		return Result{Message: "Invalid webhook payload"}
	}

	eventType, _ := body["eventType"].(string)
	if eventType == "" {
		eventType = "custom.event"
	}

	orgID := stringAt(body, "organizationId")
	if orgID == "" {
		rt.cfg.Metrics.RecordWebhookError(string(hookq.ProviderCustom), "missing_organization")
		return Result{Message: "Organization ID not found in webhook payload"}
	}

	if _, err := rt.cfg.Organizations.GetOrganization(ctx, orgID); err != nil {
		if errors.Is(err, hookq.ErrOrganizationNotFound) {
			rt.cfg.Metrics.RecordWebhookError(string(hookq.ProviderCustom), "unknown_organization")
			return Result{Message: "Organization not found"}
		}
		rt.cfg.Logger.Error("organization lookup failed",
			hookq.Field{Key: "organization_id", Value: orgID},
			hookq.Field{Key: "error", Value: err.Error()},
		)
		return Result{Message: "Failed to verify organization"}
	}

	return rt.emit(ctx, hookq.ProviderCustom, orgID, eventType, body, req)
}

func (rt *Router) emit(ctx context.Context, provider hookq.Provider, orgID, eventType string, body map[string]any, req *Request) Result {
	job, err := rt.cfg.Emitter.Emit(ctx, orgID, provider, eventType, body, flattenHeaders(req.Headers))
	if err != nil {
		rt.cfg.Logger.Error("failed to enqueue webhook event",
			hookq.Field{Key: "provider", Value: string(provider)},
			hookq.Field{Key: "organization_id", Value: orgID},
			hookq.Field{Key: "event_type", Value: eventType},
			hookq.Field{Key: "error", Value: err.Error()},
		)
		rt.cfg.Metrics.RecordWebhookEvent(string(provider), eventType, "error")
		return Result{Message: "Failed to enqueue event"}
	}

	rt.cfg.Metrics.RecordWebhookEvent(string(provider), eventType, "success")
	rt.cfg.Logger.Info("webhook accepted",
		hookq.Field{Key: "provider", Value: string(provider)},
		hookq.Field{Key: "organization_id", Value: orgID},
		hookq.Field{Key: "event_type", Value: eventType},
		hookq.Field{Key: "job_id", Value: job.ID},
	)
	return Result{Success: true, Message: "Webhook received", EventID: job.ID}
}

// stringAt walks nested JSON maps and returns the string at the path, or ""
// when any step is absent or of the wrong shape.
func stringAt(body map[string]any, path ...string) string {
	current := any(body)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current = m[key]
	}
	s, _ := current.(string)
	return s
}

// flattenHeaders normalizes headers to a plain string map, keeping the
// first value of each.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) > 0 {
			out[name] = values[0]
		}
	}
	return out
}
