package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Header names recognized on incoming invocations.
const (
	HeaderRequestID        = "X-Amzn-Bedrock-AgentCore-Runtime-Request-Id"
	HeaderSessionID        = "X-Amzn-Bedrock-AgentCore-Runtime-Session-Id"
	HeaderWorkloadToken    = "X-Amzn-Bedrock-AgentCore-Runtime-Workload-AccessToken"
	HeaderCustomPrefix     = "X-Amzn-Bedrock-AgentCore-Runtime-Custom-"
	HeaderAuthorization    = "Authorization"
	maxHeaderValueLen      = 256
	maxTokenHeaderValueLen = 8192
)

type ctxKey string

const requestContextKey ctxKey = "requestContext"

// RequestContext carries the per-request identity extracted from HTTP
// headers. Every invocation gets a fresh value; nothing is shared between
// requests.
type RequestContext struct {
	RequestID   string
	SessionID   string
	AccessToken string
	Headers     *HeaderSet
}

// HeaderSet is an ordered, case-insensitive collection of forwarded headers.
// Iteration and JSON encoding preserve insertion order.
type HeaderSet struct {
	names  []string
	values map[string]string
}

// NewHeaderSet creates an empty header set.
func NewHeaderSet() *HeaderSet {
	return &HeaderSet{values: make(map[string]string)}
}

// Set stores a header, replacing any existing value under a
// case-insensitive match of the name. The first-seen spelling wins.
func (h *HeaderSet) Set(name, value string) {
	key := strings.ToLower(name)
	if _, ok := h.values[key]; !ok {
		h.names = append(h.names, name)
	}
	h.values[key] = value
}

// Get looks up a header case-insensitively.
func (h *HeaderSet) Get(name string) (string, bool) {
	value, ok := h.values[strings.ToLower(name)]
	return value, ok
}

// Len returns the number of stored headers.
func (h *HeaderSet) Len() int {
	return len(h.names)
}

// Names returns the header names in insertion order.
func (h *HeaderSet) Names() []string {
	out := make([]string, len(h.names))
	copy(out, h.names)
	return out
}

// MarshalJSON encodes the set as a JSON object in insertion order.
func (h *HeaderSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range h.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(h.values[strings.ToLower(name)])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// BuildRequestContext extracts the request identity from HTTP headers. A
// missing or invalid request id is replaced with a generated one, invalid
// optional headers are dropped with a warning. Extraction never fails.
func BuildRequestContext(r *http.Request, logger zerolog.Logger) *RequestContext {
	rc := &RequestContext{Headers: NewHeaderSet()}

	requestID := r.Header.Get(HeaderRequestID)
	switch {
	case requestID == "":
		rc.RequestID = uuid.NewString()
	case !validHeaderValue(requestID, maxHeaderValueLen):
		logger.Warn().Str("header", HeaderRequestID).Msg("Invalid request id header, generating a new id")
		rc.RequestID = uuid.NewString()
	default:
		rc.RequestID = requestID
	}

	if sessionID := r.Header.Get(HeaderSessionID); sessionID != "" {
		if validHeaderValue(sessionID, maxHeaderValueLen) {
			rc.SessionID = sessionID
		} else {
			logger.Warn().Str("header", HeaderSessionID).Msg("Dropping invalid session id header")
		}
	}

	if token := r.Header.Get(HeaderWorkloadToken); token != "" {
		if validHeaderValue(token, maxTokenHeaderValueLen) {
			rc.AccessToken = token
		} else {
			logger.Warn().Str("header", HeaderWorkloadToken).Msg("Dropping invalid workload token header")
		}
	}

	for _, name := range forwardedHeaderNames(r.Header) {
		value := r.Header.Get(name)
		if !validHeaderValue(value, maxTokenHeaderValueLen) {
			logger.Warn().Str("header", name).Msg("Dropping invalid forwarded header")
			continue
		}
		rc.Headers.Set(name, value)
	}

	return rc
}

// forwardedHeaderNames selects the Authorization header and every header
// under the custom prefix, sorted by name so the result is deterministic.
func forwardedHeaderNames(h http.Header) []string {
	var names []string
	for name := range h {
		if strings.EqualFold(name, HeaderAuthorization) || hasFoldPrefix(name, HeaderCustomPrefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func hasFoldPrefix(s, prefix string) bool {
	return len(s) > len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// validHeaderValue accepts printable ASCII up to max bytes.
func validHeaderValue(s string, max int) bool {
	if s == "" || len(s) > max {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

// WithRequestContext attaches the request context to ctx.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey, rc)
}

// RequestFromContext returns the request context attached to ctx, if any.
func RequestFromContext(ctx context.Context) (*RequestContext, bool) {
	if ctx == nil {
		return nil, false
	}
	rc, ok := ctx.Value(requestContextKey).(*RequestContext)
	return rc, ok && rc != nil
}

// AccessTokenFromContext returns the workload access token for the current
// request, or an empty string when none was provided.
func AccessTokenFromContext(ctx context.Context) string {
	rc, ok := RequestFromContext(ctx)
	if !ok {
		return ""
	}
	return rc.AccessToken
}

// RequestLogger returns base enriched with the request id and, when present,
// the session id.
func RequestLogger(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	rc, ok := RequestFromContext(ctx)
	if !ok {
		return base
	}
	logCtx := base.With().Str("request_id", rc.RequestID)
	if rc.SessionID != "" {
		logCtx = logCtx.Str("session_id", rc.SessionID)
	}
	return logCtx.Logger()
}
