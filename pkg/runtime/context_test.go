package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).Level(zerolog.Disabled)
}

func TestBuildRequestContextGeneratesRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/invocations", nil)

	rc := BuildRequestContext(req, testLogger())

	require.NotEmpty(t, rc.RequestID)
	_, err := uuid.Parse(rc.RequestID)
	assert.NoError(t, err)
	assert.Empty(t, rc.SessionID)
	assert.Empty(t, rc.AccessToken)
	assert.Equal(t, 0, rc.Headers.Len())
}

func TestBuildRequestContextReadsHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/invocations", nil)
	req.Header.Set(HeaderRequestID, "req-123")
	req.Header.Set(HeaderSessionID, "sess-456")
	req.Header.Set(HeaderWorkloadToken, "token-789")

	rc := BuildRequestContext(req, testLogger())

	assert.Equal(t, "req-123", rc.RequestID)
	assert.Equal(t, "sess-456", rc.SessionID)
	assert.Equal(t, "token-789", rc.AccessToken)
}

func TestBuildRequestContextReplacesInvalidRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/invocations", nil)
	req.Header.Set(HeaderRequestID, "bad\x01id")

	rc := BuildRequestContext(req, testLogger())

	require.NotEmpty(t, rc.RequestID)
	assert.NotEqual(t, "bad\x01id", rc.RequestID)
	_, err := uuid.Parse(rc.RequestID)
	assert.NoError(t, err)
}

func TestBuildRequestContextDropsInvalidOptionalHeaders(t *testing.T) {
	long := make([]byte, maxHeaderValueLen+1)
	for i := range long {
		long[i] = 'a'
	}

	req := httptest.NewRequest(http.MethodPost, "/invocations", nil)
	req.Header.Set(HeaderSessionID, string(long))
	req.Header.Set(HeaderWorkloadToken, "tok\x7fen")

	rc := BuildRequestContext(req, testLogger())

	assert.Empty(t, rc.SessionID)
	assert.Empty(t, rc.AccessToken)
}

func TestBuildRequestContextForwardedHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/invocations", nil)
	req.Header.Set("Authorization", "Bearer abc")
	req.Header.Set(HeaderCustomPrefix+"Tenant", "acme")
	req.Header.Set(HeaderCustomPrefix+"Feature", "beta")
	req.Header.Set("X-Unrelated", "ignored")

	rc := BuildRequestContext(req, testLogger())

	require.Equal(t, 3, rc.Headers.Len())

	auth, ok := rc.Headers.Get("authorization")
	require.True(t, ok)
	assert.Equal(t, "Bearer abc", auth)

	tenant, ok := rc.Headers.Get(HeaderCustomPrefix + "Tenant")
	require.True(t, ok)
	assert.Equal(t, "acme", tenant)

	_, ok = rc.Headers.Get("X-Unrelated")
	assert.False(t, ok)

	names := rc.Headers.Names()
	assert.Equal(t, "Authorization", names[0], "deterministic name order")
}

func TestHeaderSetOrderAndMarshal(t *testing.T) {
	h := NewHeaderSet()
	h.Set("B-One", "1")
	h.Set("A-Two", "2")
	h.Set("b-one", "3")

	assert.Equal(t, 2, h.Len())

	value, ok := h.Get("B-ONE")
	require.True(t, ok)
	assert.Equal(t, "3", value)

	b, err := json.Marshal(h)
	require.NoError(t, err)
	assert.Equal(t, `{"B-One":"3","A-Two":"2"}`, string(b))
}

func TestRequestContextRoundTrip(t *testing.T) {
	rc := &RequestContext{RequestID: "r1", SessionID: "s1", Headers: NewHeaderSet()}
	ctx := WithRequestContext(context.Background(), rc)

	got, ok := RequestFromContext(ctx)
	require.True(t, ok)
	assert.Same(t, rc, got)

	_, ok = RequestFromContext(context.Background())
	assert.False(t, ok)
}

func TestAccessTokenFromContext(t *testing.T) {
	rc := &RequestContext{RequestID: "r1", AccessToken: "tok", Headers: NewHeaderSet()}
	ctx := WithRequestContext(context.Background(), rc)

	assert.Equal(t, "tok", AccessTokenFromContext(ctx))
	assert.Empty(t, AccessTokenFromContext(context.Background()))
}

func TestRequestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	rc := &RequestContext{RequestID: "r1", SessionID: "s1", Headers: NewHeaderSet()}
	ctx := WithRequestContext(context.Background(), rc)

	log := RequestLogger(ctx, base)
	log.Info().Msg("hello")

	out := buf.String()
	assert.Contains(t, out, `"request_id":"r1"`)
	assert.Contains(t, out, `"session_id":"s1"`)
}
