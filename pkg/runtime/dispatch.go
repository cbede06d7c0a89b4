package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/theumbrella1/agentcore/internal/observability"
	"github.com/theumbrella1/agentcore/internal/tracing"
)

// handleInvocations runs one invocation end to end: decode the payload,
// build the request context, intercept debug actions, then dispatch to the
// registered entrypoint and serialize whatever comes back.
func (a *App) handleInvocations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	a.shutdownMu.RLock()
	if a.isShuttingDown {
		a.shutdownMu.RUnlock()
		a.writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	a.inFlightReqs.Add(1)
	a.shutdownMu.RUnlock()
	defer a.inFlightReqs.Done()

	start := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Failed to read invocation body")
		observability.RecordInvocation("invalid_payload", time.Since(start))
		a.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	payload, err := decodePayload(body)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Invocation payload is not valid JSON")
		observability.RecordInvocation("invalid_payload", time.Since(start))
		a.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	rc := BuildRequestContext(r, a.logger)
	ctx := WithRequestContext(r.Context(), rc)
	logger := RequestLogger(ctx, a.logger)

	if a.debugEnabled() {
		if action, ok := debugAction(payload); ok {
			a.handleDebugAction(w, r.WithContext(ctx), logger, action)
			observability.RecordInvocation("debug", time.Since(start))
			return
		}
	}

	entry := a.entrypointRef()
	if entry == nil {
		logger.Error().Msg("Invocation received before an entrypoint was registered")
		observability.RecordInvocation("no_entrypoint", time.Since(start))
		a.writeError(w, http.StatusInternalServerError, ErrNoEntrypoint.Error())
		return
	}

	if err := entry.validate(payload); err != nil {
		logger.Warn().Err(err).Msg("Invocation payload rejected by input schema")
		observability.RecordInvocation("invalid_payload", time.Since(start))
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("request_id", rc.RequestID),
		attribute.String("entrypoint", entry.name),
	}
	if rc.SessionID != "" {
		attrs = append(attrs, attribute.String("session_id", rc.SessionID))
	}
	ctx, span := tracing.StartSpan(ctx, "agentcore/runtime", "runtime.invoke", attrs...)
	defer span.End()

	result, err := a.runEntrypoint(ctx, entry, payload)
	if err != nil {
		span.RecordError(err)
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("Invocation failed")
		observability.RecordInvocation("handler_error", time.Since(start))
		a.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if stream, ok := asStream(result); ok {
		logger.Debug().Msg("Invocation returned a stream")
		writeStream(ctx, w, stream, logger)
		observability.RecordInvocation("stream", time.Since(start))
		return
	}

	a.writeJSON(w, http.StatusOK, result)
	observability.RecordInvocation("success", time.Since(start))
	logger.Info().Dur("duration", time.Since(start)).Msg("Invocation completed")
}

// runEntrypoint invokes the handler, bounded by the configured invocation
// timeout when one is set. The handler goroutine keeps running after a
// timeout; the context cancellation tells it to stop.
func (a *App) runEntrypoint(ctx context.Context, entry *entrypoint, payload Payload) (interface{}, error) {
	if a.invocationTimeout <= 0 {
		return entry.invoke(ctx, payload)
	}

	ctx, cancel := context.WithTimeout(ctx, a.invocationTimeout)

	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := entry.invoke(ctx, payload)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if s, ok := asStream(out.result); ok && out.err == nil {
			// Stream producers may hold this ctx; keep it alive until
			// the stream is drained.
			return &cancelStream{s: s, cancel: cancel}, nil
		}
		cancel()
		return out.result, out.err
	case <-ctx.Done():
		err := ctx.Err()
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("handler timed out after %s", a.invocationTimeout)
		}
		return nil, err
	}
}

// decodePayload parses the request body. Objects pass through, a JSON null
// becomes an empty payload and any other scalar or array is wrapped so the
// handler still sees a map.
func decodePayload(body []byte) (Payload, error) {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}

	switch v := doc.(type) {
	case map[string]interface{}:
		return Payload(v), nil
	case nil:
		return Payload{}, nil
	default:
		return Payload{"value": v}, nil
	}
}
