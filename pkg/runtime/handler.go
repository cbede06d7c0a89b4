package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Payload is the decoded JSON body of an invocation.
type Payload map[string]interface{}

// Handler processes one invocation. The return value is either a scalar
// result, serialized as a single JSON response, or a Stream, delivered as
// server-sent events.
type Handler func(ctx context.Context, payload Payload) (interface{}, error)

// ContextHandler is a Handler that also receives the request context. Use it
// when the entrypoint needs the request id, session id or forwarded headers.
type ContextHandler func(ctx context.Context, payload Payload, rc *RequestContext) (interface{}, error)

var (
	// ErrNoEntrypoint is returned when an invocation arrives before any
	// entrypoint was registered.
	ErrNoEntrypoint = errors.New("no entrypoint registered")

	// ErrEntrypointRegistered is returned on a second registration attempt.
	ErrEntrypointRegistered = errors.New("entrypoint already registered")
)

type entrypoint struct {
	name    string
	handler Handler
	schema  *gojsonschema.Schema
}

// EntrypointOption configures an entrypoint at registration time.
type EntrypointOption func(*entrypointConfig)

type entrypointConfig struct {
	name      string
	rawSchema []byte
}

// WithEntrypointName sets the name used in logs and traces. Defaults to
// "main".
func WithEntrypointName(name string) EntrypointOption {
	return func(c *entrypointConfig) {
		c.name = name
	}
}

// WithInputSchema attaches a JSON Schema document that every invocation
// payload must satisfy. The schema is compiled at registration and a bad
// document fails the registration, not the first request.
func WithInputSchema(schema []byte) EntrypointOption {
	return func(c *entrypointConfig) {
		c.rawSchema = schema
	}
}

func newEntrypoint(handler Handler, opts ...EntrypointOption) (*entrypoint, error) {
	cfg := entrypointConfig{name: "main"}
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &entrypoint{name: cfg.name, handler: handler}
	if cfg.rawSchema != nil {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(cfg.rawSchema))
		if err != nil {
			return nil, fmt.Errorf("compile input schema: %w", err)
		}
		e.schema = schema
	}
	return e, nil
}

// validate checks the payload against the input schema, if one was attached.
func (e *entrypoint) validate(payload Payload) error {
	if e.schema == nil {
		return nil
	}

	result, err := e.schema.Validate(gojsonschema.NewGoLoader(map[string]interface{}(payload)))
	if err != nil {
		return err
	}
	if !result.Valid() {
		errs := []string{}
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return fmt.Errorf("validation errors: %v", errs)
	}
	return nil
}

// invoke runs the handler, converting a panic into an error.
func (e *entrypoint) invoke(ctx context.Context, payload Payload) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return e.handler(ctx, payload)
}
