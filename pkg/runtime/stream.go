package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sync"

	"github.com/rs/zerolog"

	"github.com/theumbrella1/agentcore/internal/observability"
	"github.com/theumbrella1/agentcore/pkg/serialize"
)

// Stream is a lazy sequence of events delivered to the caller as
// server-sent events. Next advances to the next event, Current returns it
// and Err reports why the stream stopped, nil meaning exhaustion.
type Stream interface {
	Next() bool
	Current() interface{}
	Err() error
}

// ErrStreamDone tells FuncStream that the producer is exhausted.
var ErrStreamDone = errors.New("stream done")

// ValueStream builds a Stream over a fixed set of values.
func ValueStream(values ...interface{}) Stream {
	return &valueStream{values: values}
}

type valueStream struct {
	values  []interface{}
	current interface{}
}

func (s *valueStream) Next() bool {
	if len(s.values) == 0 {
		return false
	}
	s.current = s.values[0]
	s.values = s.values[1:]
	return true
}

func (s *valueStream) Current() interface{} { return s.current }

func (s *valueStream) Err() error { return nil }

// FuncStream builds a Stream from a producer callback. The producer returns
// ErrStreamDone when exhausted; any other error stops the stream and is
// reported to the client as a terminal error event.
func FuncStream(next func() (interface{}, error)) Stream {
	return &funcStream{next: next}
}

type funcStream struct {
	next    func() (interface{}, error)
	current interface{}
	err     error
	done    bool
}

func (s *funcStream) Next() bool {
	if s.done {
		return false
	}
	value, err := s.next()
	if err != nil {
		s.done = true
		if !errors.Is(err, ErrStreamDone) {
			s.err = err
		}
		return false
	}
	s.current = value
	return true
}

func (s *funcStream) Current() interface{} { return s.current }

func (s *funcStream) Err() error { return s.err }

// ChanStream builds a Stream over a channel. The channel closing ends the
// stream; receiving an error value stops it and reports the error to the
// client.
func ChanStream(ch <-chan interface{}) Stream {
	return &chanStream{ch: ch}
}

type chanStream struct {
	ch      <-chan interface{}
	current interface{}
	err     error
	done    bool
}

func (s *chanStream) Next() bool {
	if s.done {
		return false
	}
	value, ok := <-s.ch
	if !ok {
		s.done = true
		return false
	}
	if err, isErr := value.(error); isErr {
		s.done = true
		s.err = err
		return false
	}
	s.current = value
	return true
}

func (s *chanStream) Current() interface{} { return s.current }

func (s *chanStream) Err() error { return s.err }

// asStream recognizes the streaming result shapes a handler may return.
func asStream(result interface{}) (Stream, bool) {
	switch v := result.(type) {
	case Stream:
		return v, true
	case <-chan interface{}:
		return ChanStream(v), true
	case chan interface{}:
		return ChanStream(v), true
	default:
		return nil, false
	}
}

// cancelStream releases a context once the underlying stream ends, so
// producers holding that context stay alive for the whole stream.
type cancelStream struct {
	s      Stream
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancelStream) Next() bool {
	if c.s.Next() {
		return true
	}
	c.once.Do(c.cancel)
	return false
}

func (c *cancelStream) Current() interface{} { return c.s.Current() }

func (c *cancelStream) Err() error { return c.s.Err() }

// streamErrorEvent is the terminal event emitted when a stream fails after
// the response status has already been sent.
type streamErrorEvent struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

const streamErrorMessage = "An error occurred during streaming"

// writeStream delivers the stream as server-sent events. The status line is
// committed before the first event, so a mid-stream failure is reported as a
// terminal error event on the open connection.
func writeStream(ctx context.Context, w http.ResponseWriter, s Stream, logger zerolog.Logger) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	events := 0
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Int("events", events).Msg("Client disconnected during stream")
			return
		default:
		}

		ok, panicErr := nextSafe(s)
		if panicErr != nil {
			observability.RecordStreamError()
			logger.Error().Err(panicErr).Int("events", events).Msg("Stream panicked")
			writeSSE(w, serialize.JSON(streamErrorEvent{
				Error:     panicErr.Error(),
				ErrorType: errorTypeName(panicErr),
				Message:   streamErrorMessage,
			}))
			if canFlush {
				flusher.Flush()
			}
			return
		}
		if !ok {
			break
		}

		writeSSE(w, serialize.JSON(s.Current()))
		if canFlush {
			flusher.Flush()
		}
		events++
		observability.RecordStreamEvent()
	}

	if err := s.Err(); err != nil {
		observability.RecordStreamError()
		logger.Warn().Err(err).Int("events", events).Msg("Stream failed")
		writeSSE(w, serialize.JSON(streamErrorEvent{
			Error:     err.Error(),
			ErrorType: errorTypeName(err),
			Message:   streamErrorMessage,
		}))
		if canFlush {
			flusher.Flush()
		}
		return
	}

	logger.Debug().Int("events", events).Msg("Stream completed")
}

func nextSafe(s Stream) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("stream panic: %v", r)
		}
	}()
	return s.Next(), nil
}

func writeSSE(w http.ResponseWriter, data []byte) {
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// errorTypeName names the concrete error type for the terminal error event.
func errorTypeName(err error) string {
	t := reflect.TypeOf(err)
	if t == nil {
		return "error"
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}
