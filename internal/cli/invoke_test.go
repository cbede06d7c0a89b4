package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theumbrella1/agentcore/pkg/runtime"
)

func TestInvokeCommand(t *testing.T) {
	t.Run("command exists", func(t *testing.T) {
		cmd := GetRootCmd()

		found := false
		for _, c := range cmd.Commands() {
			if c.Name() == "invoke" {
				found = true
				break
			}
		}
		assert.True(t, found, "invoke command should exist")
	})

	t.Run("help text", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"invoke", "--help"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		helpText := output.String()
		assert.Contains(t, helpText, "JSON payload")
		assert.Contains(t, helpText, "--session")
	})
}

func serveForTest(t *testing.T, register func(app *runtime.App)) string {
	t.Helper()
	app, err := runtime.New(runtime.Options{})
	require.NoError(t, err)
	if register != nil {
		register(app)
	}
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestInvokeRuntime(t *testing.T) {
	t.Run("scalar result", func(t *testing.T) {
		addr := serveForTest(t, func(app *runtime.App) {
			require.NoError(t, app.RegisterEntrypoint(func(ctx context.Context, payload runtime.Payload) (interface{}, error) {
				return map[string]interface{}{"ok": true}, nil
			}))
		})

		out := &bytes.Buffer{}
		err := invokeRuntime(addr, "", `{}`, out)
		require.NoError(t, err)
		assert.Equal(t, `{"ok":true}`+"\n", out.String())
	})

	t.Run("stream result prints one event per line", func(t *testing.T) {
		addr := serveForTest(t, func(app *runtime.App) {
			require.NoError(t, app.RegisterEntrypoint(func(ctx context.Context, payload runtime.Payload) (interface{}, error) {
				return runtime.ValueStream("a", "b"), nil
			}))
		})

		out := &bytes.Buffer{}
		err := invokeRuntime(addr, "", `{}`, out)
		require.NoError(t, err)
		assert.Equal(t, "\"a\"\n\"b\"\n", out.String())
	})

	t.Run("session header reaches the handler", func(t *testing.T) {
		addr := serveForTest(t, func(app *runtime.App) {
			require.NoError(t, app.RegisterContextEntrypoint(func(ctx context.Context, payload runtime.Payload, rc *runtime.RequestContext) (interface{}, error) {
				return map[string]interface{}{"session": rc.SessionID}, nil
			}))
		})

		out := &bytes.Buffer{}
		err := invokeRuntime(addr, "sess-42", `{}`, out)
		require.NoError(t, err)
		assert.Contains(t, out.String(), "sess-42")
	})

	t.Run("error status surfaces the body", func(t *testing.T) {
		addr := serveForTest(t, nil)

		out := &bytes.Buffer{}
		err := invokeRuntime(addr, "", `{}`, out)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 500")
		assert.Contains(t, err.Error(), "no entrypoint registered")
	})

	t.Run("unreachable runtime fails", func(t *testing.T) {
		out := &bytes.Buffer{}
		err := invokeRuntime("127.0.0.1:1", "", `{}`, out)
		assert.Error(t, err)
	})
}
