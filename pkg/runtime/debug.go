package runtime

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/theumbrella1/agentcore/internal/observability"
	"github.com/theumbrella1/agentcore/pkg/health"
)

// ActionField is the payload field that carries a debug control action.
// Actions are only honored when debug actions are enabled; otherwise the
// field passes through to the entrypoint like any other payload key.
const ActionField = "_agent_core_app_action"

// Debug control actions.
const (
	ActionPingStatus   = "ping_status"
	ActionJobStatus    = "job_status"
	ActionForceHealthy = "force_healthy"
	ActionForceBusy    = "force_busy"
	ActionClearForced  = "clear_forced_status"
)

// debugAction extracts the control action from a payload. Non-string values
// are rendered to text so they surface as an unknown action instead of being
// silently ignored.
func debugAction(p Payload) (string, bool) {
	value, ok := p[ActionField]
	if !ok {
		return "", false
	}
	if s, isString := value.(string); isString {
		return s, true
	}
	return fmt.Sprint(value), true
}

// handleDebugAction serves a debug control action in place of the
// entrypoint. A failing action reports 500; an unknown one reports 400.
func (a *App) handleDebugAction(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, action string) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Interface("panic", rec).Str("action", action).Msg("Debug action failed")
			a.writeError(w, http.StatusInternalServerError, fmt.Sprintf("debug action failed: %v", rec))
		}
	}()

	logger.Debug().Str("action", action).Msg("Handling debug action")

	switch action {
	case ActionPingStatus:
		a.writePingDocument(w, r)
	case ActionJobStatus:
		a.writeJSON(w, http.StatusOK, a.tracker.Snapshot())
	case ActionForceHealthy:
		a.monitor.Force(health.StatusHealthy)
		a.writePingDocument(w, r)
	case ActionForceBusy:
		a.monitor.Force(health.StatusHealthyBusy)
		a.writePingDocument(w, r)
	case ActionClearForced:
		a.monitor.ClearForced()
		a.writePingDocument(w, r)
	default:
		a.writeError(w, http.StatusBadRequest, "unknown debug action: "+action)
		return
	}

	observability.RecordDebugAction(action)
}
