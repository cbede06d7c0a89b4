package runtime

import (
	"net/http"
	"time"

	"github.com/theumbrella1/agentcore/pkg/health"
)

// pingResponse is the liveness document returned by /ping and by the
// status debug actions.
type pingResponse struct {
	Status           health.Status `json:"status"`
	TimeOfLastUpdate int64         `json:"time_of_last_update"`
}

// handlePing reports the effective health status. The probe never fails
// outwardly; anything going wrong degrades to a plain Healthy answer.
func (a *App) handlePing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Error().Interface("panic", rec).Msg("Ping handler panicked")
			a.writeJSON(w, http.StatusOK, pingResponse{
				Status:           health.StatusHealthy,
				TimeOfLastUpdate: time.Now().Unix(),
			})
		}
	}()

	a.writePingDocument(w, r)
}

func (a *App) writePingDocument(w http.ResponseWriter, r *http.Request) {
	status := a.monitor.Current(r.Context())
	a.writeJSON(w, http.StatusOK, pingResponse{
		Status:           status,
		TimeOfLastUpdate: a.monitor.LastUpdate().Unix(),
	})
}
