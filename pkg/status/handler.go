package status

import (
	"net/http"
	"strconv"

	"github.com/echodial/echodial/pkg/logger"
)

// CallbackHandler accepts the carrier's form-encoded status callbacks.
// It acknowledges with 200 even when a payload is unusable; a non-2xx
// answer would only make the carrier redeliver and amplify the failure.
type CallbackHandler struct {
	reconciler *Reconciler
}

func NewCallbackHandler(reconciler *Reconciler) *CallbackHandler {
	return &CallbackHandler{reconciler: reconciler}
}

func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer w.WriteHeader(http.StatusOK)

	if err := r.ParseForm(); err != nil {
		logger.WarnCF("status", "Unparseable status callback", map[string]interface{}{"error": err.Error()})
		return
	}

	callSid := r.PostFormValue("CallSid")
	carrierStatus := r.PostFormValue("CallStatus")
	if callSid == "" || carrierStatus == "" {
		logger.WarnCF("status", "Status callback missing CallSid or CallStatus", map[string]interface{}{
			"call_sid": callSid, "call_status": carrierStatus,
		})
		return
	}

	var duration *int
	if raw := r.PostFormValue("CallDuration"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil {
			duration = &secs
		} else {
			logger.WarnCF("status", "Ignoring malformed CallDuration", map[string]interface{}{
				"call_sid": callSid, "raw": raw,
			})
		}
	}

	h.reconciler.Reconcile(callSid, carrierStatus, duration)
}
