package httpapi

import (
	"encoding/json"
	"net/http"

	"soundd/internal/scheduler"
	"soundd/pkg/types"
)

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// writeSchedulerError maps scheduler error predicates onto HTTP status codes.
func writeSchedulerError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure(backpressureReason(err))
	}
	writeJSONError(w, status, err.Error())
}

func statusForError(err error) int {
	switch {
	case scheduler.IsBadRequest(err):
		return http.StatusBadRequest
	case scheduler.IsDurationLimit(err):
		return http.StatusUnprocessableEntity
	case scheduler.IsQuotaExceeded(err),
		scheduler.IsQueueFull(err),
		scheduler.IsSlotBudgetExhausted(err):
		return http.StatusTooManyRequests
	case scheduler.IsNotFound(err):
		return http.StatusNotFound
	case scheduler.IsNotOwner(err):
		return http.StatusForbidden
	case scheduler.IsInvalidState(err), scheduler.IsAlreadySkipped(err):
		return http.StatusConflict
	case scheduler.IsInsufficientBalance(err):
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

func backpressureReason(err error) string {
	switch {
	case scheduler.IsQuotaExceeded(err):
		return "quota"
	case scheduler.IsQueueFull(err):
		return "queue_full"
	case scheduler.IsSlotBudgetExhausted(err):
		return "slot_budget"
	default:
		return "unspecified"
	}
}
