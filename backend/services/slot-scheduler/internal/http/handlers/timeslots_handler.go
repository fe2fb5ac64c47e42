package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"chargeslots/backend/services/slot-scheduler/internal/service"
)

// NewTimeSlotsHandler returns GET /timeslots handler.
func NewTimeSlotsHandler(svc *service.TimeSlotService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		onlyAvailable := false
		if v := q.Get("available"); v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "available must be a boolean")
				return
			}
			onlyAvailable = parsed
		}

		date := q.Get("date")
		slots, err := svc.ListForDay(r.Context(), q.Get("station_id"), q.Get("slot_id"), date, onlyAvailable)
		if errors.Is(err, service.ErrInvalidQuery) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			logger.Error("list time slots failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to fetch time slots")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"date":       date,
			"time_slots": slots,
		})
	}
}
