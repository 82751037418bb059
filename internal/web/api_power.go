package web

import (
	"net/http"
	"time"

	appLog "photocal/internal/log"
	"photocal/internal/power"
)

// Battery level changes slowly; a short TTL keeps the I2C bus quiet.
const powerCacheTTL = 30 * time.Second

type powerCache struct {
	status    power.Status
	updatedAt time.Time
}

func (s *Server) handlePower(w http.ResponseWriter, r *http.Request) {
	now := s.now()

	s.powerMu.RLock()
	pc := s.powerCache
	s.powerMu.RUnlock()
	if pc != nil && now.Sub(pc.updatedAt) < powerCacheTTL {
		writeJSON(w, http.StatusOK, pc.status)
		return
	}

	st, err := s.deps.Power.Read(r.Context())
	if err != nil {
		appLog.Error("web: power read failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read battery")
		return
	}

	s.powerMu.Lock()
	s.powerCache = &powerCache{status: st, updatedAt: now}
	s.powerMu.Unlock()
	writeJSON(w, http.StatusOK, st)
}
