package health

import (
	"encoding/json"
	"net/http"
	"runtime"

	"github.com/go-chi/chi/v5"

	"mercator-hq/costtrack/pkg/config"
)

// VersionInfo contains build information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
}

// LivenessHandler serves the liveness probe. It always answers 200.
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, c.CheckLiveness(r.Context()))
	}
}

// ReadinessHandler serves the readiness probe: 200 when every check
// passes, 503 otherwise.
//
//	{
//	    "status": "degraded",
//	    "checks": {
//	        "store": {"status": "ok", "duration_ms": 0.4},
//	        "catalog": {"status": "unhealthy", "message": "no price list item for storage/1 MB"}
//	    },
//	    "timestamp": "2016-08-08T11:00:00Z"
//	}
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := c.CheckReadiness(r.Context())
		code := http.StatusOK
		if !status.Ready() {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, r, code, status)
	}
}

// VersionHandler serves build information.
func VersionHandler(version, commit string) http.HandlerFunc {
	info := VersionInfo{Version: version, Commit: commit, GoVersion: runtime.Version()}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, info)
	}
}

// Mount registers the liveness and readiness probes on r at the configured
// paths, plus /version.
func (c *Checker) Mount(r chi.Router, cfg config.HealthConfig, version, commit string) {
	for path, h := range map[string]http.HandlerFunc{
		cfg.LivenessPath:  c.LivenessHandler(),
		cfg.ReadinessPath: c.ReadinessHandler(),
		"/version":        VersionHandler(version, commit),
	} {
		r.Get(path, h)
		r.Head(path, h)
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if r.Method != http.MethodHead {
		_ = json.NewEncoder(w).Encode(v)
	}
}
