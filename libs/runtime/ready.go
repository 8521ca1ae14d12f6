package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// ReadyCheck is a named dependency probe for /readyz.
type ReadyCheck struct {
	Name  string
	Check func(context.Context) error
}

// NewBaseMux serves /healthz (always ok) and /readyz, which runs every check
// concurrently and answers 503 with the failing dependencies.
func NewBaseMux(checks ...ReadyCheck) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		var (
			mu       sync.Mutex
			wg       sync.WaitGroup
			failures = map[string]string{}
		)
		for _, c := range checks {
			if c.Check == nil {
				continue
			}
			wg.Add(1)
			go func(c ReadyCheck) {
				defer wg.Done()
				if err := c.Check(ctx); err != nil {
					name := c.Name
					if name == "" {
						name = "dependency"
					}
					mu.Lock()
					failures[name] = err.Error()
					mu.Unlock()
				}
			}(c)
		}
		wg.Wait()

		if len(failures) > 0 {
			writeStatus(w, http.StatusServiceUnavailable, failures)
			return
		}
		writeStatus(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

func writeStatus(w http.ResponseWriter, code int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
