package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// healthCheckTimeout bounds all checks together.
const healthCheckTimeout = 2 * time.Second

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck adapts a Pinger into a HealthCheck.
type PingCheck struct {
	CheckName string
	Target    Pinger
}

func (p PingCheck) Name() string                    { return p.CheckName }
func (p PingCheck) Check(ctx context.Context) error { return p.Target.Ping(ctx) }

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth runs every check concurrently under a shared deadline and
// answers 200 when all pass, 503 otherwise.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{Status: "healthy"}
	if s.Config != nil {
		resp.Version = s.Config.Build.Version
	}
	if len(s.HealthChecks) == 0 {
		JSON(w, r, http.StatusOK, resp)
		return
	}

	var (
		mu      sync.Mutex
		results = make(map[string]error, len(s.HealthChecks))
		g       errgroup.Group
	)
	for _, check := range s.HealthChecks {
		g.Go(func() error {
			err := runCheck(ctx, check)
			mu.Lock()
			results[check.Name()] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	resp.Components = make(map[string]componentStatus, len(results))
	for name, err := range results {
		if err != nil {
			resp.Status = "unhealthy"
			resp.Components[name] = componentStatus{Status: "unhealthy", Message: err.Error()}
			continue
		}
		resp.Components[name] = componentStatus{Status: "healthy"}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		s.Logger.WarnContext(r.Context(), "health check failed", "components", resp.Components)
		status = http.StatusServiceUnavailable
	}
	JSON(w, r, status, resp)
}

func runCheck(ctx context.Context, p HealthCheck) (err error) {
	defer func() {
		if rvr := recover(); rvr != nil {
			err = fmt.Errorf("check panicked: %v", rvr)
		}
	}()
	if err = p.Check(ctx); err != nil {
		return err
	}
	return ctx.Err()
}
