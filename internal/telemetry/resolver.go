package telemetry

import (
	"strings"

	"github.com/agentlens/agentlens/internal/config"
)

// ProviderSelection is the active trace/log backend pair for one aggregation
// request. Resolve it once per request and reuse it across every fan-out call
// so a single batch never mixes providers or regions.
type ProviderSelection struct {
	TraceProvider string
	TraceRegion   string
	LogProvider   string
	LogRegion     string
}

// Resolver is a pure lookup over configuration captured at startup. It holds
// no connections and never fails; missing config resolves to empty strings,
// which downstream clients treat as "use the backend default".
type Resolver struct {
	selection ProviderSelection
}

func NewResolver(cfg config.TelemetryConfig) *Resolver {
	return &Resolver{
		selection: ProviderSelection{
			TraceProvider: strings.TrimSpace(cfg.TraceProvider),
			TraceRegion:   strings.TrimSpace(cfg.TraceRegion),
			LogProvider:   strings.TrimSpace(cfg.LogProvider),
			LogRegion:     strings.TrimSpace(cfg.LogRegion),
		},
	}
}

func (r *Resolver) Resolve() ProviderSelection {
	if r == nil {
		return ProviderSelection{}
	}
	return r.selection
}
