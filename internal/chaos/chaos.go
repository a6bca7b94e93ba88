// internal/chaos/chaos.go
package chaos

import (
	"math/rand/v2"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"familymiles/internal/httpjson"
)

// Faults configures injection. BlastRadius is the fraction of eligible
// requests affected, from 0 to 1.
type Faults struct {
	Latency     time.Duration
	BlastRadius float64
	Status      int
	Exempt      []string
}

// Enabled reports whether any fault is configured.
func (f Faults) Enabled() bool {
	return f.Latency > 0 || f.BlastRadius > 0
}

// Injector applies Faults and counts what it injected.
type Injector struct {
	faults   Faults
	roll     func() float64
	sleep    func(time.Duration)
	injected atomic.Int64
}

func NewInjector(f Faults) *Injector {
	if f.Status == 0 {
		f.Status = http.StatusServiceUnavailable
	}
	return &Injector{faults: f, roll: rand.Float64, sleep: time.Sleep}
}

// Injected returns the number of failed requests so far.
func (in *Injector) Injected() int64 {
	return in.injected.Load()
}

func (in *Injector) exempt(path string) bool {
	for _, p := range in.faults.Exempt {
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			if strings.HasPrefix(path, prefix) {
				return true
			}
			continue
		}
		if path == p {
			return true
		}
	}
	return false
}

// Middleware delays and fails requests according to the configured faults.
func (in *Injector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !in.faults.Enabled() || in.exempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		span := trace.SpanFromContext(r.Context())

		if in.faults.Latency > 0 {
			// 80-120% of the configured latency
			delay := time.Duration(float64(in.faults.Latency) * (0.8 + in.roll()*0.4))
			span.AddEvent("chaos.latency", trace.WithAttributes(attribute.Int64("delay_ms", delay.Milliseconds())))
			in.sleep(delay)
		}
		if in.faults.BlastRadius > 0 && in.roll() < in.faults.BlastRadius {
			in.injected.Add(1)
			span.AddEvent("chaos.failure", trace.WithAttributes(attribute.Int("status", in.faults.Status)))
			httpjson.Error(w, in.faults.Status, "injected failure")
			return
		}
		next.ServeHTTP(w, r)
	})
}
