package health

import (
	"context"

	"github.com/mbd888/assetwatch/internal/circuitbreaker"
)

// Pinger reports reachability. The ledger client is one; wrap a *sql.DB
// with PingerFunc(db.PingContext).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// PingCheck reports p healthy when Ping succeeds.
func PingCheck(name string, p Pinger) Checker {
	return func(ctx context.Context) Status {
		if err := p.Ping(ctx); err != nil {
			return Status{Name: name, Healthy: false, Detail: err.Error()}
		}
		return Status{Name: name, Healthy: true}
	}
}

// LivenessCheck reports a background loop healthy while running returns true.
func LivenessCheck(name string, running func() bool) Checker {
	return func(context.Context) Status {
		if running() {
			return Status{Name: name, Healthy: true, Detail: "running"}
		}
		return Status{Name: name, Healthy: false, Detail: "stopped"}
	}
}

// BreakerCheck reports unhealthy while a circuit breaker is open.
func BreakerCheck(name string, state func() circuitbreaker.State) Checker {
	return func(context.Context) Status {
		s := state()
		return Status{Name: name, Healthy: s != circuitbreaker.StateOpen, Detail: "circuit " + s.String()}
	}
}
