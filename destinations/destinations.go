package destinations

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/candree7-rgb/Systemic.Systems/models"
)

// Request is a fully built delivery: everything the dispatcher needs to POST
// one payload to one endpoint. Destinations rebuild it on every attempt so
// timestamps and signatures stay fresh.
type Request struct {
	URL    string
	Body   []byte
	Header http.Header
}

// Destination is one downstream sink. Implementations are pure with respect
// to process state: they translate a Signal into a request and interpret the
// response, the dispatcher owns retries and sequencing.
type Destination interface {
	Name() string
	NewRequest(sig models.Signal, now time.Time) (*Request, error)
	// Interpret classifies a response: nil for accepted (including an
	// accepted-pending-trigger status), RateLimited or Transient for
	// retryable failures, any other error for a terminal failure.
	Interpret(status int, header http.Header, body []byte) error
}

// RateLimited reports the endpoint asked us to slow down. RetryAfter is the
// server-advised delay, zero when unspecified.
type RateLimited struct {
	RetryAfter time.Duration
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
}

// Transient marks a failure worth another attempt: network trouble,
// timeouts, 5xx responses.
type Transient struct {
	Err error
}

func (e *Transient) Error() string { return "transient: " + e.Err.Error() }
func (e *Transient) Unwrap() error { return e.Err }

// TriggerPrice offsets the entry by bufferPct against the profit direction:
// below entry for a long, above entry for a short.
func TriggerPrice(side models.Side, entry, bufferPct float64) float64 {
	if side == models.SideLong {
		return entry * (1.0 - bufferPct/100.0)
	}
	return entry * (1.0 + bufferPct/100.0)
}

// StopPrice offsets the entry by slPct against the position.
func StopPrice(side models.Side, entry, slPct float64) float64 {
	if side == models.SideLong {
		return entry * (1.0 - slPct/100.0)
	}
	return entry * (1.0 + slPct/100.0)
}

// ExpirePrice offsets the entry by pct in the profit direction. The second
// return is false when price-based expiration is disabled.
func ExpirePrice(side models.Side, entry, pct float64) (float64, bool) {
	if pct <= 0 {
		return 0, false
	}
	if side == models.SideLong {
		return entry * (1.0 + pct/100.0), true
	}
	return entry * (1.0 - pct/100.0), true
}

// Instrument renders the destination-facing symbol, e.g. "BTCUSDT.P".
func Instrument(base, quote, suffix string) string {
	return base + quote + suffix
}

// FormatPrice renders a price with fixed precision.
func FormatPrice(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}
