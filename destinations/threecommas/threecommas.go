package threecommas

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"

	"github.com/candree7-rgb/Systemic.Systems/config"
	"github.com/candree7-rgb/Systemic.Systems/destinations"
	"github.com/candree7-rgb/Systemic.Systems/models"
)

// Destination relays a signal to a 3Commas custom-signal webhook. The bot on
// the other side owns sizing and bracket handling; the payload carries only
// the trigger.
type Destination struct {
	cfg   config.ThreeCommas
	trade config.Trade
}

func New(cfg config.ThreeCommas, trade config.Trade) *Destination {
	// The entry expiration budget bounds how stale a relayed trigger may
	// still fire on the bot side.
	if lag := trade.EntryExpirationMin * 60; lag > 0 && lag < cfg.MaxLagSeconds {
		cfg.MaxLagSeconds = lag
	}
	return &Destination{cfg: cfg, trade: trade}
}

func (d *Destination) Name() string { return "threecommas" }

type payload struct {
	Secret       string `json:"secret"`
	MaxLag       string `json:"max_lag"`
	Timestamp    string `json:"timestamp"`
	TriggerPrice string `json:"trigger_price"`
	TVExchange   string `json:"tv_exchange"`
	TVInstrument string `json:"tv_instrument"`
	Action       string `json:"action"`
	BotUUID      string `json:"bot_uuid"`
}

func (d *Destination) NewRequest(sig models.Signal, now time.Time) (*destinations.Request, error) {
	action := "enter_long"
	if sig.Side == models.SideShort {
		action = "enter_short"
	}

	trigger := destinations.TriggerPrice(sig.Side, sig.Entry, d.trade.EntryTriggerBufferPct)

	body, err := json.Marshal(payload{
		Secret:       d.cfg.Secret,
		MaxLag:       strconv.Itoa(d.cfg.MaxLagSeconds),
		Timestamp:    now.UTC().Format(time.RFC3339),
		TriggerPrice: destinations.FormatPrice(trigger, 8),
		TVExchange:   d.cfg.TVExchange,
		TVInstrument: destinations.Instrument(sig.Base, d.trade.Quote, d.cfg.InstrumentSuffix),
		Action:       action,
		BotUUID:      d.cfg.BotUUID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")

	return &destinations.Request{
		URL:    d.cfg.WebhookURL,
		Body:   body,
		Header: header,
	}, nil
}

func (d *Destination) Interpret(status int, header http.Header, body []byte) error {
	if status == http.StatusTooManyRequests {
		return &destinations.RateLimited{RetryAfter: retryAfter(body)}
	}
	if status >= 500 {
		return &destinations.Transient{Err: errors.Errorf("webhook responded %d", status)}
	}
	if status < 200 || status > 299 {
		return errors.Errorf("webhook responded %d: %s", status, string(body))
	}
	return nil
}

func retryAfter(body []byte) time.Duration {
	var resp struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.RetryAfter <= 0 {
		return 0
	}
	return time.Duration(resp.RetryAfter * float64(time.Second))
}
