package bybit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/candree7-rgb/Systemic.Systems/config"
	"github.com/candree7-rgb/Systemic.Systems/destinations"
	"github.com/candree7-rgb/Systemic.Systems/models"
)

const (
	mainnetURL = "https://api.bybit.com"
	testnetURL = "https://api-testnet.bybit.com"

	recvWindow = "5000"

	// retCodeOK also covers conditional orders accepted but not yet
	// triggered; anything else is a rejection.
	retCodeOK        = 0
	retCodeRateLimit = 10006
)

// Destination places a conditional limit order with bracket TP/SL directly
// on Bybit's v5 API.
type Destination struct {
	cfg     config.Bybit
	trade   config.Trade
	baseURL string
	logger  *zap.Logger

	// newOrderLinkID is swapped out in tests.
	newOrderLinkID func() string
}

func New(cfg config.Bybit, trade config.Trade, logger *zap.Logger) *Destination {
	baseURL := mainnetURL
	if cfg.Testnet {
		baseURL = testnetURL
	}
	return &Destination{
		cfg:            cfg,
		trade:          trade,
		baseURL:        baseURL,
		logger:         logger,
		newOrderLinkID: uuid.NewString,
	}
}

func (d *Destination) Name() string { return "bybit" }

type orderRequest struct {
	Category         string `json:"category"`
	Symbol           string `json:"symbol"`
	Side             string `json:"side"`
	OrderType        string `json:"orderType"`
	Qty              string `json:"qty"`
	Price            string `json:"price"`
	TimeInForce      string `json:"timeInForce"`
	TriggerPrice     string `json:"triggerPrice"`
	TriggerDirection int    `json:"triggerDirection"`
	TriggerBy        string `json:"triggerBy"`
	TakeProfit       string `json:"takeProfit,omitempty"`
	StopLoss         string `json:"stopLoss"`
	TPSLMode         string `json:"tpslMode"`
	TPOrderType      string `json:"tpOrderType"`
	SLOrderType      string `json:"slOrderType"`
	PositionIdx      int    `json:"positionIdx"`
	OrderLinkID      string `json:"orderLinkId"`
}

// NewRequest builds the signed order call for one signal.
func (d *Destination) NewRequest(sig models.Signal, now time.Time) (*destinations.Request, error) {
	qty := d.cfg.RiskUSDT * d.cfg.Leverage / sig.Entry
	if qty <= 0 {
		return nil, errors.Errorf("non-positive qty from entry %v", sig.Entry)
	}

	side := "Buy"
	triggerDir := 2 // price falls to trigger
	if sig.Side == models.SideShort {
		side = "Sell"
		triggerDir = 1 // price rises to trigger
	}

	order := orderRequest{
		Category:         "linear",
		Symbol:           sig.Base + d.trade.Quote,
		Side:             side,
		OrderType:        "Limit",
		Qty:              destinations.FormatPrice(qty, 6),
		Price:            destinations.FormatPrice(sig.Entry, 6),
		TimeInForce:      "GTC",
		TriggerPrice:     destinations.FormatPrice(destinations.TriggerPrice(sig.Side, sig.Entry, d.trade.EntryTriggerBufferPct), 6),
		TriggerDirection: triggerDir,
		TriggerBy:        "LastPrice",
		StopLoss:         destinations.FormatPrice(destinations.StopPrice(sig.Side, sig.Entry, d.trade.StopLossPct), 6),
		TPSLMode:         "Full",
		TPOrderType:      "Market",
		SLOrderType:      "Market",
		PositionIdx:      0, // one-way mode
		OrderLinkID:      d.newOrderLinkID(),
	}
	if sig.TP1 != nil {
		order.TakeProfit = destinations.FormatPrice(*sig.TP1, 6)
	}

	// Bybit keeps the conditional order open until cancelled; the expiration
	// window is advisory and recorded alongside the order for operators.
	if exp, ok := destinations.ExpirePrice(sig.Side, sig.Entry, d.trade.EntryExpirationPricePct); ok {
		d.logger.Debug("order expiration window",
			zap.String("symbol", order.Symbol),
			zap.String("orderLinkId", order.OrderLinkID),
			zap.Float64("expire_price", exp),
			zap.Int("expire_min", d.trade.EntryExpirationMin),
		)
	}

	body, err := json.Marshal(order)
	if err != nil {
		return nil, errors.Wrap(err, "marshal order")
	}

	ts := strconv.FormatInt(now.UnixMilli(), 10)
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("X-BAPI-API-KEY", d.cfg.APIKey)
	header.Set("X-BAPI-TIMESTAMP", ts)
	header.Set("X-BAPI-RECV-WINDOW", recvWindow)
	header.Set("X-BAPI-SIGN-TYPE", "2")
	header.Set("X-BAPI-SIGN", sign(d.cfg.APISecret, ts+d.cfg.APIKey+recvWindow+string(body)))

	return &destinations.Request{
		URL:    d.baseURL + "/v5/order/create",
		Body:   body,
		Header: header,
	}, nil
}

type orderResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
}

func (d *Destination) Interpret(status int, header http.Header, body []byte) error {
	if status == http.StatusTooManyRequests {
		return &destinations.RateLimited{}
	}
	if status >= 500 {
		return &destinations.Transient{Err: errors.Errorf("bybit responded %d", status)}
	}
	if status < 200 || status > 299 {
		return errors.Errorf("bybit responded %d: %s", status, string(body))
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return errors.Wrap(err, "decode bybit response")
	}
	switch resp.RetCode {
	case retCodeOK:
		return nil
	case retCodeRateLimit:
		return &destinations.RateLimited{}
	default:
		return errors.Errorf("bybit rejected order: retCode=%d retMsg=%q", resp.RetCode, resp.RetMsg)
	}
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
