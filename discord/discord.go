package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/candree7-rgb/Systemic.Systems/config"
	"github.com/candree7-rgb/Systemic.Systems/models"
)

const (
	defaultBaseURL = "https://discord.com/api/v10"

	// maxPageSize is the protocol cap on messages per page.
	maxPageSize = 100

	// defaultRetryAfter is used when a 429 carries no usable retry_after.
	defaultRetryAfter = 5 * time.Second
)

// Message is one channel message as returned by the messages endpoint.
// Immutable once fetched.
type Message struct {
	ID      models.MessageID `json:"id"`
	Content string           `json:"content"`
	Embeds  []Embed          `json:"embeds"`
}

type Embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Fields      []EmbedField `json:"fields"`
	Footer      *EmbedFooter `json:"footer"`
}

type EmbedField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

// Client reads messages from a single channel. Requests are paced by a
// shared rate limiter; a 429 is retried after the server-advised delay
// without advancing pagination state.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	channelID  string
	limiter    *rate.Limiter
	logger     *zap.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg config.Discord, logger *zap.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	rps := cfg.RequestsPS
	if rps <= 0 {
		rps = 1
	}
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		token:      cfg.Token,
		channelID:  cfg.ChannelID,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		logger:     logger,
		sleep:      sleepCtx,
	}
}

// FetchAfter returns all messages with id greater than after, paging forward
// until a short page signals exhaustion. The result is sorted ascending by
// id regardless of the order pages arrive in.
func (c *Client) FetchAfter(ctx context.Context, after models.MessageID, limit int) ([]Message, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	var collected []Message
	cursor := after
	for {
		page, err := c.fetchPage(ctx, cursor, limit)
		if err != nil {
			return nil, err
		}
		collected = append(collected, page...)
		if len(page) < limit {
			break
		}
		cursor = maxID(page)
	}

	sort.Slice(collected, func(i, j int) bool {
		return collected[j].ID.After(collected[i].ID)
	})
	return collected, nil
}

// LatestMessageID returns the id of the newest message in the channel, or a
// zero id when the channel is empty.
func (c *Client) LatestMessageID(ctx context.Context) (models.MessageID, error) {
	page, err := c.fetchPage(ctx, "", 1)
	if err != nil {
		return "", err
	}
	if len(page) == 0 {
		return "", nil
	}
	return page[0].ID, nil
}

// fetchPage performs one messages request, retrying in place on rate limits.
func (c *Client) fetchPage(ctx context.Context, after models.MessageID, limit int) ([]Message, error) {
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		q := url.Values{}
		q.Set("limit", strconv.Itoa(limit))
		if !after.IsZero() {
			q.Set("after", string(after))
		}
		endpoint := fmt.Sprintf("%s/channels/%s/messages?%s", c.baseURL, c.channelID, q.Encode())

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, errors.Wrap(err, "build request")
		}
		req.Header.Set("Authorization", c.token)
		req.Header.Set("User-Agent", "SystemicSystems/1.0")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, errors.Wrap(err, "fetch messages")
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, errors.Wrap(readErr, "read response")
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			delay := retryAfter(body)
			c.logger.Warn("discord rate limit, backing off",
				zap.Duration("retry_after", delay),
			)
			if err := c.sleep(ctx, delay+500*time.Millisecond); err != nil {
				return nil, err
			}
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, errors.Errorf("discord responded %d: %s", resp.StatusCode, string(body))
		}

		var page []Message
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, errors.Wrap(err, "decode messages")
		}
		return page, nil
	}
}

// retryAfter extracts the advised delay from a 429 body.
func retryAfter(body []byte) time.Duration {
	var payload struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.RetryAfter <= 0 {
		return defaultRetryAfter
	}
	return time.Duration(payload.RetryAfter * float64(time.Second))
}

func maxID(page []Message) models.MessageID {
	var max models.MessageID
	for _, m := range page {
		if m.ID.After(max) {
			max = m.ID
		}
	}
	return max
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
