package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

const systemPrompt = `You are a trading assistant for China A-shares. Answer with a single JSON object and nothing else, using the keys:
action ("BUY", "SELL" or "HOLD"), confidence (0-100), reasoning (string),
position_size_pct, stop_loss_pct, take_profit_pct (0-100, optional),
risk_level ("low", "medium" or "high"),
key_price_levels ({"support": ..., "resistance": ...}).
BUY is only valid without an existing position. SELL is only valid with sellable shares.`

// Options configures the HTTP oracle client.
type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
	// RateLimit caps oracle calls per RateWindow across every process
	// sharing the limiter. Zero disables the check.
	RateLimit  int
	RateWindow time.Duration
}

// Client is an Oracle backed by an OpenAI-compatible chat completions API.
type Client struct {
	http    *resty.Client
	opts    Options
	limiter domain.RateLimiter
	logger  *slog.Logger
	now     func() time.Time
}

// NewClient creates a Client. limiter may be nil.
func NewClient(opts Options, limiter domain.RateLimiter, logger *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Model == "" {
		opts.Model = "deepseek-chat"
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(opts.BaseURL, "/"))
	client.SetTimeout(opts.Timeout)
	if opts.APIKey != "" {
		client.SetAuthToken(opts.APIKey)
	}

	return &Client{
		http:    client,
		opts:    opts,
		limiter: limiter,
		logger:  logger.With(slog.String("component", "oracle")),
		now:     time.Now,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// promptContext is the user message handed to the model.
type promptContext struct {
	Symbol     string             `json:"symbol"`
	Name       string             `json:"name,omitempty"`
	Session    string             `json:"session"`
	Price      string             `json:"price"`
	ChangePct  float64            `json:"change_pct"`
	Volume     float64            `json:"volume"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
	Cash       string             `json:"available_cash"`
	TotalValue string             `json:"total_value"`
	Position   *promptPosition    `json:"position,omitempty"`
}

type promptPosition struct {
	Quantity  int64  `json:"quantity"`
	Sellable  int64  `json:"sellable"`
	CostBasis string `json:"cost_basis"`
}

// Decide asks the model for a decision on req.
func (c *Client) Decide(ctx context.Context, req Request) (domain.Decision, error) {
	if c.limiter != nil && c.opts.RateLimit > 0 {
		ok, err := c.limiter.Allow(ctx, "oracle", c.opts.RateLimit, c.opts.RateWindow)
		if err != nil {
			c.logger.WarnContext(ctx, "rate limiter unavailable, calling oracle anyway",
				slog.String("error", err.Error()),
			)
		} else if !ok {
			return domain.Decision{}, fmt.Errorf("oracle: %s: %w: %w", req.Symbol, domain.ErrOracleUnavailable, domain.ErrRateLimited)
		}
	}

	prompt, err := json.Marshal(buildPrompt(req))
	if err != nil {
		return domain.Decision{}, fmt.Errorf("oracle: marshal prompt: %w", err)
	}

	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model: c.opts.Model,
			Messages: []chatMessage{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: string(prompt)},
			},
			Temperature:    c.opts.Temperature,
			MaxTokens:      c.opts.MaxTokens,
			ResponseFormat: map[string]string{"type": "json_object"},
		}).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return domain.Decision{}, fmt.Errorf("oracle: %s: %w: %v", req.Symbol, domain.ErrOracleUnavailable, err)
	}
	if resp.IsError() {
		return domain.Decision{}, fmt.Errorf("oracle: %s: %w: status %d: %s",
			req.Symbol, domain.ErrOracleUnavailable, resp.StatusCode(), resp.String())
	}
	if len(out.Choices) == 0 {
		return domain.Decision{}, fmt.Errorf("oracle: %s: %w: empty choices", req.Symbol, domain.ErrOracleInvalid)
	}

	d, err := Parse(out.Choices[0].Message.Content)
	if err != nil {
		return domain.Decision{}, err
	}
	d.Symbol = req.Symbol
	d.Name = req.Name
	d.Session = req.Session
	d.Timestamp = c.now()
	if err := d.Validate(); err != nil {
		return domain.Decision{}, fmt.Errorf("oracle: %s: %w", req.Symbol, err)
	}
	return d, nil
}

func buildPrompt(req Request) promptContext {
	p := promptContext{
		Symbol:     req.Symbol,
		Name:       req.Name,
		Session:    req.Session,
		Price:      req.Market.Price.String(),
		ChangePct:  req.Market.ChangePct,
		Volume:     req.Market.Volume,
		Indicators: req.Market.Indicators,
		Cash:       req.Account.AvailableCash.StringFixed(2),
		TotalValue: req.Account.TotalValue.StringFixed(2),
	}
	if req.Position != nil {
		p.Position = &promptPosition{
			Quantity:  req.Position.Quantity,
			Sellable:  req.Position.SellableQuantity,
			CostBasis: req.Position.CostBasis.String(),
		}
	}
	return p
}

var _ Oracle = (*Client)(nil)
