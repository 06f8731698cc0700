// Package fundhub is the HTTP transport for the FundHub market-data API:
// instrument metadata, daily/intraday price history and fund holdings as
// JSON over REST.
package fundhub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"fundsync/internal/config"
	"fundsync/internal/dto"
	apperrors "fundsync/internal/errors"
)

// Client is the raw FundHub API client. It implements provider.Transport;
// rate limiting and health gating live in the adapter layer, never here.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a FundHub transport from provider configuration.
func NewClient(cfg config.ProviderConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		name:       cfg.Name,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (c *Client) Name() string { return c.name }

type fundResponse struct {
	Ticker        string  `json:"ticker"`
	Name          string  `json:"name"`
	Currency      *string `json:"currency"`
	ExpenseRatio  *string `json:"expense_ratio"`
	InceptionDate *string `json:"inception_date"`
	AUM           *string `json:"aum"`
	Description   *string `json:"description"`
}

type pricePoint struct {
	Date   string  `json:"date"`
	Open   *string `json:"open"`
	High   *string `json:"high"`
	Low    *string `json:"low"`
	Close  *string `json:"close"`
	Volume *string `json:"volume"`
}

type historyResponse struct {
	Ticker string       `json:"ticker"`
	Points []pricePoint `json:"points"`
}

type holdingEntry struct {
	Ticker      string  `json:"ticker"`
	Name        string  `json:"name"`
	Weight      *string `json:"weight"`
	Shares      *string `json:"shares"`
	MarketValue *string `json:"market_value"`
	Sector      *string `json:"sector"`
}

type holdingsResponse struct {
	Ticker   string         `json:"ticker"`
	Holdings []holdingEntry `json:"holdings"`
}

// FetchInfo retrieves and validates instrument metadata.
func (c *Client) FetchInfo(ctx context.Context, ticker string) (dto.FundInfo, error) {
	var resp fundResponse
	if err := c.get(ctx, fmt.Sprintf("/v1/funds/%s", url.PathEscape(ticker)), nil, ticker, &resp); err != nil {
		return dto.FundInfo{}, err
	}

	info := dto.FundInfo{
		Ticker:      resp.Ticker,
		Name:        resp.Name,
		Currency:    resp.Currency,
		Description: resp.Description,
	}

	var violations []string
	info.ExpenseRatio = parseDecimal(resp.ExpenseRatio, "expense_ratio", &violations)
	info.AUM = parseDecimal(resp.AUM, "aum", &violations)
	if resp.InceptionDate != nil {
		t, perr := time.Parse("2006-01-02", *resp.InceptionDate)
		if perr != nil {
			violations = append(violations, fmt.Sprintf("inception_date %q is not a valid date", *resp.InceptionDate))
		} else {
			info.InceptionDate = &t
		}
	}
	if len(violations) > 0 {
		return dto.FundInfo{}, apperrors.NewInvalidDataError("FundInfo", violations)
	}

	return dto.NewFundInfo(info)
}

// FetchHistory retrieves and validates historical performance points.
func (c *Client) FetchHistory(ctx context.Context, ticker string, start, end time.Time, intervalMinutes int) ([]dto.PerformancePoint, error) {
	params := url.Values{}
	params.Set("start", start.UTC().Format("2006-01-02"))
	params.Set("end", end.UTC().Format("2006-01-02"))
	params.Set("interval", strconv.Itoa(intervalMinutes))

	var resp historyResponse
	if err := c.get(ctx, fmt.Sprintf("/v1/funds/%s/history", url.PathEscape(ticker)), params, ticker, &resp); err != nil {
		return nil, err
	}

	points := make([]dto.PerformancePoint, 0, len(resp.Points))
	for _, raw := range resp.Points {
		date, err := time.Parse("2006-01-02", raw.Date)
		if err != nil {
			return nil, apperrors.NewInvalidDataError("PerformancePoint",
				[]string{fmt.Sprintf("date %q is not a valid date", raw.Date)})
		}

		var violations []string
		point := dto.PerformancePoint{Ticker: ticker, Date: date}
		point.Open = parseDecimal(raw.Open, "open_price", &violations)
		point.High = parseDecimal(raw.High, "high_price", &violations)
		point.Low = parseDecimal(raw.Low, "low_price", &violations)
		point.Close = parseDecimal(raw.Close, "close_price", &violations)
		point.Volume = parseDecimal(raw.Volume, "volume", &violations)
		if len(violations) > 0 {
			return nil, apperrors.NewInvalidDataError("PerformancePoint", violations)
		}

		validated, err := dto.NewPerformancePoint(point)
		if err != nil {
			return nil, err
		}
		points = append(points, validated)
	}
	return points, nil
}

// FetchHoldings retrieves and validates a fund's constituents.
func (c *Client) FetchHoldings(ctx context.Context, ticker string) ([]dto.Holding, error) {
	var resp holdingsResponse
	if err := c.get(ctx, fmt.Sprintf("/v1/funds/%s/holdings", url.PathEscape(ticker)), nil, ticker, &resp); err != nil {
		return nil, err
	}

	holdings := make([]dto.Holding, 0, len(resp.Holdings))
	for _, raw := range resp.Holdings {
		var violations []string
		h := dto.Holding{Ticker: raw.Ticker, Name: raw.Name, Sector: raw.Sector}
		h.Weight = parseDecimal(raw.Weight, "weight", &violations)
		h.Shares = parseDecimal(raw.Shares, "shares", &violations)
		h.MarketValue = parseDecimal(raw.MarketValue, "market_value", &violations)
		if len(violations) > 0 {
			return nil, apperrors.NewInvalidDataError("Holding", violations)
		}

		validated, err := dto.NewHolding(h)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, validated)
	}
	return holdings, nil
}

// get executes a GET request and decodes the JSON response, mapping HTTP
// status to the provider error taxonomy.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, ticker string, result interface{}) error {
	u := c.baseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return apperrors.NewDataSourceError(c.name, err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewDataSourceError(c.name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.NewDataNotFoundError(c.name, ticker)
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := time.Minute
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return apperrors.NewRateLimitError(c.name, retryAfter)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperrors.NewDataSourceError(c.name,
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return apperrors.NewDataSourceError(c.name, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}
