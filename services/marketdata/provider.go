package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"stockwatch_backend/models"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// Quote is a realtime snapshot of one instrument.
type Quote struct {
	Symbol       string          `json:"symbol"`
	Market       models.Market   `json:"market"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	PrevClose    decimal.Decimal `json:"prev_close"`
	Open         decimal.Decimal `json:"open"`
	High         decimal.Decimal `json:"high"`
	Low          decimal.Decimal `json:"low"`
	ChangePct    decimal.Decimal `json:"change_pct"`
	ChangeAmount decimal.Decimal `json:"change_amount"`
	Volume       int64           `json:"volume"`
	Turnover     decimal.Decimal `json:"turnover"`
	AsOf         time.Time       `json:"as_of"`
}

// IndicatorSummary is the condensed technical view handed to the AI
// context. The indicator math itself lives with the upstream provider.
type IndicatorSummary struct {
	Trend       string  `json:"trend"` // up / down / sideways
	Change5d    float64 `json:"change_5d"`
	Change20d   float64 `json:"change_20d"`
	VolumeRatio float64 `json:"volume_ratio"`
	MA5         float64 `json:"ma5"`
	MA10        float64 `json:"ma10"`
	MA20        float64 `json:"ma20"`
}

// NewsItem is one recent headline about an instrument.
type NewsItem struct {
	Title       string    `json:"title"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}

// Provider is the market-data collaborator boundary. Failures degrade the
// analysis context; the executor decides whether they fail the run.
type Provider interface {
	GetQuote(ctx context.Context, symbol string, market models.Market) (*Quote, error)
	GetTechnicalSummary(ctx context.Context, symbol string, market models.Market) (*IndicatorSummary, error)
	GetRecentNews(ctx context.Context, symbol string, market models.Market, limit int) ([]NewsItem, error)
}

// TencentProvider fetches quotes and daily klines from the public Tencent
// quote endpoints.
type TencentProvider struct {
	http *resty.Client
}

// NewTencentProvider creates a provider with a bounded request timeout.
func NewTencentProvider() *TencentProvider {
	return &TencentProvider{
		http: resty.New().SetTimeout(10 * time.Second),
	}
}

// qtSymbol maps (symbol, market) to the Tencent quote code.
func qtSymbol(symbol string, market models.Market) string {
	symbol = strings.ToLower(symbol)
	switch market {
	case models.MarketHK:
		return "hk" + strings.TrimPrefix(symbol, "hk")
	case models.MarketUS:
		return "us" + strings.ToUpper(strings.TrimPrefix(symbol, "us"))
	default:
		if strings.HasPrefix(symbol, "sh") || strings.HasPrefix(symbol, "sz") {
			return symbol
		}
		// Shanghai symbols start with 6, Shenzhen with 0/3
		if strings.HasPrefix(symbol, "6") {
			return "sh" + symbol
		}
		return "sz" + symbol
	}
}

// GetQuote fetches one realtime quote.
// Response format: v_sh600000="1~NAME~600000~10.50~10.40~10.45~...";
func (p *TencentProvider) GetQuote(ctx context.Context, symbol string, market models.Market) (*Quote, error) {
	code := qtSymbol(symbol, market)
	resp, err := p.http.R().
		SetContext(ctx).
		Get("https://qt.gtimg.cn/q=" + code)
	if err != nil {
		return nil, fmt.Errorf("quote fetch failed for %s: %w", symbol, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("quote fetch failed for %s: status %d", symbol, resp.StatusCode())
	}
	return parseQtQuote(symbol, market, resp.String())
}

func parseQtQuote(symbol string, market models.Market, body string) (*Quote, error) {
	start := strings.Index(body, `"`)
	end := strings.LastIndex(body, `"`)
	if start < 0 || end <= start {
		return nil, fmt.Errorf("malformed quote payload for %s", symbol)
	}
	fields := strings.Split(body[start+1:end], "~")
	if len(fields) < 40 {
		return nil, fmt.Errorf("short quote payload for %s: %d fields", symbol, len(fields))
	}

	dec := func(i int) decimal.Decimal {
		d, err := decimal.NewFromString(strings.TrimSpace(fields[i]))
		if err != nil {
			return decimal.Zero
		}
		return d
	}

	q := &Quote{
		Symbol:       symbol,
		Market:       market,
		Name:         fields[1],
		Price:        dec(3),
		PrevClose:    dec(4),
		Open:         dec(5),
		Volume:       dec(6).IntPart(),
		High:         dec(33),
		Low:          dec(34),
		ChangeAmount: dec(31),
		ChangePct:    dec(32),
		Turnover:     dec(37),
		AsOf:         time.Now(),
	}
	if q.Price.IsZero() {
		return nil, fmt.Errorf("empty quote for %s", symbol)
	}
	return q, nil
}

type klineResponse struct {
	Data map[string]map[string][][]interface{} `json:"data"`
}

// GetTechnicalSummary fetches ~60 daily bars and condenses them.
func (p *TencentProvider) GetTechnicalSummary(ctx context.Context, symbol string, market models.Market) (*IndicatorSummary, error) {
	code := qtSymbol(symbol, market)
	url := fmt.Sprintf(
		"https://web.ifzq.gtimg.cn/appstock/app/fqkline/get?param=%s,day,,,60,qfq",
		code,
	)

	var out klineResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("kline fetch failed for %s: %w", symbol, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("kline fetch failed for %s: status %d", symbol, resp.StatusCode())
	}

	bars := extractBars(out, code)
	if len(bars) < 21 {
		return nil, fmt.Errorf("not enough kline data for %s", symbol)
	}
	return summarize(bars), nil
}

// GetRecentNews fetches recent headlines from the EastMoney search API.
// Markets without coverage there still get an empty list rather than an
// error, so the context section simply stays absent.
func (p *TencentProvider) GetRecentNews(ctx context.Context, symbol string, market models.Market, limit int) ([]NewsItem, error) {
	if limit <= 0 {
		limit = 5
	}
	param := fmt.Sprintf(
		`{"uid":"","keyword":%q,"type":["cmsArticleWebOld"],"client":"web","clientType":"web","clientVersion":"curr","param":{"cmsArticleWebOld":{"searchScope":"default","sort":"default","pageIndex":1,"pageSize":%d,"preTag":"","postTag":""}}}`,
		symbol, limit,
	)

	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParam("cb", "cb").
		SetQueryParam("param", param).
		Get("https://search-api-web.eastmoney.com/search/jsonp")
	if err != nil {
		return nil, fmt.Errorf("news fetch failed for %s: %w", symbol, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("news fetch failed for %s: status %d", symbol, resp.StatusCode())
	}
	return parseNewsPayload(symbol, resp.String(), limit)
}

// parseNewsPayload strips the jsonp wrapper and extracts the headlines.
func parseNewsPayload(symbol, body string, limit int) ([]NewsItem, error) {
	if start, end := strings.Index(body, "("), strings.LastIndex(body, ")"); start >= 0 && end > start {
		body = body[start+1 : end]
	}

	var out struct {
		Result struct {
			Articles []struct {
				Title string `json:"title"`
				Media string `json:"mediaName"`
				Date  string `json:"date"`
			} `json:"cmsArticleWebOld"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, fmt.Errorf("malformed news payload for %s", symbol)
	}

	items := make([]NewsItem, 0, limit)
	for _, a := range out.Result.Articles {
		if a.Title == "" {
			continue
		}
		ts, _ := time.ParseInLocation("2006-01-02 15:04:05", a.Date, time.Local)
		items = append(items, NewsItem{Title: a.Title, Source: a.Media, PublishedAt: ts})
		if len(items) == limit {
			break
		}
	}
	return items, nil
}

type bar struct {
	close  float64
	volume float64
}

func extractBars(out klineResponse, code string) []bar {
	series, ok := out.Data[code]
	if !ok {
		return nil
	}
	rows := series["qfqday"]
	if rows == nil {
		rows = series["day"]
	}
	bars := make([]bar, 0, len(rows))
	for _, row := range rows {
		// row: [date, open, close, high, low, volume, ...]
		if len(row) < 6 {
			continue
		}
		bars = append(bars, bar{
			close:  toFloat(row[2]),
			volume: toFloat(row[5]),
		})
	}
	return bars
}

func toFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		var f float64
		fmt.Sscanf(x, "%f", &f)
		return f
	}
	return 0
}

func summarize(bars []bar) *IndicatorSummary {
	n := len(bars)
	last := bars[n-1]

	ma := func(period int) float64 {
		if n < period {
			return 0
		}
		sum := 0.0
		for _, b := range bars[n-period:] {
			sum += b.close
		}
		return sum / float64(period)
	}

	changeOver := func(days int) float64 {
		if n <= days || bars[n-1-days].close == 0 {
			return 0
		}
		base := bars[n-1-days].close
		return (last.close - base) / base * 100
	}

	avgVol := 0.0
	for _, b := range bars[n-6 : n-1] {
		avgVol += b.volume
	}
	avgVol /= 5

	s := &IndicatorSummary{
		Change5d:  changeOver(5),
		Change20d: changeOver(20),
		MA5:       ma(5),
		MA10:      ma(10),
		MA20:      ma(20),
	}
	if avgVol > 0 {
		s.VolumeRatio = last.volume / avgVol
	}
	switch {
	case last.close > s.MA5 && s.MA5 > s.MA20:
		s.Trend = "up"
	case last.close < s.MA5 && s.MA5 < s.MA20:
		s.Trend = "down"
	default:
		s.Trend = "sideways"
	}
	return s
}
