package market

// 文件: pkg/market/rest.go
// Bybit v5 REST 行情客户端
//
// 【职责】
// 1. 历史K线拉取 (单次最多 200 根，分页可到 1000+)
// 2. 周线估算历史最高/最低价 (ATH/ATL)
//
// 上游返回 K线为最新在前，这里统一转成时间升序。

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"tzero.com/pkg/config"
)

var (
	ErrUnknownStreamSymbol   = errors.New("symbol not supported by market stream")
	ErrUnknownStreamInterval = errors.New("interval not supported by market stream")
	ErrUpstream              = errors.New("upstream market data unavailable")
)

const (
	// Bybit 单次 kline 请求上限
	maxKlinesPerRequest = 200
	// 分页拉取之间的间隔，防限流
	paginationDelay = 100 * time.Millisecond
)

// RESTClient Bybit v5 REST 客户端
type RESTClient struct {
	driver Driver
	http   *http.Client
}

// NewRESTClient 创建 REST 客户端
func NewRESTClient(driver Driver) *RESTClient {
	return &RESTClient{
		driver: driver,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

// restKlineResponse /v5/market/kline 响应
// list 元素: [start, open, high, low, close, volume, turnover]，最新在前
type restKlineResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Category string     `json:"category"`
		Symbol   string     `json:"symbol"`
		List     [][]string `json:"list"`
	} `json:"result"`
}

// GetKlines 拉取最近的历史K线 (最多 200 根)，时间升序返回
func (c *RESTClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*Candle, error) {
	if !config.IsSupportedSymbol(symbol) {
		return nil, ErrUnknownStreamSymbol
	}
	if interval == "" {
		interval = "1"
	}
	if !config.IsSupportedInterval(interval) {
		return nil, ErrUnknownStreamInterval
	}
	if limit <= 0 || limit > maxKlinesPerRequest {
		limit = maxKlinesPerRequest
	}

	rows, err := c.fetchKlines(ctx, symbol, interval, limit, 0)
	if err != nil {
		return nil, err
	}

	// 上游最新在前，反转为升序
	candles := make([]*Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		candle, err := candleFromRow(symbol, interval, rows[i])
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// GetExtendedKlines 分页拉取更长的历史 (默认上限 1000 根)
// 分页用 end = 上一批最老K线起始时间 - 1ms，批间延迟防限流
func (c *RESTClient) GetExtendedKlines(ctx context.Context, symbol, interval string, limit int) ([]*Candle, error) {
	if !config.IsSupportedSymbol(symbol) {
		return nil, ErrUnknownStreamSymbol
	}
	if interval == "" {
		interval = "1"
	}
	if !config.IsSupportedInterval(interval) {
		return nil, ErrUnknownStreamInterval
	}
	if limit <= 0 {
		limit = 1000
	}

	var all []*Candle
	remaining := limit
	var endTime int64 // 0 表示从当前时间往回拉

	for remaining > 0 {
		batchLimit := remaining
		if batchLimit > maxKlinesPerRequest {
			batchLimit = maxKlinesPerRequest
		}

		rows, err := c.fetchKlines(ctx, symbol, interval, batchLimit, endTime)
		if err != nil {
			// 已有部分数据时不整批丢弃
			if len(all) > 0 {
				break
			}
			return nil, err
		}
		if len(rows) == 0 {
			break
		}

		batch := make([]*Candle, 0, len(rows))
		for i := len(rows) - 1; i >= 0; i-- {
			candle, err := candleFromRow(symbol, interval, rows[i])
			if err != nil {
				return nil, err
			}
			batch = append(batch, candle)
		}
		// 本批更老，拼在前面
		all = append(batch, all...)

		oldest, err := strconv.ParseInt(rows[len(rows)-1][0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse kline start: %w", err)
		}
		endTime = oldest - 1

		remaining -= len(rows)
		if remaining > 0 {
			select {
			case <-ctx.Done():
				return all, ctx.Err()
			case <-time.After(paginationDelay):
			}
		}
	}
	return all, nil
}

// ATHATL 历史最高/最低价 (周线估算)
type ATHATL struct {
	Symbol  string          `json:"symbol"`
	ATH     decimal.Decimal `json:"ath"`
	ATL     decimal.Decimal `json:"atl"`
	Updated time.Time       `json:"updated"`
}

// GetATHATL 用最近 200 根周线估算历史最高/最低价
func (c *RESTClient) GetATHATL(ctx context.Context, symbol string) (*ATHATL, error) {
	rows, err := c.fetchKlines(ctx, symbol, "W", maxKlinesPerRequest, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no weekly klines for %s", ErrUpstream, symbol)
	}

	var ath, atl decimal.Decimal
	for i, row := range rows {
		high, err := decimal.NewFromString(row[2])
		if err != nil {
			return nil, fmt.Errorf("parse high: %w", err)
		}
		low, err := decimal.NewFromString(row[3])
		if err != nil {
			return nil, fmt.Errorf("parse low: %w", err)
		}
		if i == 0 || high.GreaterThan(ath) {
			ath = high
		}
		if i == 0 || low.LessThan(atl) {
			atl = low
		}
	}
	return &ATHATL{
		Symbol:  symbol,
		ATH:     ath,
		ATL:     atl,
		Updated: time.Now().UTC(),
	}, nil
}

// fetchKlines 单次 /v5/market/kline 请求，原样返回上游行 (最新在前)
func (c *RESTClient) fetchKlines(ctx context.Context, symbol, interval string, limit int, endTime int64) ([][]string, error) {
	q := url.Values{}
	q.Set("category", c.driver.Category)
	q.Set("symbol", config.ToUpstreamSymbol(symbol))
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))
	if endTime > 0 {
		q.Set("end", strconv.FormatInt(endTime, 10))
	}

	reqURL := c.driver.RESTURL + "/v5/market/kline?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var out restKlineResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if out.RetCode != 0 {
		return nil, fmt.Errorf("%w: retCode=%d %s", ErrUpstream, out.RetCode, out.RetMsg)
	}
	return out.Result.List, nil
}

// candleFromRow REST 行转内部 Candle
// 行格式: [start(ms), open, high, low, close, volume, turnover]
func candleFromRow(symbol, interval string, row []string) (*Candle, error) {
	if len(row) < 7 {
		return nil, fmt.Errorf("short kline row: %d fields", len(row))
	}
	start, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse kline start: %w", err)
	}
	open, err := decimal.NewFromString(row[1])
	if err != nil {
		return nil, fmt.Errorf("parse open: %w", err)
	}
	high, err := decimal.NewFromString(row[2])
	if err != nil {
		return nil, fmt.Errorf("parse high: %w", err)
	}
	low, err := decimal.NewFromString(row[3])
	if err != nil {
		return nil, fmt.Errorf("parse low: %w", err)
	}
	closeP, err := decimal.NewFromString(row[4])
	if err != nil {
		return nil, fmt.Errorf("parse close: %w", err)
	}
	volume, err := decimal.NewFromString(row[5])
	if err != nil {
		return nil, fmt.Errorf("parse volume: %w", err)
	}
	turnover, err := decimal.NewFromString(row[6])
	if err != nil {
		return nil, fmt.Errorf("parse turnover: %w", err)
	}

	return &Candle{
		Symbol:   symbol,
		Interval: interval,
		Start:    start / 1000,
		Open:     open,
		High:     high,
		Low:      low,
		Close:    closeP,
		Volume:   volume,
		Turnover: turnover,
		Confirm:  true, // 历史K线已收盘
	}, nil
}
