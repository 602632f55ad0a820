package pfsc

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"farm-market-monitor/internal/models"

	"github.com/go-resty/resty/v2"
)

const defaultBaseURL = "https://pfsc.agri.cn/api"

const pageSize = 40

// Client 农业农村部批发市场价格接口客户端, 单线程顺序请求并限速,
// 避免触发上游封禁
type Client struct {
	http       *resty.Client
	baseURL    string
	maxRetries int
	retryDelay time.Duration

	pagePause     time.Duration
	marketPause   time.Duration
	provincePause time.Duration
}

// NewClient creates a client with the given retry policy. Zero values select
// the defaults (3 attempts, 5s delay).
func NewClient(maxRetries int, retryDelay time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}

	httpClient := resty.New()
	httpClient.SetTimeout(30 * time.Second)
	httpClient.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	httpClient.SetHeaders(map[string]string{
		"User-Agent":   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		"Accept":       "application/json, text/plain, */*",
		"Content-Type": "application/json;charset=UTF-8",
		"Origin":       "https://pfsc.agri.cn",
		"Referer":      "https://pfsc.agri.cn/",
	})

	return &Client{
		http:          httpClient,
		baseURL:       defaultBaseURL,
		maxRetries:    maxRetries,
		retryDelay:    retryDelay,
		pagePause:     1 * time.Second,
		marketPause:   2 * time.Second,
		provincePause: 5 * time.Second,
	}
}

// SetBaseURL overrides the API endpoint.
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// SetPauses overrides the inter-request throttle pauses.
func (c *Client) SetPauses(page, market, province time.Duration) {
	c.pagePause = page
	c.marketPause = market
	c.provincePause = province
}

// MarketPause 市场之间的限速间隔
func (c *Client) MarketPause() time.Duration { return c.marketPause }

// ProvincePause 省份之间的限速间隔
func (c *Client) ProvincePause() time.Duration { return c.provincePause }

// ListMarkets returns the markets reporting today for one province. Any
// failure after retries yields an empty list, logged, never an error.
func (c *Client) ListMarkets(provinceCode string) []MarketDescriptor {
	var markets []MarketDescriptor
	err := c.withRetry("获取市场列表", func() error {
		resp, err := c.http.R().
			SetQueryParam("code", provinceCode).
			Post(c.baseURL + "/priceQuotationController/getTodayMarketByProvinceCode")
		if err != nil {
			return err
		}
		decoded := marketListResponse{}
		if err := c.decode(resp, &decoded.Code, &decoded); err != nil {
			return err
		}
		markets = decoded.Content
		return nil
	})
	if err != nil {
		log.Printf("[采集] 获取省份 %s 市场列表失败: %v", provinceCode, err)
		return nil
	}
	return markets
}

// FetchMarketPage fetches one page of a market's recent price listing (last
// 24h window). The retry policy applies to this single call.
func (c *Client) FetchMarketPage(marketID string, pageNum int) ([]RawItem, int, error) {
	payload := pageListPayload{
		MarketID:  marketID,
		PageNum:   pageNum,
		PageSize:  pageSize,
		Order:     "desc",
		StartDate: time.Now().AddDate(0, 0, -1).Format("2006-01-02"),
		EndDate:   time.Now().Format("2006-01-02"),
	}

	var items []RawItem
	pages := 1
	err := c.withRetry("获取价格数据", func() error {
		resp, err := c.http.R().
			SetBody(payload).
			Post(c.baseURL + "/priceQuotationController/pageList")
		if err != nil {
			return err
		}
		decoded := pageListResponse{}
		if err := c.decode(resp, &decoded.Code, &decoded); err != nil {
			return err
		}
		items = decoded.Content.List
		if decoded.Content.Pages > 0 {
			pages = decoded.Content.Pages
		}
		return nil
	})
	return items, pages, err
}

// FetchAllPages drives FetchMarketPage across all pages of one market and
// maps the raw items into price records. Retry exhaustion mid-way returns
// whatever has been accumulated so far instead of an error.
func (c *Client) FetchAllPages(marketID string) []models.PriceRecord {
	crawlTime := time.Now()
	var all []models.PriceRecord

	for page := 1; ; page++ {
		items, pages, err := c.FetchMarketPage(marketID, page)
		if err != nil {
			log.Printf("[采集] 市场 %s 第 %d 页获取失败, 返回已有 %d 条: %v",
				marketID, page, len(all), err)
			return all
		}
		if len(items) == 0 {
			return all
		}

		for i := range items {
			rec, ok := c.convertItem(marketID, items[i], crawlTime)
			if !ok {
				log.Printf("[采集] 丢弃缺少关键字段的数据项: 市场 %s 第 %d 页", marketID, page)
				continue
			}
			all = append(all, rec)
		}
		log.Printf("[采集] 市场 %s 第 %d/%d 页, 本页 %d 条", marketID, page, pages, len(items))

		if page >= pages {
			return all
		}
		time.Sleep(c.pagePause)
	}
}

// withRetry runs fn up to maxRetries times with a fixed delay in between and
// returns the last error.
func (c *Client) withRetry(desc string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		log.Printf("[采集] %s失败 (重试 %d/%d): %v", desc, attempt, c.maxRetries, err)
		if attempt < c.maxRetries {
			time.Sleep(c.retryDelay)
		}
	}
	return err
}

// decode checks the transport-level and API-level failure conditions that are
// all retryable: non-200 status, empty body, malformed JSON, payload code.
func (c *Client) decode(resp *resty.Response, code *int, out interface{}) error {
	if resp.StatusCode() != 200 {
		return fmt.Errorf("HTTP %d", resp.StatusCode())
	}
	if len(resp.Body()) == 0 {
		return errors.New("空响应")
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	if *code != 200 {
		return fmt.Errorf("接口返回错误码 %d", *code)
	}
	return nil
}

// convertItem maps one raw item to a PriceRecord. Items without a market name
// or trade date are rejected.
func (c *Client) convertItem(marketID string, item RawItem, crawlTime time.Time) (models.PriceRecord, bool) {
	tradeDate := normalizeDate(item.ReportTime)
	if item.MarketName == "" || tradeDate == "" {
		return models.PriceRecord{}, false
	}

	return models.PriceRecord{
		MarketID:      marketID,
		MarketCode:    item.MarketCode,
		MarketName:    item.MarketName,
		MarketType:    item.MarketType,
		VarietyID:     item.VarietyID,
		VarietyName:   item.VarietyName,
		VarietyType:   item.VarietyTypeName,
		VarietyTypeID: item.VarietyTypeID,
		MinPrice:      float64(item.MinimumPrice),
		AvgPrice:      float64(item.MiddlePrice),
		MaxPrice:      float64(item.HighestPrice),
		Unit:          item.MeteringUnit,
		TradeDate:     tradeDate,
		TradeVolume:   float64(item.TradingVolume),
		ProducePlace:  item.ProducePlace,
		SalePlace:     item.SalePlace,
		Province:      item.ProvinceName,
		ProvinceCode:  item.ProvinceCode,
		AreaName:      item.AreaName,
		AreaCode:      item.AreaCode,
		CrawlTime:     crawlTime,
	}, true
}

// normalizeDate trims "2024-12-05 08:30:00" style report times down to the
// calendar date.
func normalizeDate(reportTime string) string {
	if len(reportTime) < 10 {
		return ""
	}
	date := reportTime[:10]
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return ""
	}
	return date
}
