package pfsc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(3, time.Millisecond)
	c.SetBaseURL(srv.URL)
	c.SetPauses(0, 0, 0)
	return c
}

func pageResponse(items []RawItem, pages int) string {
	resp := pageListResponse{Code: 200}
	resp.Content.List = items
	resp.Content.Pages = pages
	resp.Content.Total = len(items)
	data, _ := json.Marshal(resp)
	return string(data)
}

func rawItem(variety string, avg float64) RawItem {
	return RawItem{
		MarketName:   "北京新发地",
		VarietyID:    "V-" + variety,
		VarietyName:  variety,
		MinimumPrice: flexFloat(avg - 1),
		MiddlePrice:  flexFloat(avg),
		HighestPrice: flexFloat(avg + 1),
		ReportTime:   time.Now().Format("2006-01-02") + " 08:00:00",
	}
}

func TestFetchAllPagesPagination(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload pageListPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("请求体解析失败: %v", err)
		}
		switch payload.PageNum {
		case 1:
			fmt.Fprint(w, pageResponse([]RawItem{rawItem("土豆", 3), rawItem("白菜", 2)}, 2))
		case 2:
			fmt.Fprint(w, pageResponse([]RawItem{rawItem("黄瓜", 4)}, 2))
		default:
			t.Errorf("不应请求第 %d 页", payload.PageNum)
		}
	}))

	records := c.FetchAllPages("M1")
	if len(records) != 3 {
		t.Fatalf("期望 3 条记录, 得到 %d", len(records))
	}
	if records[0].MarketID != "M1" || records[0].AvgPrice != 3 {
		t.Errorf("首条记录映射错误: %+v", records[0])
	}
	if records[2].VarietyName != "黄瓜" {
		t.Errorf("第二页数据丢失: %+v", records[2])
	}
}

func TestRetryBound(t *testing.T) {
	var calls int64
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, _, err := c.FetchMarketPage("M1", 1)
	if err == nil {
		t.Fatal("全部失败时应返回错误")
	}
	if got := atomic.LoadInt64(&calls); got != 3 {
		t.Errorf("期望恰好 3 次请求, 实际 %d 次", got)
	}
}

func TestRetryRecovers(t *testing.T) {
	var calls int64
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, pageResponse([]RawItem{rawItem("土豆", 3)}, 1))
	}))

	items, pages, err := c.FetchMarketPage("M1", 1)
	if err != nil {
		t.Fatalf("最后一次重试成功时不应报错: %v", err)
	}
	if len(items) != 1 || pages != 1 {
		t.Errorf("期望 1 条/1 页, 得到 %d 条/%d 页", len(items), pages)
	}
}

func TestFetchAllPagesPartialResults(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload pageListPayload
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload.PageNum == 1 {
			fmt.Fprint(w, pageResponse([]RawItem{rawItem("土豆", 3)}, 3))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))

	records := c.FetchAllPages("M1")
	if len(records) != 1 {
		t.Fatalf("后续页失败时应保留已获取的 1 条, 得到 %d", len(records))
	}
}

func TestFetchAllPagesDropsInvalidItems(t *testing.T) {
	noName := rawItem("土豆", 3)
	noName.MarketName = ""
	badDate := rawItem("白菜", 2)
	badDate.ReportTime = "无效日期"
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pageResponse([]RawItem{noName, badDate, rawItem("黄瓜", 4)}, 1))
	}))

	records := c.FetchAllPages("M1")
	if len(records) != 1 {
		t.Fatalf("缺少关键字段的数据应被丢弃, 得到 %d 条", len(records))
	}
	if records[0].VarietyName != "黄瓜" {
		t.Errorf("保留了错误的记录: %+v", records[0])
	}
}

func TestListMarkets(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("code") != "110000" {
			t.Errorf("省份代码未传递: %s", r.URL.RawQuery)
		}
		fmt.Fprint(w, `{"code":200,"content":[{"marketId":"M1","marketName":"北京新发地"}]}`)
	}))

	markets := c.ListMarkets("110000")
	if len(markets) != 1 || markets[0].MarketID != "M1" {
		t.Errorf("市场列表解析错误: %+v", markets)
	}
}

func TestListMarketsFailOpen(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	if markets := c.ListMarkets("110000"); markets != nil {
		t.Errorf("重试耗尽应返回空列表: %+v", markets)
	}
}

func TestFlexFloat(t *testing.T) {
	var item RawItem
	payload := `{"minimumPrice":"3.5","middlePrice":null,"highestPrice":4,"tradingVolume":""}`
	if err := json.Unmarshal([]byte(payload), &item); err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if item.MinimumPrice != 3.5 || item.MiddlePrice != 0 || item.HighestPrice != 4 || item.TradingVolume != 0 {
		t.Errorf("宽松数值解析错误: %+v", item)
	}
}

func TestNormalizeDate(t *testing.T) {
	cases := map[string]string{
		"2024-12-05 08:30:00": "2024-12-05",
		"2024-12-05":          "2024-12-05",
		"2024/12/05 08:30:00": "",
		"无效":                  "",
		"":                    "",
	}
	for in, want := range cases {
		if got := normalizeDate(in); got != want {
			t.Errorf("normalizeDate(%q) = %q, 期望 %q", in, got, want)
		}
	}
}

func TestFilterProvinces(t *testing.T) {
	if got := FilterProvinces(nil); len(got) != len(Provinces) {
		t.Errorf("空列表应选择全部省份: %d", len(got))
	}
	got := FilterProvinces([]string{"山东省", "不存在的省"})
	if len(got) != 1 || got[0].Code != "370000" {
		t.Errorf("省份过滤错误: %+v", got)
	}
}
