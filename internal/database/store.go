package database

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"farm-market-monitor/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the persistence layer over the SQLite database. All batch writers
// serialize through its mutex; reads go through WAL and are never blocked by
// an in-progress batch.
type Store struct {
	db *gorm.DB
	mu sync.Mutex
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// QueryFilters 查询条件, 所有字段均可选, 零值表示不过滤
type QueryFilters struct {
	Province    string  `json:"province"`
	MarketName  string  `json:"market_name"`
	VarietyName string  `json:"variety_name"`
	StartDate   string  `json:"start_date"`
	EndDate     string  `json:"end_date"`
	MinPrice    float64 `json:"min_price"`
	MaxPrice    float64 `json:"max_price"`
}

// CleanupResult 清理结果统计
type CleanupResult struct {
	DeletedPrices  int64  `json:"deleted_prices"`
	DeletedHistory int64  `json:"deleted_history"`
	DeletedStats   int64  `json:"deleted_stats"`
	CutoffDate     string `json:"cutoff_date"`
}

// PriceStats 价格统计信息
type PriceStats struct {
	TotalRecords   int64            `json:"total_records"`
	TotalMarkets   int64            `json:"total_markets"`
	TotalVarieties int64            `json:"total_varieties"`
	MinPrice       float64          `json:"min_price"`
	MaxPrice       float64          `json:"max_price"`
	AvgPrice       float64          `json:"avg_price"`
	EarliestDate   string           `json:"earliest_date"`
	LatestDate     string           `json:"latest_date"`
	Distribution   map[string]int64 `json:"price_distribution"`
}

// priceUpdateColumns are the columns refreshed when an upsert hits an
// existing natural key.
var priceUpdateColumns = []string{
	"market_code", "market_name", "market_type",
	"variety_name", "variety_type", "variety_type_id",
	"min_price", "avg_price", "max_price", "unit",
	"trade_volume", "produce_place", "sale_place",
	"province", "province_code", "area_name", "area_code",
	"crawl_time", "updated_at",
}

// UpsertBatch writes a merged batch in one transaction: insert-or-replace
// price rows by natural key, insert-if-absent market/variety rows and a
// price-history row per record. Any single failure rolls back the whole batch.
func (s *Store) UpsertBatch(records []models.PriceRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 读取已有平均价, 用于计算历史表的涨跌幅
	oldAvg := s.loadExistingAvgPrices(records)

	inserted := 0
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for i := range records {
			rec := records[i]
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "market_id"}, {Name: "variety_id"}, {Name: "trade_date"},
				},
				DoUpdates: clause.AssignmentColumns(priceUpdateColumns),
			}).Create(&rec).Error; err != nil {
				return fmt.Errorf("写入价格记录失败 (%s/%s/%s): %w",
					rec.MarketID, rec.VarietyID, rec.TradeDate, err)
			}

			if rec.MarketID != "" && rec.MarketName != "" {
				market := models.Market{
					MarketID:     rec.MarketID,
					MarketCode:   rec.MarketCode,
					MarketName:   rec.MarketName,
					MarketType:   rec.MarketType,
					Province:     rec.Province,
					ProvinceCode: rec.ProvinceCode,
					AreaName:     rec.AreaName,
					AreaCode:     rec.AreaCode,
				}
				if err := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "market_id"}},
					DoNothing: true,
				}).Create(&market).Error; err != nil {
					return fmt.Errorf("写入市场信息失败 (%s): %w", rec.MarketID, err)
				}
			}

			if rec.VarietyID != "" && rec.VarietyName != "" {
				variety := models.Variety{
					VarietyID:     rec.VarietyID,
					VarietyName:   rec.VarietyName,
					VarietyType:   rec.VarietyType,
					VarietyTypeID: rec.VarietyTypeID,
					Unit:          rec.Unit,
				}
				if err := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "variety_id"}},
					DoNothing: true,
				}).Create(&variety).Error; err != nil {
					return fmt.Errorf("写入品种信息失败 (%s): %w", rec.VarietyID, err)
				}
			}

			history := models.PriceHistory{
				MarketID:  rec.MarketID,
				VarietyID: rec.VarietyID,
				PriceDate: rec.TradeDate,
				MinPrice:  rec.MinPrice,
				AvgPrice:  rec.AvgPrice,
				MaxPrice:  rec.MaxPrice,
			}
			if prev, ok := oldAvg[rec.Key()]; ok && prev > 0 {
				history.Change = rec.AvgPrice - prev
				history.ChangeRate = (rec.AvgPrice - prev) / prev * 100
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "market_id"}, {Name: "variety_id"}, {Name: "price_date"},
				},
				DoUpdates: clause.AssignmentColumns([]string{
					"min_price", "avg_price", "max_price", "price_change", "change_rate",
				}),
			}).Create(&history).Error; err != nil {
				return fmt.Errorf("写入价格历史失败 (%s/%s): %w", rec.MarketID, rec.VarietyID, err)
			}

			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Printf("[数据库] 成功写入 %d 条数据", inserted)
	return inserted, nil
}

// loadExistingAvgPrices returns the stored avg price per natural key for the
// records about to be upserted. Read-only, runs outside the write transaction.
func (s *Store) loadExistingAvgPrices(records []models.PriceRecord) map[models.RecordKey]float64 {
	result := make(map[models.RecordKey]float64, len(records))

	dates := make(map[string]struct{})
	marketIDs := make(map[string]struct{})
	for i := range records {
		dates[records[i].TradeDate] = struct{}{}
		marketIDs[records[i].MarketID] = struct{}{}
	}
	dateList := make([]string, 0, len(dates))
	for d := range dates {
		dateList = append(dateList, d)
	}
	marketList := make([]string, 0, len(marketIDs))
	for m := range marketIDs {
		marketList = append(marketList, m)
	}

	var existing []models.PriceRecord
	if err := s.db.
		Select("market_id", "variety_id", "trade_date", "avg_price").
		Where("market_id IN ? AND trade_date IN ?", marketList, dateList).
		Find(&existing).Error; err != nil {
		log.Printf("[数据库] 读取已有价格失败: %v", err)
		return result
	}
	for i := range existing {
		result[existing[i].Key()] = existing[i].AvgPrice
	}
	return result
}

// RecomputeStatistics recalculates the rollup over the whole price table and
// replaces the statistic row for the given date. Always a full recompute.
func (s *Store) RecomputeStatistics(statDate string) error {
	stat := models.DailyStatistic{StatDate: statDate}

	if err := s.db.Model(&models.PriceRecord{}).Count(&stat.TotalRecords).Error; err != nil {
		return fmt.Errorf("统计总记录数失败: %w", err)
	}
	if err := s.db.Model(&models.PriceRecord{}).
		Distinct("market_name").Count(&stat.TotalMarkets).Error; err != nil {
		return fmt.Errorf("统计市场数失败: %w", err)
	}
	if err := s.db.Model(&models.PriceRecord{}).
		Distinct("variety_name").Count(&stat.TotalVarieties).Error; err != nil {
		return fmt.Errorf("统计品种数失败: %w", err)
	}
	if err := s.db.Model(&models.PriceRecord{}).
		Distinct("province").Count(&stat.TotalProvinces).Error; err != nil {
		return fmt.Errorf("统计省份数失败: %w", err)
	}

	var avgPrice *float64
	if err := s.db.Model(&models.PriceRecord{}).
		Where("avg_price > 0").
		Select("AVG(avg_price)").Scan(&avgPrice).Error; err != nil {
		return fmt.Errorf("统计平均价失败: %w", err)
	}
	if avgPrice != nil {
		stat.AvgPriceAll = *avgPrice
	}

	dayStart, dayEnd := dayBounds(statDate)
	if err := s.db.Model(&models.PriceRecord{}).
		Where("crawl_time >= ? AND crawl_time < ?", dayStart, dayEnd).
		Count(&stat.PriceUpdates).Error; err != nil {
		return fmt.Errorf("统计当日更新数失败: %w", err)
	}

	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "stat_date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_records", "total_markets", "total_varieties",
			"total_provinces", "avg_price_all", "price_updates",
		}),
	}).Create(&stat).Error
}

// QueryPrices 按条件查询价格数据, 交易日期和爬取时间倒序
func (s *Store) QueryPrices(filters QueryFilters, limit int) ([]models.PriceRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 10000 {
		limit = 10000
	}

	q := s.db.Model(&models.PriceRecord{})
	if filters.Province != "" {
		q = q.Where("province LIKE ?", "%"+filters.Province+"%")
	}
	if filters.MarketName != "" {
		q = q.Where("market_name LIKE ?", "%"+filters.MarketName+"%")
	}
	if filters.VarietyName != "" {
		q = q.Where("variety_name LIKE ?", "%"+filters.VarietyName+"%")
	}
	if filters.StartDate != "" {
		q = q.Where("trade_date >= ?", filters.StartDate)
	}
	if filters.EndDate != "" {
		q = q.Where("trade_date <= ?", filters.EndDate)
	}
	if filters.MinPrice > 0 {
		q = q.Where("avg_price >= ?", filters.MinPrice)
	}
	if filters.MaxPrice > 0 {
		q = q.Where("avg_price <= ?", filters.MaxPrice)
	}

	var records []models.PriceRecord
	err := q.Order("trade_date DESC, crawl_time DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("查询价格数据失败: %w", err)
	}
	return records, nil
}

// Cleanup deletes rows strictly older than now-retentionDays from the price,
// history and statistics tables, then reclaims storage. One cutoff date is
// computed and applied to all three deletions.
func (s *Store) Cleanup(retentionDays int) (CleanupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -retentionDays).Format("2006-01-02")
	result := CleanupResult{CutoffDate: cutoff}

	prices := s.db.Where("trade_date < ?", cutoff).Delete(&models.PriceRecord{})
	if prices.Error != nil {
		return result, fmt.Errorf("清理价格数据失败: %w", prices.Error)
	}
	result.DeletedPrices = prices.RowsAffected

	history := s.db.Where("price_date < ?", cutoff).Delete(&models.PriceHistory{})
	if history.Error != nil {
		return result, fmt.Errorf("清理价格历史失败: %w", history.Error)
	}
	result.DeletedHistory = history.RowsAffected

	stats := s.db.Where("stat_date < ?", cutoff).Delete(&models.DailyStatistic{})
	if stats.Error != nil {
		return result, fmt.Errorf("清理统计数据失败: %w", stats.Error)
	}
	result.DeletedStats = stats.RowsAffected

	if err := s.db.Exec("VACUUM").Error; err != nil {
		log.Printf("[数据库] VACUUM失败: %v", err)
	}

	log.Printf("[数据库] 清理完成: 价格 %d 条, 历史 %d 条, 统计 %d 条 (截止 %s)",
		result.DeletedPrices, result.DeletedHistory, result.DeletedStats, cutoff)
	return result, nil
}

// PriceStatistics returns windowed statistics, optionally narrowed by variety
// and province substring, over the last N days of trade dates.
func (s *Store) PriceStatistics(varietyName, province string, days int) (PriceStats, error) {
	base := s.db.Model(&models.PriceRecord{}).Where("avg_price > 0")
	if varietyName != "" {
		base = base.Where("variety_name LIKE ?", "%"+varietyName+"%")
	}
	if province != "" {
		base = base.Where("province LIKE ?", "%"+province+"%")
	}
	if days > 0 {
		since := time.Now().AddDate(0, 0, -days).Format("2006-01-02")
		base = base.Where("trade_date >= ?", since)
	}

	var row struct {
		TotalRecords   int64
		TotalMarkets   int64
		TotalVarieties int64
		MinPrice       *float64
		MaxPrice       *float64
		AvgPrice       *float64
		EarliestDate   *string
		LatestDate     *string
	}
	err := base.Session(&gorm.Session{}).Select(
		"COUNT(*) AS total_records, " +
			"COUNT(DISTINCT market_name) AS total_markets, " +
			"COUNT(DISTINCT variety_name) AS total_varieties, " +
			"MIN(avg_price) AS min_price, MAX(avg_price) AS max_price, AVG(avg_price) AS avg_price, " +
			"MIN(trade_date) AS earliest_date, MAX(trade_date) AS latest_date").
		Scan(&row).Error
	if err != nil {
		return PriceStats{}, fmt.Errorf("查询统计信息失败: %w", err)
	}

	stats := PriceStats{
		TotalRecords:   row.TotalRecords,
		TotalMarkets:   row.TotalMarkets,
		TotalVarieties: row.TotalVarieties,
		Distribution:   make(map[string]int64),
	}
	if row.MinPrice != nil {
		stats.MinPrice = *row.MinPrice
	}
	if row.MaxPrice != nil {
		stats.MaxPrice = *row.MaxPrice
	}
	if row.AvgPrice != nil {
		stats.AvgPrice = *row.AvgPrice
	}
	if row.EarliestDate != nil {
		stats.EarliestDate = *row.EarliestDate
	}
	if row.LatestDate != nil {
		stats.LatestDate = *row.LatestDate
	}

	var buckets []struct {
		PriceRange string
		Count      int64
	}
	err = base.Session(&gorm.Session{}).Select(
		"CASE " +
			"WHEN avg_price < 1 THEN '0-1元' " +
			"WHEN avg_price < 5 THEN '1-5元' " +
			"WHEN avg_price < 10 THEN '5-10元' " +
			"WHEN avg_price < 20 THEN '10-20元' " +
			"WHEN avg_price < 50 THEN '20-50元' " +
			"ELSE '50元以上' END AS price_range, COUNT(*) AS count").
		Group("price_range").
		Scan(&buckets).Error
	if err != nil {
		return stats, fmt.Errorf("查询价格分布失败: %w", err)
	}
	for _, b := range buckets {
		stats.Distribution[b.PriceRange] = b.Count
	}
	return stats, nil
}

// TodayRecordCount 返回今日爬取的记录数
func (s *Store) TodayRecordCount() (int64, error) {
	dayStart, dayEnd := dayBounds(time.Now().Format("2006-01-02"))
	var count int64
	err := s.db.Model(&models.PriceRecord{}).
		Where("crawl_time >= ? AND crawl_time < ?", dayStart, dayEnd).
		Count(&count).Error
	return count, err
}

// LastCrawlTime 返回最新一次爬取时间, 没有数据时返回零值
func (s *Store) LastCrawlTime() (time.Time, error) {
	var rec models.PriceRecord
	err := s.db.Order("crawl_time DESC").First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return rec.CrawlTime, nil
}

// MarketSnapshot loads the stored records for one market name, newest crawl
// first.
func (s *Store) MarketSnapshot(marketName string, limit int) ([]models.PriceRecord, error) {
	var records []models.PriceRecord
	err := s.db.Where("market_name = ?", marketName).
		Order("crawl_time DESC").Limit(limit).Find(&records).Error
	return records, err
}

// Provinces returns the distinct province names present in the price table.
func (s *Store) Provinces() ([]string, error) {
	var provinces []string
	err := s.db.Model(&models.PriceRecord{}).
		Where("province <> ''").
		Distinct("province").Order("province").Pluck("province", &provinces).Error
	return provinces, err
}

// MarketNames returns distinct market names, optionally filtered by province.
func (s *Store) MarketNames(province string) ([]string, error) {
	q := s.db.Model(&models.PriceRecord{})
	if province != "" {
		q = q.Where("province LIKE ?", "%"+province+"%")
	}
	var names []string
	err := q.Distinct("market_name").Order("market_name").Pluck("market_name", &names).Error
	return names, err
}

// VarietyNames returns distinct variety names, optionally filtered by province.
func (s *Store) VarietyNames(province string) ([]string, error) {
	q := s.db.Model(&models.PriceRecord{})
	if province != "" {
		q = q.Where("province LIKE ?", "%"+province+"%")
	}
	var names []string
	err := q.Distinct("variety_name").Order("variety_name").Pluck("variety_name", &names).Error
	return names, err
}

// DailyPricePoint 某品种按交易日汇总的均价
type DailyPricePoint struct {
	Date     string  `json:"date" gorm:"column:trade_date"`
	AvgPrice float64 `json:"avg_price" gorm:"column:avg_price"`
}

// VarietyDailySeries returns the variety's average price per trade date over
// the last N days, averaged across markets, ascending by date.
func (s *Store) VarietyDailySeries(varietyName string, days int) ([]DailyPricePoint, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().AddDate(0, 0, -days).Format("2006-01-02")

	var points []DailyPricePoint
	err := s.db.Model(&models.PriceRecord{}).
		Select("trade_date, AVG(avg_price) AS avg_price").
		Where("variety_name LIKE ? AND avg_price > 0 AND trade_date >= ?",
			"%"+varietyName+"%", since).
		Group("trade_date").
		Order("trade_date").
		Scan(&points).Error
	if err != nil {
		return nil, fmt.Errorf("查询品种价格序列失败: %w", err)
	}
	return points, nil
}

// Markets returns market rows, optionally filtered by province substring.
func (s *Store) Markets(province string) ([]models.Market, error) {
	q := s.db.Model(&models.Market{})
	if province != "" {
		q = q.Where("province LIKE ?", "%"+province+"%")
	}
	var markets []models.Market
	err := q.Order("market_name").Find(&markets).Error
	return markets, err
}

// dayBounds returns [00:00, 24:00) of the given local calendar date.
func dayBounds(date string) (time.Time, time.Time) {
	day, err := time.ParseInLocation("2006-01-02", date, time.Local)
	if err != nil {
		day = time.Now().Truncate(24 * time.Hour)
	}
	return day, day.AddDate(0, 0, 1)
}
