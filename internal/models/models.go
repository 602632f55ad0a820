package models

import (
	"time"
)

// PriceRecord represents one variety's quotation at one market for one trade date.
// Natural key: (market_id, variety_id, trade_date), last write wins on crawl time.
type PriceRecord struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	MarketID      string    `json:"market_id" gorm:"not null;uniqueIndex:idx_prices_natural,priority:1"`
	MarketCode    string    `json:"market_code"`
	MarketName    string    `json:"market_name" gorm:"not null;index"`
	MarketType    string    `json:"market_type"`
	VarietyID     string    `json:"variety_id" gorm:"uniqueIndex:idx_prices_natural,priority:2"`
	VarietyName   string    `json:"variety_name" gorm:"not null;index"`
	VarietyType   string    `json:"variety_type"`
	VarietyTypeID string    `json:"variety_type_id"`
	MinPrice      float64   `json:"min_price" gorm:"default:0"`
	AvgPrice      float64   `json:"avg_price" gorm:"default:0;index"`
	MaxPrice      float64   `json:"max_price" gorm:"default:0"`
	Unit          string    `json:"unit"`
	TradeDate     string    `json:"trade_date" gorm:"not null;index;uniqueIndex:idx_prices_natural,priority:3"` // YYYY-MM-DD
	TradeVolume   float64   `json:"trade_volume" gorm:"default:0"`
	ProducePlace  string    `json:"produce_place"`
	SalePlace     string    `json:"sale_place"`
	Province      string    `json:"province" gorm:"index"`
	ProvinceCode  string    `json:"province_code"`
	AreaName      string    `json:"area_name"`
	AreaCode      string    `json:"area_code"`
	CrawlTime     time.Time `json:"crawl_time" gorm:"index"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RecordKey is the natural key used for dedup and merge.
type RecordKey struct {
	MarketID  string
	VarietyID string
	TradeDate string
}

// Key returns the record's natural key.
func (r *PriceRecord) Key() RecordKey {
	return RecordKey{MarketID: r.MarketID, VarietyID: r.VarietyID, TradeDate: r.TradeDate}
}

// Market represents a wholesale market, created lazily from price records.
type Market struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	MarketID     string    `json:"market_id" gorm:"unique;not null"`
	MarketCode   string    `json:"market_code"`
	MarketName   string    `json:"market_name" gorm:"not null"`
	MarketType   string    `json:"market_type"`
	Province     string    `json:"province" gorm:"index"`
	ProvinceCode string    `json:"province_code"`
	AreaName     string    `json:"area_name"`
	AreaCode     string    `json:"area_code"`
	Address      string    `json:"address"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Status       string    `json:"status" gorm:"default:'active'"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Variety represents a produce variety, created lazily from price records.
type Variety struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	VarietyID     string    `json:"variety_id" gorm:"unique;not null"`
	VarietyName   string    `json:"variety_name" gorm:"not null;index"`
	VarietyType   string    `json:"variety_type" gorm:"index"`
	VarietyTypeID string    `json:"variety_type_id"`
	Unit          string    `json:"unit"`
	Status        string    `json:"status" gorm:"default:'active'"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PriceHistory keeps day-over-day price movements per market/variety.
type PriceHistory struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	MarketID   string    `json:"market_id" gorm:"not null;uniqueIndex:idx_history_natural,priority:1"`
	VarietyID  string    `json:"variety_id" gorm:"not null;uniqueIndex:idx_history_natural,priority:2"`
	PriceDate  string    `json:"price_date" gorm:"not null;index;uniqueIndex:idx_history_natural,priority:3"`
	MinPrice   float64   `json:"min_price" gorm:"default:0"`
	AvgPrice   float64   `json:"avg_price" gorm:"default:0"`
	MaxPrice   float64   `json:"max_price" gorm:"default:0"`
	Change     float64   `json:"price_change" gorm:"column:price_change;default:0"`
	ChangeRate float64   `json:"change_rate" gorm:"default:0"`
	CreatedAt  time.Time `json:"created_at"`
}

// DailyStatistic is the date-keyed rollup recomputed after every ingestion batch.
type DailyStatistic struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	StatDate       string    `json:"stat_date" gorm:"unique;not null"`
	TotalRecords   int64     `json:"total_records" gorm:"default:0"`
	TotalMarkets   int64     `json:"total_markets" gorm:"default:0"`
	TotalVarieties int64     `json:"total_varieties" gorm:"default:0"`
	TotalProvinces int64     `json:"total_provinces" gorm:"default:0"`
	AvgPriceAll    float64   `json:"avg_price_all" gorm:"default:0"`
	PriceUpdates   int64     `json:"price_updates" gorm:"default:0"`
	CreatedAt      time.Time `json:"created_at"`
}
