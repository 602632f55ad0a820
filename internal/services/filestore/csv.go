package filestore

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"farm-market-monitor/internal/models"
)

const crawlTimeLayout = "2006-01-02 15:04:05"

var csvHeader = []string{
	"market_id", "market_code", "market_name", "market_type",
	"variety_id", "variety_name", "variety_type", "variety_type_id",
	"min_price", "avg_price", "max_price", "unit",
	"trade_date", "trade_volume", "produce_place", "sale_place",
	"province", "province_code", "area_name", "area_code", "crawl_time",
}

// sanitizeMarketName keeps letters, digits, CJK characters, '-' and '_' so
// market names are safe as directory and file names.
func sanitizeMarketName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		case r > 0x7f:
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func recordToRow(r *models.PriceRecord) []string {
	return []string{
		r.MarketID, r.MarketCode, r.MarketName, r.MarketType,
		r.VarietyID, r.VarietyName, r.VarietyType, r.VarietyTypeID,
		formatPrice(r.MinPrice), formatPrice(r.AvgPrice), formatPrice(r.MaxPrice), r.Unit,
		r.TradeDate, formatPrice(r.TradeVolume), r.ProducePlace, r.SalePlace,
		r.Province, r.ProvinceCode, r.AreaName, r.AreaCode,
		r.CrawlTime.Format(crawlTimeLayout),
	}
}

func rowToRecord(row []string) (models.PriceRecord, error) {
	if len(row) != len(csvHeader) {
		return models.PriceRecord{}, fmt.Errorf("期望 %d 列, 实际 %d 列", len(csvHeader), len(row))
	}
	parse := func(s string) float64 {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	crawl, err := time.ParseInLocation(crawlTimeLayout, row[20], time.Local)
	if err != nil {
		return models.PriceRecord{}, fmt.Errorf("采集时间无效: %w", err)
	}
	return models.PriceRecord{
		MarketID: row[0], MarketCode: row[1], MarketName: row[2], MarketType: row[3],
		VarietyID: row[4], VarietyName: row[5], VarietyType: row[6], VarietyTypeID: row[7],
		MinPrice: parse(row[8]), AvgPrice: parse(row[9]), MaxPrice: parse(row[10]), Unit: row[11],
		TradeDate: row[12], TradeVolume: parse(row[13]), ProducePlace: row[14], SalePlace: row[15],
		Province: row[16], ProvinceCode: row[17], AreaName: row[18], AreaCode: row[19],
		CrawlTime: crawl,
	}, nil
}

func writeCSV(path string, records []models.PriceRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for i := range records {
		if err := w.Write(recordToRow(&records[i])); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func readCSV(path string) ([]models.PriceRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	records := make([]models.PriceRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec, err := rowToRecord(row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func writeJSON(path string, records []models.PriceRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func readJSON(path string) ([]models.PriceRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []models.PriceRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}
