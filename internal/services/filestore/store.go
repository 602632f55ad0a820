package filestore

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"farm-market-monitor/internal/models"
)

const dateDirLayout = "20060102"

// Store mirrors crawled price data onto disk as per-date, per-market CSV and
// JSON files. Layout:
//
//	<root>/<yyyymmdd>/<market>/<market>.csv
//	<root>/<yyyymmdd>/<market>/<market>.json
//	<root>/<yyyymmdd>/_summary.csv
//	<root>/merged/   consolidated cross-date files
//	<root>/summary/  per-trade-date rollups
type Store struct {
	root string
	mu   sync.Mutex
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the mirror's base directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) marketDir(dateDir, marketName string) string {
	safe := sanitizeMarketName(marketName)
	return filepath.Join(s.root, dateDir, safe)
}

func (s *Store) marketFile(dateDir, marketName, ext string) string {
	safe := sanitizeMarketName(marketName)
	return filepath.Join(s.marketDir(dateDir, marketName), safe+ext)
}

// SaveMarketData merges records into today's per-market CSV and JSON files.
// Existing rows for the same natural key are replaced when the incoming crawl
// time is newer.
func (s *Store) SaveMarketData(marketName string, records []models.PriceRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dateDir := time.Now().Format(dateDirLayout)
	dir := s.marketDir(dateDir, marketName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("创建市场目录失败: %w", err)
	}

	csvPath := s.marketFile(dateDir, marketName, ".csv")
	existing, err := readCSV(csvPath)
	if err != nil && !os.IsNotExist(err) {
		log.Printf("[文件存储] 读取 %s 失败, 将覆盖: %v", csvPath, err)
		existing = nil
	}
	merged := Merge(existing, records)

	if err := writeCSV(csvPath, merged); err != nil {
		return fmt.Errorf("写入CSV失败: %w", err)
	}
	if err := writeJSON(s.marketFile(dateDir, marketName, ".json"), merged); err != nil {
		return fmt.Errorf("写入JSON失败: %w", err)
	}
	if err := s.rebuildDaySummary(dateDir); err != nil {
		log.Printf("[文件存储] 更新当日汇总失败: %v", err)
	}
	return nil
}

// rebuildDaySummary regenerates <root>/<date>/_summary.csv from every market
// CSV under the date directory. Caller holds the lock.
func (s *Store) rebuildDaySummary(dateDir string) error {
	dayPath := filepath.Join(s.root, dateDir)
	entries, err := os.ReadDir(dayPath)
	if err != nil {
		return err
	}
	var all []models.PriceRecord
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dayPath, e.Name(), e.Name()+".csv")
		records, err := readCSV(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			log.Printf("[文件存储] 汇总时跳过 %s: %v", path, err)
			continue
		}
		all = append(all, records...)
	}
	all = Merge(nil, all)
	return writeCSV(filepath.Join(dayPath, "_summary.csv"), all)
}

// LatestSnapshot returns the most recent stored batch for a market, scanning
// date directories newest first.
func (s *Store) LatestSnapshot(marketName string) ([]models.PriceRecord, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var dates []string
	for _, e := range entries {
		if e.IsDir() && len(e.Name()) == len(dateDirLayout) {
			if _, err := time.Parse(dateDirLayout, e.Name()); err == nil {
				dates = append(dates, e.Name())
			}
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	for _, d := range dates {
		records, err := readCSV(s.marketFile(d, marketName, ".csv"))
		if err == nil {
			return records, nil
		}
		if !os.IsNotExist(err) {
			log.Printf("[文件存储] 读取CSV快照失败, 改用JSON: %v", err)
		}
		// The JSON twin is written alongside the CSV, so it covers both a
		// missing and a corrupted CSV file.
		records, err = readJSON(s.marketFile(d, marketName, ".json"))
		if err == nil {
			return records, nil
		}
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	return nil, os.ErrNotExist
}

// HasChanged reports whether a freshly crawled batch differs from the latest
// stored snapshot for the market, comparing only today's records. It fails
// open: any missing or unreadable snapshot counts as changed so data is never
// silently dropped.
func (s *Store) HasChanged(marketName string, newBatch []models.PriceRecord) bool {
	snapshot, err := s.LatestSnapshot(marketName)
	if err != nil {
		return true
	}

	today := time.Now().Format("2006-01-02")
	oldToday := filterDate(snapshot, today)
	newToday := filterDate(newBatch, today)
	if len(oldToday) == 0 || len(newToday) == 0 {
		return true
	}
	if len(oldToday) != len(newToday) {
		return true
	}

	byKey := make(map[models.RecordKey]models.PriceRecord, len(oldToday))
	for i := range oldToday {
		byKey[oldToday[i].Key()] = oldToday[i]
	}
	for i := range newToday {
		old, ok := byKey[newToday[i].Key()]
		if !ok {
			return true
		}
		if old.MinPrice != newToday[i].MinPrice ||
			old.AvgPrice != newToday[i].AvgPrice ||
			old.MaxPrice != newToday[i].MaxPrice {
			return true
		}
	}
	return false
}

func filterDate(records []models.PriceRecord, date string) []models.PriceRecord {
	var out []models.PriceRecord
	for i := range records {
		if records[i].TradeDate == date {
			out = append(out, records[i])
		}
	}
	return out
}

// ConsolidateAll merges every per-market file across all date directories
// into <root>/merged/all_markets.{csv,json} and writes per-trade-date rollups
// under <root>/summary/.
func (s *Store) ConsolidateAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return err
	}
	var all []models.PriceRecord
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := time.Parse(dateDirLayout, e.Name()); err != nil {
			continue
		}
		dayPath := filepath.Join(s.root, e.Name())
		markets, err := os.ReadDir(dayPath)
		if err != nil {
			continue
		}
		for _, m := range markets {
			if !m.IsDir() {
				continue
			}
			records, err := readCSV(filepath.Join(dayPath, m.Name(), m.Name()+".csv"))
			if err != nil {
				continue
			}
			all = append(all, records...)
		}
	}
	if len(all) == 0 {
		return nil
	}
	all = Merge(nil, all)

	mergedDir := filepath.Join(s.root, "merged")
	if err := os.MkdirAll(mergedDir, 0o755); err != nil {
		return err
	}
	if err := writeCSV(filepath.Join(mergedDir, "all_markets.csv"), all); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(mergedDir, "all_markets.json"), all); err != nil {
		return err
	}

	summaryDir := filepath.Join(s.root, "summary")
	if err := os.MkdirAll(summaryDir, 0o755); err != nil {
		return err
	}
	byDate := make(map[string][]models.PriceRecord)
	for i := range all {
		byDate[all[i].TradeDate] = append(byDate[all[i].TradeDate], all[i])
	}
	for date, records := range byDate {
		name := "summary_" + date + ".csv"
		if err := writeCSV(filepath.Join(summaryDir, name), records); err != nil {
			return err
		}
	}
	log.Printf("[文件存储] 汇总完成: %d 条记录, %d 个交易日", len(all), len(byDate))
	return nil
}
