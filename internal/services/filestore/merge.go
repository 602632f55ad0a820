package filestore

import (
	"sort"

	"farm-market-monitor/internal/models"
)

// Merge resolves an incoming batch against existing records by natural key.
// When a key appears on both sides the record with the later crawl time wins,
// ties prefer the incoming record. Output is sorted by (trade date, variety
// name) for a deterministic storage layout.
func Merge(existing, incoming []models.PriceRecord) []models.PriceRecord {
	merged := make(map[models.RecordKey]models.PriceRecord, len(existing)+len(incoming))
	for i := range existing {
		merged[existing[i].Key()] = existing[i]
	}
	for i := range incoming {
		rec := incoming[i]
		if cur, ok := merged[rec.Key()]; ok && cur.CrawlTime.After(rec.CrawlTime) {
			continue
		}
		merged[rec.Key()] = rec
	}

	out := make([]models.PriceRecord, 0, len(merged))
	for _, rec := range merged {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TradeDate != out[j].TradeDate {
			return out[i].TradeDate < out[j].TradeDate
		}
		return out[i].VarietyName < out[j].VarietyName
	})
	return out
}
