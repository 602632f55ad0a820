package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"farm-market-monitor/internal/models"
)

// Format identifies an export encoding.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatExcel Format = "excel"
)

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatExcel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv; charset=utf-8"
	}
}

// Extension returns the file extension for the format, dot included.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return ".json"
	case FormatExcel:
		return ".xlsx"
	default:
		return ".csv"
	}
}

// ParseFormat maps a query-string value onto a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "excel", "xlsx":
		return FormatExcel, nil
	}
	return "", fmt.Errorf("不支持的导出格式: %s", s)
}

var exportHeader = []string{
	"市场", "省份", "品种", "分类", "最低价", "平均价", "最高价", "单位", "交易日期", "采集时间",
}

func recordRow(r *models.PriceRecord) []string {
	return []string{
		r.MarketName, r.Province, r.VarietyName, r.VarietyType,
		strconv.FormatFloat(r.MinPrice, 'f', 2, 64),
		strconv.FormatFloat(r.AvgPrice, 'f', 2, 64),
		strconv.FormatFloat(r.MaxPrice, 'f', 2, 64),
		r.Unit, r.TradeDate,
		r.CrawlTime.Format("2006-01-02 15:04:05"),
	}
}

// Write encodes records in the given format.
func Write(w io.Writer, format Format, records []models.PriceRecord) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, records)
	case FormatExcel:
		return writeExcel(w, records)
	default:
		return writeCSV(w, records)
	}
}

func writeCSV(w io.Writer, records []models.PriceRecord) error {
	// UTF-8 BOM so Excel opens Chinese headers correctly.
	if _, err := w.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for i := range records {
		if err := cw.Write(recordRow(&records[i])); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeJSON(w io.Writer, records []models.PriceRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func writeExcel(w io.Writer, records []models.PriceRecord) error {
	wb := excelize.NewFile()
	sheet := "价格数据"
	wb.SetSheetName("Sheet1", sheet)
	for i, h := range exportHeader {
		wb.SetCellValue(sheet, excelColumn(i)+"1", h)
	}
	for idx := range records {
		r := &records[idx]
		row := strconv.Itoa(idx + 2)
		wb.SetCellValue(sheet, excelColumn(0)+row, r.MarketName)
		wb.SetCellValue(sheet, excelColumn(1)+row, r.Province)
		wb.SetCellValue(sheet, excelColumn(2)+row, r.VarietyName)
		wb.SetCellValue(sheet, excelColumn(3)+row, r.VarietyType)
		wb.SetCellValue(sheet, excelColumn(4)+row, r.MinPrice)
		wb.SetCellValue(sheet, excelColumn(5)+row, r.AvgPrice)
		wb.SetCellValue(sheet, excelColumn(6)+row, r.MaxPrice)
		wb.SetCellValue(sheet, excelColumn(7)+row, r.Unit)
		wb.SetCellValue(sheet, excelColumn(8)+row, r.TradeDate)
		wb.SetCellValue(sheet, excelColumn(9)+row, r.CrawlTime.Format("2006-01-02 15:04:05"))
	}
	_ = wb.SetColWidth(sheet, "A", excelColumn(len(exportHeader)-1), 16)
	return wb.Write(w)
}

func excelColumn(idx int) string {
	col := ""
	i := idx + 1
	for i > 0 {
		i--
		col = string(rune('A'+i%26)) + col
		i /= 26
	}
	return col
}
