package pfsc

import (
	"bytes"
	"strconv"
)

// Province 省份代码+名称
type Province struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// MarketDescriptor 当日有报价的市场
type MarketDescriptor struct {
	MarketID   string `json:"marketId"`
	MarketName string `json:"marketName"`
}

// flexFloat tolerates number, quoted number and null in upstream payloads,
// defaulting to 0.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			*f = 0
			return nil
		}
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexFloat(v)
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}

// RawItem is one quotation row as returned by the pageList endpoint.
type RawItem struct {
	MarketCode      string    `json:"marketCode"`
	MarketName      string    `json:"marketName"`
	MarketType      string    `json:"marketType"`
	VarietyID       string    `json:"varietyId"`
	VarietyName     string    `json:"varietyName"`
	VarietyTypeName string    `json:"varietyTypeName"`
	VarietyTypeID   string    `json:"varietyTypeId"`
	MinimumPrice    flexFloat `json:"minimumPrice"`
	MiddlePrice     flexFloat `json:"middlePrice"`
	HighestPrice    flexFloat `json:"highestPrice"`
	MeteringUnit    string    `json:"meteringUnit"`
	ReportTime      string    `json:"reportTime"`
	TradingVolume   flexFloat `json:"tradingVolume"`
	ProducePlace    string    `json:"producePlace"`
	SalePlace       string    `json:"salePlace"`
	ProvinceName    string    `json:"provinceName"`
	ProvinceCode    string    `json:"provinceCode"`
	AreaName        string    `json:"areaName"`
	AreaCode        string    `json:"areaCode"`
	InStorageTime   string    `json:"inStorageTime"`
}

type marketListResponse struct {
	Code    int                `json:"code"`
	Message string             `json:"message"`
	Content []MarketDescriptor `json:"content"`
}

type pageListResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Content struct {
		List  []RawItem `json:"list"`
		Total int       `json:"total"`
		Pages int       `json:"pages"`
	} `json:"content"`
}

type pageListPayload struct {
	MarketID      string `json:"marketId"`
	PageNum       int    `json:"pageNum"`
	PageSize      int    `json:"pageSize"`
	Order         string `json:"order"`
	Key           string `json:"key"`
	VarietyTypeID string `json:"varietyTypeId"`
	VarietyID     string `json:"varietyId"`
	StartDate     string `json:"startDate"`
	EndDate       string `json:"endDate"`
}
