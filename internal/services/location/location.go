package location

import (
	"math"
	"sort"
	"strings"

	"farm-market-monitor/internal/models"
)

// Coordinate is a WGS-84 point.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// cityCoordinates maps major city and province-capital names to coordinates,
// used to geolocate markets whose records only carry an area name.
var cityCoordinates = map[string]Coordinate{
	"北京":   {39.9042, 116.4074},
	"上海":   {31.2304, 121.4737},
	"天津":   {39.3434, 117.3616},
	"重庆":   {29.4316, 106.9123},
	"石家庄":  {38.0428, 114.5149},
	"太原":   {37.8706, 112.5489},
	"呼和浩特": {40.8426, 111.7492},
	"沈阳":   {41.8057, 123.4315},
	"长春":   {43.8171, 125.3235},
	"哈尔滨":  {45.8038, 126.5349},
	"南京":   {32.0603, 118.7969},
	"杭州":   {30.2741, 120.1551},
	"合肥":   {31.8206, 117.2272},
	"福州":   {26.0745, 119.2965},
	"南昌":   {28.6820, 115.8579},
	"济南":   {36.6512, 117.1201},
	"郑州":   {34.7466, 113.6254},
	"武汉":   {30.5928, 114.3055},
	"长沙":   {28.2282, 112.9388},
	"广州":   {23.1291, 113.2644},
	"南宁":   {22.8170, 108.3665},
	"海口":   {20.0444, 110.1999},
	"成都":   {30.5728, 104.0668},
	"贵阳":   {26.6470, 106.6302},
	"昆明":   {24.8801, 102.8329},
	"拉萨":   {29.6500, 91.1000},
	"西安":   {34.3416, 108.9398},
	"兰州":   {36.0611, 103.8343},
	"西宁":   {36.6171, 101.7782},
	"银川":   {38.4872, 106.2309},
	"乌鲁木齐": {43.8256, 87.6168},
	"深圳":   {22.5431, 114.0579},
	"青岛":   {36.0671, 120.3826},
	"大连":   {38.9140, 121.6147},
	"宁波":   {29.8683, 121.5440},
	"厦门":   {24.4798, 118.0894},
	"苏州":   {31.2989, 120.5853},
	"寿光":   {36.8575, 118.7906},
}

const earthRadiusKm = 6371.0

// Haversine returns the great-circle distance between two points in
// kilometers.
func Haversine(a, b Coordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Resolve looks up a coordinate for a city or area name. It strips common
// administrative suffixes before matching.
func Resolve(name string) (Coordinate, bool) {
	name = strings.TrimSpace(name)
	for _, suffix := range []string{"市", "省", "自治区", "特别行政区", "县", "区"} {
		name = strings.TrimSuffix(name, suffix)
	}
	if c, ok := cityCoordinates[name]; ok {
		return c, true
	}
	// Area names often embed the city, e.g. "山东省寿光市".
	for city, c := range cityCoordinates {
		if strings.Contains(name, city) {
			return c, true
		}
	}
	return Coordinate{}, false
}

// MarketDistance pairs a market with its distance from a query point.
type MarketDistance struct {
	Market     models.Market `json:"market"`
	DistanceKm float64       `json:"distance_km"`
}

// Nearby ranks markets by distance from origin, nearest first. Markets with
// no stored coordinates fall back to their area name; unlocatable markets are
// skipped. A non-positive limit returns all ranked markets.
func Nearby(origin Coordinate, markets []models.Market, limit int) []MarketDistance {
	var ranked []MarketDistance
	for i := range markets {
		m := markets[i]
		pos := Coordinate{Latitude: m.Latitude, Longitude: m.Longitude}
		if pos.Latitude == 0 && pos.Longitude == 0 {
			c, ok := Resolve(m.AreaName)
			if !ok {
				c, ok = Resolve(m.Province)
			}
			if !ok {
				continue
			}
			pos = c
		}
		ranked = append(ranked, MarketDistance{
			Market:     m,
			DistanceKm: math.Round(Haversine(origin, pos)*100) / 100,
		})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].DistanceKm < ranked[j].DistanceKm })
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
