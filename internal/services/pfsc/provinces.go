package pfsc

// Provinces 静态省份列表, 不依赖远程接口
var Provinces = []Province{
	{Code: "110000", Name: "北京市"},
	{Code: "120000", Name: "天津市"},
	{Code: "130000", Name: "河北省"},
	{Code: "140000", Name: "山西省"},
	{Code: "150000", Name: "内蒙古自治区"},
	{Code: "210000", Name: "辽宁省"},
	{Code: "220000", Name: "吉林省"},
	{Code: "230000", Name: "黑龙江省"},
	{Code: "310000", Name: "上海市"},
	{Code: "320000", Name: "江苏省"},
	{Code: "330000", Name: "浙江省"},
	{Code: "340000", Name: "安徽省"},
	{Code: "350000", Name: "福建省"},
	{Code: "360000", Name: "江西省"},
	{Code: "370000", Name: "山东省"},
	{Code: "410000", Name: "河南省"},
	{Code: "420000", Name: "湖北省"},
	{Code: "430000", Name: "湖南省"},
	{Code: "440000", Name: "广东省"},
	{Code: "450000", Name: "广西壮族自治区"},
	{Code: "460000", Name: "海南省"},
	{Code: "500000", Name: "重庆市"},
	{Code: "510000", Name: "四川省"},
	{Code: "520000", Name: "贵州省"},
	{Code: "530000", Name: "云南省"},
	{Code: "540000", Name: "西藏自治区"},
	{Code: "610000", Name: "陕西省"},
	{Code: "620000", Name: "甘肃省"},
	{Code: "630000", Name: "青海省"},
	{Code: "640000", Name: "宁夏回族自治区"},
	{Code: "650000", Name: "新疆维吾尔自治区"},
}

// FilterProvinces returns the provinces whose names are in the allow-list;
// an empty allow-list selects all provinces.
func FilterProvinces(names []string) []Province {
	if len(names) == 0 {
		return Provinces
	}
	allowed := make(map[string]struct{}, len(names))
	for _, n := range names {
		allowed[n] = struct{}{}
	}
	var selected []Province
	for _, p := range Provinces {
		if _, ok := allowed[p.Name]; ok {
			selected = append(selected, p)
		}
	}
	return selected
}
