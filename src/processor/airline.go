package processor

import (
	"regexp"
	"strings"
)

// AirlineSource 记录航司代码的来源，便于排查是否走到了兜底逻辑
type AirlineSource string

const (
	AirlineFromColumn     AirlineSource = "column"
	AirlineFromFlightID   AirlineSource = "flight_id"
	AirlineFromPosition   AirlineSource = "positional"
	AirlineFromDefault    AirlineSource = "default"
	AirlineNotPartitioned AirlineSource = ""
)

// AirlineOptions 航司分组参数
type AirlineOptions struct {
	Primary   string
	Secondary string

	// PositionalFallback 航班号一个都提取不出航司前缀时，按行号前后对半分成两个航司。
	// 已知局限：这种分组与航班实际归属无关，默认关闭。
	PositionalFallback bool
}

func DefaultAirlineOptions() AirlineOptions {
	return AirlineOptions{Primary: "AK", Secondary: "D7"}
}

// 航班号前缀：两位字母数字混合的代码优先匹配，其次1-3位字母，后面必须跟数字
var airlinePrefix = regexp.MustCompile(`^([A-Z][0-9]|[0-9][A-Z]|[A-Z]{1,3})[- ]?[0-9]`)

// ExtractAirlineCode 从航班号中提取航司代码，提取不到返回空串
func ExtractAirlineCode(flightID string) string {
	m := airlinePrefix.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(flightID)))
	if m == nil {
		return ""
	}
	return m[1]
}

// AssignAirlineCodes 返回补齐航司代码后的副本，不修改入参
func AssignAirlineCodes(records []FlightSaleRecord, opts AirlineOptions) ([]FlightSaleRecord, AirlineSource) {
	out := make([]FlightSaleRecord, len(records))
	copy(out, records)
	if len(out) == 0 {
		return out, AirlineFromDefault
	}

	hasColumn := false
	for _, r := range out {
		if strings.TrimSpace(r.AirlineCode) != "" {
			hasColumn = true
			break
		}
	}
	if hasColumn {
		for i := range out {
			out[i].AirlineCode = strings.ToUpper(strings.TrimSpace(out[i].AirlineCode))
			if out[i].AirlineCode == "" {
				out[i].AirlineCode = opts.Primary
			}
		}
		return out, AirlineFromColumn
	}

	matched := 0
	for i := range out {
		out[i].AirlineCode = ExtractAirlineCode(out[i].FlightID)
		if out[i].AirlineCode != "" {
			matched++
		}
	}

	if matched == 0 && opts.PositionalFallback {
		// 整个数据集按行号对半分，不按航班
		half := len(out) / 2
		for i := range out {
			if i < half {
				out[i].AirlineCode = opts.Primary
			} else {
				out[i].AirlineCode = opts.Secondary
			}
		}
		return out, AirlineFromPosition
	}

	for i := range out {
		if out[i].AirlineCode == "" {
			out[i].AirlineCode = opts.Primary
		}
	}
	if matched == 0 {
		return out, AirlineFromDefault
	}
	return out, AirlineFromFlightID
}
