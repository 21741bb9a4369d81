package file

import (
	"time"

	"CrewPrizePool/src/processor"
)

// FilterDateRange 按航班日期过滤，起止日期都包含在内，零值表示不限
func FilterDateRange(records []processor.FlightSaleRecord, from, to time.Time) []processor.FlightSaleRecord {
	if from.IsZero() && to.IsZero() {
		return records
	}

	from, to = dateOnly(from), dateOnly(to)
	out := make([]processor.FlightSaleRecord, 0, len(records))
	for _, r := range records {
		d := dateOnly(r.FlightDate)
		if !from.IsZero() && d.Before(from) {
			continue
		}
		if !to.IsZero() && d.After(to) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// DateBounds 数据集中最早和最晚的航班日期
func DateBounds(records []processor.FlightSaleRecord) (min, max time.Time) {
	for i, r := range records {
		if i == 0 || r.FlightDate.Before(min) {
			min = r.FlightDate
		}
		if i == 0 || r.FlightDate.After(max) {
			max = r.FlightDate
		}
	}
	return min, max
}

func dateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
