package utils

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"
)

func Contains[T comparable](slice []T, item T) bool {
	for _, v := range slice {
		if v == item {
			return true
		}
	}
	return false
}

// 辅助函数：判断DataFrame是否有某列
func HasColumn(df dataframe.DataFrame, name string) bool {
	return Contains(df.Names(), name)
}

// DateFormats 默认尝试的日期格式，歧义日期按月在前处理
var DateFormats = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006/01/02",
	"2006/01/02 15:04:05",
	"2006/1/2",
	"01/02/2006",
	"1/2/2006",
	"01/02/2006 15:04:05",
	"01-02-2006",
	"02-Jan-2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"20060102",
}

// ParseDate 依次尝试 extra 与默认格式，成功时只保留日期部分
func ParseDate(s string, extra ...string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "NaN" {
		return time.Time{}, fmt.Errorf("日期为空")
	}

	layouts := append(append([]string{}, extra...), DateFormats...)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("无法识别的日期格式: %q", s)
}

// ExcelSerialToTime excel序列日期转time.Time，处理1900年闰年错误（2月29日不存在）
func ExcelSerialToTime(s string) (time.Time, bool) {
	excelDays, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || excelDays <= 0 {
		return time.Time{}, false
	}

	base := time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)
	if excelDays < 60 {
		base = base.AddDate(0, 0, 1)
	}
	days := int(excelDays)
	fraction := excelDays - float64(days)

	return base.AddDate(0, 0, days).
		Add(time.Duration(86400*fraction*1e9) * time.Nanosecond), true
}

// Retry 最多执行 times 次，两次之间间隔 interval，ctx 取消时立即返回
func Retry(ctx context.Context, times int, interval time.Duration, fn func() error) error {
	if times < 1 {
		times = 1
	}

	var err error
	for i := 0; i < times; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == times-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("重试被取消: %w", ctx.Err())
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("重试 %d 次后失败: %w", times, err)
}
