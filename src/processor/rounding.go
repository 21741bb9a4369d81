package processor

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// RoundingPolicy 排行榜分组合计的取整策略
type RoundingPolicy string

const (
	RoundNone RoundingPolicy = "none"
	// RoundUp 向上取整（round_up_partition）
	RoundUp RoundingPolicy = "round_up"
	// RoundDown 向下取整，即截断（round_down_partition）
	RoundDown RoundingPolicy = "round_down"
)

func ParseRoundingPolicy(s string) (RoundingPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return RoundNone, nil
	case "round_up", "up", "ceil", "round_up_partition":
		return RoundUp, nil
	case "round_down", "down", "floor", "round_down_partition":
		return RoundDown, nil
	}
	return RoundNone, fmt.Errorf("未知的取整策略: %q", s)
}

func (p RoundingPolicy) Apply(d decimal.Decimal) decimal.Decimal {
	switch p {
	case RoundUp:
		return d.Ceil()
	case RoundDown:
		return d.Floor()
	default:
		return d
	}
}

// PoolRounding 奖池计价前对总瓶数的取整策略
type PoolRounding string

const (
	// PoolRoundingAuto 只要有任一行带个人销量就向上取整，否则不取整
	PoolRoundingAuto PoolRounding = "auto"
	PoolRoundingNone PoolRounding = "none"
	PoolRoundingCeil PoolRounding = "ceil"
)

func ParsePoolRounding(s string) (PoolRounding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return PoolRoundingAuto, nil
	case "none":
		return PoolRoundingNone, nil
	case "ceil", "round_up":
		return PoolRoundingCeil, nil
	}
	return PoolRoundingAuto, fmt.Errorf("未知的奖池取整策略: %q", s)
}

func (p PoolRounding) apply(total decimal.Decimal, hasCrewQuantity bool) decimal.Decimal {
	switch p {
	case PoolRoundingCeil:
		return total.Ceil()
	case PoolRoundingNone:
		return total
	default:
		if hasCrewQuantity {
			return total.Ceil()
		}
		return total
	}
}
