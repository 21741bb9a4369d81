package processor

import (
	"github.com/shopspring/decimal"
)

// Options 聚合参数
type Options struct {
	// UnitPrize 每瓶对应的奖金，不做正负校验
	UnitPrize decimal.Decimal

	// TopN 每个排行榜保留的名次，<=0 表示全部
	TopN int

	PoolRounding PoolRounding
	// CrewQuantityColumn 数据集带 crew_sold_quantity 列，PoolRoundingAuto 按列判断，不受日期过滤后是否全空影响
	CrewQuantityColumn bool

	// Rounding 不分航司的总榜使用的取整策略
	Rounding RoundingPolicy

	PartitionByAirline bool
	// Partitions 指定要出榜的航司及顺序，为空时按首次出现顺序列出全部航司
	Partitions []string
	// PartitionRounding 各航司榜的取整策略，未配置的航司不取整
	PartitionRounding map[string]RoundingPolicy
	Airline           AirlineOptions
}

func DefaultOptions() Options {
	return Options{
		UnitPrize:    decimal.NewFromInt(5),
		TopN:         3,
		PoolRounding: PoolRoundingAuto,
		Rounding:     RoundNone,
		Airline:      DefaultAirlineOptions(),
	}
}

// Metrics 一次聚合的结果
type Metrics struct {
	Rows    int `json:"rows"`
	Flights int `json:"flights"`

	TotalBottles decimal.Decimal `json:"total_bottles"`
	// PrizePool 全精度，展示时再保留两位
	PrizePool decimal.Decimal `json:"prize_pool"`

	Leaderboards  []Leaderboard `json:"leaderboards"`
	AirlineSource AirlineSource `json:"airline_source,omitempty"`
}

func (m Metrics) DisplayPrizePool() string {
	return m.PrizePool.StringFixed(2)
}

// ComputeMetrics 纯函数：记录集 -> 奖池与排行榜。不修改入参，可并发调用。
func ComputeMetrics(records []FlightSaleRecord, opts Options) Metrics {
	m := Metrics{
		Rows:         len(records),
		TotalBottles: decimal.Zero,
		PrizePool:    decimal.Zero,
	}

	flights, total, hasCrewQuantity := sumUniqueFlights(records)
	m.Flights = flights
	m.TotalBottles = opts.PoolRounding.apply(total, hasCrewQuantity || opts.CrewQuantityColumn)
	m.PrizePool = m.TotalBottles.Mul(opts.UnitPrize)

	if !opts.PartitionByAirline {
		lb := buildLeaderboard(records, "", opts.Rounding, opts.TopN)
		distributePrize(lb.Entries, m.PrizePool)
		m.Leaderboards = []Leaderboard{lb}
		return m
	}

	assigned, source := AssignAirlineCodes(records, opts.Airline)
	m.AirlineSource = source

	groups := make(map[string][]FlightSaleRecord)
	var seen []string
	for _, r := range assigned {
		if _, ok := groups[r.AirlineCode]; !ok {
			seen = append(seen, r.AirlineCode)
		}
		groups[r.AirlineCode] = append(groups[r.AirlineCode], r)
	}

	codes := opts.Partitions
	if len(codes) == 0 {
		codes = seen
	}
	for _, code := range codes {
		policy, ok := opts.PartitionRounding[code]
		if !ok {
			policy = RoundNone
		}
		m.Leaderboards = append(m.Leaderboards, buildLeaderboard(groups[code], code, policy, opts.TopN))
	}
	return m
}

// sumUniqueFlights 按航班号去重（保留首次出现的行）后累加航班销量
func sumUniqueFlights(records []FlightSaleRecord) (int, decimal.Decimal, bool) {
	seen := make(map[string]struct{}, len(records))
	total := decimal.Zero
	hasCrewQuantity := false

	for _, r := range records {
		if r.CrewSoldQuantity.Valid {
			hasCrewQuantity = true
		}
		if _, ok := seen[r.FlightID]; ok {
			continue
		}
		seen[r.FlightID] = struct{}{}
		total = total.Add(r.BottlesSoldOnFlight)
	}
	return len(seen), total, hasCrewQuantity
}
