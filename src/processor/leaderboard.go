package processor

import (
	"sort"

	"github.com/shopspring/decimal"
)

// LeaderboardEntry 排行榜中的一名机组成员
type LeaderboardEntry struct {
	Rank          int                 `json:"rank"`
	CrewID        string              `json:"crew_id"`
	CrewName      string              `json:"crew_name"`
	TotalCredited decimal.Decimal     `json:"total_credited"`
	PrizeShare    decimal.NullDecimal `json:"prize_share"`
}

// Leaderboard 一个排行榜；AirlineCode 为空表示不分航司的总榜
type Leaderboard struct {
	AirlineCode string             `json:"airline_code,omitempty"`
	Rounding    RoundingPolicy     `json:"rounding"`
	Entries     []LeaderboardEntry `json:"entries"`

	// TotalCrew 截断前的分组数
	TotalCrew int `json:"total_crew"`
}

type crewKey struct {
	id   string
	name string
}

// RankCrew 按 (CrewID, CrewName) 分组求和、取整、降序排列，返回不截断的完整结果。
// 同分按首次出现的先后保持原序。
func RankCrew(records []FlightSaleRecord, policy RoundingPolicy) []LeaderboardEntry {
	index := make(map[crewKey]int)
	entries := []LeaderboardEntry{}

	for _, r := range records {
		k := crewKey{r.CrewID, r.CrewName}
		i, ok := index[k]
		if !ok {
			i = len(entries)
			index[k] = i
			entries = append(entries, LeaderboardEntry{
				CrewID:        r.CrewID,
				CrewName:      r.CrewName,
				TotalCredited: decimal.Zero,
			})
		}
		entries[i].TotalCredited = entries[i].TotalCredited.Add(r.Credited())
	}

	for i := range entries {
		entries[i].TotalCredited = policy.Apply(entries[i].TotalCredited)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].TotalCredited.GreaterThan(entries[j].TotalCredited)
	})

	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// topN n<=0 表示不截断；不足 n 条时原样返回，不补位
func topN(entries []LeaderboardEntry, n int) []LeaderboardEntry {
	if n <= 0 || len(entries) <= n {
		return entries
	}
	return entries[:n]
}

// distributePrize 按可见前N名各自占前N名合计的比例瓜分奖池，不按全体重新归一
func distributePrize(entries []LeaderboardEntry, pool decimal.Decimal) {
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.TotalCredited)
	}

	for i := range entries {
		if sum.IsZero() {
			entries[i].PrizeShare = decimal.NewNullDecimal(decimal.Zero)
			continue
		}
		share := entries[i].TotalCredited.Mul(pool).Div(sum)
		entries[i].PrizeShare = decimal.NewNullDecimal(share)
	}
}

func buildLeaderboard(records []FlightSaleRecord, code string, policy RoundingPolicy, n int) Leaderboard {
	full := RankCrew(records, policy)
	return Leaderboard{
		AirlineCode: code,
		Rounding:    policy,
		Entries:     topN(full, n),
		TotalCrew:   len(full),
	}
}
