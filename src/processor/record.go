package processor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// 输入表的规范列名
const (
	ColFlightID         = "Flight_ID"
	ColFlightDate       = "Flight_Date"
	ColCrewID           = "Crew_ID"
	ColCrewName         = "Crew_Name"
	ColBottlesSold      = "Bottles_Sold_on_Flight"
	ColAirlineCode      = "Airline_Code"
	ColCrewSoldQuantity = "crew_sold_quantity"
)

// RequiredColumns 必需列，缺任何一列都无法聚合
var RequiredColumns = []string{ColFlightID, ColFlightDate, ColCrewID, ColCrewName, ColBottlesSold}

// FlightSaleRecord 一行航班销售记录（一名机组成员在一个航班上的一行）
type FlightSaleRecord struct {
	FlightID   string
	FlightDate time.Time
	CrewID     string
	CrewName   string

	// BottlesSoldOnFlight 航班级别的销量，同一航班的每一行都重复同一个值
	BottlesSoldOnFlight decimal.Decimal

	// CrewSoldQuantity 记在该成员名下的销量，列不存在或单元格为空时无效
	CrewSoldQuantity decimal.NullDecimal

	AirlineCode string
}

// Credited 排行榜计入量：优先取个人销量，否则退回航班销量
func (r FlightSaleRecord) Credited() decimal.Decimal {
	if r.CrewSoldQuantity.Valid {
		return r.CrewSoldQuantity.Decimal
	}
	return r.BottlesSoldOnFlight
}

// SchemaError 缺少必需列，整批数据放弃聚合
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("缺少必需列: %s", strings.Join(e.Missing, ", "))
}

// ParseError 单元格类型转换失败，只影响所在行
type ParseError struct {
	Row    int // 源文件中的行号（表头为第1行）
	Column string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("第%d行 %s=%q 解析失败: %v", e.Row, e.Column, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsSchemaError 判断错误链中是否有 SchemaError
func IsSchemaError(err error) (*SchemaError, bool) {
	var se *SchemaError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
