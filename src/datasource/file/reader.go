// reader.go
package file

import (
	"bytes"
	"crypto/md5"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"CrewPrizePool/src/processor"
	"CrewPrizePool/src/utils"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx"
)

var ErrUnsupportedSource = errors.New("不支持的数据源")

// Options 读取参数
type Options struct {
	SheetName string // xlsx 工作表名，为空取第一个
	HeaderRow int    // xlsx 表头所在行（从0开始）
	Encoding  string // csv 字符集，为空时自动识别

	// Aliases 表头别名 -> 规范列名
	Aliases     map[string]string
	DateFormats []string

	HTTPClient    *http.Client
	S3            S3Options
	Retries       int
	RetryInterval time.Duration
}

// Dataset 一次加载的结果
type Dataset struct {
	Name     string
	Records  []processor.FlightSaleRecord
	Warnings []*processor.ParseError

	TotalRows int
	// Ragged 列数与表头不一致、被补齐或截断的行数
	Ragged          int
	HasAirlineCode  bool
	HasCrewQuantity bool

	// Hash 原始内容的md5，作为缓存键的一部分
	Hash     string
	LoadedAt time.Time
}

func (d *Dataset) Dropped() int {
	return d.TotalRows - len(d.Records)
}

// Parse 按扩展名解析 csv 或 xlsx
func Parse(data []byte, name string, opts Options) (*Dataset, error) {
	var (
		rows  [][]string
		err   error
		excel bool
	)

	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx":
		rows, err = xlsxRows(data, opts.SheetName, opts.HeaderRow)
		excel = true
	case ".csv", ".txt", "":
		rows, err = csvRows(data, opts.Encoding)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, name)
	}
	if err != nil {
		return nil, fmt.Errorf("读取 %s 失败: %w", name, err)
	}

	ds, err := buildDataset(rows, opts, excel)
	if err != nil {
		return nil, err
	}

	hash := md5.Sum(data)
	ds.Name = name
	ds.Hash = hex.EncodeToString(hash[:])
	ds.LoadedAt = time.Now()
	return ds, nil
}

func csvRows(data []byte, charset string) ([][]string, error) {
	decoded, err := decodeText(data, charset)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(bytes.NewReader(decoded))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv 解析失败: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func xlsxRows(data []byte, sheetName string, headerRow int) ([][]string, error) {
	xlFile, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, fmt.Errorf("xlsx open binary false: %w", err)
	}
	if len(xlFile.Sheets) == 0 {
		return nil, fmt.Errorf("excel文件中没有工作表")
	}

	sheet := xlFile.Sheets[0]
	if sheetName != "" {
		s, ok := xlFile.Sheet[sheetName]
		if !ok {
			return nil, fmt.Errorf("工作表 %s 不存在", sheetName)
		}
		sheet = s
	}
	if headerRow < 0 || headerRow >= len(sheet.Rows) {
		return nil, fmt.Errorf("表头行 %d 超出范围(共%d行)", headerRow, len(sheet.Rows))
	}

	rows := make([][]string, 0, len(sheet.Rows)-headerRow)
	for _, row := range sheet.Rows[headerRow:] {
		if row == nil {
			continue
		}
		values := make([]string, len(row.Cells))
		for i, cell := range row.Cells {
			values[i] = cell.Value
		}
		rows = append(rows, values)
	}
	return rows, nil
}

// buildDataset 表头校验 -> DataFrame -> 逐行转换记录
func buildDataset(rows [][]string, opts Options, excel bool) (*Dataset, error) {
	if len(rows) == 0 {
		return nil, &processor.SchemaError{Missing: append([]string(nil), processor.RequiredColumns...)}
	}

	header := normalizeHeader(rows[0], opts.Aliases)
	var missing []string
	for _, col := range processor.RequiredColumns {
		if !utils.Contains(header, col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &processor.SchemaError{Missing: missing}
	}

	ds := &Dataset{
		HasAirlineCode:  utils.Contains(header, processor.ColAirlineCode),
		HasCrewQuantity: utils.Contains(header, processor.ColCrewSoldQuantity),
	}

	body, ragged := squareRows(rows[1:], len(header))
	ds.Ragged = ragged
	if len(body) == 0 {
		return ds, nil
	}

	df := dataframe.LoadRecords(
		append([][]string{header}, body...),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	if df.Err != nil {
		return nil, fmt.Errorf("转换为dataframe失败: %w", df.Err)
	}

	ds.TotalRows = df.Nrow()
	conv := newRowConverter(df, body, opts.DateFormats, excel)
	for i := 0; i < df.Nrow(); i++ {
		r, perr := conv.convert(i)
		if perr != nil {
			ds.Warnings = append(ds.Warnings, perr)
			continue
		}
		ds.Records = append(ds.Records, r)
	}
	return ds, nil
}

// normalizeHeader 去掉空白与BOM，按别名映射成规范列名；同名列只保留第一个
func normalizeHeader(raw []string, aliases map[string]string) []string {
	header := make([]string, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, h := range raw {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if canonical, ok := lookupAlias(aliases, h); ok {
			h = canonical
		}
		if h == "" || seen[h] {
			h = fmt.Sprintf("_col%d", i)
		}
		seen[h] = true
		header[i] = h
	}
	return header
}

var knownColumns = []string{
	processor.ColFlightID, processor.ColFlightDate, processor.ColCrewID, processor.ColCrewName,
	processor.ColBottlesSold, processor.ColAirlineCode, processor.ColCrewSoldQuantity,
}

func lookupAlias(aliases map[string]string, h string) (string, bool) {
	if c, ok := aliases[h]; ok {
		return c, true
	}
	for alias, c := range aliases {
		if strings.EqualFold(alias, h) {
			return c, true
		}
	}
	for _, c := range knownColumns {
		if strings.EqualFold(c, h) {
			return c, true
		}
	}
	return "", false
}

// squareRows 补齐或截断到表头列数，跳过整行为空的行
func squareRows(rows [][]string, width int) ([][]string, int) {
	out := make([][]string, 0, len(rows))
	ragged := 0
	for _, row := range rows {
		empty := true
		for _, v := range row {
			if strings.TrimSpace(v) != "" {
				empty = false
				break
			}
		}
		if empty {
			continue
		}

		if len(row) != width {
			ragged++
		}
		fixed := make([]string, width)
		copy(fixed, row)
		out = append(out, fixed)
	}
	return out, ragged
}

type rowConverter struct {
	cols        map[string][]string
	dateFormats []string
	excel       bool
}

// newRowConverter 按 df 的列名从原始行取值，gota 会把字面量 "NaN" 读成缺失值
func newRowConverter(df dataframe.DataFrame, body [][]string, dateFormats []string, excel bool) *rowConverter {
	names := df.Names()
	cols := make(map[string][]string)
	for _, col := range knownColumns {
		if !utils.HasColumn(df, col) {
			continue
		}
		idx := indexOf(names, col)
		values := make([]string, len(body))
		for i, row := range body {
			values[i] = row[idx]
		}
		cols[col] = values
	}
	return &rowConverter{cols: cols, dateFormats: dateFormats, excel: excel}
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

func (c *rowConverter) cell(col string, i int) string {
	values, ok := c.cols[col]
	if !ok {
		return ""
	}
	return strings.TrimSpace(values[i])
}

func (c *rowConverter) convert(i int) (processor.FlightSaleRecord, *processor.ParseError) {
	row := i + 2 // 表头占第1行
	fail := func(col string, err error) *processor.ParseError {
		return &processor.ParseError{Row: row, Column: col, Value: c.cell(col, i), Err: err}
	}

	r := processor.FlightSaleRecord{
		FlightID:    c.cell(processor.ColFlightID, i),
		CrewID:      c.cell(processor.ColCrewID, i),
		CrewName:    c.cell(processor.ColCrewName, i),
		AirlineCode: c.cell(processor.ColAirlineCode, i),
	}
	if r.FlightID == "" {
		return r, fail(processor.ColFlightID, errors.New("航班号为空"))
	}
	if r.CrewID == "" {
		return r, fail(processor.ColCrewID, errors.New("机组编号为空"))
	}

	date, err := c.parseDate(c.cell(processor.ColFlightDate, i))
	if err != nil {
		return r, fail(processor.ColFlightDate, err)
	}
	r.FlightDate = date

	bottles, err := parseQuantity(c.cell(processor.ColBottlesSold, i))
	if err != nil {
		return r, fail(processor.ColBottlesSold, err)
	}
	r.BottlesSoldOnFlight = bottles

	if raw := c.cell(processor.ColCrewSoldQuantity, i); raw != "" {
		qty, err := parseQuantity(raw)
		if err != nil {
			return r, fail(processor.ColCrewSoldQuantity, err)
		}
		r.CrewSoldQuantity = decimal.NewNullDecimal(qty)
	}
	return r, nil
}

func (c *rowConverter) parseDate(s string) (time.Time, error) {
	if c.excel {
		if t, ok := utils.ExcelSerialToTime(s); ok {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return utils.ParseDate(s, c.dateFormats...)
}

func parseQuantity(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.Zero, errors.New("数量为空")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, errors.New("数量不能为负")
	}
	return d, nil
}
