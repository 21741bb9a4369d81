package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"CrewPrizePool/src/processor"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/xuri/excelize/v2"
)

const summarySheet = "Summary"

// Summary 导出所需的元信息与聚合结果
type Summary struct {
	RunID   string
	Dataset string
	From    string
	To      string
	Metrics processor.Metrics
}

// LeaderboardFrame 排行榜转 DataFrame；没有任何奖金份额时不输出 Prize_Share 列
func LeaderboardFrame(lb processor.Leaderboard) dataframe.DataFrame {
	n := len(lb.Entries)
	ranks := make([]int, n)
	ids := make([]string, n)
	names := make([]string, n)
	credited := make([]string, n)
	shares := make([]string, n)
	hasShare := false

	for i, e := range lb.Entries {
		ranks[i] = e.Rank
		ids[i] = e.CrewID
		names[i] = e.CrewName
		credited[i] = e.TotalCredited.String()
		if e.PrizeShare.Valid {
			hasShare = true
			shares[i] = e.PrizeShare.Decimal.StringFixed(2)
		}
	}

	cols := []series.Series{
		series.New(ranks, series.Int, "Rank"),
		series.New(ids, series.String, processor.ColCrewID),
		series.New(names, series.String, processor.ColCrewName),
		series.New(credited, series.String, "Total_Credited"),
	}
	if hasShare {
		cols = append(cols, series.New(shares, series.String, "Prize_Share"))
	}
	return dataframe.New(cols...)
}

// SummaryFrame 两列：Item / Value
func SummaryFrame(s Summary) dataframe.DataFrame {
	m := s.Metrics
	items := []string{"Run_ID", "Dataset", "From", "To", "Rows", "Flights", "Total_Bottles", "Prize_Pool"}
	values := []string{
		s.RunID, s.Dataset, s.From, s.To,
		strconv.Itoa(m.Rows), strconv.Itoa(m.Flights),
		m.TotalBottles.String(), m.DisplayPrizePool(),
	}
	if m.AirlineSource != "" {
		items = append(items, "Airline_Source")
		values = append(values, string(m.AirlineSource))
	}
	return dataframe.New(
		series.New(items, series.String, "Item"),
		series.New(values, series.String, "Value"),
	)
}

// SheetName 总榜为 Leaderboard，航司榜为 Leaderboard_<航司>
func SheetName(lb processor.Leaderboard) string {
	if lb.AirlineCode == "" {
		return "Leaderboard"
	}
	return "Leaderboard_" + lb.AirlineCode
}

// WriteXLSX Summary 表加每个排行榜一张表
func WriteXLSX(w io.Writer, s Summary) error {
	f, err := buildWorkbook(s)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("写入Excel失败: %w", err)
	}
	return nil
}

func SaveXLSX(filePath string, s Summary) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return err
	}

	f, err := buildWorkbook(s)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(filePath); err != nil {
		return fmt.Errorf("保存Excel文件失败: %w", err)
	}
	return nil
}

// WriteCSV 单个排行榜输出为 csv
func WriteCSV(w io.Writer, lb processor.Leaderboard) error {
	if err := LeaderboardFrame(lb).WriteCSV(w); err != nil {
		return fmt.Errorf("写入csv失败: %w", err)
	}
	return nil
}

func buildWorkbook(s Summary) (*excelize.File, error) {
	f := excelize.NewFile()

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, err
	}

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeSheet(f, summarySheet, SummaryFrame(s), header); err != nil {
		f.Close()
		return nil, err
	}

	for _, lb := range s.Metrics.Leaderboards {
		name := SheetName(lb)
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, fmt.Errorf("创建工作表 %s 失败: %w", name, err)
		}
		if err := writeSheet(f, name, LeaderboardFrame(lb), header); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func writeSheet(f *excelize.File, sheetName string, df dataframe.DataFrame, headerStyle int) error {
	colNames := df.Names()
	for i, name := range colNames {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, name); err != nil {
			return err
		}
	}
	if len(colNames) > 0 {
		last, _ := excelize.CoordinatesToCellName(len(colNames), 1)
		if err := f.SetCellStyle(sheetName, "A1", last, headerStyle); err != nil {
			return err
		}
		lastCol, _ := excelize.ColumnNumberToName(len(colNames))
		if err := f.SetColWidth(sheetName, "A", lastCol, 16); err != nil {
			return err
		}
	}

	for rowIdx := 0; rowIdx < df.Nrow(); rowIdx++ {
		for colIdx, colName := range colNames {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err := f.SetCellValue(sheetName, cell, cellValue(colName, df.Col(colName).Elem(rowIdx))); err != nil {
				return err
			}
		}
	}
	return nil
}

var numericColumns = map[string]bool{"Total_Credited": true, "Prize_Share": true}

// cellValue 数量列写成数值单元格，编号等其余列保持文本
func cellValue(colName string, e series.Element) interface{} {
	if e.Type() == series.Int {
		if v, err := e.Int(); err == nil {
			return v
		}
	}
	s := e.String()
	if numericColumns[colName] && s != "" {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
	}
	return s
}
