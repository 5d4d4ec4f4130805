package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Hearings"

// RenderXLSX writes a single-sheet workbook.
func RenderXLSX(w io.Writer, s *Schedule) error {
	f, err := buildXLSX(s)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

func buildXLSX(s *Schedule) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	titleStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}})
	if err != nil {
		return nil, err
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DCE2EC"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return nil, err
	}
	warningStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "8A5000"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"FFECB3"}},
	})
	if err != nil {
		return nil, err
	}

	lastCol, _ := excelize.ColumnNumberToName(len(Columns))
	row := 1

	set := func(col, r int, value any) error {
		cell, err := excelize.CoordinatesToCellName(col, r)
		if err != nil {
			return err
		}
		return f.SetCellValue(sheetName, cell, value)
	}

	// Header block
	if err := set(1, row, Title); err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(sheetName, "A1", "A1", titleStyle); err != nil {
		return nil, err
	}
	row++
	for _, line := range s.HeaderLines() {
		if err := set(1, row, line); err != nil {
			return nil, err
		}
		row++
	}
	row++

	if warning := s.Warning(); warning != "" {
		if err := set(1, row, warning); err != nil {
			return nil, err
		}
		first := fmt.Sprintf("A%d", row)
		last := fmt.Sprintf("%s%d", lastCol, row)
		if err := f.MergeCell(sheetName, first, last); err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(sheetName, first, last, warningStyle); err != nil {
			return nil, err
		}
		row += 2
	}

	// Table
	headerRow := row
	for i, c := range Columns {
		if err := set(i+1, headerRow, c.Title); err != nil {
			return nil, err
		}
		colName, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(sheetName, colName, colName, c.Width/2.2); err != nil {
			return nil, err
		}
	}
	if err := f.SetCellStyle(sheetName, fmt.Sprintf("A%d", headerRow), fmt.Sprintf("%s%d", lastCol, headerRow), headerStyle); err != nil {
		return nil, err
	}

	for i, r := range s.Rows() {
		for j, value := range r {
			var v any = value
			if j == 0 {
				v = i + 1
			}
			if err := set(j+1, headerRow+1+i, v); err != nil {
				return nil, err
			}
		}
	}

	topLeft := fmt.Sprintf("A%d", headerRow+1)
	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      headerRow,
		TopLeftCell: topLeft,
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, err
	}
	return f, nil
}
