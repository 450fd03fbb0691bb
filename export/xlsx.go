// Package export renders the assignment ledger as an xlsx workbook.
package export

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/kasuganosora/raidloot/server/model"
	"github.com/xuri/excelize/v2"
)

const (
	sheetName     = "Assignments"
	removedMember = "(removed member)"
	timeLayout    = "2006-01-02 15:04"
)

var header = []string{"Week", "Floor", "Target", "Member", "Bucket", "Created At"}

var columnWidths = []float64{8, 8, 20, 24, 12, 18}

// Assignments is the ledger view the report reads.
type Assignments interface {
	List(ctx context.Context) ([]model.LootAssignment, error)
	ListByWeek(ctx context.Context, week int) ([]model.LootAssignment, error)
}

// Members resolves recipient names.
type Members interface {
	List(ctx context.Context) ([]*model.Member, error)
}

// Report loads the assignments of week (0 for every week) and renders them.
func Report(ctx context.Context, ledger Assignments, members Members, week int) ([]byte, error) {
	var (
		rows []model.LootAssignment
		err  error
	)
	if week > 0 {
		rows, err = ledger.ListByWeek(ctx, week)
	} else {
		rows, err = ledger.List(ctx)
	}
	if err != nil {
		return nil, err
	}
	ms, err := members.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(ms))
	for _, m := range ms {
		names[m.ID] = m.Name
	}
	return Workbook(rows, names)
}

// Workbook renders rows ordered by week, floor and creation time. Members
// missing from names are shown as removed.
func Workbook(rows []model.LootAssignment, names map[string]string) ([]byte, error) {
	sorted := make([]model.LootAssignment, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.WeekNumber != b.WeekNumber {
			return a.WeekNumber < b.WeekNumber
		}
		if a.Floor != b.Floor {
			return a.Floor < b.Floor
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	for col, title := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetName, cell, title); err != nil {
			return nil, fmt.Errorf("set header cell %s: %w", cell, err)
		}
		colName, _ := excelize.ColumnNumberToName(col + 1)
		if err := f.SetColWidth(sheetName, colName, colName, columnWidths[col]); err != nil {
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(header), 1)
	if err := f.SetCellStyle(sheetName, "A1", last, headerStyle); err != nil {
		return nil, fmt.Errorf("set header style: %w", err)
	}

	for i := range sorted {
		a := &sorted[i]
		name, ok := names[a.MemberID]
		if !ok {
			name = removedMember
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		values := []any{
			a.WeekNumber,
			a.Floor,
			a.Target().String(),
			name,
			string(a.SpecType),
			a.CreatedAt.Format(timeLayout),
		}
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
