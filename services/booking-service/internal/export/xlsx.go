// Package export renders appointment ranges as XLSX workbooks.
package export

import (
	"context"
	"fmt"
	"io"

	"github.com/bookwell/bookwell/services/booking-service/internal/model"
	"github.com/xuri/excelize/v2"
)

const MaxRangeDays = 92

var ErrRange = fmt.Errorf("range must span 1 to %d days with from <= to", MaxRangeDays)

const (
	appointmentsSheet = "Appointments"
	summarySheet      = "Summary"
)

// Source lists appointments whose date falls in [fromDate, toDate].
type Source interface {
	ListAppointmentsInRange(ctx context.Context, businessID, fromDate, toDate string) ([]model.Appointment, error)
}

// ParseRange validates an inclusive date range.
func ParseRange(from, to string) (model.Date, model.Date, error) {
	f, err := model.ParseDate(from)
	if err != nil {
		return model.Date{}, model.Date{}, fmt.Errorf("from: %w", err)
	}
	t, err := model.ParseDate(to)
	if err != nil {
		return model.Date{}, model.Date{}, fmt.Errorf("to: %w", err)
	}
	if t.Before(f) || f.DaysUntil(t) >= MaxRangeDays {
		return model.Date{}, model.Date{}, ErrRange
	}
	return f, t, nil
}

var header = []any{"Date", "Start", "End", "Service", "Customer", "Phone", "Email", "Status", "Cancelled by", "Source", "Notes"}

// Write renders the appointments of b between from and to into w.
func Write(ctx context.Context, w io.Writer, src Source, b model.Business, from, to model.Date) error {
	appts, err := src.ListAppointmentsInRange(ctx, b.ID, from.String(), to.String())
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", appointmentsSheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(appointmentsSheet, "A1", &header); err != nil {
		return err
	}
	headStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	if err != nil {
		return err
	}
	_ = f.SetCellStyle(appointmentsSheet, "A1", "K1", headStyle)
	_ = f.SetPanes(appointmentsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	counts := map[model.Status]int{}
	for i, a := range appts {
		counts[a.Status]++
		row := []any{
			a.Date, a.StartTime, a.EndTime, a.ServiceName,
			a.CustomerFullName, a.CustomerPhone, a.CustomerEmail,
			string(a.Status), string(a.CancelledBy), string(a.Source), a.Notes,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(appointmentsSheet, cell, &row); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(appointmentsSheet, "A", "C", 12)
	_ = f.SetColWidth(appointmentsSheet, "D", "G", 24)
	_ = f.SetColWidth(appointmentsSheet, "H", "J", 14)
	_ = f.SetColWidth(appointmentsSheet, "K", "K", 40)

	if err := writeSummary(f, b, from, to, len(appts), counts); err != nil {
		return err
	}
	f.SetActiveSheet(0)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, b model.Business, from, to model.Date, total int, counts map[model.Status]int) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}
	rows := [][]any{
		{"Business", b.Name},
		{"Period", from.String() + " - " + to.String()},
		{"Time zone", b.Timezone},
		{"Total", total},
	}
	for _, s := range []model.Status{model.StatusBooked, model.StatusCompleted, model.StatusNoShow, model.StatusCanceled} {
		rows = append(rows, []any{string(s), counts[s]})
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(summarySheet, cell, &rows[i]); err != nil {
			return err
		}
	}
	return f.SetColWidth(summarySheet, "A", "B", 20)
}

// Filename names the download for a range.
func Filename(b model.Business, from, to model.Date) string {
	name := b.Slug
	if name == "" {
		name = "appointments"
	}
	return fmt.Sprintf("%s_%s_to_%s.xlsx", name, from, to)
}
