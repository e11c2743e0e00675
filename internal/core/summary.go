package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const clockLayout = "15:04"

var sixty = decimal.NewFromInt(60)

// DeriveSummary recomputes the derived fields of the monthly summary from the
// day entries. The financial fields are copied from prior untouched. The
// function is pure: the same arguments always yield the same summary.
func DeriveSummary(days []DayEntry, prior Summary) Summary {
	var (
		worked   int
		minutes  int64
		overtime int64
	)
	absences := make([]Absence, 0)

	for _, d := range days {
		if d.Entrance != "" && d.Exit != "" {
			worked++
			minutes += span(d.Entrance, d.Exit)
		}
		if d.OvertimeIn != "" && d.OvertimeOut != "" {
			overtime += span(d.OvertimeIn, d.OvertimeOut)
		}
		if st := d.Status.Normalize(); st != StatusPresent {
			absences = append(absences, Absence{Day: d.Day, Status: st, Note: d.Note})
		}
	}

	return Summary{
		WorkedDaysHours: fmt.Sprintf("%d dias — %sh", worked, FormatHours(minutes)),
		OvertimeHours:   FormatHours(overtime) + "h",
		Absences:        absences,
		CalculationBase: prior.CalculationBase,
		INSS:            prior.INSS,
		FamilyAllowance: prior.FamilyAllowance,
		NetTotal:        prior.NetTotal,
	}
}

// FormatHours renders a minute count as hours with one decimal place. Negative
// values are kept.
func FormatHours(minutes int64) string {
	return decimal.NewFromInt(minutes).Div(sixty).StringFixed(1)
}

// span returns to-from in minutes for same-day clocks. Unparseable values
// contribute zero.
func span(from, to string) int64 {
	a, err := time.Parse(clockLayout, from)
	if err != nil {
		return 0
	}
	b, err := time.Parse(clockLayout, to)
	if err != nil {
		return 0
	}
	return int64(b.Sub(a) / time.Minute)
}

// WithDerivedSummary returns f with its summary recomputed from its days.
func WithDerivedSummary(f Ficha) Ficha {
	f.Summary = DeriveSummary(f.Days, f.Summary)
	return f
}
