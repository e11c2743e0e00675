package sheets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"folhaponto/internal/core"
)

// SignedRow is one line of the signed fichas sheet.
type SignedRow struct {
	FichaID  string
	Employee string
	CPF      string
	Month    int
	Year     int
	Worked   string
	Overtime string
	Absences int
	SignedAt time.Time
}

// Ports for outbound adapters.
type (
	// SignedFichaWriter records a signed ficha in an external spreadsheet.
	SignedFichaWriter interface {
		AppendSigned(ctx context.Context, row SignedRow) (rowRef string, err error)
	}
)

var ErrMissingFicha = errors.New("signed row without ficha id")

// RowFor builds the sheet row of a signed ficha. The employee name falls back
// to the ficha header snapshot when the employee record is gone.
func RowFor(f core.Ficha, e core.Employee) SignedRow {
	row := SignedRow{
		FichaID:  f.ID,
		Employee: firstNonEmpty(e.Name, f.Header.EmployeeName),
		CPF:      e.CPF,
		Month:    f.Month,
		Year:     f.Year,
		Worked:   f.Summary.WorkedDaysHours,
		Overtime: f.Summary.OvertimeHours,
		Absences: len(f.Summary.Absences),
	}
	if f.SignedAt != nil {
		row.SignedAt = f.SignedAt.UTC()
	}
	return row
}

func (r SignedRow) Validate() error {
	if r.FichaID == "" {
		return ErrMissingFicha
	}
	return nil
}

// Values renders the row in sheet column order.
func (r SignedRow) Values() []any {
	signed := ""
	if !r.SignedAt.IsZero() {
		signed = r.SignedAt.Format("2006-01-02 15:04")
	}
	return []any{
		r.FichaID,
		r.Employee,
		r.CPF,
		fmt.Sprintf("%02d/%04d", r.Month, r.Year),
		r.Worked,
		r.Overtime,
		r.Absences,
		signed,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
