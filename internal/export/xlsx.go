// Package export renders a ficha as an .xlsx workbook with the monthly table,
// the summary and the signature images.
package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"folhaponto/internal/core"
	"folhaponto/internal/sigimage"
)

const (
	SheetName   = "Ficha"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var dayColumns = []string{
	"Dia", "Entrada", "Saída almoço", "Retorno almoço", "Saída",
	"Extra entrada", "Extra saída", "Situação", "Observação",
}

var statusLabels = map[core.DayStatus]string{
	core.StatusPresent: "Presente",
	core.StatusAbsent:  "Falta",
	core.StatusExcused: "Abonada",
	core.StatusMedical: "Atestado",
}

// Input is what the workbook is built from. ManagerSignature is used when the
// ficha carries no signature override of its own.
type Input struct {
	Ficha            core.Ficha
	ManagerSignature string
}

// Filename is the attachment name for the export of f.
func Filename(f core.Ficha) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == ' ' || r == '-' || r == '_':
			return '_'
		}
		return -1
	}, f.Header.EmployeeName)
	if name == "" {
		name = f.ID
	}
	return fmt.Sprintf("ficha_%s_%04d-%02d.xlsx", name, f.Year, f.Month)
}

type builder struct {
	f     *excelize.File
	row   int
	bold  int
	boxed int
	title int
}

// Write renders in and writes the workbook to w.
func Write(w io.Writer, in Input) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	b := &builder{f: f, row: 1}
	if err := b.styles(); err != nil {
		return err
	}

	steps := []func(Input) error{b.header, b.days, b.summary, b.signatures}
	for _, step := range steps {
		if err := step(in); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(SheetName, "A", "A", 8); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetName, "B", "G", 14); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetName, "H", "I", 22); err != nil {
		return err
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func (b *builder) styles() error {
	var err error
	border := []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
	}
	if b.title, err = b.f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	}); err != nil {
		return fmt.Errorf("title style: %w", err)
	}
	if b.bold, err = b.f.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true},
		Border: border,
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"E7E6E6"}, Pattern: 1},
	}); err != nil {
		return fmt.Errorf("bold style: %w", err)
	}
	if b.boxed, err = b.f.NewStyle(&excelize.Style{Border: border}); err != nil {
		return fmt.Errorf("boxed style: %w", err)
	}
	return nil
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

func (b *builder) set(col int, v any) error {
	return b.f.SetCellValue(SheetName, cell(col, b.row), v)
}

// pair writes a label in column A and its value merged over B:I.
func (b *builder) pair(label, value string) error {
	if err := b.set(1, label); err != nil {
		return err
	}
	if err := b.set(2, value); err != nil {
		return err
	}
	if err := b.f.MergeCell(SheetName, cell(2, b.row), cell(len(dayColumns), b.row)); err != nil {
		return err
	}
	if err := b.f.SetCellStyle(SheetName, cell(1, b.row), cell(1, b.row), b.bold); err != nil {
		return err
	}
	b.row++
	return nil
}

func (b *builder) header(in Input) error {
	h := in.Ficha.Header
	if err := b.set(1, "FICHA DE REGISTRO DE PONTO"); err != nil {
		return err
	}
	if err := b.f.MergeCell(SheetName, cell(1, b.row), cell(len(dayColumns), b.row)); err != nil {
		return err
	}
	if err := b.f.SetCellStyle(SheetName, cell(1, b.row), cell(1, b.row), b.title); err != nil {
		return err
	}
	b.row += 2

	pairs := [][2]string{
		{"Empregador", h.EmployerName},
		{"CNPJ/CEI", h.EmployerTaxID},
		{"Endereço", h.EmployerAddress},
		{"Empregado", h.EmployeeName},
		{"CTPS", h.CTPS},
		{"Admissão", h.AdmissionDate},
		{"Função", h.JobTitle},
		{"Seg. a sex.", h.WeekdayHours},
		{"Sábado", h.SaturdayHours},
		{"Descanso", h.WeeklyRest},
		{"Referência", fmt.Sprintf("%02d/%04d", in.Ficha.Month, in.Ficha.Year)},
	}
	for _, p := range pairs {
		if err := b.pair(p[0], p[1]); err != nil {
			return fmt.Errorf("header %s: %w", p[0], err)
		}
	}
	b.row++
	return nil
}

// daysInMonth returns the number of rows of the table: the length of the
// month, or the highest recorded day when an entry lies beyond it.
func daysInMonth(f core.Ficha) int {
	n := 31
	if f.Month >= 1 && f.Month <= 12 && f.Year > 0 {
		n = time.Date(f.Year, time.Month(f.Month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	}
	for _, d := range f.Days {
		if d.Day > n && d.Day <= core.MaxDaysPerFicha {
			n = d.Day
		}
	}
	return n
}

func (b *builder) days(in Input) error {
	for i, title := range dayColumns {
		if err := b.set(i+1, title); err != nil {
			return err
		}
	}
	if err := b.f.SetCellStyle(SheetName, cell(1, b.row), cell(len(dayColumns), b.row), b.bold); err != nil {
		return err
	}
	b.row++

	byDay := make(map[int]core.DayEntry, len(in.Ficha.Days))
	for _, d := range in.Ficha.Days {
		byDay[d.Day] = d
	}

	first := b.row
	for day := 1; day <= daysInMonth(in.Ficha); day++ {
		d, ok := byDay[day]
		values := []any{day}
		if ok {
			values = append(values, d.Entrance, d.LunchOut, d.LunchReturn, d.Exit,
				d.OvertimeIn, d.OvertimeOut, statusLabels[d.Status.Normalize()], d.Note)
		}
		if err := b.f.SetSheetRow(SheetName, cell(1, b.row), &values); err != nil {
			return fmt.Errorf("day %d: %w", day, err)
		}
		b.row++
	}
	if err := b.f.SetCellStyle(SheetName, cell(1, first), cell(len(dayColumns), b.row-1), b.boxed); err != nil {
		return err
	}
	b.row++
	return nil
}

func absencesText(list []core.Absence) string {
	if len(list) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(list))
	for _, a := range list {
		p := strconv.Itoa(a.Day) + " " + strings.ToLower(statusLabels[a.Status.Normalize()])
		if a.Note != "" {
			p += " (" + a.Note + ")"
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, "; ")
}

func (b *builder) summary(in Input) error {
	s := in.Ficha.Summary
	pairs := [][2]string{
		{"Dias/horas", s.WorkedDaysHours},
		{"Horas extras", s.OvertimeHours},
		{"Faltas", absencesText(s.Absences)},
		{"Base cálculo", s.CalculationBase},
		{"INSS", s.INSS},
		{"Sal. família", s.FamilyAllowance},
		{"Líquido", s.NetTotal},
	}
	for _, p := range pairs {
		if err := b.pair(p[0], p[1]); err != nil {
			return fmt.Errorf("summary %s: %w", p[0], err)
		}
	}
	b.row++
	return nil
}

// pngOf returns PNG bytes for a stored signature, converting older jpeg or
// webp values. It returns nil when there is nothing usable.
func pngOf(value string) []byte {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	if raw := sigimage.PNGBytes(value); raw != nil {
		return raw
	}
	normalized, err := sigimage.Normalize(value)
	if err != nil {
		return nil
	}
	return sigimage.PNGBytes(normalized)
}

func (b *builder) signatures(in Input) error {
	manager := in.Ficha.ManagerSignature
	if manager == "" {
		manager = in.ManagerSignature
	}
	slots := []struct {
		col   int
		label string
		image string
	}{
		{1, "Assinatura do empregado", in.Ficha.EmployeeSignature},
		{6, "Assinatura do empregador", manager},
	}

	labelRow := b.row
	for _, s := range slots {
		if err := b.f.SetCellValue(SheetName, cell(s.col, labelRow), s.label); err != nil {
			return err
		}
		raw := pngOf(s.image)
		if raw == nil {
			if err := b.f.SetCellValue(SheetName, cell(s.col, labelRow+1), "(não assinada)"); err != nil {
				return err
			}
			continue
		}
		err := b.f.AddPictureFromBytes(SheetName, cell(s.col, labelRow+1), &excelize.Picture{
			Extension: ".png",
			File:      raw,
			Format: &excelize.GraphicOptions{
				ScaleX:          0.4,
				ScaleY:          0.4,
				LockAspectRatio: true,
				Positioning:     "oneCell",
			},
		})
		if err != nil {
			return fmt.Errorf("add %s: %w", s.label, err)
		}
	}
	if in.Ficha.SignedAt != nil {
		if err := b.f.SetCellValue(SheetName, cell(1, labelRow+6),
			"Assinada em "+in.Ficha.SignedAt.UTC().Format("02/01/2006 15:04")+" UTC"); err != nil {
			return err
		}
	}
	b.row = labelRow + 7
	return nil
}
