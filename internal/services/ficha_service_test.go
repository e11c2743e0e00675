package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"folhaponto/internal/core"
	"folhaponto/internal/store/memory"
)

func newFichaFixture(t *testing.T) (*FichaService, *memory.Store, core.Ficha) {
	t.Helper()
	s := memory.New()
	emp := NewEmployeeService(s)
	_, f, err := emp.CreateEmployee(context.Background(), NewEmployee{
		Employee: core.Employee{Name: "Ana", CPF: "1"},
		Header:   core.Header{Month: 3, Year: 2024},
	})
	if err != nil {
		t.Fatalf("create employee: %v", err)
	}
	return NewFichaService(s), s, f
}

func patch(t *testing.T, body string) map[string]json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		t.Fatalf("bad patch fixture: %v", err)
	}
	return m
}

func TestUpdateFichaDerivesSummary(t *testing.T) {
	svc, _, f := newFichaFixture(t)
	ctx := context.Background()

	got, err := svc.UpdateFicha(ctx, f.ID, patch(t, `{
		"diasDoMes": [
			{"data": 1, "entrada": "08:00", "saida": "17:00", "extraEntrada": "18:00", "extraSaida": "19:30"},
			{"data": 2, "entrada": "08:00", "tipo": "atestado", "obs": "gripe"},
			{"data": 3}
		],
		"resumoGeral": {"diasHorasNormais": "manual", "baseCalculo": "1500", "inss": 120, "liquido": "1380"}
	}`))
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if got.Summary.WorkedDaysHours != "1 dias — 9.0h" || got.Summary.OvertimeHours != "1.5h" {
		t.Fatalf("derived fields = %q / %q", got.Summary.WorkedDaysHours, got.Summary.OvertimeHours)
	}
	if got.Summary.CalculationBase != "1500" || got.Summary.NetTotal != "1380" {
		t.Fatalf("financial fields lost: %+v", got.Summary)
	}
	if got.Summary.INSS != "" {
		t.Fatalf("wrong-typed inss should default to empty, got %q", got.Summary.INSS)
	}

	if got.Days[1].Entrance != "" || got.Days[1].Status != core.StatusMedical {
		t.Fatalf("non-present day kept clocks: %+v", got.Days[1])
	}
	if got.Days[2].Status != core.StatusPresent {
		t.Fatalf("blank new day should stay presente: %+v", got.Days[2])
	}
	want := []core.Absence{{Day: 2, Status: core.StatusMedical, Note: "gripe"}}
	if len(got.Summary.Absences) != len(want) {
		t.Fatalf("absences = %+v", got.Summary.Absences)
	}
	for i := range want {
		if got.Summary.Absences[i] != want[i] {
			t.Errorf("absence %d = %+v, want %+v", i, got.Summary.Absences[i], want[i])
		}
	}
}

func TestUpdateFichaAllowList(t *testing.T) {
	svc, s, f := newFichaFixture(t)
	ctx := context.Background()

	if _, err := svc.UpdateFicha(ctx, f.ID, patch(t, `{"diasDoMes":[{"data":1,"entrada":"08:00","saida":"12:00"}]}`)); err != nil {
		t.Fatalf("seed days: %v", err)
	}

	got, err := svc.UpdateFicha(ctx, f.ID, patch(t, `{
		"diasDoMes": "not an array",
		"mesReferencia": 9,
		"funcionario": "someone-else",
		"assinaturaToken": "forged",
		"assinatura": "gestor",
		"assinaturaFuncionario": 42
	}`))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Month != 3 || got.EmployeeID != f.EmployeeID || got.SigningToken != "" {
		t.Fatalf("non allow-listed keys applied: %+v", got)
	}
	if len(got.Days) != 1 || got.Days[0].Exit != "12:00" {
		t.Fatalf("days replaced by non-array: %+v", got.Days)
	}
	if got.ManagerSignature != "gestor" || got.EmployeeSignature != "" {
		t.Fatalf("signature fields: %q / %q", got.ManagerSignature, got.EmployeeSignature)
	}

	stored, _ := s.GetFicha(ctx, f.ID)
	if stored.Summary.WorkedDaysHours != "1 dias — 4.0h" {
		t.Fatalf("stored summary not recomputed: %q", stored.Summary.WorkedDaysHours)
	}
}

func TestFirstSaveKeepsBlankDaysPresent(t *testing.T) {
	svc, _, f := newFichaFixture(t)
	ctx := context.Background()

	days := make([]core.DayEntry, 31)
	for i := range days {
		days[i] = core.DayEntry{Day: i + 1, Status: core.StatusPresent}
	}
	days[0].Entrance, days[0].Exit = "08:00", "17:00"
	body, _ := json.Marshal(map[string]any{"diasDoMes": days})

	got, err := svc.UpdateFicha(ctx, f.ID, patch(t, string(body)))
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	if n := len(got.Summary.Absences); n != 0 {
		t.Fatalf("absences after first save = %d: %+v", n, got.Summary.Absences)
	}
	if got.Days[1].Status != core.StatusPresent {
		t.Fatalf("day 2 status = %q", got.Days[1].Status)
	}
	if got.Summary.WorkedDaysHours != "1 dias — 9.0h" {
		t.Fatalf("worked = %q", got.Summary.WorkedDaysHours)
	}

	// a second save that clears day 1 marks it faltou
	days[0].Entrance, days[0].Exit = "", ""
	body, _ = json.Marshal(map[string]any{"diasDoMes": days})
	got, err = svc.UpdateFicha(ctx, f.ID, patch(t, string(body)))
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if len(got.Summary.Absences) != 1 || got.Summary.Absences[0].Day != 1 {
		t.Fatalf("absences = %+v", got.Summary.Absences)
	}
}

func TestUpdateFichaClockEditOnAbsentDay(t *testing.T) {
	svc, _, f := newFichaFixture(t)
	ctx := context.Background()

	if _, err := svc.UpdateFicha(ctx, f.ID, patch(t, `{"diasDoMes":[{"data":1,"tipo":"faltou"}]}`)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, err := svc.UpdateFicha(ctx, f.ID, patch(t, `{"diasDoMes":[{"data":1,"tipo":"faltou","entrada":"08:00","saida":"17:00"}]}`))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if d := got.Days[0]; d.Status != core.StatusPresent || d.Entrance != "08:00" || d.Exit != "17:00" {
		t.Fatalf("day = %+v", d)
	}

	got, err = svc.UpdateFicha(ctx, f.ID, patch(t, `{"diasDoMes":[{"data":1,"tipo":"abonada","entrada":"08:00","saida":"17:00"}]}`))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if d := got.Days[0]; d.Status != core.StatusExcused || d.HasClock() {
		t.Fatalf("status change kept clocks: %+v", d)
	}
}

func TestUpdateFichaErrors(t *testing.T) {
	svc, _, f := newFichaFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		id   string
		body string
		want error
	}{
		{"unknown ficha", "missing", `{}`, core.ErrNotFound},
		{"bad day status", f.ID, `{"diasDoMes":[{"data":1,"tipo":"ferias"}]}`, core.ErrValidation},
		{"undecodable days", f.ID, `{"diasDoMes":[{"data":"um"}]}`, core.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.UpdateFicha(ctx, tt.id, patch(t, tt.body)); !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestUpdateFichaPreservesSigningToken(t *testing.T) {
	svc, s, f := newFichaFixture(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Minute)
	if err := s.SetSigningToken(ctx, f.ID, "tok", exp); err != nil {
		t.Fatalf("set token: %v", err)
	}
	got, err := svc.UpdateFicha(ctx, f.ID, patch(t, `{"assinatura":"g"}`))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.SigningToken != "tok" {
		t.Fatalf("token lost on update: %+v", got)
	}
}

// signsDuringEdit lets the employee sign right after the service has read the
// ficha and before it writes the edit back.
type signsDuringEdit struct {
	*memory.Store
	token string
}

func (r *signsDuringEdit) GetFicha(ctx context.Context, id string) (core.Ficha, error) {
	f, err := r.Store.GetFicha(ctx, id)
	if err == nil && r.token != "" {
		_, _ = r.Store.ConsumeSigningToken(ctx, r.token, "data:image/png;base64,AAAA", time.Now())
		r.token = ""
	}
	return f, err
}

func TestUpdateFichaKeepsSignatureStoredMeanwhile(t *testing.T) {
	_, s, f := newFichaFixture(t)
	ctx := context.Background()
	if err := s.SetSigningToken(ctx, f.ID, "tok", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("set token: %v", err)
	}
	svc := NewFichaService(&signsDuringEdit{Store: s, token: "tok"})

	got, err := svc.UpdateFicha(ctx, f.ID, patch(t, `{"resumoGeral":{"liquido":"100"}}`))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Summary.NetTotal != "100" {
		t.Fatalf("summary not applied: %+v", got.Summary)
	}
	stored, _ := s.GetFicha(ctx, f.ID)
	if stored.EmployeeSignature == "" || stored.SignedAt == nil {
		t.Fatalf("edit erased the employee signature: %+v", stored)
	}
	if stored.SigningToken != "" {
		t.Fatalf("edit restored a consumed token: %q", stored.SigningToken)
	}

	if _, err := svc.UpdateFichaHeader(ctx, f.ID, core.Header{Month: 3, Year: 2024, JobTitle: "Caixa"}); err != nil {
		t.Fatalf("header: %v", err)
	}
	if stored, _ = s.GetFicha(ctx, f.ID); stored.EmployeeSignature == "" || stored.Summary.NetTotal != "100" {
		t.Fatalf("header edit touched other parts: %+v", stored)
	}
}

func TestCreateFichaRejectsSecondFichaForMonth(t *testing.T) {
	svc, s, f := newFichaFixture(t)
	ctx := context.Background()

	_, err := svc.CreateFicha(ctx, core.Ficha{EmployeeID: f.EmployeeID, Month: 3, Year: 2024})
	if !errors.Is(err, core.ErrDuplicateFicha) || !errors.Is(err, core.ErrConflict) {
		t.Fatalf("expected ErrDuplicateFicha, got %v", err)
	}
	if list, _ := s.ListFichasByEmployee(ctx, f.EmployeeID); len(list) != 1 {
		t.Fatalf("fichas stored: %d", len(list))
	}
	if _, err := svc.CreateFicha(ctx, core.Ficha{EmployeeID: f.EmployeeID, Month: 3, Year: 2025}); err != nil {
		t.Fatalf("same month of another year: %v", err)
	}
}

func TestCreateFicha(t *testing.T) {
	svc, _, f := newFichaFixture(t)
	ctx := context.Background()

	created, err := svc.CreateFicha(ctx, core.Ficha{
		EmployeeID:   f.EmployeeID,
		Month:        4,
		Year:         2024,
		Days:         []core.DayEntry{{Day: 1, Entrance: "07:00", Exit: "15:30"}},
		SigningToken: "forged",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.SigningToken != "" {
		t.Fatal("signing token must not be settable on create")
	}
	if created.Summary.WorkedDaysHours != "1 dias — 8.5h" {
		t.Fatalf("summary = %q", created.Summary.WorkedDaysHours)
	}

	tests := []struct {
		name string
		in   core.Ficha
	}{
		{"unknown employee", core.Ficha{EmployeeID: "ghost", Month: 1, Year: 2024}},
		{"no employee", core.Ficha{Month: 1, Year: 2024}},
		{"bad month", core.Ficha{EmployeeID: f.EmployeeID, Month: 13, Year: 2024}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.CreateFicha(ctx, tt.in); !errors.Is(err, core.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestGetAndListFichas(t *testing.T) {
	svc, s, f := newFichaFixture(t)
	ctx := context.Background()

	got, err := svc.GetFicha(ctx, f.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Days == nil || got.Summary.Absences == nil {
		t.Fatal("nil slices must be normalized")
	}
	if _, err := svc.GetFicha(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	orphan, _ := s.CreateFicha(ctx, core.Ficha{Month: 1, Year: 2024})
	if _, err := svc.GetFicha(ctx, orphan.ID); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("unlinked ficha: expected validation error, got %v", err)
	}

	all, _ := svc.ListFichas(ctx)
	if len(all) != 2 || all[0].ID != f.ID {
		t.Fatalf("list order: %+v", all)
	}

	mine, err := svc.ListFichasForEmployee(ctx, f.EmployeeID)
	if err != nil || len(mine) != 1 {
		t.Fatalf("for employee: %v %v", mine, err)
	}
	none, err := svc.ListFichasForEmployee(ctx, "ghost")
	if err != nil || none == nil || len(none) != 0 {
		t.Fatalf("unknown employee should yield empty list: %v %v", none, err)
	}
}

func TestUpdateHeaderAndDelete(t *testing.T) {
	svc, _, f := newFichaFixture(t)
	ctx := context.Background()

	got, err := svc.UpdateFichaHeader(ctx, f.ID, core.Header{EmployerName: "Nova Empresa", Month: 3, Year: 2024})
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if got.Header.EmployerName != "Nova Empresa" || got.Header.EmployeeName != "" {
		t.Fatalf("header not replaced: %+v", got.Header)
	}
	if _, err := svc.UpdateFichaHeader(ctx, "missing", core.Header{}); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := svc.DeleteFicha(ctx, f.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.DeleteFicha(ctx, f.ID); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
}

func TestSweepOrphans(t *testing.T) {
	svc, s, f := newFichaFixture(t)
	ctx := context.Background()

	ghost, _ := s.CreateEmployee(ctx, core.Employee{Name: "Fantasma", CPF: "9"})
	for m := 1; m <= 3; m++ {
		s.CreateFicha(ctx, core.Ficha{EmployeeID: ghost.ID, Month: m, Year: 2024})
	}
	s.CreateFicha(ctx, core.Ficha{Month: 1, Year: 2024})
	if err := s.DeleteEmployee(ctx, ghost.ID); err != nil {
		t.Fatalf("delete ghost: %v", err)
	}

	n, err := svc.SweepOrphans(ctx)
	if err != nil || n != 4 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}
	left, _ := s.ListFichas(ctx)
	if len(left) != 1 || left[0].ID != f.ID {
		t.Fatalf("remaining fichas: %+v", left)
	}
	if n, _ := svc.SweepOrphans(ctx); n != 0 {
		t.Fatalf("second sweep removed %d", n)
	}
}
