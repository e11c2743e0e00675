package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"folhaponto/internal/core"
	"folhaponto/internal/log"
	"folhaponto/internal/store"
)

// FichaService orchestrates ficha operations. Every ficha it returns carries a
// summary recomputed from its day entries.
type FichaService struct {
	store  Records
	logger *log.Logger
}

func NewFichaService(records Records) *FichaService {
	return &FichaService{
		store:  records,
		logger: log.FromContext(context.Background()).WithComponent(log.ComponentFicha),
	}
}

func derived(f core.Ficha) core.Ficha {
	return core.WithDerivedSummary(f).Normalized()
}

// CreateFicha stores a new ficha for an existing employee.
func (s *FichaService) CreateFicha(ctx context.Context, f core.Ficha) (core.Ficha, error) {
	f.ID = ""
	f.SigningToken, f.SigningTokenExpiresAt, f.SignedAt = "", nil, nil
	if err := f.Validate(); err != nil {
		return core.Ficha{}, err
	}
	if err := core.ValidateDays(f.Days); err != nil {
		return core.Ficha{}, err
	}
	ok, err := s.store.EmployeeExists(ctx, f.EmployeeID)
	if err != nil {
		return core.Ficha{}, fmt.Errorf("check employee: %w", err)
	}
	if !ok {
		return core.Ficha{}, &core.ValidationError{Field: "funcionario", Msg: "funcionário não encontrado"}
	}

	f.Days = core.ReconcileDays(nil, f.Days)
	created, err := s.store.CreateFicha(ctx, derived(f))
	if err != nil {
		return core.Ficha{}, fmt.Errorf("create ficha: %w", err)
	}
	s.logger.InfoContext(ctx, "Ficha created",
		log.NewFields().WithFicha(created.ID, created.EmployeeID, created.Month, created.Year).ToSlice()...)
	return derived(created), nil
}

// GetFicha returns one ficha. A ficha that lost its employee link is reported
// as a validation error.
func (s *FichaService) GetFicha(ctx context.Context, id string) (core.Ficha, error) {
	f, err := s.store.GetFicha(ctx, id)
	if err != nil {
		return core.Ficha{}, fmt.Errorf("get ficha: %w", err)
	}
	if strings.TrimSpace(f.EmployeeID) == "" {
		return core.Ficha{}, &core.ValidationError{Field: "funcionario", Msg: "Ficha sem vínculo de funcionário"}
	}
	return derived(f), nil
}

// ListFichas returns every ficha in insertion order.
func (s *FichaService) ListFichas(ctx context.Context) ([]core.Ficha, error) {
	list, err := s.store.ListFichas(ctx)
	if err != nil {
		return nil, fmt.Errorf("list fichas: %w", err)
	}
	return derivedAll(list), nil
}

// ListFichasForEmployee returns the fichas of one employee, or an empty list
// when the employee does not exist.
func (s *FichaService) ListFichasForEmployee(ctx context.Context, employeeID string) ([]core.Ficha, error) {
	ok, err := s.store.EmployeeExists(ctx, employeeID)
	if err != nil {
		return nil, fmt.Errorf("check employee: %w", err)
	}
	if !ok {
		return []core.Ficha{}, nil
	}
	list, err := s.store.ListFichasByEmployee(ctx, employeeID)
	if err != nil {
		return nil, fmt.Errorf("list fichas of employee: %w", err)
	}
	return derivedAll(list), nil
}

func derivedAll(list []core.Ficha) []core.Ficha {
	out := make([]core.Ficha, 0, len(list))
	for _, f := range list {
		out = append(out, derived(f))
	}
	return out
}

// UpdateFicha merges patch into the stored ficha. Only diasDoMes (when an
// array), resumoGeral, assinatura and assinaturaFuncionario (when strings)
// are read; every other key is ignored.
func (s *FichaService) UpdateFicha(ctx context.Context, id string, patch map[string]json.RawMessage) (core.Ficha, error) {
	f, err := s.store.GetFicha(ctx, id)
	if err != nil {
		return core.Ficha{}, fmt.Errorf("update ficha: %w", err)
	}

	// Only the parts named by the patch are written back, so a signature
	// stored meanwhile by the signing flow is not overwritten.
	var fields store.FichaField
	if raw, ok := patch["diasDoMes"]; ok && isJSONArray(raw) {
		var days []core.DayEntry
		if err := json.Unmarshal(raw, &days); err != nil {
			return core.Ficha{}, &core.ValidationError{Field: "diasDoMes", Msg: "dias do mês inválidos"}
		}
		if err := core.ValidateDays(days); err != nil {
			return core.Ficha{}, err
		}
		f.Days = core.ReconcileDays(f.Days, days)
		fields |= store.FichaDays | store.FichaSummary
	}
	if raw, ok := patch["resumoGeral"]; ok && isJSONObject(raw) {
		f.Summary = summaryFromPatch(raw)
		fields |= store.FichaSummary
	}
	if v, ok := jsonString(patch["assinatura"]); ok {
		f.ManagerSignature = v
		fields |= store.FichaManagerSignature
	}
	if v, ok := jsonString(patch["assinaturaFuncionario"]); ok {
		f.EmployeeSignature = v
		fields |= store.FichaEmployeeSignature
	}

	updated, err := s.store.UpdateFicha(ctx, derived(f), fields)
	if err != nil {
		return core.Ficha{}, fmt.Errorf("update ficha: %w", err)
	}
	s.logger.InfoContext(ctx, "Ficha updated",
		log.NewFields().WithFicha(updated.ID, updated.EmployeeID, updated.Month, updated.Year).
			WithOperation(log.OpUpdate).ToSlice()...)
	return derived(updated), nil
}

// summaryFromPatch reads each summary field, defaulting to empty when it is
// missing or has the wrong type.
func summaryFromPatch(raw json.RawMessage) core.Summary {
	var fields map[string]json.RawMessage
	_ = json.Unmarshal(raw, &fields)
	str := func(key string) string {
		v, _ := jsonString(fields[key])
		return v
	}
	sum := core.Summary{
		WorkedDaysHours: str("diasHorasNormais"),
		OvertimeHours:   str("horasExtras"),
		Absences:        []core.Absence{},
		CalculationBase: str("baseCalculo"),
		INSS:            str("inss"),
		FamilyAllowance: str("salarioFamilia"),
		NetTotal:        str("liquido"),
	}
	if a := fields["faltas"]; isJSONArray(a) {
		var absences []core.Absence
		if err := json.Unmarshal(a, &absences); err == nil && absences != nil {
			sum.Absences = absences
		}
	}
	return sum
}

func isJSONArray(raw json.RawMessage) bool {
	return bytes.HasPrefix(bytes.TrimSpace(raw), []byte("["))
}

func isJSONObject(raw json.RawMessage) bool {
	return bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{"))
}

func jsonString(raw json.RawMessage) (string, bool) {
	if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte(`"`)) {
		return "", false
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	return v, true
}

// UpdateFichaHeader replaces the header snapshot of a ficha.
func (s *FichaService) UpdateFichaHeader(ctx context.Context, id string, h core.Header) (core.Ficha, error) {
	f, err := s.store.GetFicha(ctx, id)
	if err != nil {
		return core.Ficha{}, fmt.Errorf("update header: %w", err)
	}
	f.Header = h
	updated, err := s.store.UpdateFicha(ctx, derived(f), store.FichaHeader)
	if err != nil {
		return core.Ficha{}, fmt.Errorf("update header: %w", err)
	}
	return derived(updated), nil
}

// DeleteFicha is idempotent.
func (s *FichaService) DeleteFicha(ctx context.Context, id string) error {
	if err := s.store.DeleteFicha(ctx, id); err != nil {
		return fmt.Errorf("delete ficha: %w", err)
	}
	return nil
}

// SweepOrphans deletes every ficha whose employee no longer exists and returns
// how many were removed.
func (s *FichaService) SweepOrphans(ctx context.Context) (int, error) {
	list, err := s.store.ListFichas(ctx)
	if err != nil {
		return 0, fmt.Errorf("list fichas: %w", err)
	}

	known := map[string]bool{}
	var orphans []string
	for _, f := range list {
		exists, seen := known[f.EmployeeID]
		if !seen {
			if f.EmployeeID != "" {
				exists, err = s.store.EmployeeExists(ctx, f.EmployeeID)
				if err != nil {
					return 0, fmt.Errorf("check employee %s: %w", f.EmployeeID, err)
				}
			}
			known[f.EmployeeID] = exists
		}
		if !exists {
			orphans = append(orphans, f.ID)
		}
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	n, err := s.store.DeleteFichas(ctx, orphans)
	if err != nil {
		return 0, fmt.Errorf("delete orphan fichas: %w", err)
	}
	s.logger.InfoContext(ctx, "Orphan fichas removed",
		log.FieldCount, n, log.FieldOperation, log.OpSweep)
	return n, nil
}
