package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"folhaponto/internal/cache"
	"folhaponto/internal/core"
	"folhaponto/internal/log"
	"folhaponto/internal/store"
)

const rosterKey = "employees"

// Records is the part of the record store the record services use.
type Records interface {
	store.EmployeeStore
	store.FichaStore
}

// NewEmployee is the registration payload: the employee record plus the
// header of the first ficha. Non-empty header fields take precedence over the
// matching employee fields.
type NewEmployee struct {
	Employee core.Employee `json:"empregado"`
	Header   core.Header   `json:"header"`
}

// EmployeeService orchestrates employee operations and keeps each employee's
// fichas consistent with it.
type EmployeeService struct {
	store  Records
	roster cache.Cache[[]core.Employee]
	now    func() time.Time
	logger *log.Logger
}

type EmployeeOption func(*EmployeeService)

// WithRosterCache caches the employee list between writes.
func WithRosterCache(c cache.Cache[[]core.Employee]) EmployeeOption {
	return func(s *EmployeeService) { s.roster = c }
}

// WithEmployeeClock replaces time.Now when picking the default reference month.
func WithEmployeeClock(now func() time.Time) EmployeeOption {
	return func(s *EmployeeService) { s.now = now }
}

func NewEmployeeService(records Records, opts ...EmployeeOption) *EmployeeService {
	s := &EmployeeService{
		store:  records,
		now:    time.Now,
		logger: log.FromContext(context.Background()).WithComponent(log.ComponentEmployee),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// CreateEmployee registers an employee and its first ficha. The ficha covers
// the header's month and year, or the current ones when absent. A failure to
// create the ficha is logged and leaves the employee in place.
func (s *EmployeeService) CreateEmployee(ctx context.Context, in NewEmployee) (core.Employee, core.Ficha, error) {
	e := in.Employee
	h := in.Header
	e.Name = strings.TrimSpace(e.Name)
	e.CPF = core.NormalizeCPF(e.CPF)
	if err := e.Validate(); err != nil {
		return core.Employee{}, core.Ficha{}, err
	}

	existing, err := s.store.FindEmployeeByIdentity(ctx, e.CPF, e.Name)
	switch {
	case err == nil:
		if existing.CPF == e.CPF {
			return core.Employee{}, core.Ficha{}, core.ErrDuplicateCPF
		}
		return core.Employee{}, core.Ficha{}, core.ErrDuplicateName
	case !errors.Is(err, core.ErrNotFound):
		return core.Employee{}, core.Ficha{}, fmt.Errorf("check duplicate employee: %w", err)
	}

	now := s.now()
	month, year := h.Month, h.Year
	if month < 1 || month > 12 {
		month = int(now.Month())
	}
	if year < 1 {
		year = now.Year()
	}

	e.AdmissionDate = firstNonEmpty(h.AdmissionDate, e.AdmissionDate)
	e.CTPS = firstNonEmpty(h.CTPS, e.CTPS)
	e.WeekdayHours = firstNonEmpty(h.WeekdayHours, e.WeekdayHours)
	e.SaturdayHours = firstNonEmpty(h.SaturdayHours, e.SaturdayHours)
	e.WeeklyRest = firstNonEmpty(h.WeeklyRest, e.WeeklyRest)
	e.JobTitle = firstNonEmpty(h.JobTitle, e.JobTitle)
	e.EmployerName = firstNonEmpty(h.EmployerName, e.EmployerName)
	e.EmployerTaxID = firstNonEmpty(h.EmployerTaxID, e.EmployerTaxID)
	e.EmployerAddress = firstNonEmpty(h.EmployerAddress, e.EmployerAddress)
	e.ReferenceMonth = month
	e.ReferenceYear = year
	e.CreatedAt = now.UTC()
	e.UpdatedAt = e.CreatedAt

	created, err := s.store.CreateEmployee(ctx, e)
	if err != nil {
		return core.Employee{}, core.Ficha{}, fmt.Errorf("create employee: %w", err)
	}
	s.invalidate()

	ficha, err := s.store.CreateFicha(ctx, core.Ficha{
		EmployeeID: created.ID,
		Month:      month,
		Year:       year,
		Header:     core.HeaderFor(created, month, year),
		Days:       []core.DayEntry{},
		Summary:    core.Summary{Absences: []core.Absence{}},
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Employee created without initial ficha",
			log.FieldEmployeeID, created.ID, log.FieldOperation, log.OpCreate, log.FieldError, err)
		return created, core.Ficha{}, fmt.Errorf("create initial ficha: %w", err)
	}

	s.logger.InfoContext(ctx, "Employee created",
		log.FieldEmployeeID, created.ID, log.FieldFichaID, ficha.ID,
		log.FieldMonth, month, log.FieldYear, year)
	return created, ficha.Normalized(), nil
}

func (s *EmployeeService) ListEmployees(ctx context.Context) ([]core.Employee, error) {
	if s.roster != nil {
		if list, ok := s.roster.Get(rosterKey); ok {
			return slices.Clone(list), nil
		}
	}
	list, err := s.store.ListEmployees(ctx)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	if list == nil {
		list = []core.Employee{}
	}
	if s.roster != nil {
		s.roster.Set(rosterKey, slices.Clone(list))
	}
	return list, nil
}

func (s *EmployeeService) GetEmployee(ctx context.Context, id string) (core.Employee, error) {
	e, err := s.store.GetEmployee(ctx, id)
	if err != nil {
		return core.Employee{}, fmt.Errorf("get employee: %w", err)
	}
	return e, nil
}

// UpdateEmployee replaces the employee record. The stored photo is kept when
// the update carries none. Name and CPF uniqueness is not re-checked here; the
// store still rejects a CPF owned by another employee.
func (s *EmployeeService) UpdateEmployee(ctx context.Context, id string, in core.Employee) (core.Employee, error) {
	current, err := s.store.GetEmployee(ctx, id)
	if err != nil {
		return core.Employee{}, fmt.Errorf("update employee: %w", err)
	}

	in.ID = current.ID
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		in.Name = current.Name
	}
	in.CPF = core.NormalizeCPF(in.CPF)
	if in.CPF == "" {
		in.CPF = current.CPF
	}
	in.Photo = firstNonEmpty(in.Photo, current.Photo)
	in.CreatedAt = current.CreatedAt
	in.UpdatedAt = s.now().UTC()

	updated, err := s.store.UpdateEmployee(ctx, in)
	if err != nil {
		return core.Employee{}, fmt.Errorf("update employee: %w", err)
	}
	s.invalidate()
	return updated, nil
}

// UpdateEmployeeManagerSignature sets the manager signature of one employee.
func (s *EmployeeService) UpdateEmployeeManagerSignature(ctx context.Context, id, image string) (core.Employee, error) {
	if strings.TrimSpace(image) == "" {
		return core.Employee{}, &core.ValidationError{Field: "assinaturaBase64", Msg: "assinatura base64 é obrigatória"}
	}
	e, err := s.store.GetEmployee(ctx, id)
	if err != nil {
		return core.Employee{}, fmt.Errorf("update manager signature: %w", err)
	}
	e.ManagerSignature = image
	e.UpdatedAt = s.now().UTC()
	updated, err := s.store.UpdateEmployee(ctx, e)
	if err != nil {
		return core.Employee{}, fmt.Errorf("update manager signature: %w", err)
	}
	s.invalidate()
	return updated, nil
}

// UpdateManagerSignatureForAll writes image as the manager signature of every
// employee. Concurrent calls resolve as last write wins.
func (s *EmployeeService) UpdateManagerSignatureForAll(ctx context.Context, image string) (int, error) {
	if strings.TrimSpace(image) == "" {
		return 0, &core.ValidationError{Field: "assinaturaBase64", Msg: "Assinatura não enviada"}
	}
	n, err := s.store.SetManagerSignatureAll(ctx, image)
	if err != nil {
		return 0, fmt.Errorf("broadcast manager signature: %w", err)
	}
	s.invalidate()
	s.logger.InfoContext(ctx, "Manager signature applied to all employees", log.FieldCount, n)
	return n, nil
}

// GetManagerSignature returns the first non-empty manager signature among the
// employees, or "" when none has one.
func (s *EmployeeService) GetManagerSignature(ctx context.Context) (string, error) {
	list, err := s.ListEmployees(ctx)
	if err != nil {
		return "", err
	}
	for _, e := range list {
		if e.ManagerSignature != "" {
			return e.ManagerSignature, nil
		}
	}
	return "", nil
}

// DeleteEmployee removes every ficha of the employee and then the employee.
// A partial failure leaves the employee in place so the call can be retried.
func (s *EmployeeService) DeleteEmployee(ctx context.Context, id string) error {
	if _, err := s.store.GetEmployee(ctx, id); err != nil {
		return fmt.Errorf("delete employee: %w", err)
	}
	n, err := s.store.DeleteFichasByEmployee(ctx, id)
	if err != nil {
		return fmt.Errorf("delete fichas of employee: %w", err)
	}
	if err := s.store.DeleteEmployee(ctx, id); err != nil {
		return fmt.Errorf("delete employee: %w", err)
	}
	s.invalidate()
	s.logger.InfoContext(ctx, "Employee deleted",
		log.FieldEmployeeID, id, log.FieldCount, n, log.FieldOperation, log.OpDelete)
	return nil
}

func (s *EmployeeService) invalidate() {
	if s.roster != nil {
		s.roster.Purge()
	}
}
