// Package memory is an in-process record store used for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"folhaponto/internal/core"
	"folhaponto/internal/store"
)

type Store struct {
	mu        sync.Mutex
	now       func() time.Time
	employees map[string]core.Employee
	empOrder  []string
	fichas    map[string]core.Ficha
	fichOrder []string
	accounts  map[string]core.Account
	accOrder  []string
	codes     map[string]core.SigningCode
}

func New() *Store {
	return &Store{
		now:       time.Now,
		employees: map[string]core.Employee{},
		fichas:    map[string]core.Ficha{},
		accounts:  map[string]core.Account{},
		codes:     map[string]core.SigningCode{},
	}
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func newID() string { return uuid.NewString() }

// --- employees

func (s *Store) CreateEmployee(_ context.Context, e core.Employee) (core.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.employees {
		if other.CPF == e.CPF {
			return core.Employee{}, core.ErrDuplicateCPF
		}
	}
	if e.ID == "" {
		e.ID = newID()
	}
	now := s.now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	s.employees[e.ID] = e
	s.empOrder = append(s.empOrder, e.ID)
	return e, nil
}

func (s *Store) GetEmployee(_ context.Context, id string) (core.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.employees[id]
	if !ok {
		return core.Employee{}, fmt.Errorf("employee %s: %w", id, core.ErrNotFound)
	}
	return e, nil
}

func (s *Store) ListEmployees(context.Context) ([]core.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Employee, 0, len(s.empOrder))
	for _, id := range s.empOrder {
		out = append(out, s.employees[id])
	}
	return out, nil
}

func (s *Store) FindEmployeeByIdentity(_ context.Context, cpf, name string) (core.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := core.NameKey(name)
	for _, id := range s.empOrder {
		e := s.employees[id]
		if (cpf != "" && e.CPF == cpf) || (key != "" && core.NameKey(e.Name) == key) {
			return e, nil
		}
	}
	return core.Employee{}, core.ErrNotFound
}

func (s *Store) UpdateEmployee(_ context.Context, e core.Employee) (core.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.employees[e.ID]
	if !ok {
		return core.Employee{}, fmt.Errorf("employee %s: %w", e.ID, core.ErrNotFound)
	}
	for id, other := range s.employees {
		if id != e.ID && other.CPF == e.CPF {
			return core.Employee{}, core.ErrDuplicateCPF
		}
	}
	e.CreatedAt = old.CreatedAt
	e.UpdatedAt = s.now().UTC()
	s.employees[e.ID] = e
	return e, nil
}

func (s *Store) DeleteEmployee(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.employees[id]; !ok {
		return fmt.Errorf("employee %s: %w", id, core.ErrNotFound)
	}
	delete(s.employees, id)
	s.empOrder = without(s.empOrder, id)
	return nil
}

func (s *Store) EmployeeExists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.employees[id]
	return ok, nil
}

func (s *Store) SetManagerSignatureAll(_ context.Context, image string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	for id, e := range s.employees {
		e.ManagerSignature = image
		e.UpdatedAt = now
		s.employees[id] = e
	}
	return len(s.employees), nil
}

// --- fichas

func (s *Store) CreateFicha(_ context.Context, f core.Ficha) (core.Ficha, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.fichOrder {
		if o := s.fichas[id]; o.EmployeeID == f.EmployeeID && o.Month == f.Month && o.Year == f.Year {
			return core.Ficha{}, core.ErrDuplicateFicha
		}
	}
	if f.ID == "" {
		f.ID = newID()
	}
	f = cloneFicha(f)
	s.fichas[f.ID] = f
	s.fichOrder = append(s.fichOrder, f.ID)
	return cloneFicha(f), nil
}

func (s *Store) GetFicha(_ context.Context, id string) (core.Ficha, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fichas[id]
	if !ok {
		return core.Ficha{}, fmt.Errorf("ficha %s: %w", id, core.ErrNotFound)
	}
	return cloneFicha(f), nil
}

func (s *Store) ListFichas(context.Context) ([]core.Ficha, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Ficha, 0, len(s.fichOrder))
	for _, id := range s.fichOrder {
		out = append(out, cloneFicha(s.fichas[id]))
	}
	return out, nil
}

func (s *Store) ListFichasByEmployee(_ context.Context, employeeID string) ([]core.Ficha, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Ficha, 0)
	for _, id := range s.fichOrder {
		if f := s.fichas[id]; f.EmployeeID == employeeID {
			out = append(out, cloneFicha(f))
		}
	}
	return out, nil
}

func (s *Store) UpdateFicha(_ context.Context, f core.Ficha, fields store.FichaField) (core.Ficha, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.fichas[f.ID]
	if !ok {
		return core.Ficha{}, fmt.Errorf("ficha %s: %w", f.ID, core.ErrNotFound)
	}
	if fields.Has(store.FichaDays) {
		cur.Days = f.Days
	}
	if fields.Has(store.FichaSummary) {
		cur.Summary = f.Summary
	}
	if fields.Has(store.FichaHeader) {
		cur.Header = f.Header
	}
	if fields.Has(store.FichaManagerSignature) {
		cur.ManagerSignature = f.ManagerSignature
	}
	if fields.Has(store.FichaEmployeeSignature) {
		cur.EmployeeSignature = f.EmployeeSignature
	}
	cur = cloneFicha(cur)
	s.fichas[cur.ID] = cur
	return cloneFicha(cur), nil
}

func (s *Store) DeleteFicha(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteFichaLocked(id)
	return nil
}

func (s *Store) DeleteFichasByEmployee(_ context.Context, employeeID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, id := range s.fichOrder {
		if s.fichas[id].EmployeeID == employeeID {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		s.deleteFichaLocked(id)
	}
	return len(ids), nil
}

func (s *Store) DeleteFichas(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		if s.deleteFichaLocked(id) {
			n++
		}
	}
	return n, nil
}

func (s *Store) deleteFichaLocked(id string) bool {
	if _, ok := s.fichas[id]; !ok {
		return false
	}
	delete(s.fichas, id)
	s.fichOrder = without(s.fichOrder, id)
	return true
}

// --- signing tokens

func (s *Store) SetSigningToken(_ context.Context, fichaID, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fichas[fichaID]
	if !ok {
		return fmt.Errorf("ficha %s: %w", fichaID, core.ErrNotFound)
	}
	exp := expiresAt
	f.SigningToken = token
	f.SigningTokenExpiresAt = &exp
	s.fichas[fichaID] = f
	return nil
}

func (s *Store) FindFichaBySigningToken(_ context.Context, token string) (core.Ficha, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == "" {
		return core.Ficha{}, core.ErrNotFound
	}
	for _, f := range s.fichas {
		if f.SigningToken == token {
			return cloneFicha(f), nil
		}
	}
	return core.Ficha{}, core.ErrNotFound
}

func (s *Store) ClearSigningToken(_ context.Context, fichaID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fichas[fichaID]
	if !ok || f.SigningToken != token {
		return nil
	}
	f.SigningToken = ""
	f.SigningTokenExpiresAt = nil
	s.fichas[fichaID] = f
	return nil
}

func (s *Store) ConsumeSigningToken(_ context.Context, token, signature string, now time.Time) (core.Ficha, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == "" {
		return core.Ficha{}, core.ErrNotFound
	}
	for id, f := range s.fichas {
		if f.SigningToken != token || !f.HasActiveToken(now) {
			continue
		}
		signedAt := now.UTC()
		f.EmployeeSignature = signature
		f.SigningToken = ""
		f.SigningTokenExpiresAt = nil
		f.SignedAt = &signedAt
		s.fichas[id] = f
		return cloneFicha(f), nil
	}
	return core.Ficha{}, core.ErrNotFound
}

// --- signing codes

func (s *Store) PutSigningCode(_ context.Context, c core.SigningCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[c.Target] = c
	return nil
}

func (s *Store) GetSigningCode(_ context.Context, target string) (core.SigningCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[target]
	if !ok {
		return core.SigningCode{}, core.ErrNotFound
	}
	return c, nil
}

func (s *Store) DeleteSigningCode(_ context.Context, target, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[target]
	if !ok || c.Code != code {
		return false, nil
	}
	delete(s.codes, target)
	return true, nil
}

// --- accounts

func (s *Store) CreateAccount(_ context.Context, a core.Account) (core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Email = core.NormalizeEmail(a.Email)
	for _, other := range s.accounts {
		if other.Email == a.Email {
			return core.Account{}, core.ErrDuplicateEmail
		}
	}
	if a.ID == "" {
		a.ID = newID()
	}
	a.CreatedAt = s.now().UTC()
	s.accounts[a.ID] = a
	s.accOrder = append(s.accOrder, a.ID)
	return a, nil
}

func (s *Store) GetAccount(_ context.Context, id string) (core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return core.Account{}, fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	return a, nil
}

func (s *Store) GetAccountByEmail(_ context.Context, email string) (core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = core.NormalizeEmail(email)
	for _, id := range s.accOrder {
		if a := s.accounts[id]; a.Email == email {
			return a, nil
		}
	}
	return core.Account{}, fmt.Errorf("account %s: %w", email, core.ErrNotFound)
}

func (s *Store) UpdateAccountRole(_ context.Context, id string, role core.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	a.Role = role
	s.accounts[id] = a
	return nil
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func cloneFicha(f core.Ficha) core.Ficha {
	f.Days = slices.Clone(f.Days)
	f.Summary.Absences = slices.Clone(f.Summary.Absences)
	if f.SigningTokenExpiresAt != nil {
		t := *f.SigningTokenExpiresAt
		f.SigningTokenExpiresAt = &t
	}
	if f.SignedAt != nil {
		t := *f.SignedAt
		f.SignedAt = &t
	}
	return f
}
