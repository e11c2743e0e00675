// Package storetest holds behaviour checks shared by every store adapter.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"folhaponto/internal/core"
	"folhaponto/internal/store"
)

// Run exercises s against the contract documented on the store ports. The
// factory must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("employees", func(t *testing.T) { testEmployees(t, newStore(t)) })
	t.Run("fichas", func(t *testing.T) { testFichas(t, newStore(t)) })
	t.Run("signing tokens", func(t *testing.T) { testSigningTokens(t, newStore(t)) })
	t.Run("concurrent consume", func(t *testing.T) { testConcurrentConsume(t, newStore(t)) })
	t.Run("signing codes", func(t *testing.T) { testSigningCodes(t, newStore(t)) })
	t.Run("accounts", func(t *testing.T) { testAccounts(t, newStore(t)) })
}

func mustEmployee(t *testing.T, s store.Store, name, cpf string) core.Employee {
	t.Helper()
	e, err := s.CreateEmployee(context.Background(), core.Employee{Name: name, CPF: cpf, JobTitle: "Auxiliar"})
	if err != nil {
		t.Fatalf("create employee %s: %v", name, err)
	}
	return e
}

func mustFicha(t *testing.T, s store.Store, employeeID string, month int) core.Ficha {
	t.Helper()
	f, err := s.CreateFicha(context.Background(), core.Ficha{
		EmployeeID: employeeID,
		Month:      month,
		Year:       2024,
		Days:       []core.DayEntry{{Day: 1, Entrance: "08:00", Exit: "17:00", Status: core.StatusPresent}},
		Summary:    core.Summary{Absences: []core.Absence{}, NetTotal: "1000"},
	})
	if err != nil {
		t.Fatalf("create ficha: %v", err)
	}
	return f
}

func testEmployees(t *testing.T, s store.Store) {
	ctx := context.Background()
	ana := mustEmployee(t, s, "Ana Souza", "12345678900")
	if ana.ID == "" {
		t.Fatal("expected generated id")
	}

	if _, err := s.CreateEmployee(ctx, core.Employee{Name: "Outra", CPF: "12345678900"}); !errors.Is(err, core.ErrDuplicateCPF) {
		t.Fatalf("expected ErrDuplicateCPF, got %v", err)
	}

	found, err := s.FindEmployeeByIdentity(ctx, "", "ANA SOUZA")
	if err != nil || found.ID != ana.ID {
		t.Fatalf("find by name: %v %v", found.ID, err)
	}
	found, err = s.FindEmployeeByIdentity(ctx, "12345678900", "nobody")
	if err != nil || found.ID != ana.ID {
		t.Fatalf("find by cpf: %v %v", found.ID, err)
	}
	if _, err := s.FindEmployeeByIdentity(ctx, "999", "nobody"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	ana.JobTitle = "Gerente"
	ana.Photo = "foto.png"
	updated, err := s.UpdateEmployee(ctx, ana)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.JobTitle != "Gerente" {
		t.Fatalf("job title not updated: %+v", updated)
	}
	if _, err := s.UpdateEmployee(ctx, core.Employee{ID: "missing", Name: "x", CPF: "1"}); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	bruno := mustEmployee(t, s, "Bruno", "11122233344")
	n, err := s.SetManagerSignatureAll(ctx, "data:image/png;base64,AAA")
	if err != nil || n != 2 {
		t.Fatalf("set manager signature: n=%d err=%v", n, err)
	}
	list, err := s.ListEmployees(ctx)
	if err != nil || len(list) != 2 {
		t.Fatalf("list: %v %v", list, err)
	}
	for _, e := range list {
		if e.ManagerSignature != "data:image/png;base64,AAA" {
			t.Errorf("employee %s missing broadcast signature", e.Name)
		}
	}

	if err := s.DeleteEmployee(ctx, bruno.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := s.EmployeeExists(ctx, bruno.ID); ok {
		t.Fatal("employee still exists after delete")
	}
	if err := s.DeleteEmployee(ctx, bruno.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetEmployee(ctx, bruno.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get deleted: expected ErrNotFound, got %v", err)
	}
}

func testFichas(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := mustEmployee(t, s, "Carla", "1")
	other := mustEmployee(t, s, "Davi", "2")
	f1 := mustFicha(t, s, e.ID, 1)
	f2 := mustFicha(t, s, e.ID, 2)
	f3 := mustFicha(t, s, other.ID, 1)

	got, err := s.GetFicha(ctx, f1.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Days) != 1 || got.Days[0].Entrance != "08:00" || got.Summary.NetTotal != "1000" {
		t.Fatalf("round trip lost data: %+v", got)
	}

	byEmp, err := s.ListFichasByEmployee(ctx, e.ID)
	if err != nil || len(byEmp) != 2 {
		t.Fatalf("list by employee: %d %v", len(byEmp), err)
	}
	none, err := s.ListFichasByEmployee(ctx, "unknown")
	if err != nil || none == nil || len(none) != 0 {
		t.Fatalf("unknown employee must yield empty non-nil list: %v %v", none, err)
	}

	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)
	if err := s.SetSigningToken(ctx, f1.ID, "tok", exp); err != nil {
		t.Fatalf("set token: %v", err)
	}
	got.Days = append(got.Days, core.DayEntry{Day: 2, Status: core.StatusAbsent})
	got.SigningToken = ""
	got.SigningTokenExpiresAt = nil
	got.ManagerSignature = "sig"
	updated, err := s.UpdateFicha(ctx, got, store.FichaDays|store.FichaManagerSignature)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.SigningToken != "tok" || len(updated.Days) != 2 || updated.ManagerSignature != "sig" {
		t.Fatalf("update must keep token and apply fields: %+v", updated)
	}
	if _, err := s.UpdateFicha(ctx, core.Ficha{ID: "missing"}, store.FichaDays); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Fields outside the mask keep their stored values.
	if _, err := s.ConsumeSigningToken(ctx, "tok", "emp-sig", time.Now()); err != nil {
		t.Fatalf("consume token: %v", err)
	}
	stale := updated
	stale.EmployeeSignature = ""
	stale.ManagerSignature = ""
	stale.Summary.NetTotal = "2000"
	partial, err := s.UpdateFicha(ctx, stale, store.FichaSummary)
	if err != nil {
		t.Fatalf("partial update: %v", err)
	}
	if partial.Summary.NetTotal != "2000" || partial.EmployeeSignature != "emp-sig" || partial.ManagerSignature != "sig" {
		t.Fatalf("partial update touched unselected fields: %+v", partial)
	}

	dup := core.Ficha{EmployeeID: e.ID, Month: 1, Year: 2024}
	if _, err := s.CreateFicha(ctx, dup); !errors.Is(err, core.ErrDuplicateFicha) || !errors.Is(err, core.ErrConflict) {
		t.Fatalf("expected ErrDuplicateFicha, got %v", err)
	}

	n, err := s.DeleteFichasByEmployee(ctx, e.ID)
	if err != nil || n != 2 {
		t.Fatalf("cascade: n=%d err=%v", n, err)
	}
	if left, _ := s.ListFichasByEmployee(ctx, e.ID); len(left) != 0 {
		t.Fatalf("fichas left after cascade: %d", len(left))
	}
	if _, err := s.GetFicha(ctx, f2.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.DeleteFicha(ctx, f3.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteFicha(ctx, f3.ID); err != nil {
		t.Fatalf("delete must be idempotent: %v", err)
	}

	f4 := mustFicha(t, s, other.ID, 3)
	n, err = s.DeleteFichas(ctx, []string{f4.ID, f3.ID})
	if err != nil || n != 1 {
		t.Fatalf("delete many: n=%d err=%v", n, err)
	}
	all, _ := s.ListFichas(ctx)
	if len(all) != 0 {
		t.Fatalf("expected no fichas, got %d", len(all))
	}
}

func testSigningTokens(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := mustEmployee(t, s, "Eva", "3")
	f := mustFicha(t, s, e.ID, 5)
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	if err := s.SetSigningToken(ctx, "missing", "x", now); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing ficha, got %v", err)
	}
	if err := s.SetSigningToken(ctx, f.ID, "k1", now.Add(5*time.Minute)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetSigningToken(ctx, f.ID, "k2", now.Add(5*time.Minute)); err != nil {
		t.Fatalf("reissue: %v", err)
	}
	if _, err := s.FindFichaBySigningToken(ctx, "k1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("overwritten token must be unknown, got %v", err)
	}
	got, err := s.FindFichaBySigningToken(ctx, "k2")
	if err != nil || got.ID != f.ID || got.SigningTokenExpiresAt == nil {
		t.Fatalf("find: %+v %v", got, err)
	}
	if !got.SigningTokenExpiresAt.Equal(now.Add(5 * time.Minute)) {
		t.Fatalf("expiry = %v", got.SigningTokenExpiresAt)
	}

	// clearing a stale value leaves the current token alone
	if err := s.ClearSigningToken(ctx, f.ID, "k1"); err != nil {
		t.Fatalf("clear stale: %v", err)
	}
	if _, err := s.FindFichaBySigningToken(ctx, "k2"); err != nil {
		t.Fatalf("k2 lost after stale clear: %v", err)
	}

	if _, err := s.ConsumeSigningToken(ctx, "k2", "sig", now.Add(6*time.Minute)); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("consume after expiry must fail, got %v", err)
	}
	signed, err := s.ConsumeSigningToken(ctx, "k2", "sig", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if signed.EmployeeSignature != "sig" || signed.SigningToken != "" || signed.SigningTokenExpiresAt != nil || signed.SignedAt == nil {
		t.Fatalf("consume result: %+v", signed)
	}
	if _, err := s.ConsumeSigningToken(ctx, "k2", "other", now.Add(time.Minute)); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("second consume must be ErrNotFound, got %v", err)
	}
	stored, _ := s.GetFicha(ctx, f.ID)
	if stored.EmployeeSignature != "sig" {
		t.Fatalf("signature overwritten: %q", stored.EmployeeSignature)
	}

	if err := s.SetSigningToken(ctx, f.ID, "k3", now); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.ClearSigningToken(ctx, f.ID, "k3"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	stored, _ = s.GetFicha(ctx, f.ID)
	if stored.SigningToken != "" || stored.SigningTokenExpiresAt != nil {
		t.Fatalf("token not cleared: %+v", stored)
	}
	if _, err := s.FindFichaBySigningToken(ctx, ""); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("empty token must be unknown, got %v", err)
	}
}

func testConcurrentConsume(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := mustEmployee(t, s, "Fabio", "4")
	f := mustFicha(t, s, e.ID, 6)
	now := time.Now().UTC()
	if err := s.SetSigningToken(ctx, f.ID, "race", now.Add(time.Minute)); err != nil {
		t.Fatalf("set: %v", err)
	}

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConsumeSigningToken(ctx, "race", "sig", now)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, core.ErrNotFound) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one successful consume, got %d", wins)
	}
}

func testSigningCodes(t *testing.T, s store.Store) {
	ctx := context.Background()
	exp := time.Now().Add(5 * time.Minute).UTC().Truncate(time.Millisecond)

	if _, err := s.GetSigningCode(ctx, core.ManagerSignatureTarget); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.PutSigningCode(ctx, core.SigningCode{Target: core.ManagerSignatureTarget, Code: "a", ExpiresAt: exp}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.PutSigningCode(ctx, core.SigningCode{Target: core.ManagerSignatureTarget, Code: "b", ExpiresAt: exp}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	c, err := s.GetSigningCode(ctx, core.ManagerSignatureTarget)
	if err != nil || c.Code != "b" || !c.ExpiresAt.Equal(exp) {
		t.Fatalf("get: %+v %v", c, err)
	}
	if ok, err := s.DeleteSigningCode(ctx, core.ManagerSignatureTarget, "a"); err != nil || ok {
		t.Fatalf("stale delete must be a no-op: %v %v", ok, err)
	}
	if ok, err := s.DeleteSigningCode(ctx, core.ManagerSignatureTarget, "b"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, _ := s.DeleteSigningCode(ctx, core.ManagerSignatureTarget, "b"); ok {
		t.Fatal("code deleted twice")
	}
}

func testAccounts(t *testing.T, s store.Store) {
	ctx := context.Background()
	a, err := s.CreateAccount(ctx, core.Account{Name: "Admin", Email: "Admin@Example.com ", PasswordHash: "h", Role: core.RoleUser})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.Email != "admin@example.com" {
		t.Fatalf("email not normalized: %q", a.Email)
	}
	if _, err := s.CreateAccount(ctx, core.Account{Name: "x", Email: "admin@example.com", PasswordHash: "h", Role: core.RoleUser}); !errors.Is(err, core.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
	got, err := s.GetAccountByEmail(ctx, "ADMIN@example.com")
	if err != nil || got.ID != a.ID || got.PasswordHash != "h" {
		t.Fatalf("get by email: %+v %v", got, err)
	}
	if err := s.UpdateAccountRole(ctx, a.ID, core.RoleAdmin); err != nil {
		t.Fatalf("update role: %v", err)
	}
	got, _ = s.GetAccount(ctx, a.ID)
	if got.Role != core.RoleAdmin {
		t.Fatalf("role = %q", got.Role)
	}
	if _, err := s.GetAccount(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateAccountRole(ctx, "missing", core.RoleAdmin); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
