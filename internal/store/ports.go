// Package store declares the persistence ports of the record store. Adapters
// live in store/memory, store/mongo and storage (SQLite).
package store

import (
	"context"
	"time"

	"folhaponto/internal/core"
)

// FichaField selects the parts of a ficha written by FichaStore.UpdateFicha.
type FichaField uint8

const (
	FichaDays FichaField = 1 << iota
	FichaSummary
	FichaHeader
	FichaManagerSignature
	FichaEmployeeSignature
)

// Has reports whether every bit of field is set in f.
func (f FichaField) Has(field FichaField) bool { return f&field == field }

// Ports for outbound persistence adapters. Every adapter returns errors that
// match core.ErrNotFound, core.ErrDuplicateName, core.ErrDuplicateCPF,
// core.ErrDuplicateFicha and core.ErrDuplicateEmail with errors.Is.
type (
	EmployeeStore interface {
		CreateEmployee(ctx context.Context, e core.Employee) (core.Employee, error)
		GetEmployee(ctx context.Context, id string) (core.Employee, error)
		ListEmployees(ctx context.Context) ([]core.Employee, error)
		// FindEmployeeByIdentity returns the first employee whose normalized CPF
		// or case-insensitive name matches.
		FindEmployeeByIdentity(ctx context.Context, cpf, name string) (core.Employee, error)
		UpdateEmployee(ctx context.Context, e core.Employee) (core.Employee, error)
		DeleteEmployee(ctx context.Context, id string) error
		EmployeeExists(ctx context.Context, id string) (bool, error)
		// SetManagerSignatureAll writes image to every employee and returns the
		// number of rows touched.
		SetManagerSignatureAll(ctx context.Context, image string) (int, error)
	}

	FichaStore interface {
		// CreateFicha fails with core.ErrDuplicateFicha when the employee
		// already has a ficha for the same month and year.
		CreateFicha(ctx context.Context, f core.Ficha) (core.Ficha, error)
		GetFicha(ctx context.Context, id string) (core.Ficha, error)
		ListFichas(ctx context.Context) ([]core.Ficha, error)
		ListFichasByEmployee(ctx context.Context, employeeID string) ([]core.Ficha, error)
		// UpdateFicha writes the parts of f selected by fields onto the stored
		// ficha and returns the result. Every other field, including the
		// signing token and signed-at, keeps its stored value.
		UpdateFicha(ctx context.Context, f core.Ficha, fields FichaField) (core.Ficha, error)
		// DeleteFicha is idempotent: deleting an absent ficha is not an error.
		DeleteFicha(ctx context.Context, id string) error
		DeleteFichasByEmployee(ctx context.Context, employeeID string) (int, error)
		DeleteFichas(ctx context.Context, ids []string) (int, error)
	}

	// SigningTokenStore holds the per-ficha signing token fields.
	SigningTokenStore interface {
		// SetSigningToken overwrites the token and expiry of a ficha.
		SetSigningToken(ctx context.Context, fichaID, token string, expiresAt time.Time) error
		FindFichaBySigningToken(ctx context.Context, token string) (core.Ficha, error)
		// ClearSigningToken clears the token fields only while the stored token
		// still equals token.
		ClearSigningToken(ctx context.Context, fichaID, token string) error
		// ConsumeSigningToken atomically stores the employee signature and clears
		// the token, provided the token is stored and expires after now. It
		// returns core.ErrNotFound when no ficha matches.
		ConsumeSigningToken(ctx context.Context, token, signature string, now time.Time) (core.Ficha, error)
	}

	SigningCodeStore interface {
		// PutSigningCode replaces the code of c.Target.
		PutSigningCode(ctx context.Context, c core.SigningCode) error
		GetSigningCode(ctx context.Context, target string) (core.SigningCode, error)
		// DeleteSigningCode removes the code of target if it still equals code and
		// reports whether a row was removed.
		DeleteSigningCode(ctx context.Context, target, code string) (bool, error)
	}

	AccountStore interface {
		CreateAccount(ctx context.Context, a core.Account) (core.Account, error)
		GetAccount(ctx context.Context, id string) (core.Account, error)
		GetAccountByEmail(ctx context.Context, email string) (core.Account, error)
		UpdateAccountRole(ctx context.Context, id string, role core.Role) error
	}

	// Store is the full record store.
	Store interface {
		EmployeeStore
		FichaStore
		SigningTokenStore
		SigningCodeStore
		AccountStore
		Ping(ctx context.Context) error
		Close() error
	}
)
