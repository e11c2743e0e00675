// Package storage is the SQLite record store. Nested documents (header, day
// list, summary, employee record) are kept as JSON columns next to the indexed
// identity columns.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"folhaponto/internal/core"
	"folhaponto/internal/log"
	"folhaponto/internal/store"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// one writer at a time keeps the compare-and-set updates free of SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func isUniqueViolation(err error, column string) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: "+column)
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := time.UnixMilli(ms.Int64).UTC()
	return &t
}

// --- employees

const employeeColumns = `id, doc`

func scanEmployee(sc interface{ Scan(...any) error }) (core.Employee, error) {
	var (
		id  string
		doc string
	)
	if err := sc.Scan(&id, &doc); err != nil {
		return core.Employee{}, err
	}
	var e core.Employee
	if err := json.Unmarshal([]byte(doc), &e); err != nil {
		return core.Employee{}, fmt.Errorf("decode employee %s: %w", id, err)
	}
	e.ID = id
	return e, nil
}

func (r *SQLiteRepository) CreateEmployee(ctx context.Context, e core.Employee) (core.Employee, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := r.now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	doc, err := json.Marshal(e)
	if err != nil {
		return core.Employee{}, fmt.Errorf("encode employee: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO employees (id, name_key, cpf, doc, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, core.NameKey(e.Name), e.CPF, string(doc), toMillis(now))
	if isUniqueViolation(err, "employees.cpf") {
		return core.Employee{}, core.ErrDuplicateCPF
	}
	if err != nil {
		return core.Employee{}, fmt.Errorf("insert employee: %w", err)
	}
	slog.InfoContext(ctx, "Employee saved to SQLite", log.FieldComponent, log.ComponentStorage, log.FieldEmployeeID, e.ID)
	return e, nil
}

func (r *SQLiteRepository) GetEmployee(ctx context.Context, id string) (core.Employee, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = ?`, id)
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Employee{}, fmt.Errorf("employee %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Employee{}, fmt.Errorf("get employee: %w", err)
	}
	return e, nil
}

func (r *SQLiteRepository) ListEmployees(ctx context.Context) ([]core.Employee, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+employeeColumns+` FROM employees ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	defer rows.Close()
	out := make([]core.Employee, 0)
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) FindEmployeeByIdentity(ctx context.Context, cpf, name string) (core.Employee, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+employeeColumns+` FROM employees
		 WHERE (? <> '' AND cpf = ?) OR (? <> '' AND name_key = ?)
		 ORDER BY created_at, rowid LIMIT 1`,
		cpf, cpf, core.NameKey(name), core.NameKey(name))
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Employee{}, core.ErrNotFound
	}
	if err != nil {
		return core.Employee{}, fmt.Errorf("find employee: %w", err)
	}
	return e, nil
}

func (r *SQLiteRepository) UpdateEmployee(ctx context.Context, e core.Employee) (core.Employee, error) {
	old, err := r.GetEmployee(ctx, e.ID)
	if err != nil {
		return core.Employee{}, err
	}
	e.CreatedAt = old.CreatedAt
	e.UpdatedAt = r.now().UTC()
	doc, err := json.Marshal(e)
	if err != nil {
		return core.Employee{}, fmt.Errorf("encode employee: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE employees SET name_key = ?, cpf = ?, doc = ? WHERE id = ?`,
		core.NameKey(e.Name), e.CPF, string(doc), e.ID)
	if isUniqueViolation(err, "employees.cpf") {
		return core.Employee{}, core.ErrDuplicateCPF
	}
	if err != nil {
		return core.Employee{}, fmt.Errorf("update employee: %w", err)
	}
	return e, nil
}

func (r *SQLiteRepository) DeleteEmployee(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM employees WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete employee: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("employee %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) EmployeeExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM employees WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("employee exists: %w", err)
	}
	return true, nil
}

func (r *SQLiteRepository) SetManagerSignatureAll(ctx context.Context, image string) (int, error) {
	now := r.now().UTC().Format(time.RFC3339Nano)
	res, err := r.db.ExecContext(ctx,
		`UPDATE employees SET doc = json_set(doc, '$.assinaturaGestor', ?, '$.updatedAt', ?)`,
		image, now)
	if err != nil {
		return 0, fmt.Errorf("broadcast manager signature: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- fichas

const fichaColumns = `id, employee_id, month, year, header, days, summary,
	manager_signature, employee_signature, signing_token, signing_token_expires_at, signed_at`

func scanFicha(sc interface{ Scan(...any) error }) (core.Ficha, error) {
	var (
		f                      core.Ficha
		header, days, summary  string
		token                  sql.NullString
		tokenExpires, signedAt sql.NullInt64
	)
	err := sc.Scan(&f.ID, &f.EmployeeID, &f.Month, &f.Year, &header, &days, &summary,
		&f.ManagerSignature, &f.EmployeeSignature, &token, &tokenExpires, &signedAt)
	if err != nil {
		return core.Ficha{}, err
	}
	if err := json.Unmarshal([]byte(header), &f.Header); err != nil {
		return core.Ficha{}, fmt.Errorf("decode header of %s: %w", f.ID, err)
	}
	if err := json.Unmarshal([]byte(days), &f.Days); err != nil {
		return core.Ficha{}, fmt.Errorf("decode days of %s: %w", f.ID, err)
	}
	if err := json.Unmarshal([]byte(summary), &f.Summary); err != nil {
		return core.Ficha{}, fmt.Errorf("decode summary of %s: %w", f.ID, err)
	}
	f.SigningToken = token.String
	f.SigningTokenExpiresAt = fromMillis(tokenExpires)
	f.SignedAt = fromMillis(signedAt)
	return f, nil
}

type fichaDocs struct {
	header, days, summary string
}

func encodeFicha(f core.Ficha) (fichaDocs, error) {
	f = f.Normalized()
	h, err := json.Marshal(f.Header)
	if err != nil {
		return fichaDocs{}, fmt.Errorf("encode header: %w", err)
	}
	d, err := json.Marshal(f.Days)
	if err != nil {
		return fichaDocs{}, fmt.Errorf("encode days: %w", err)
	}
	s, err := json.Marshal(f.Summary)
	if err != nil {
		return fichaDocs{}, fmt.Errorf("encode summary: %w", err)
	}
	return fichaDocs{header: string(h), days: string(d), summary: string(s)}, nil
}

func nullToken(f core.Ficha) (sql.NullString, sql.NullInt64) {
	if f.SigningToken == "" || f.SigningTokenExpiresAt == nil {
		return sql.NullString{}, sql.NullInt64{}
	}
	return sql.NullString{String: f.SigningToken, Valid: true},
		sql.NullInt64{Int64: toMillis(*f.SigningTokenExpiresAt), Valid: true}
}

func (r *SQLiteRepository) CreateFicha(ctx context.Context, f core.Ficha) (core.Ficha, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	docs, err := encodeFicha(f)
	if err != nil {
		return core.Ficha{}, err
	}
	token, expires := nullToken(f)
	var signedAt sql.NullInt64
	if f.SignedAt != nil {
		signedAt = sql.NullInt64{Int64: toMillis(*f.SignedAt), Valid: true}
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO fichas (id, employee_id, month, year, header, days, summary,
			manager_signature, employee_signature, signing_token, signing_token_expires_at, signed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.EmployeeID, f.Month, f.Year, docs.header, docs.days, docs.summary,
		f.ManagerSignature, f.EmployeeSignature, token, expires, signedAt, toMillis(r.now()))
	if isUniqueViolation(err, "fichas.employee_id") {
		return core.Ficha{}, core.ErrDuplicateFicha
	}
	if err != nil {
		return core.Ficha{}, fmt.Errorf("insert ficha: %w", err)
	}
	return r.GetFicha(ctx, f.ID)
}

func (r *SQLiteRepository) GetFicha(ctx context.Context, id string) (core.Ficha, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+fichaColumns+` FROM fichas WHERE id = ?`, id)
	f, err := scanFicha(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Ficha{}, fmt.Errorf("ficha %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Ficha{}, fmt.Errorf("get ficha: %w", err)
	}
	return f, nil
}

func (r *SQLiteRepository) queryFichas(ctx context.Context, query string, args ...any) ([]core.Ficha, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list fichas: %w", err)
	}
	defer rows.Close()
	out := make([]core.Ficha, 0)
	for rows.Next() {
		f, err := scanFicha(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) ListFichas(ctx context.Context) ([]core.Ficha, error) {
	return r.queryFichas(ctx, `SELECT `+fichaColumns+` FROM fichas ORDER BY created_at, rowid`)
}

func (r *SQLiteRepository) ListFichasByEmployee(ctx context.Context, employeeID string) ([]core.Ficha, error) {
	return r.queryFichas(ctx,
		`SELECT `+fichaColumns+` FROM fichas WHERE employee_id = ? ORDER BY created_at, rowid`, employeeID)
}

func (r *SQLiteRepository) UpdateFicha(ctx context.Context, f core.Ficha, fields store.FichaField) (core.Ficha, error) {
	docs, err := encodeFicha(f)
	if err != nil {
		return core.Ficha{}, err
	}
	var (
		sets []string
		args []any
	)
	set := func(field store.FichaField, column string, v any) {
		if fields.Has(field) {
			sets = append(sets, column+" = ?")
			args = append(args, v)
		}
	}
	set(store.FichaDays, "days", docs.days)
	set(store.FichaSummary, "summary", docs.summary)
	set(store.FichaHeader, "header", docs.header)
	set(store.FichaManagerSignature, "manager_signature", f.ManagerSignature)
	set(store.FichaEmployeeSignature, "employee_signature", f.EmployeeSignature)
	if len(sets) == 0 {
		return r.GetFicha(ctx, f.ID)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE fichas SET `+strings.Join(sets, ", ")+` WHERE id = ?`, append(args, f.ID)...)
	if err != nil {
		return core.Ficha{}, fmt.Errorf("update ficha: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Ficha{}, fmt.Errorf("ficha %s: %w", f.ID, core.ErrNotFound)
	}
	return r.GetFicha(ctx, f.ID)
}

func (r *SQLiteRepository) DeleteFicha(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM fichas WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete ficha: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteFichasByEmployee(ctx context.Context, employeeID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM fichas WHERE employee_id = ?`, employeeID)
	if err != nil {
		return 0, fmt.Errorf("delete fichas of employee: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *SQLiteRepository) DeleteFichas(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	res, err := r.db.ExecContext(ctx, `DELETE FROM fichas WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete fichas: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- signing tokens

func (r *SQLiteRepository) SetSigningToken(ctx context.Context, fichaID, token string, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE fichas SET signing_token = ?, signing_token_expires_at = ? WHERE id = ?`,
		token, toMillis(expiresAt), fichaID)
	if err != nil {
		return fmt.Errorf("set signing token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ficha %s: %w", fichaID, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) FindFichaBySigningToken(ctx context.Context, token string) (core.Ficha, error) {
	if token == "" {
		return core.Ficha{}, core.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+fichaColumns+` FROM fichas WHERE signing_token = ?`, token)
	f, err := scanFicha(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Ficha{}, core.ErrNotFound
	}
	if err != nil {
		return core.Ficha{}, fmt.Errorf("find ficha by token: %w", err)
	}
	return f, nil
}

func (r *SQLiteRepository) ClearSigningToken(ctx context.Context, fichaID, token string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE fichas SET signing_token = NULL, signing_token_expires_at = NULL
		 WHERE id = ? AND signing_token = ?`, fichaID, token)
	if err != nil {
		return fmt.Errorf("clear signing token: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ConsumeSigningToken(ctx context.Context, token, signature string, now time.Time) (core.Ficha, error) {
	if token == "" {
		return core.Ficha{}, core.ErrNotFound
	}
	var id string
	err := r.db.QueryRowContext(ctx,
		`UPDATE fichas
		 SET employee_signature = ?, signing_token = NULL, signing_token_expires_at = NULL, signed_at = ?
		 WHERE signing_token = ? AND signing_token_expires_at > ?
		 RETURNING id`,
		signature, toMillis(now), token, toMillis(now)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Ficha{}, core.ErrNotFound
	}
	if err != nil {
		return core.Ficha{}, fmt.Errorf("consume signing token: %w", err)
	}
	return r.GetFicha(ctx, id)
}

// --- signing codes

func (r *SQLiteRepository) PutSigningCode(ctx context.Context, c core.SigningCode) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO signing_codes (target, code, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(target) DO UPDATE SET code = excluded.code, expires_at = excluded.expires_at`,
		c.Target, c.Code, toMillis(c.ExpiresAt))
	if err != nil {
		return fmt.Errorf("put signing code: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetSigningCode(ctx context.Context, target string) (core.SigningCode, error) {
	var (
		c  = core.SigningCode{Target: target}
		ms int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT code, expires_at FROM signing_codes WHERE target = ?`, target).Scan(&c.Code, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return core.SigningCode{}, core.ErrNotFound
	}
	if err != nil {
		return core.SigningCode{}, fmt.Errorf("get signing code: %w", err)
	}
	c.ExpiresAt = time.UnixMilli(ms).UTC()
	return c, nil
}

func (r *SQLiteRepository) DeleteSigningCode(ctx context.Context, target, code string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM signing_codes WHERE target = ? AND code = ?`, target, code)
	if err != nil {
		return false, fmt.Errorf("delete signing code: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// --- accounts

func scanAccount(sc interface{ Scan(...any) error }) (core.Account, error) {
	var (
		a  core.Account
		ms int64
	)
	if err := sc.Scan(&a.ID, &a.Name, &a.Email, &a.PasswordHash, &a.Role, &ms); err != nil {
		return core.Account{}, err
	}
	a.CreatedAt = time.UnixMilli(ms).UTC()
	return a, nil
}

func (r *SQLiteRepository) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Email = core.NormalizeEmail(a.Email)
	a.CreatedAt = r.now().UTC().Truncate(time.Millisecond)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, name, email, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Email, a.PasswordHash, string(a.Role), toMillis(a.CreatedAt))
	if isUniqueViolation(err, "accounts.email") {
		return core.Account{}, core.ErrDuplicateEmail
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, id string) (core.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, role, created_at FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) GetAccountByEmail(ctx context.Context, email string) (core.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, role, created_at FROM accounts WHERE email = ?`,
		core.NormalizeEmail(email))
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, fmt.Errorf("account %s: %w", email, core.ErrNotFound)
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account by email: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) UpdateAccountRole(ctx context.Context, id string, role core.Role) error {
	res, err := r.db.ExecContext(ctx, `UPDATE accounts SET role = ? WHERE id = ?`, string(role), id)
	if err != nil {
		return fmt.Errorf("update account role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	return nil
}
