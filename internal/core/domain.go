package core

import (
	"strings"
	"time"
)

// Role values accepted for an Account.
const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// ManagerSignatureTarget is the sentinel target of the bulk manager-signature code.
const ManagerSignatureTarget = "all-employees"

type (
	Role string

	// Employee is the identity record for a worker ("empregado").
	Employee struct {
		ID               string    `json:"_id" bson:"-"`
		Name             string    `json:"nome" bson:"nome"`
		CPF              string    `json:"cpf" bson:"cpf"`
		JobTitle         string    `json:"funcao" bson:"funcao"`
		CTPS             string    `json:"ctps" bson:"ctps"`
		Photo            string    `json:"foto" bson:"foto"`
		AdmissionDate    string    `json:"dataAdmissao" bson:"dataAdmissao"`
		WeekdayHours     string    `json:"horarioSegASex" bson:"horarioSegASex"`
		SaturdayHours    string    `json:"horarioSabado" bson:"horarioSabado"`
		WeeklyRest       string    `json:"descansoSemanal" bson:"descansoSemanal"`
		EmployerName     string    `json:"empregadorNome" bson:"empregadorNome"`
		EmployerTaxID    string    `json:"cnpjOuCei" bson:"cnpjOuCei"`
		EmployerAddress  string    `json:"endereco" bson:"endereco"`
		ReferenceMonth   int       `json:"mesReferencia,omitempty" bson:"mesReferencia,omitempty"`
		ReferenceYear    int       `json:"anoReferencia,omitempty" bson:"anoReferencia,omitempty"`
		ManagerSignature string    `json:"assinaturaGestor" bson:"assinaturaGestor"`
		CreatedAt        time.Time `json:"createdAt" bson:"createdAt"`
		UpdatedAt        time.Time `json:"updatedAt" bson:"updatedAt"`
	}

	// Header is the employer/employee snapshot printed on top of a ficha.
	Header struct {
		EmployerName    string `json:"empregadorNome" bson:"empregadorNome"`
		EmployerTaxID   string `json:"cnpjOuCei" bson:"cnpjOuCei"`
		EmployerAddress string `json:"endereco" bson:"endereco"`
		EmployeeName    string `json:"empregadoNome" bson:"empregadoNome"`
		CTPS            string `json:"ctpsNumeroESerie" bson:"ctpsNumeroESerie"`
		AdmissionDate   string `json:"dataAdmissao" bson:"dataAdmissao"`
		JobTitle        string `json:"funcao" bson:"funcao"`
		WeekdayHours    string `json:"horarioSegASex" bson:"horarioSegASex"`
		SaturdayHours   string `json:"horarioSabado" bson:"horarioSabado"`
		WeeklyRest      string `json:"descansoSemanal" bson:"descansoSemanal"`
		Month           int    `json:"mes,omitempty" bson:"mes,omitempty"`
		Year            int    `json:"ano,omitempty" bson:"ano,omitempty"`
	}

	// Absence is one non-present day listed in the monthly summary.
	Absence struct {
		Day    int       `json:"dia" bson:"dia"`
		Status DayStatus `json:"tipo" bson:"tipo"`
		Note   string    `json:"obs" bson:"obs"`
	}

	// Summary is the monthly aggregate ("resumo geral"). The first three fields
	// are derived from the day entries, the rest are typed in by an operator.
	Summary struct {
		WorkedDaysHours string    `json:"diasHorasNormais" bson:"diasHorasNormais"`
		OvertimeHours   string    `json:"horasExtras" bson:"horasExtras"`
		Absences        []Absence `json:"faltas" bson:"faltas"`
		CalculationBase string    `json:"baseCalculo" bson:"baseCalculo"`
		INSS            string    `json:"inss" bson:"inss"`
		FamilyAllowance string    `json:"salarioFamilia" bson:"salarioFamilia"`
		NetTotal        string    `json:"liquido" bson:"liquido"`
	}

	// Ficha is one employee's timesheet for one calendar month.
	Ficha struct {
		ID                    string     `json:"_id" bson:"-"`
		EmployeeID            string     `json:"funcionario" bson:"funcionario"`
		Month                 int        `json:"mesReferencia" bson:"mesReferencia"`
		Year                  int        `json:"anoReferencia" bson:"anoReferencia"`
		Header                Header     `json:"header" bson:"header"`
		Days                  []DayEntry `json:"diasDoMes" bson:"diasDoMes"`
		Summary               Summary    `json:"resumoGeral" bson:"resumoGeral"`
		ManagerSignature      string     `json:"assinatura" bson:"assinatura"`
		EmployeeSignature     string     `json:"assinaturaFuncionario" bson:"assinaturaFuncionario"`
		SigningToken          string     `json:"assinaturaToken" bson:"assinaturaToken"`
		SigningTokenExpiresAt *time.Time `json:"assinaturaTokenExpiraEm" bson:"assinaturaTokenExpiraEm"`
		SignedAt              *time.Time `json:"assinadaEm,omitempty" bson:"assinadaEm,omitempty"`
	}

	// Account is a login identity.
	Account struct {
		ID           string    `json:"_id" bson:"-"`
		Name         string    `json:"nome" bson:"nome"`
		Email        string    `json:"email" bson:"email"`
		PasswordHash string    `json:"-" bson:"passwordHash"`
		Role         Role      `json:"role" bson:"role"`
		CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
	}

	// SigningCode is a persisted one-shot code scoped to a target other than a
	// single ficha (the bulk manager signature).
	SigningCode struct {
		Target    string    `json:"target" bson:"_id"`
		Code      string    `json:"code" bson:"code"`
		ExpiresAt time.Time `json:"expiresAt" bson:"expiresAt"`
	}
)

// NormalizeCPF keeps only the digits of a CPF.
func NormalizeCPF(cpf string) string {
	var b strings.Builder
	b.Grow(len(cpf))
	for _, r := range cpf {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NameKey is the case-insensitive form used for employee name uniqueness.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizeEmail lowercases and trims an account email.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// Validate checks the fields required to register an employee.
func (e Employee) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return &ValidationError{Field: "nome", Msg: "nome é obrigatório"}
	}
	if NormalizeCPF(e.CPF) == "" {
		return &ValidationError{Field: "cpf", Msg: "cpf é obrigatório"}
	}
	return nil
}

// HeaderFor builds the header snapshot of a ficha from the employee record.
func HeaderFor(e Employee, month, year int) Header {
	return Header{
		EmployerName:    e.EmployerName,
		EmployerTaxID:   e.EmployerTaxID,
		EmployerAddress: e.EmployerAddress,
		EmployeeName:    e.Name,
		CTPS:            e.CTPS,
		AdmissionDate:   e.AdmissionDate,
		JobTitle:        e.JobTitle,
		WeekdayHours:    e.WeekdayHours,
		SaturdayHours:   e.SaturdayHours,
		WeeklyRest:      e.WeeklyRest,
		Month:           month,
		Year:            year,
	}
}

// Validate checks the reference period and owner of a ficha. Day numbers are
// deliberately not checked against the month length.
func (f Ficha) Validate() error {
	if strings.TrimSpace(f.EmployeeID) == "" {
		return &ValidationError{Field: "funcionario", Msg: "funcionário é obrigatório"}
	}
	if f.Month < 1 || f.Month > 12 {
		return &ValidationError{Field: "mesReferencia", Msg: "mês de referência inválido"}
	}
	if f.Year < 1 {
		return &ValidationError{Field: "anoReferencia", Msg: "ano de referência inválido"}
	}
	if len(f.Days) > MaxDaysPerFicha {
		return &ValidationError{Field: "diasDoMes", Msg: "no máximo 31 dias por ficha"}
	}
	return nil
}

// HasActiveToken reports whether the ficha holds a signing token that has not
// expired at now.
func (f Ficha) HasActiveToken(now time.Time) bool {
	return f.SigningToken != "" && f.SigningTokenExpiresAt != nil && f.SigningTokenExpiresAt.After(now)
}

// TokenExpired reports whether the stored token must be treated as expired at
// now. A token without an expiry is expired.
func (f Ficha) TokenExpired(now time.Time) bool {
	return f.SigningTokenExpiresAt == nil || !f.SigningTokenExpiresAt.After(now)
}

// Signed reports whether an employee signature is stored.
func (f Ficha) Signed() bool {
	return f.EmployeeSignature != ""
}

// Normalized replaces nil slices with empty ones so JSON renders [] instead of
// null.
func (f Ficha) Normalized() Ficha {
	if f.Days == nil {
		f.Days = []DayEntry{}
	}
	if f.Summary.Absences == nil {
		f.Summary.Absences = []Absence{}
	}
	return f
}
