// Package signing issues and redeems the one-shot links that let an
// unauthenticated party sign a ficha (employee signature) or set the default
// manager signature of every employee.
//
// A ficha token moves absent -> active -> consumed | expired; both terminal
// transitions reset the stored token to absent. Issuing again while active
// replaces the value. Expiry is detected lazily when the token is used.
package signing

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"folhaponto/internal/core"
	"folhaponto/internal/events"
	"folhaponto/internal/log"
	"folhaponto/internal/store"
)

// DefaultTTL is the lifetime of a signing token or manager code.
const DefaultTTL = 5 * time.Minute

type Store interface {
	store.FichaStore
	store.SigningTokenStore
	store.SigningCodeStore
	GetEmployee(ctx context.Context, id string) (core.Employee, error)
	SetManagerSignatureAll(ctx context.Context, image string) (int, error)
}

// Issued is a freshly issued token or code.
type Issued struct {
	Token     string    `json:"token"`
	URL       string    `json:"urlAssinatura"`
	ExpiresAt time.Time `json:"expiraEm"`
}

// EmployeeView is the part of the employee a signer may see.
type EmployeeView struct {
	ID       string `json:"_id"`
	Name     string `json:"nome"`
	JobTitle string `json:"funcao"`
}

// PublicFicha is the restricted view returned to the holder of a token.
type PublicFicha struct {
	ID            string       `json:"_id"`
	Employee      EmployeeView `json:"funcionario"`
	Header        core.Header  `json:"header"`
	Month         int          `json:"mesReferencia"`
	Year          int          `json:"anoReferencia"`
	AlreadySigned bool         `json:"jaAssinada"`
}

type Manager struct {
	store     Store
	publisher events.Publisher
	normalize func(string) (string, error)
	now       func() time.Time
	ttl       time.Duration
	baseURL   string
}

type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithPublisher receives signature events after each stored signature.
func WithPublisher(p events.Publisher) Option { return func(m *Manager) { m.publisher = p } }

// WithImageNormalizer validates and rewrites submitted images before they are
// stored. Its errors are returned to the caller as is.
func WithImageNormalizer(fn func(string) (string, error)) Option {
	return func(m *Manager) { m.normalize = fn }
}

func NewManager(s Store, baseURL string, opts ...Option) *Manager {
	m := &Manager{
		store:     s,
		publisher: events.Discard,
		now:       time.Now,
		ttl:       DefaultTTL,
		baseURL:   strings.TrimRight(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) TTL() time.Duration { return m.ttl }

// newToken combines the ficha id, a nanosecond timestamp and 122 random bits.
// Only the random part makes it unguessable.
func newToken(fichaID string, at time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fichaID + "-" + strconv.FormatInt(at.UnixNano(), 36) + "-" + random
}

// IssueToken stores a new signing token on the ficha, replacing any previous
// one, and returns it with its public link.
func (m *Manager) IssueToken(ctx context.Context, fichaID string) (Issued, error) {
	if _, err := m.store.GetFicha(ctx, fichaID); err != nil {
		return Issued{}, fmt.Errorf("issue token: %w", err)
	}
	now := m.now()
	token := newToken(fichaID, now)
	expires := now.Add(m.ttl).UTC().Truncate(time.Millisecond)
	if err := m.store.SetSigningToken(ctx, fichaID, token, expires); err != nil {
		return Issued{}, fmt.Errorf("issue token: %w", err)
	}
	slog.InfoContext(ctx, "Signing token issued",
		log.FieldComponent, log.ComponentSigning, log.FieldFichaID, fichaID, "expires_at", expires)
	return Issued{Token: token, URL: m.baseURL + "/assinar/" + token, ExpiresAt: expires}, nil
}

// lookup finds the ficha holding token. An expired token is cleared from the
// ficha before core.ErrExpired is returned.
func (m *Manager) lookup(ctx context.Context, token string) (core.Ficha, error) {
	f, err := m.store.FindFichaBySigningToken(ctx, token)
	if err != nil {
		return core.Ficha{}, err
	}
	if f.TokenExpired(m.now()) {
		if err := m.store.ClearSigningToken(ctx, f.ID, token); err != nil {
			return core.Ficha{}, fmt.Errorf("clear expired token: %w", err)
		}
		slog.InfoContext(ctx, "Expired signing token cleared",
			log.FieldComponent, log.ComponentSigning, log.FieldFichaID, f.ID)
		return core.Ficha{}, core.ErrExpired
	}
	return f, nil
}

// ResolveToken returns the restricted view of the ficha holding token.
func (m *Manager) ResolveToken(ctx context.Context, token string) (PublicFicha, error) {
	f, err := m.lookup(ctx, token)
	if err != nil {
		return PublicFicha{}, err
	}
	view := PublicFicha{
		ID:            f.ID,
		Employee:      EmployeeView{ID: f.EmployeeID, Name: f.Header.EmployeeName, JobTitle: f.Header.JobTitle},
		Header:        f.Header,
		Month:         f.Month,
		Year:          f.Year,
		AlreadySigned: f.Signed(),
	}
	if e, err := m.store.GetEmployee(ctx, f.EmployeeID); err == nil {
		view.Employee = EmployeeView{ID: e.ID, Name: e.Name, JobTitle: e.JobTitle}
	} else if !errors.Is(err, core.ErrNotFound) {
		return PublicFicha{}, fmt.Errorf("load employee: %w", err)
	}
	return view, nil
}

// ConsumeToken stores image as the employee signature of the ficha holding
// token and invalidates the token. Only one call per token can succeed.
func (m *Manager) ConsumeToken(ctx context.Context, token, image string) (string, error) {
	if strings.TrimSpace(image) == "" {
		return "", &core.ValidationError{Field: "assinatura", Msg: "assinatura é obrigatória"}
	}
	if _, err := m.lookup(ctx, token); err != nil {
		return "", err
	}
	if m.normalize != nil {
		normalized, err := m.normalize(image)
		if err != nil {
			return "", err
		}
		image = normalized
	}

	f, err := m.store.ConsumeSigningToken(ctx, token, image, m.now())
	if err != nil {
		// lost a race with another consumer or with expiry
		return "", err
	}
	slog.InfoContext(ctx, "Ficha signed by employee",
		log.NewFields().WithComponent(log.ComponentSigning).WithOperation(log.OpSign).
			WithFicha(f.ID, f.EmployeeID, f.Month, f.Year).ToSlice()...)

	m.publish(ctx, events.SignatureEvent{
		Type:       events.FichaSigned,
		FichaID:    f.ID,
		EmployeeID: f.EmployeeID,
		Month:      f.Month,
		Year:       f.Year,
		At:         m.now().UTC(),
	})
	return f.ID, nil
}

// IssueManagerCode stores a new one-shot code for the bulk manager signature,
// replacing any previous code.
func (m *Manager) IssueManagerCode(ctx context.Context) (Issued, error) {
	now := m.now()
	code := strings.ReplaceAll(uuid.NewString(), "-", "") + strconv.FormatInt(now.UnixNano(), 36)
	expires := now.Add(m.ttl).UTC().Truncate(time.Millisecond)
	err := m.store.PutSigningCode(ctx, core.SigningCode{
		Target:    core.ManagerSignatureTarget,
		Code:      code,
		ExpiresAt: expires,
	})
	if err != nil {
		return Issued{}, fmt.Errorf("issue manager code: %w", err)
	}
	slog.InfoContext(ctx, "Manager signature code issued",
		log.FieldComponent, log.ComponentSigning, "expires_at", expires)
	return Issued{Token: code, URL: m.baseURL + "/assinar-gestor/" + code, ExpiresAt: expires}, nil
}

// ResolveManagerCode checks that code is the current, unexpired manager code.
func (m *Manager) ResolveManagerCode(ctx context.Context, code string) (core.SigningCode, error) {
	if strings.TrimSpace(code) == "" {
		return core.SigningCode{}, &core.ValidationError{Field: "codigo", Msg: "código é obrigatório"}
	}
	c, err := m.store.GetSigningCode(ctx, core.ManagerSignatureTarget)
	if err != nil {
		return core.SigningCode{}, err
	}
	if subtle.ConstantTimeCompare([]byte(c.Code), []byte(code)) != 1 {
		return core.SigningCode{}, core.ErrNotFound
	}
	if !c.ExpiresAt.After(m.now()) {
		if _, err := m.store.DeleteSigningCode(ctx, c.Target, c.Code); err != nil {
			return core.SigningCode{}, fmt.Errorf("delete expired code: %w", err)
		}
		return core.SigningCode{}, core.ErrExpired
	}
	return c, nil
}

// ConsumeManagerCode redeems code and writes image as the manager signature
// of every employee. It returns the number of employees updated.
func (m *Manager) ConsumeManagerCode(ctx context.Context, code, image string) (int, error) {
	if strings.TrimSpace(image) == "" {
		return 0, &core.ValidationError{Field: "assinatura", Msg: "assinatura é obrigatória"}
	}
	c, err := m.ResolveManagerCode(ctx, code)
	if err != nil {
		return 0, err
	}
	if m.normalize != nil {
		if image, err = m.normalize(image); err != nil {
			return 0, err
		}
	}
	ok, err := m.store.DeleteSigningCode(ctx, c.Target, c.Code)
	if err != nil {
		return 0, fmt.Errorf("redeem manager code: %w", err)
	}
	if !ok {
		return 0, core.ErrNotFound
	}
	n, err := m.store.SetManagerSignatureAll(ctx, image)
	if err != nil {
		// The code stays redeemable so the manager can retry the same link.
		if putErr := m.store.PutSigningCode(ctx, c); putErr != nil {
			slog.ErrorContext(ctx, "Failed to restore manager signature code",
				log.FieldComponent, log.ComponentSigning, log.FieldError, putErr)
		}
		return 0, fmt.Errorf("broadcast manager signature: %w", err)
	}
	slog.InfoContext(ctx, "Manager signature applied to all employees",
		log.FieldComponent, log.ComponentSigning, log.FieldOperation, log.OpSign, log.FieldCount, n)

	m.publish(ctx, events.SignatureEvent{Type: events.ManagerSignatureUpdated, At: m.now().UTC()})
	return n, nil
}

func (m *Manager) publish(ctx context.Context, ev events.SignatureEvent) {
	if err := m.publisher.Publish(ctx, ev); err != nil {
		slog.WarnContext(ctx, "Failed to publish signature event",
			log.FieldComponent, log.ComponentSigning, log.FieldEventType, ev.Type,
			log.FieldFichaID, ev.FichaID, log.FieldError, err)
	}
}
