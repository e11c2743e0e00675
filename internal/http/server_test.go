package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"folhaponto/internal/auth"
	"folhaponto/internal/core"
	"folhaponto/internal/events"
	"folhaponto/internal/log"
	"folhaponto/internal/services"
	"folhaponto/internal/signing"
	"folhaponto/internal/store/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	srv    *Server
	store  *memory.Store
	clock  *fakeClock
	broker *events.Broker
	admin  string
	user   string
}

func newFixture(t *testing.T, ready func(context.Context) error) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	clock := &fakeClock{now: time.Date(2024, 3, 31, 10, 0, 0, 0, time.UTC)}
	broker := events.NewBroker(4)

	authSvc, err := auth.NewService(st, auth.Config{AccessSecret: "a-secret", RefreshSecret: "r-secret"},
		auth.WithHashCost(bcrypt.MinCost))
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	admin, err := authSvc.Register(ctx, auth.RegisterInput{Name: "Admin", Email: "admin@example.com", Password: "pw", Role: core.RoleAdmin})
	if err != nil {
		t.Fatalf("register admin: %v", err)
	}
	user, err := authSvc.Register(ctx, auth.RegisterInput{Name: "User", Email: "user@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("register user: %v", err)
	}

	srv, err := NewServer(Options{Addr: ":0", EventKeepAlive: 50 * time.Millisecond}, Deps{
		Employees: services.NewEmployeeService(st, services.WithEmployeeClock(clock.Now)),
		Fichas:    services.NewFichaService(st),
		Signing:   signing.NewManager(st, "https://ponto.example.com", signing.WithClock(clock.Now), signing.WithPublisher(broker)),
		Auth:      authSvc,
		Broker:    broker,
		Ready:     ready,
		Logger:    log.Discard(),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	return &fixture{srv: srv, store: st, clock: clock, broker: broker, admin: admin.AccessToken, user: user.AccessToken}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d, body = %s", rr.Code, want, rr.Body.String())
	}
}

type createdEmployee struct {
	Message  string        `json:"message"`
	Employee core.Employee `json:"empregado"`
	Ficha    core.Ficha    `json:"ficha"`
}

func (f *fixture) createEmployee(t *testing.T, name, cpf string) createdEmployee {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/api/v1/empregados", f.admin, map[string]any{
		"empregado": map[string]string{"nome": name, "cpf": cpf, "funcao": "Caixa"},
		"header":    map[string]any{"empregadorNome": "Padaria Central", "mes": 3, "ano": 2024},
	})
	expectStatus(t, rr, http.StatusCreated)
	return decode[createdEmployee](t, rr)
}

func TestHealthAndReady(t *testing.T) {
	fx := newFixture(t, func(context.Context) error { return nil })
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rr := fx.do(t, http.MethodGet, path, "", nil)
		expectStatus(t, rr, http.StatusOK)
	}
	if rr := fx.do(t, http.MethodGet, "/metrics", "", nil); !strings.Contains(rr.Body.String(), "http_requests_total") {
		t.Fatalf("metrics body = %s", rr.Body.String())
	}

	down := newFixture(t, func(context.Context) error { return errors.New("connection refused") })
	rr := down.do(t, http.MethodGet, "/readyz", "", nil)
	expectStatus(t, rr, http.StatusServiceUnavailable)
	if strings.Contains(rr.Body.String(), "connection refused") {
		t.Fatal("readiness leaked the store error")
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	fx := newFixture(t, nil)
	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/v1/empregados"},
		{http.MethodGet, "/api/v1/fichas"},
		{http.MethodGet, "/api/v1/fichas/abc"},
		{http.MethodPost, "/api/v1/fichas/abc/gerar-link-assinatura"},
		{http.MethodGet, "/api/v1/config/assinatura-gestor"},
		{http.MethodPost, "/api/v1/manutencao/limpar-fichas"},
	}
	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			rr := fx.do(t, p.method, p.path, "", nil)
			expectStatus(t, rr, http.StatusUnauthorized)
			if decode[errorBody](t, rr).Error != "Token ausente" {
				t.Fatalf("body = %s", rr.Body.String())
			}
			rr = fx.do(t, p.method, p.path, "garbage", nil)
			expectStatus(t, rr, http.StatusUnauthorized)
			rr = fx.do(t, p.method, p.path, fx.user, nil)
			expectStatus(t, rr, http.StatusForbidden)
		})
	}
}

func TestEmployeeLifecycle(t *testing.T) {
	fx := newFixture(t, nil)
	created := fx.createEmployee(t, "Ana Souza", "123.456.789-00")

	if created.Message != "Funcionário criado com sucesso" {
		t.Fatalf("message = %q", created.Message)
	}
	if created.Employee.CPF != "12345678900" {
		t.Fatalf("cpf = %q", created.Employee.CPF)
	}
	if created.Ficha.EmployeeID != created.Employee.ID || created.Ficha.Month != 3 || created.Ficha.Year != 2024 {
		t.Fatalf("initial ficha = %+v", created.Ficha)
	}

	dups := []struct {
		name, cpf, code string
	}{
		{"Outra Pessoa", "12345678900", "duplicate_cpf"},
		{"ana souza", "99999999999", "duplicate_name"},
	}
	for _, d := range dups {
		rr := fx.do(t, http.MethodPost, "/api/v1/empregados", fx.admin, map[string]any{
			"empregado": map[string]string{"nome": d.name, "cpf": d.cpf},
		})
		expectStatus(t, rr, http.StatusBadRequest)
		if got := decode[errorBody](t, rr).Code; got != d.code {
			t.Fatalf("code = %q, want %q", got, d.code)
		}
	}

	rr := fx.do(t, http.MethodPost, "/api/v1/empregados", fx.admin, map[string]any{"empregado": map[string]string{"nome": "Sem CPF"}})
	expectStatus(t, rr, http.StatusBadRequest)

	rr = fx.do(t, http.MethodGet, "/api/v1/empregados", fx.admin, nil)
	expectStatus(t, rr, http.StatusOK)
	if list := decode[[]core.Employee](t, rr); len(list) != 1 {
		t.Fatalf("employees = %d", len(list))
	}

	id := created.Employee.ID
	rr = fx.do(t, http.MethodPut, "/api/v1/empregados/"+id, fx.admin, map[string]string{"nome": "Ana S.", "funcao": "Gerente"})
	expectStatus(t, rr, http.StatusOK)
	if e := decode[core.Employee](t, rr); e.JobTitle != "Gerente" || e.CPF != "12345678900" {
		t.Fatalf("updated = %+v", e)
	}

	rr = fx.do(t, http.MethodPut, "/api/v1/empregados/"+id+"/assinatura-gestor", fx.admin, map[string]string{})
	expectStatus(t, rr, http.StatusBadRequest)
	rr = fx.do(t, http.MethodPut, "/api/v1/empregados/"+id+"/assinatura-gestor", fx.admin, map[string]string{"assinaturaBase64": "data:image/png;base64,AAAA"})
	expectStatus(t, rr, http.StatusOK)
	if got := decode[map[string]string](t, rr)["assinaturaGestor"]; got != "data:image/png;base64,AAAA" {
		t.Fatalf("assinaturaGestor = %q", got)
	}

	rr = fx.do(t, http.MethodDelete, "/api/v1/empregados/"+id, fx.admin, nil)
	expectStatus(t, rr, http.StatusOK)
	rr = fx.do(t, http.MethodGet, "/api/v1/empregados/"+id, fx.admin, nil)
	expectStatus(t, rr, http.StatusNotFound)
	if decode[errorBody](t, rr).Error != "Funcionário não encontrado" {
		t.Fatalf("body = %s", rr.Body.String())
	}
	rr = fx.do(t, http.MethodGet, "/api/v1/fichas/"+created.Ficha.ID, fx.admin, nil)
	expectStatus(t, rr, http.StatusNotFound)
}

func TestFichaRoutes(t *testing.T) {
	fx := newFixture(t, nil)
	created := fx.createEmployee(t, "Ana", "11122233344")
	id := created.Ficha.ID

	rr := fx.do(t, http.MethodPut, "/api/v1/fichas/"+id, fx.admin, map[string]any{
		"diasDoMes": []map[string]any{
			{"data": 1, "entrada": "08:00", "saida": "17:00", "extraEntrada": "18:00", "extraSaida": "19:30"},
			{"data": 2, "tipo": "faltou", "entrada": "08:00"},
		},
		"resumoGeral":     map[string]any{"inss": "120,00", "liquido": 1500},
		"assinaturaToken": "forged",
	})
	expectStatus(t, rr, http.StatusOK)
	f := decode[core.Ficha](t, rr)
	if f.Summary.WorkedDaysHours != "1 dias — 9.0h" || f.Summary.OvertimeHours != "1.5h" {
		t.Fatalf("summary = %+v", f.Summary)
	}
	if f.Summary.INSS != "120,00" || f.Summary.NetTotal != "" {
		t.Fatalf("financial fields = %+v", f.Summary)
	}
	if len(f.Summary.Absences) != 1 || f.Days[1].Entrance != "" {
		t.Fatalf("absences = %+v days = %+v", f.Summary.Absences, f.Days)
	}
	if f.SigningToken != "" {
		t.Fatal("token field accepted from the patch")
	}

	rr = fx.do(t, http.MethodPut, "/api/v1/fichas/"+id+"/header", fx.admin, map[string]any{
		"header": map[string]any{"empregadoNome": "Ana", "funcao": "Gerente"},
	})
	expectStatus(t, rr, http.StatusOK)
	if msg := decode[map[string]any](t, rr)["message"]; msg != "Cabeçalho atualizado" {
		t.Fatalf("message = %v", msg)
	}

	rr = fx.do(t, http.MethodGet, "/api/v1/fichas/funcionario/"+created.Employee.ID, fx.admin, nil)
	expectStatus(t, rr, http.StatusOK)
	if list := decode[[]core.Ficha](t, rr); len(list) != 1 || list[0].Header.JobTitle != "Gerente" {
		t.Fatalf("fichas = %+v", list)
	}
	rr = fx.do(t, http.MethodGet, "/api/v1/fichas/funcionario/unknown", fx.admin, nil)
	expectStatus(t, rr, http.StatusOK)
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("body = %s", rr.Body.String())
	}

	rr = fx.do(t, http.MethodPost, "/api/v1/fichas", fx.admin, map[string]any{
		"funcionario": created.Employee.ID, "mesReferencia": 4, "anoReferencia": 2024,
	})
	expectStatus(t, rr, http.StatusCreated)
	rr = fx.do(t, http.MethodPost, "/api/v1/fichas", fx.admin, map[string]any{
		"funcionario": created.Employee.ID, "mesReferencia": 4, "anoReferencia": 2024,
	})
	expectStatus(t, rr, http.StatusConflict)
	if code := decode[errorBody](t, rr).Code; code != "duplicate_ficha" {
		t.Fatalf("code = %q", code)
	}
	rr = fx.do(t, http.MethodPost, "/api/v1/fichas", fx.admin, map[string]any{
		"funcionario": "ghost", "mesReferencia": 4, "anoReferencia": 2024,
	})
	expectStatus(t, rr, http.StatusBadRequest)

	rr = fx.do(t, http.MethodGet, "/api/v1/fichas", fx.admin, nil)
	expectStatus(t, rr, http.StatusOK)
	if list := decode[[]core.Ficha](t, rr); len(list) != 2 {
		t.Fatalf("fichas = %d", len(list))
	}

	rr = fx.do(t, http.MethodDelete, "/api/v1/fichas/"+id, fx.admin, nil)
	expectStatus(t, rr, http.StatusOK)
	rr = fx.do(t, http.MethodDelete, "/api/v1/fichas/"+id, fx.admin, nil)
	expectStatus(t, rr, http.StatusOK)
	rr = fx.do(t, http.MethodGet, "/api/v1/fichas/"+id, fx.admin, nil)
	expectStatus(t, rr, http.StatusNotFound)
	if decode[errorBody](t, rr).Error != "Ficha não encontrada" {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestFichaRoutingErrors(t *testing.T) {
	fx := newFixture(t, nil)
	tests := []struct {
		method, path string
		status       int
	}{
		{http.MethodPatch, "/api/v1/fichas/abc", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/fichas/abc/gerar-link-assinatura", http.StatusMethodNotAllowed},
		{http.MethodPost, "/api/v1/fichas/por-token/abc", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/fichas/abc/unknown", http.StatusNotFound},
		{http.MethodGet, "/api/v1/fichas/a/b/c", http.StatusNotFound},
		{http.MethodPut, "/api/v1/fichas", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			expectStatus(t, fx.do(t, tt.method, tt.path, fx.admin, nil), tt.status)
		})
	}
}

func TestSigningFlow(t *testing.T) {
	fx := newFixture(t, nil)
	created := fx.createEmployee(t, "Ana", "11122233344")
	id := created.Ficha.ID

	rr := fx.do(t, http.MethodPost, "/api/v1/fichas/"+id+"/gerar-link-assinatura", fx.admin, nil)
	expectStatus(t, rr, http.StatusOK)
	link := decode[struct {
		Token     string    `json:"token"`
		URL       string    `json:"urlAssinatura"`
		ExpiresAt time.Time `json:"expiraEm"`
	}](t, rr)
	if link.URL != "https://ponto.example.com/assinar/"+link.Token {
		t.Fatalf("url = %q", link.URL)
	}
	if !link.ExpiresAt.Equal(fx.clock.Now().Add(5 * time.Minute)) {
		t.Fatalf("expires = %v", link.ExpiresAt)
	}

	rr = fx.do(t, http.MethodGet, "/api/v1/fichas/por-token/"+link.Token, "", nil)
	expectStatus(t, rr, http.StatusOK)
	view := decode[signing.PublicFicha](t, rr)
	if view.ID != id || view.AlreadySigned || view.Employee.Name != "Ana" {
		t.Fatalf("view = %+v", view)
	}
	if strings.Contains(rr.Body.String(), "diasDoMes") {
		t.Fatal("public view exposes day entries")
	}

	rr = fx.do(t, http.MethodPost, "/api/v1/fichas/assinar/"+link.Token, "", map[string]string{})
	expectStatus(t, rr, http.StatusBadRequest)

	rr = fx.do(t, http.MethodPost, "/api/v1/fichas/assinar/"+link.Token, "", map[string]string{"assinaturaBase64": "data:image/png;base64,AAAA"})
	expectStatus(t, rr, http.StatusOK)
	if got := decode[map[string]string](t, rr); got["fichaId"] != id || got["message"] != "Assinatura registrada" {
		t.Fatalf("body = %v", got)
	}

	rr = fx.do(t, http.MethodPost, "/api/v1/fichas/assinar/"+link.Token, "", map[string]string{"assinaturaBase64": "data:image/png;base64,BBBB"})
	expectStatus(t, rr, http.StatusNotFound)
	if decode[errorBody](t, rr).Error != "Token inválido" {
		t.Fatalf("body = %s", rr.Body.String())
	}

	rr = fx.do(t, http.MethodGet, "/api/v1/fichas/"+id, fx.admin, nil)
	expectStatus(t, rr, http.StatusOK)
	if f := decode[core.Ficha](t, rr); f.EmployeeSignature != "data:image/png;base64,AAAA" || f.SigningToken != "" {
		t.Fatalf("ficha after signing = %+v", f)
	}
}

func TestSigningTokenExpiry(t *testing.T) {
	fx := newFixture(t, nil)
	created := fx.createEmployee(t, "Ana", "11122233344")

	rr := fx.do(t, http.MethodPost, "/api/v1/fichas/"+created.Ficha.ID+"/gerar-link-assinatura", fx.admin, nil)
	expectStatus(t, rr, http.StatusOK)
	token := decode[map[string]any](t, rr)["token"].(string)

	fx.clock.Advance(299 * time.Second)
	expectStatus(t, fx.do(t, http.MethodGet, "/api/v1/fichas/por-token/"+token, "", nil), http.StatusOK)

	fx.clock.Advance(2 * time.Second)
	rr = fx.do(t, http.MethodGet, "/api/v1/fichas/por-token/"+token, "", nil)
	expectStatus(t, rr, http.StatusGone)
	if decode[errorBody](t, rr).Error != "Link expirado" {
		t.Fatalf("body = %s", rr.Body.String())
	}

	rr = fx.do(t, http.MethodPost, "/api/v1/fichas/assinar/"+token, "", map[string]string{"assinaturaBase64": "data:image/png;base64,AAAA"})
	expectStatus(t, rr, http.StatusNotFound)
}

func TestSignPages(t *testing.T) {
	fx := newFixture(t, nil)
	created := fx.createEmployee(t, "Ana", "11122233344")
	rr := fx.do(t, http.MethodPost, "/api/v1/fichas/"+created.Ficha.ID+"/gerar-link-assinatura", fx.admin, nil)
	token := decode[map[string]any](t, rr)["token"].(string)

	rr = fx.do(t, http.MethodGet, "/assinar/"+token, "", nil)
	expectStatus(t, rr, http.StatusOK)
	body := rr.Body.String()
	if !strings.Contains(body, "/api/v1/fichas/assinar/"+token) || !strings.Contains(body, "Ana") {
		t.Fatalf("ready page = %s", body)
	}

	rr = fx.do(t, http.MethodGet, "/assinar/nao-existe", "", nil)
	expectStatus(t, rr, http.StatusNotFound)
	if !strings.Contains(rr.Body.String(), "não existe") {
		t.Fatalf("invalid page = %s", rr.Body.String())
	}

	fx.clock.Advance(6 * time.Minute)
	rr = fx.do(t, http.MethodGet, "/assinar/"+token, "", nil)
	expectStatus(t, rr, http.StatusGone)
	if !strings.Contains(rr.Body.String(), "expirou") {
		t.Fatalf("expired page = %s", rr.Body.String())
	}

	rr = fx.do(t, http.MethodGet, "/static/assinatura.js", "", nil)
	expectStatus(t, rr, http.StatusOK)
}

func TestManagerSignatureConfig(t *testing.T) {
	fx := newFixture(t, nil)
	fx.createEmployee(t, "Ana", "11122233344")
	fx.createEmployee(t, "Bruno", "55566677788")

	rr := fx.do(t, http.MethodGet, "/api/v1/config/assinatura-gestor", fx.admin, nil)
	expectStatus(t, rr, http.StatusOK)
	if strings.TrimSpace(rr.Body.String()) != `{"assinaturaGestor":null}` {
		t.Fatalf("body = %s", rr.Body.String())
	}

	rr = fx.do(t, http.MethodPost, "/api/v1/config/assinatura-gestor/link", fx.admin, nil)
	expectStatus(t, rr, http.StatusOK)
	link := decode[map[string]any](t, rr)
	code := link["codigo"].(string)
	if link["urlAssinatura"] != "https://ponto.example.com/assinar-gestor/"+code {
		t.Fatalf("link = %v", link)
	}

	rr = fx.do(t, http.MethodGet, "/assinar-gestor/"+code, "", nil)
	expectStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), "Assinatura do gestor") {
		t.Fatalf("page = %s", rr.Body.String())
	}

	rr = fx.do(t, http.MethodPost, "/api/v1/config/assinatura-gestor/salvar", "", map[string]string{"codigo": "wrong", "assinaturaBase64": "data:image/png;base64,AAAA"})
	expectStatus(t, rr, http.StatusNotFound)

	rr = fx.do(t, http.MethodPost, "/api/v1/config/assinatura-gestor/salvar", "", map[string]string{"codigo": code, "assinaturaBase64": "data:image/png;base64,AAAA"})
	expectStatus(t, rr, http.StatusOK)

	rr = fx.do(t, http.MethodPost, "/api/v1/config/assinatura-gestor/salvar", "", map[string]string{"codigo": code, "assinaturaBase64": "data:image/png;base64,AAAA"})
	expectStatus(t, rr, http.StatusNotFound)

	rr = fx.do(t, http.MethodGet, "/api/v1/config/assinatura-gestor", fx.admin, nil)
	if got := decode[map[string]string](t, rr)["assinaturaGestor"]; got != "data:image/png;base64,AAAA" {
		t.Fatalf("assinaturaGestor = %q", got)
	}

	rr = fx.do(t, http.MethodPut, "/api/v1/config/assinatura-gestor", fx.admin, map[string]string{})
	expectStatus(t, rr, http.StatusBadRequest)
	if decode[errorBody](t, rr).Error != "Assinatura não enviada" {
		t.Fatalf("body = %s", rr.Body.String())
	}
	rr = fx.do(t, http.MethodPut, "/api/v1/config/assinatura-gestor", fx.admin, map[string]string{"assinaturaBase64": "data:image/png;base64,CCCC"})
	expectStatus(t, rr, http.StatusOK)
	if n := decode[map[string]any](t, rr)["atualizados"]; n != float64(2) {
		t.Fatalf("atualizados = %v", n)
	}
}

func TestManagerCodeExpiry(t *testing.T) {
	fx := newFixture(t, nil)
	rr := fx.do(t, http.MethodPost, "/api/v1/config/assinatura-gestor/link", fx.admin, nil)
	code := decode[map[string]any](t, rr)["codigo"].(string)

	fx.clock.Advance(5 * time.Minute)
	rr = fx.do(t, http.MethodPost, "/api/v1/config/assinatura-gestor/salvar", "", map[string]string{"codigo": code, "assinaturaBase64": "data:image/png;base64,AAAA"})
	expectStatus(t, rr, http.StatusGone)
	if decode[errorBody](t, rr).Error != "Código expirado" {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestAuthRoutes(t *testing.T) {
	fx := newFixture(t, nil)

	rr := fx.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "admin@example.com", "password": "wrong"})
	expectStatus(t, rr, http.StatusUnauthorized)
	if decode[errorBody](t, rr).Error != "Credenciais inválidas" {
		t.Fatalf("body = %s", rr.Body.String())
	}

	rr = fx.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "ADMIN@example.com", "password": "pw"})
	expectStatus(t, rr, http.StatusOK)
	sess := decode[auth.Session](t, rr)
	if sess.AccessToken == "" || sess.User.Role != core.RoleAdmin {
		t.Fatalf("session = %+v", sess)
	}
	if strings.Contains(rr.Body.String(), "passwordHash") {
		t.Fatal("session leaks the password hash")
	}
	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == refreshCookie {
			cookie = c
		}
	}
	if cookie == nil || !cookie.HttpOnly || cookie.Path != "/api/v1/auth" {
		t.Fatalf("refresh cookie = %+v", cookie)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	fx.srv.Handler.ServeHTTP(rr, req)
	expectStatus(t, rr, http.StatusOK)

	rr = fx.do(t, http.MethodPost, "/api/v1/auth/refresh", "", nil)
	expectStatus(t, rr, http.StatusUnauthorized)
	if decode[errorBody](t, rr).Error != "Refresh inválido" {
		t.Fatalf("body = %s", rr.Body.String())
	}

	rr = fx.do(t, http.MethodGet, "/api/v1/auth/me", fx.user, nil)
	expectStatus(t, rr, http.StatusOK)
	if me := decode[map[string]any](t, rr); me["email"] != "user@example.com" || me["passwordHash"] != nil {
		t.Fatalf("me = %v", me)
	}

	rr = fx.do(t, http.MethodPost, "/api/v1/auth/logout", "", nil)
	expectStatus(t, rr, http.StatusOK)
	cleared := rr.Result().Cookies()
	if len(cleared) != 1 || cleared[0].MaxAge >= 0 {
		t.Fatalf("logout cookies = %+v", cleared)
	}

	register := map[string]string{"nome": "Nova", "email": "nova@example.com", "password": "pw"}
	expectStatus(t, fx.do(t, http.MethodPost, "/api/v1/auth/register", fx.user, register), http.StatusForbidden)
	expectStatus(t, fx.do(t, http.MethodPost, "/api/v1/auth/register", fx.admin, register), http.StatusCreated)
	rr = fx.do(t, http.MethodPost, "/api/v1/auth/register", fx.admin, register)
	expectStatus(t, rr, http.StatusConflict)
	if decode[errorBody](t, rr).Error != "Email já cadastrado" {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestSweepRoute(t *testing.T) {
	fx := newFixture(t, nil)
	created := fx.createEmployee(t, "Ana", "11122233344")
	if _, err := fx.store.CreateFicha(context.Background(), core.Ficha{EmployeeID: "ghost", Month: 1, Year: 2024}); err != nil {
		t.Fatalf("seed orphan: %v", err)
	}

	rr := fx.do(t, http.MethodPost, "/api/v1/manutencao/limpar-fichas", fx.admin, nil)
	expectStatus(t, rr, http.StatusOK)
	if n := decode[map[string]any](t, rr)["removidas"]; n != float64(1) {
		t.Fatalf("removidas = %v", n)
	}
	expectStatus(t, fx.do(t, http.MethodGet, "/api/v1/fichas/"+created.Ficha.ID, fx.admin, nil), http.StatusOK)
}

func TestInternalErrorsAreGeneric(t *testing.T) {
	fx := newFixture(t, nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/fichas/por-token/x", nil)
	fx.srv.writeServiceError(rr, req, errors.New("mongo: connection pool exhausted"), tokenMessages)
	expectStatus(t, rr, http.StatusInternalServerError)
	if strings.Contains(rr.Body.String(), "mongo") {
		t.Fatalf("internal detail leaked: %s", rr.Body.String())
	}
}

func TestRateLimitOnPublicRoutes(t *testing.T) {
	fx := newFixture(t, nil)
	var last int
	for i := 0; i < 61; i++ {
		last = fx.do(t, http.MethodGet, "/api/v1/fichas/por-token/nada", "", nil).Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("status after 61 requests = %d", last)
	}
	// the login budget is separate
	rr := fx.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "admin@example.com", "password": "pw"})
	expectStatus(t, rr, http.StatusOK)
}
