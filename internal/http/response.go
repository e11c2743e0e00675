package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"folhaponto/internal/auth"
	"folhaponto/internal/core"
	"folhaponto/internal/log"
	"folhaponto/internal/middleware/trace"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// errorMessages overrides the default messages per sentinel.
type errorMessages struct {
	notFound string
	expired  string
}

var defaultMessages = errorMessages{notFound: "Não encontrado", expired: "Link expirado"}

// writeServiceError maps a service error to its status code. Unexpected
// errors are logged and answered with a generic message.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error, msgs errorMessages) {
	if msgs.notFound == "" {
		msgs.notFound = defaultMessages.notFound
	}
	if msgs.expired == "" {
		msgs.expired = defaultMessages.expired
	}

	var verr *core.ValidationError
	switch {
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, msgs.notFound)
	case errors.Is(err, core.ErrExpired):
		writeError(w, http.StatusGone, msgs.expired)
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Msg)
	case errors.Is(err, core.ErrDuplicateCPF):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Já existe um funcionário com este CPF", Code: "duplicate_cpf"})
	case errors.Is(err, core.ErrDuplicateName):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Já existe um funcionário com este nome", Code: "duplicate_name"})
	case errors.Is(err, core.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "Email já cadastrado")
	case errors.Is(err, core.ErrDuplicateFicha):
		writeJSON(w, http.StatusConflict, errorBody{Error: "Já existe uma ficha para este mês", Code: "duplicate_ficha"})
	case errors.Is(err, core.ErrValidation):
		writeError(w, http.StatusBadRequest, "Dados inválidos")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Credenciais inválidas")
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "Refresh inválido")
	default:
		s.structured.LogError(r.Context(), "Request failed", err, log.ComponentHTTP, r.Method+" "+r.URL.Path,
			log.NewFields().
				WithRequestID(trace.GetRequestID(r.Context())).
				WithHTTPRequest(r.Method, r.URL.Path, "", r.UserAgent(), r.Referer()).
				WithClientIP(s.detector.ExtractClientIP(r)))
		writeError(w, http.StatusInternalServerError, "Erro interno do servidor")
	}
}
