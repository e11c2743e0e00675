package http

import (
	"errors"
	"net/http"

	"folhaponto/internal/core"
	"folhaponto/internal/log"
	"folhaponto/internal/signing"
)

var (
	tokenMessages = errorMessages{notFound: "Token inválido", expired: "Link expirado"}
	codeMessages  = errorMessages{notFound: "Código inválido", expired: "Código expirado"}
)

func (s *Server) handleFichaByToken(w http.ResponseWriter, r *http.Request) {
	view, err := s.signing.ResolveToken(r.Context(), r.PathValue("token"))
	if err != nil {
		s.writeServiceError(w, r, err, tokenMessages)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSignFicha(w http.ResponseWriter, r *http.Request) {
	var in signatureBody
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fichaID, err := s.signing.ConsumeToken(r.Context(), r.PathValue("token"), in.Image)
	if err != nil {
		s.writeServiceError(w, r, err, tokenMessages)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Assinatura registrada", "fichaId": fichaID})
}

func (s *Server) handleManagerLink(w http.ResponseWriter, r *http.Request) {
	issued, err := s.signing.IssueManagerCode(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err, codeMessages)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"codigo":        issued.Token,
		"urlAssinatura": issued.URL,
		"expiraEm":      issued.ExpiresAt,
	})
}

func (s *Server) handleManagerSave(w http.ResponseWriter, r *http.Request) {
	var in signatureBody
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.signing.ConsumeManagerCode(r.Context(), in.Code, in.Image); err != nil {
		s.writeServiceError(w, r, err, codeMessages)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGetManagerSignature(w http.ResponseWriter, r *http.Request) {
	sig, err := s.employees.GetManagerSignature(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err, errorMessages{})
		return
	}
	var value *string
	if sig != "" {
		value = &sig
	}
	writeJSON(w, http.StatusOK, map[string]*string{"assinaturaGestor": value})
}

func (s *Server) handlePutManagerSignature(w http.ResponseWriter, r *http.Request) {
	var in signatureBody
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	image := in.Image
	if image != "" {
		normalized, err := s.normalize(image)
		if err != nil {
			s.writeServiceError(w, r, err, errorMessages{})
			return
		}
		image = normalized
	}
	n, err := s.employees.UpdateManagerSignatureForAll(r.Context(), image)
	if err != nil {
		s.writeServiceError(w, r, err, errorMessages{})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "atualizados": n})
}

// signPage is the template data of both public signing pages. State is one
// of ready, expired, invalid or error.
type signPage struct {
	Title   string
	State   string
	Message string
	Token   string
	Ficha   signing.PublicFicha
}

func pageState(err error, expiredMsg, invalidMsg string) (string, string, int) {
	switch {
	case errors.Is(err, core.ErrExpired):
		return "expired", expiredMsg, http.StatusGone
	case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrValidation):
		return "invalid", invalidMsg, http.StatusNotFound
	default:
		return "error", "Não foi possível carregar a página. Tente novamente mais tarde.", http.StatusInternalServerError
	}
}

func (s *Server) handleSignPage(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	page := signPage{Title: "Assinatura da ficha de ponto", State: "ready", Token: token}
	status := http.StatusOK

	view, err := s.signing.ResolveToken(r.Context(), token)
	if err != nil {
		page.State, page.Message, status = pageState(err,
			"Este link de assinatura expirou. Peça um novo link ao responsável.",
			"Este link de assinatura não existe ou já foi utilizado.")
		if status == http.StatusInternalServerError {
			s.logger.ErrorContext(r.Context(), "Signing page failed", log.FieldError, err)
		}
	}
	page.Ficha = view
	s.render(w, r, status, "assinar.html", page)
}

func (s *Server) handleManagerSignPage(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	page := signPage{Title: "Assinatura do gestor", State: "ready", Token: code}
	status := http.StatusOK

	if _, err := s.signing.ResolveManagerCode(r.Context(), code); err != nil {
		page.State, page.Message, status = pageState(err,
			"Este link expirou. Gere um novo link no painel.",
			"Este link não existe ou já foi utilizado.")
		if status == http.StatusInternalServerError {
			s.logger.ErrorContext(r.Context(), "Manager signing page failed", log.FieldError, err)
		}
	}
	s.render(w, r, status, "assinar_gestor.html", page)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		s.logger.ErrorContext(r.Context(), "Template execution failed",
			log.FieldError, err, log.FieldOperation, log.OpRender)
	}
}
