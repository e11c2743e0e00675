package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"folhaponto/internal/core"
	"folhaponto/internal/export"
	"folhaponto/internal/log"
)

var fichaMessages = errorMessages{notFound: "Ficha não encontrada"}

func (s *Server) handleListFichas(w http.ResponseWriter, r *http.Request) {
	list, err := s.fichas.ListFichas(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err, fichaMessages)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateFicha(w http.ResponseWriter, r *http.Request) {
	var in core.Ficha
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, err := s.fichas.CreateFicha(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err, fichaMessages)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleListFichasForEmployee(w http.ResponseWriter, r *http.Request) {
	list, err := s.fichas.ListFichasForEmployee(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err, fichaMessages)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetFicha(w http.ResponseWriter, r *http.Request) {
	f, err := s.fichas.GetFicha(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err, fichaMessages)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleUpdateFicha(w http.ResponseWriter, r *http.Request) {
	var patch map[string]json.RawMessage
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, err := s.fichas.UpdateFicha(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		s.writeServiceError(w, r, err, fichaMessages)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleUpdateFichaHeader(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Header core.Header `json:"header"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, err := s.fichas.UpdateFichaHeader(r.Context(), r.PathValue("id"), in.Header)
	if err != nil {
		s.writeServiceError(w, r, err, fichaMessages)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Cabeçalho atualizado", "ficha": f})
}

func (s *Server) handleDeleteFicha(w http.ResponseWriter, r *http.Request) {
	if err := s.fichas.DeleteFicha(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err, fichaMessages)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Ficha deletada com sucesso"})
}

func (s *Server) handleIssueLink(w http.ResponseWriter, r *http.Request) {
	issued, err := s.signing.IssueToken(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err, fichaMessages)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":       "Link de assinatura gerado",
		"token":         issued.Token,
		"expiraEm":      issued.ExpiresAt,
		"urlAssinatura": issued.URL,
	})
}

// handleExportFicha renders the workbook in memory first so that a rendering
// failure still yields a JSON error instead of a truncated download.
func (s *Server) handleExportFicha(w http.ResponseWriter, r *http.Request) {
	f, err := s.fichas.GetFicha(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err, fichaMessages)
		return
	}
	manager := f.ManagerSignature
	if manager == "" {
		if e, err := s.employees.GetEmployee(r.Context(), f.EmployeeID); err == nil {
			manager = e.ManagerSignature
		}
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, export.Input{Ficha: f, ManagerSignature: manager}); err != nil {
		s.writeServiceError(w, r, fmt.Errorf("export ficha %s: %w", f.ID, err), fichaMessages)
		return
	}
	s.logger.InfoContext(r.Context(), "Ficha exported",
		log.NewFields().WithFicha(f.ID, f.EmployeeID, f.Month, f.Year).WithOperation(log.OpExport).ToSlice()...)

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.Filename(f)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	n, err := s.fichas.SweepOrphans(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err, fichaMessages)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Limpeza concluída", "removidas": n})
}
