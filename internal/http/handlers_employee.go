package http

import (
	"net/http"

	"folhaponto/internal/core"
	"folhaponto/internal/services"
)

var employeeMessages = errorMessages{notFound: "Funcionário não encontrado"}

func (s *Server) handleCreateEmployee(w http.ResponseWriter, r *http.Request) {
	var in services.NewEmployee
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	e, f, err := s.employees.CreateEmployee(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err, employeeMessages)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":   "Funcionário criado com sucesso",
		"empregado": e,
		"ficha":     f,
	})
}

func (s *Server) handleListEmployees(w http.ResponseWriter, r *http.Request) {
	list, err := s.employees.ListEmployees(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err, employeeMessages)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetEmployee(w http.ResponseWriter, r *http.Request) {
	e, err := s.employees.GetEmployee(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err, employeeMessages)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleUpdateEmployee(w http.ResponseWriter, r *http.Request) {
	var in core.Employee
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	e, err := s.employees.UpdateEmployee(r.Context(), r.PathValue("id"), in)
	if err != nil {
		s.writeServiceError(w, r, err, employeeMessages)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeleteEmployee(w http.ResponseWriter, r *http.Request) {
	if err := s.employees.DeleteEmployee(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err, employeeMessages)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Funcionário e fichas vinculadas foram excluídos com sucesso",
	})
}

func (s *Server) handleEmployeeManagerSignature(w http.ResponseWriter, r *http.Request) {
	var in signatureBody
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	image := in.Image
	if image != "" {
		normalized, err := s.normalize(image)
		if err != nil {
			s.writeServiceError(w, r, err, employeeMessages)
			return
		}
		image = normalized
	}
	e, err := s.employees.UpdateEmployeeManagerSignature(r.Context(), r.PathValue("id"), image)
	if err != nil {
		s.writeServiceError(w, r, err, employeeMessages)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":          "Assinatura do gestor atualizada com sucesso",
		"assinaturaGestor": e.ManagerSignature,
	})
}
