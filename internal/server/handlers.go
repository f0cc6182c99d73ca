package server

import (
	"errors"
	"fmt"
	"net/http"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/musinsa-manager/internal/service"
)

// HandleHealthCheck confirms the server is responsive.
func (s *Server) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// HandleCommand runs one controller command. Only malformed requests and unknown commands
// get a non-200 status; command failures are reported inside the result.
func (s *Server) HandleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.Command == "" {
		s.respondWithError(w, http.StatusBadRequest, "Missing command.")
		return
	}

	res, err := s.ctrl.Dispatch(r.Context(), req.Command, req.Payload)
	switch {
	case err == nil:
		s.respondWithSuccess(w, http.StatusOK, res)
	case errors.Is(err, service.ErrUnknownCommand):
		s.respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrBadPayload):
		s.respondWithError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("Command dispatch failed", zap.String("command", req.Command), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, err.Error())
	}
}

// HandleListCommands lists the command names.
func (s *Server) HandleListCommands(w http.ResponseWriter, r *http.Request) {
	s.respondWithSuccess(w, http.StatusOK, service.Commands())
}

func (s *Server) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	s.respond(w, statusCode, CommandResponse{Status: "error", Error: message})
}

func (s *Server) respondWithSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	s.respond(w, statusCode, CommandResponse{Status: "success", Data: data})
}

func (s *Server) respond(w http.ResponseWriter, statusCode int, resp CommandResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
