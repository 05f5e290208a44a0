package server

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/copyleftdev/psffit/internal/api"
	"github.com/copyleftdev/psffit/internal/errors"
	"github.com/copyleftdev/psffit/internal/store"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeNotFound       = -32001
	codeFinished       = -32002
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type jobParams struct {
	ID string `json:"id"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests. Methods:
//
//	fit.start     api.FitRequest      -> api.FitResponse
//	fit.status    {"id": "..."}       -> api.FitResponse
//	fit.cancel    {"id": "..."}       -> api.FitResponse
//	model.render  api.RenderRequest   -> api.RenderResponse
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	body := http.MaxBytesReader(w, r.Body, s.cfg.HTTP.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&request); err != nil {
		s.respondRPCError(w, nil, codeParseError, "Parse error", err)
		return
	}

	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondRPCError(w, request.ID, codeInvalidRequest, "Invalid Request", nil)
		return
	}

	var (
		result interface{}
		err    error
	)
	switch request.Method {
	case "fit.start":
		result, err = s.rpcFitStart(request.Params)
	case "fit.status":
		result, err = s.rpcFitStatus(r, request.Params)
	case "fit.cancel":
		result, err = s.rpcFitCancel(request.Params)
	case "model.render":
		result, err = s.rpcRender(request.Params)
	default:
		s.respondRPCError(w, request.ID, codeMethodNotFound, "Method not found", nil)
		return
	}

	if err != nil {
		code, message := rpcCode(err)
		if code == codeServerError {
			s.logger.WithError(err).Error("RPC error", map[string]interface{}{"method": request.Method})
		}
		s.respondRPCError(w, request.ID, code, message, err)
		return
	}

	s.respond(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: request.ID, Result: result})
}

func (s *Server) rpcFitStart(raw json.RawMessage) (interface{}, error) {
	var req api.FitRequest
	if err := decodeParams(raw, &req); err != nil {
		return nil, err
	}
	job, err := s.startFit(&req)
	if err != nil {
		return nil, err
	}
	return api.NewFitResponse(job), nil
}

func (s *Server) rpcFitStatus(r *http.Request, raw json.RawMessage) (interface{}, error) {
	var p jobParams
	if err := decodeJobParams(raw, &p); err != nil {
		return nil, err
	}
	job, err := s.store.Get(r.Context(), p.ID)
	if err != nil {
		return nil, err
	}
	return api.NewFitResponse(job), nil
}

func (s *Server) rpcFitCancel(raw json.RawMessage) (interface{}, error) {
	var p jobParams
	if err := decodeJobParams(raw, &p); err != nil {
		return nil, err
	}
	job, err := s.cancelFit(p.ID)
	if err != nil {
		return nil, err
	}
	return api.NewFitResponse(job), nil
}

func (s *Server) rpcRender(raw json.RawMessage) (interface{}, error) {
	var req api.RenderRequest
	if err := decodeParams(raw, &req); err != nil {
		return nil, err
	}
	return req.Render(s.zap)
}

// decodeParams accepts params as an object or as an array holding one.
func decodeParams(raw json.RawMessage, v interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return errors.InvalidArgument("decodeParams", "missing required parameters")
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return errors.InvalidArgument("decodeParams", "invalid parameters: %v", err)
		}
		if len(list) != 1 {
			return errors.InvalidArgument("decodeParams", "expected one parameter object, got %d", len(list))
		}
		raw = list[0]
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.InvalidArgument("decodeParams", "invalid parameters: %v", err)
	}
	return nil
}

func decodeJobParams(raw json.RawMessage, p *jobParams) error {
	if err := decodeParams(raw, p); err != nil {
		return err
	}
	if p.ID == "" {
		return errors.InvalidArgument("decodeParams", "id is required")
	}
	return nil
}

func rpcCode(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return codeNotFound, "Fit job not found"
	case errors.Is(err, errFinished):
		return codeFinished, "Fit job already finished"
	case errors.IsInvalidArgument(err):
		return codeInvalidParams, "Invalid params"
	default:
		return codeServerError, "Server error"
	}
}

// respondRPCError sends a JSON-RPC 2.0 error response.
func (s *Server) respondRPCError(w http.ResponseWriter, id interface{}, code int, message string, err error) {
	e := &rpcError{Code: code, Message: message}
	if err != nil {
		e.Data = err.Error()
	}
	s.respond(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: id, Error: e})
}
