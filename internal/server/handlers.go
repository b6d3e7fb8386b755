package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"quotehub/internal/aggregate"
	"quotehub/internal/provider"
)

// maxSymbols bounds one list request.
const maxSymbols = 100

type errorResponse struct {
	Error string `json:"error"`
}

type postBody struct {
	Symbols []string `json:"symbols"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetQuotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("symbols")
	if strings.TrimSpace(q) == "" {
		writeError(w, http.StatusBadRequest, "missing symbols query param")
		return
	}
	s.writeQuotes(w, r, provider.SplitCSV(q))
}

func (s *Server) handlePostQuotes(w http.ResponseWriter, r *http.Request) {
	var b postBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(b.Symbols) == 0 {
		writeError(w, http.StatusBadRequest, "symbols cannot be empty")
		return
	}
	s.writeQuotes(w, r, b.Symbols)
}

func (s *Server) writeQuotes(w http.ResponseWriter, r *http.Request, symbols []string) {
	if len(symbols) > maxSymbols {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("too many symbols (max %d)", maxSymbols))
		return
	}
	res, err := s.quotes.GetQuotes(r.Context(), symbols)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetQuote(w http.ResponseWriter, r *http.Request) {
	res, err := s.quotes.GetQuote(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, resultStatus(res.Status, res.Reason), res)
}

func (s *Server) handleIndices(w http.ResponseWriter, r *http.Request) {
	res, err := s.quotes.GetIndices(r.Context())
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	res, err := s.quotes.GetTrending(r.Context())
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	doc, err := s.quotes.GetOverview(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, resultStatus(doc.Status, doc.Reason), doc)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	interval, err := provider.ParseInterval(r.URL.Query().Get("interval"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	doc, err := s.quotes.GetHistory(r.Context(), chi.URLParam(r, "symbol"), interval)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, resultStatus(doc.Status, doc.Reason), doc)
}

// resultStatus maps a single-symbol result to an HTTP status. Symbols the
// upstream does not know are 404; transient failures still answer 200 with
// the reason in the body.
func resultStatus(status aggregate.Status, reason string) int {
	if status == aggregate.StatusUnavailable &&
		(reason == provider.ReasonInvalidSymbol || reason == provider.ReasonNoData) {
		return http.StatusNotFound
	}
	return http.StatusOK
}

func (s *Server) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, aggregate.ErrDetailsUnsupported) {
		writeError(w, http.StatusNotImplemented, err.Error())
		return
	}
	s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	writeError(w, http.StatusServiceUnavailable, "service unavailable")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
