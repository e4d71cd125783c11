package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"choreboard/api/internal/search"
	"choreboard/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.corsOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := search.Query{
			Text:             r.URL.Query().Get("q"),
			FilterHousehold:  r.URL.Query().Get("household"),
			FilterCollection: r.URL.Query().Get("collection"),
		}
		if limit := r.URL.Query().Get("limit"); limit != "" {
			if parsed, err := strconv.Atoi(limit); err == nil {
				q.Limit = parsed
			}
		}
		if offset := r.URL.Query().Get("offset"); offset != "" {
			if parsed, err := strconv.Atoi(offset); err == nil {
				q.Offset = parsed
			}
		}
		writeJSON(w, http.StatusOK, s.service.Search(q))
		return
	}

	if rest, ok := strings.CutPrefix(r.URL.Path, "/api/households/"); ok {
		s.handleHousehold(w, r, rest)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleHousehold(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) < 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	householdID := parts[0]

	if len(parts) == 2 && parts[1] == "members" && r.Method == http.MethodGet {
		members, err := s.service.Members(r.Context(), householdID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		out := make([]map[string]any, 0, len(members))
		for _, m := range members {
			out = append(out, map[string]any{
				"id":     m.ID,
				"name":   m.Name,
				"avatar": m.Avatar,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"members": out})
		return
	}

	collection := parts[1]

	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		items, err := s.service.ListItems(r.Context(), householdID, collection)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": toWireItems(items)})

	case len(parts) == 2 && r.Method == http.MethodPost:
		var input CreateItemInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.CreateItem(r.Context(), householdID, collection, input)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toWireItem(item))

	case len(parts) == 3 && r.Method == http.MethodPatch:
		var input UpdateItemInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.UpdateItem(r.Context(), householdID, collection, parts[2], input)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toWireItem(item))

	case len(parts) == 3 && r.Method == http.MethodDelete:
		if err := s.service.DeleteItem(r.Context(), householdID, collection, parts[2]); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		writeError(w, domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details)
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	writeError(w, http.StatusInternalServerError, "INTERNAL", "Internal error", nil)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
