package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"foliate/api/internal/auth"
	"foliate/api/internal/catalog"
	"foliate/api/internal/embed"
	"foliate/api/internal/proxy"
	"foliate/api/internal/render"
	"foliate/api/internal/session"
	"foliate/api/internal/util"
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
			"artifact_store": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["artifact_store"] = map[string]any{
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

	// Token issue route (no credential required) - see Service.IssueToken
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/token" {
		var body struct {
			Name  string `json:"name"`
			Group string `json:"group"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.Name) == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
			return
		}
		token, identity, err := s.service.IssueToken(body.Name, body.Group)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Token issue failed", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token": token,
			"name":  identity.Name,
			"group": identity.Group,
		})
		return
	}

	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/templates" {
		writeJSON(w, http.StatusOK, map[string]any{"templates": templatePayload(s.service.Templates())})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/sessions" {
		var body struct {
			TemplateID string `json:"templateId"`
			Alias      string `json:"alias"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.TemplateID) == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "templateId is required", nil)
			return
		}
		info, err := s.service.CreateSession(identity, body.TemplateID, strings.TrimSpace(body.Alias))
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, info)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "templates" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		descriptor, err := s.service.Template(parts[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, describeTemplate(descriptor))
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "proxy" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		if !util.IsGUID(parts[2]) {
			writeError(w, http.StatusNotFound, "PROXY_NOT_FOUND", "Artifact not found or expired", nil)
			return
		}
		artifact, err := s.service.Artifact(r.Context(), parts[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeBytes(w, artifact.ContentType, artifact.Data)
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "sessions" {
		s.handleSession(w, r, identity, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleSession dispatches everything under /api/sessions/{idOrAlias}.
func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request, identity Identity, idOrAlias string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		state, err := s.service.DescribeSession(identity, idOrAlias)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, state)
		return

	case len(rest) == 0 && r.Method == http.MethodDelete:
		if err := s.service.AbortSession(identity, idOrAlias); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return

	case len(rest) == 1 && rest[0] == "parameters" && r.Method == http.MethodPost:
		var body struct {
			Parameters map[string]any `json:"parameters"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.SetGlobalParameters(identity, idOrAlias, body.Parameters); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return

	case len(rest) == 1 && rest[0] == "fragments" && r.Method == http.MethodGet:
		fragments, err := s.service.ListFragments(identity, idOrAlias)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"fragments": fragments})
		return

	case len(rest) == 1 && rest[0] == "fragments" && r.Method == http.MethodPost:
		var body struct {
			FragmentID string         `json:"fragmentId"`
			Parameters map[string]any `json:"parameters"`
			Position   string         `json:"position"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.FragmentID) == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "fragmentId is required", nil)
			return
		}
		frag, err := s.service.AddFragment(r.Context(), identity, idOrAlias, body.FragmentID, body.Parameters, body.Position)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"fragmentGuid": frag.GUID, "embedded": frag.Embedded})
		return

	case len(rest) == 2 && rest[0] == "fragments" && rest[1] == "image" && r.Method == http.MethodPost:
		var body struct {
			ImageURL     string         `json:"imageUrl"`
			Parameters   map[string]any `json:"parameters"`
			Position     string         `json:"position"`
			RequireValid bool           `json:"requireValid"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		params := body.Parameters
		if params == nil {
			params = map[string]any{}
		}
		if body.ImageURL != "" {
			params["image_url"] = body.ImageURL
		}
		frag, err := s.service.AddImageFragment(r.Context(), identity, idOrAlias, params, body.Position, body.RequireValid)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"fragmentGuid": frag.GUID, "embedded": frag.Embedded})
		return

	case len(rest) == 2 && rest[0] == "fragments" && r.Method == http.MethodDelete:
		if err := s.service.RemoveFragment(identity, idOrAlias, rest[1]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return

	case len(rest) == 1 && rest[0] == "render" && r.Method == http.MethodGet:
		format := r.URL.Query().Get("format")
		if format == "" {
			format = "html"
		}
		styleID := r.URL.Query().Get("style")
		if r.URL.Query().Get("proxy") == "true" {
			artifact, err := s.service.RenderToProxy(r.Context(), identity, idOrAlias, format, styleID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{
				"proxyGuid":   artifact.GUID,
				"contentType": artifact.ContentType,
				"format":      artifact.Format,
			})
			return
		}
		result, err := s.service.Render(r.Context(), identity, idOrAlias, format, styleID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeBytes(w, result.ContentType, result.Data)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func templatePayload(templates []catalog.Template) []map[string]any {
	out := make([]map[string]any, 0, len(templates))
	for _, descriptor := range templates {
		out = append(out, describeTemplate(descriptor))
	}
	return out
}

func describeTemplate(descriptor catalog.Template) map[string]any {
	fragments := map[string]any{}
	for id, kind := range descriptor.Fragments {
		fragments[id] = map[string]any{
			"description": kind.Description,
			"schema":      json.RawMessage(kind.Schema),
		}
	}
	return map[string]any{
		"id":            descriptor.ID,
		"name":          descriptor.Name,
		"description":   descriptor.Description,
		"defaultStyle":  descriptor.DefaultStyle,
		"globalsSchema": json.RawMessage(descriptor.GlobalsSchema),
		"fragments":     fragments,
	}
}

func (s *HTTPServer) requireIdentity(w http.ResponseWriter, r *http.Request) (Identity, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Identity{}, false
	}
	identity, err := s.service.IdentityFromToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Identity{}, false
	}
	return identity, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeBytes sends a non-JSON body, overriding the middleware's default
// content type.
func writeBytes(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validationErr *catalog.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Parameters failed schema validation", map[string]any{"problems": validationErr.Problems}
	}
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", nil
	case errors.Is(err, session.ErrAliasConflict):
		return http.StatusConflict, "ALIAS_CONFLICT", "Alias already in use", nil
	case errors.Is(err, session.ErrFragmentNotFound):
		return http.StatusNotFound, "FRAGMENT_REFERENCE_NOT_FOUND", "Fragment reference not found", nil
	case errors.Is(err, catalog.ErrUnknownTemplate):
		return http.StatusNotFound, "UNKNOWN_TEMPLATE", "Unknown template", nil
	case errors.Is(err, render.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "UNSUPPORTED_FORMAT", "Format must be html, md or pdf", nil
	case errors.Is(err, render.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF rendering is not available", nil
	case errors.Is(err, embed.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "IMAGE_TOO_LARGE", "Image exceeds the embedding size limit", nil
	case errors.Is(err, proxy.ErrNotFound):
		return http.StatusNotFound, "PROXY_NOT_FOUND", "Artifact not found or expired", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
