package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"portal/internal/backup"
	"portal/internal/drafts"
	"portal/internal/export"
	"portal/internal/localstore"
	"portal/internal/logging"
	"portal/internal/remote"
	"portal/internal/render"
	"portal/internal/session"
	"portal/internal/submission"
	"portal/internal/validate"
)

const maxBodySize = 16 << 20

// maxUploadSize leaves room for multipart framing around a backup at the import limit,
// so an oversize file is reported by the importer rather than cut off here.
const maxUploadSize = maxBodySize + 1<<20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        *logging.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, log *logging.Logger) *HTTPServer {
	if log == nil {
		log = logging.Nop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: log.With("component", "http")}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	readMethod := r.Method == http.MethodGet || r.Method == http.MethodHead

	if readMethod && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if readMethod && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"store":    map[string]any{"status": "ok"},
			"endpoint": map[string]any{"configured": s.service.Configured()},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["store"] = map[string]any{
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

	if readMethod && (r.URL.Path == "/" || r.URL.Path == "/assignment") {
		s.handlePage(w, r)
		return
	}

	if readMethod && r.URL.Path == "/submit" {
		s.handleConfirmPage(w, r)
		return
	}

	if readMethod && r.URL.Path == "/print" {
		s.handlePrint(w, r)
		return
	}

	if readMethod && r.URL.Path == "/api/assignment" {
		query := r.URL.Query()
		ref := drafts.Ref{AssignmentID: query.Get("assignmentId"), SubID: query.Get("subId")}
		view, err := s.service.Assignment(r.Context(), ref, query.Get("variant"))
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	if readMethod && r.URL.Path == "/api/status" {
		writeJSON(w, http.StatusOK, s.service.Status())
		return
	}

	if r.URL.Path == "/api/identity" {
		s.handleIdentity(w, r)
		return
	}

	if readMethod && r.URL.Path == "/api/submit/preview" {
		preview, err := s.service.SubmitPreview(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, preview)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/submit" {
		s.handleSubmit(w, r)
		return
	}

	if strings.HasPrefix(r.URL.Path, "/api/backup") || r.URL.Path == "/api/restore" {
		s.handleBackup(w, r)
		return
	}

	parts := splitPath(r.URL.Path)

	// /api/drafts/{assignmentId}/{subId}/{slot|flush}
	if len(parts) == 5 && parts[0] == "api" && parts[1] == "drafts" && r.Method == http.MethodPost {
		ref := drafts.Ref{AssignmentID: parts[2], SubID: parts[3]}
		if parts[4] == "flush" {
			s.service.FlushDrafts(ref)
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		var body struct {
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.UpdateDraft(r.Context(), ref, parts[4], body.Content); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
		return
	}

	// /api/solution/{assignmentId}/{subId}[/verify]
	if len(parts) >= 4 && parts[0] == "api" && parts[1] == "solution" {
		ref := drafts.Ref{AssignmentID: parts[2], SubID: parts[3]}
		if len(parts) == 4 && readMethod {
			snap, err := s.service.Solution(r.Context(), ref)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, snap)
			return
		}
		if len(parts) == 5 && parts[4] == "verify" && r.Method == http.MethodPost {
			s.handleVerify(w, r, ref)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handlePage(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	ref := drafts.Ref{AssignmentID: query.Get("assignmentId"), SubID: query.Get("subId")}
	data := s.service.Page(r.Context(), ref, query.Get("variant"))
	writeHTML(w, http.StatusOK, func(out io.Writer) error { return render.WritePage(out, data) })
}

func (s *HTTPServer) handleConfirmPage(w http.ResponseWriter, r *http.Request) {
	preview, err := s.service.SubmitPreview(r.Context())
	if err != nil {
		status, _, message, _ := mapError(err)
		writeHTML(w, status, func(out io.Writer) error {
			return render.WriteNotice(out, render.NoticeData{Title: "Abgabe", Message: message, Error: true, BackURL: backURL(r)})
		})
		return
	}
	writeHTML(w, http.StatusOK, func(out io.Writer) error {
		return render.WriteConfirm(out, render.ConfirmData{
			Klasse:          preview.Klasse,
			Name:            preview.Name,
			AnswerCount:     preview.AnswerCount,
			AssignmentCount: preview.AssignmentCount,
		})
	})
}

func (s *HTTPServer) handlePrint(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	format, err := export.ParseFormat(query.Get("format"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be 'html', 'pdf' or 'docx'", nil)
		return
	}
	result, err := s.service.Print(r.Context(), export.Request{
		AssignmentID: query.Get("assignmentId"),
		Variant:      query.Get("variant"),
		Format:       format,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	if format != export.FormatHTML {
		w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
	}
	writeFile(w, result.MimeType, result.Data)
}

func (s *HTTPServer) handleIdentity(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		id, ok, err := s.service.Identity(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"present": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"present":    true,
			"klasse":     id.Klasse,
			"name":       id.Name,
			"identifier": id.Identifier(),
		})
	case http.MethodPost:
		var body session.Identity
		form := isFormPost(r)
		if form {
			if err := r.ParseForm(); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid form body", nil)
				return
			}
			body = session.Identity{Klasse: r.PostForm.Get("klasse"), Name: r.PostForm.Get("name")}
		} else if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		id, err := s.service.SetIdentity(r.Context(), body)
		if err != nil {
			if form {
				s.notice(w, r, err, "")
				return
			}
			s.fail(w, err)
			return
		}
		if form {
			http.Redirect(w, r, backURL(r), http.StatusSeeOther)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"present":    true,
			"klasse":     id.Klasse,
			"name":       id.Name,
			"identifier": id.Identifier(),
		})
	case http.MethodDelete:
		if err := s.service.ClearIdentity(r.Context()); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"present": false})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

var outcomeMessages = map[submission.Outcome]string{
	submission.OutcomeSent:         "Daten wurden erfolgreich übermittelt.",
	submission.OutcomeCancelled:    "Abgabe abgebrochen.",
	submission.OutcomeEditIdentity: "Bitte gib deine Klasse und deinen Namen erneut ein.",
}

func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Decision string `json:"decision"`
	}
	form := isFormPost(r)
	if form {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid form body", nil)
			return
		}
		body.Decision = r.PostForm.Get("decision")
	} else if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.Decision == "" {
		body.Decision = string(submission.DecisionSend)
	}

	outcome, err := s.service.Submit(r.Context(), submission.Decision(body.Decision))
	if err != nil {
		if form {
			s.notice(w, r, err, "/")
			return
		}
		s.fail(w, err)
		return
	}
	if form {
		writeHTML(w, http.StatusOK, func(out io.Writer) error {
			return render.WriteNotice(out, render.NoticeData{Title: "Abgabe", Message: outcomeMessages[outcome], BackURL: "/"})
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcome": outcome, "message": outcomeMessages[outcome]})
}

func (s *HTTPServer) handleVerify(w http.ResponseWriter, r *http.Request, ref drafts.Ref) {
	var body struct {
		Key string `json:"key"`
	}
	form := isFormPost(r)
	if form {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid form body", nil)
			return
		}
		body.Key = r.PostForm.Get("key")
	} else if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	snap, err := s.service.VerifySolution(r.Context(), ref, body.Key)
	if form {
		// The page shows the gate state, including the error message.
		if err != nil && !errors.Is(err, render.ErrInvalidKey) && !errors.Is(err, render.ErrEmptyKey) {
			s.notice(w, r, err, "")
			return
		}
		http.Redirect(w, r, backURL(r), http.StatusSeeOther)
		return
	}
	if err != nil {
		status, code, message, _ := mapError(err)
		if snap.State != "" {
			writeError(w, status, code, message, snap)
			return
		}
		writeError(w, status, code, message, nil)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handleBackup(w http.ResponseWriter, r *http.Request) {
	readMethod := r.Method == http.MethodGet || r.Method == http.MethodHead
	parts := splitPath(r.URL.Path)

	switch {
	case readMethod && r.URL.Path == "/api/backup":
		file, err := s.service.Backup(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		w.Header().Set("Content-Disposition", "attachment; filename=\""+file.Name+"\"")
		writeFile(w, "application/json", file.Data)

	case r.Method == http.MethodPost && r.URL.Path == "/api/restore":
		reader, closeFn, err := uploadReader(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		defer closeFn()
		count, err := s.service.Restore(r.Context(), reader)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"restored": count,
			"message":  fmt.Sprintf("%d Datensätze erfolgreich wiederhergestellt.", count),
		})

	case r.Method == http.MethodPost && r.URL.Path == "/api/backup/archive":
		name, err := s.service.Archive(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"object": name})

	case readMethod && r.URL.Path == "/api/backup/archive":
		items, err := s.service.Archived(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})

	case r.Method == http.MethodPost && r.URL.Path == "/api/backup/archive/restore":
		var body struct {
			Object string `json:"object"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.Object) == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "object is required", nil)
			return
		}
		count, err := s.service.RestoreArchive(r.Context(), body.Object)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"restored": count})

	case readMethod && r.URL.Path == "/api/backup/history":
		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be a non-negative integer", nil)
				return
			}
			limit = parsed
		}
		items, err := s.service.History(limit)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})

	// /api/backup/history/{revision}/restore
	case r.Method == http.MethodPost && len(parts) == 5 && parts[2] == "history" && parts[4] == "restore":
		count, err := s.service.RestoreRevision(r.Context(), parts[3])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"restored": count, "revision": parts[3]})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// uploadReader returns the backup file of a multipart upload (field "backup")
// or the raw request body.
func uploadReader(w http.ResponseWriter, r *http.Request) (io.Reader, func(), error) {
	body := http.MaxBytesReader(w, r.Body, maxUploadSize)
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return body, func() { _ = body.Close() }, nil
	}
	r.Body = body
	file, _, err := r.FormFile("backup")
	if err != nil {
		return nil, func() {}, fmt.Errorf("missing backup file")
	}
	return file, func() { _ = file.Close() }, nil
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "code", code, "error", err)
	}
	writeError(w, status, code, message, details)
}

// notice answers a plain form post with an HTML message page.
func (s *HTTPServer) notice(w http.ResponseWriter, r *http.Request, err error, back string) {
	status, code, message, _ := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "code", code, "error", err)
	}
	if back == "" {
		back = backURL(r)
	}
	writeHTML(w, status, func(out io.Writer) error {
		return render.WriteNotice(out, render.NoticeData{Title: "Fehler", Message: message, Error: true, BackURL: back})
	})
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

// RequestID returns the id the middleware attached to ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
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

// writeHTML renders into a buffer first so a template error still yields a clean 500.
func writeHTML(w http.ResponseWriter, status int, fn func(io.Writer) error) {
	var buf strings.Builder
	if err := fn(&buf); err != nil {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Render failed", nil)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, buf.String())
}

func writeFile(w http.ResponseWriter, mimeType string, data []byte) {
	w.Header().Set("Content-Type", mimeType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func isFormPost(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded")
}

// backURL is the referring page when it belongs to this server, "/" otherwise.
func backURL(r *http.Request) string {
	ref, err := url.Parse(r.Header.Get("Referer"))
	if err != nil || ref.Path == "" || (ref.Host != "" && ref.Host != r.Host) {
		return "/"
	}
	if ref.RawQuery != "" {
		return ref.Path + "?" + ref.RawQuery
	}
	return ref.Path
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
	var remoteErr *remote.RemoteError
	if errors.As(err, &remoteErr) {
		return http.StatusBadGateway, "REMOTE_ERROR", remoteErr.Message, nil
	}
	var transportErr *remote.TransportError
	if errors.As(err, &transportErr) {
		return http.StatusBadGateway, "NETWORK_ERROR", err.Error(), nil
	}
	var unknownType *render.UnknownTypeError
	if errors.As(err, &unknownType) {
		return http.StatusUnprocessableEntity, "UNKNOWN_TYPE", unknownType.Error(), nil
	}
	if errors.Is(err, session.ErrInvalidIdentity) {
		var fields validate.FieldErrors
		if errors.As(err, &fields) {
			return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Bitte fülle beide Felder aus.", fields
		}
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Bitte fülle beide Felder aus.", nil
	}

	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return m.status, m.code, m.message, nil
		}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

var errorTable = []struct {
	err     error
	status  int
	code    string
	message string
}{
	{drafts.ErrInvalidRef, http.StatusBadRequest, "INVALID_REF", "assignmentId and subId are required"},
	{submission.ErrIdentityRequired, http.StatusConflict, "IDENTITY_REQUIRED", "Bitte gib deine Klasse und deinen Namen ein."},
	{submission.ErrSubmitInProgress, http.StatusConflict, "SUBMIT_IN_PROGRESS", "Die Abgabe wird bereits übermittelt."},
	{submission.ErrUnknownDecision, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "decision must be 'send', 'edit' or 'cancel'"},
	{submission.ErrNothingToSubmit, http.StatusUnprocessableEntity, "NOTHING_TO_SUBMIT", "Es wurden keine gespeicherten Daten zum Senden gefunden."},
	{remote.ErrNotConfigured, http.StatusServiceUnavailable, "NOT_CONFIGURED", "Konfigurationsfehler: Die Abgabe-URL ist nicht festgelegt."},
	{render.ErrEmptyKey, http.StatusUnprocessableEntity, "EMPTY_KEY", "Bitte gib einen Schlüssel ein."},
	{render.ErrInvalidKey, http.StatusForbidden, "INVALID_KEY", "Der Schlüssel ist ungültig."},
	{localstore.ErrNothingToExport, http.StatusNotFound, "NOTHING_TO_EXPORT", "Keine Daten zum Sichern gefunden."},
	{localstore.ErrInvalidSnapshot, http.StatusUnprocessableEntity, "INVALID_BACKUP", "Fehler beim Importieren der Datei. Ist es ein gültiges Backup?"},
	{backup.ErrBackupTooLarge, http.StatusRequestEntityTooLarge, "BACKUP_TOO_LARGE", "Die Datei ist zu groß für ein Backup."},
	{backup.ErrHistoryDisabled, http.StatusServiceUnavailable, "HISTORY_DISABLED", "Backup history is not configured"},
	{backup.ErrArchiveDisabled, http.StatusServiceUnavailable, "ARCHIVE_DISABLED", "Backup archive is not configured"},
	{export.ErrMissingAssignment, http.StatusBadRequest, "INVALID_REF", "assignmentId is required"},
	{export.ErrUnsupportedFormat, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be 'html', 'pdf' or 'docx'"},
	{export.ErrPDFDependencyMissing, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available"},
	{export.ErrDOCXDependencyMissing, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "DOCX export is not available"},
}
