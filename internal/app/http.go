package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"notable/api/internal/store"
)

// HTTPServer is a thin JSON surface over the service. Request identity comes
// from the X-Notable-User header; real authentication sits in front of this
// server.
type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withCORS(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Notable-User")
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.service.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	userID := strings.TrimSpace(r.Header.Get("X-Notable-User"))
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing user identity", nil)
		return
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api"), "/"), "/")
	switch parts[0] {
	case "sync":
		s.handleSync(w, r, userID)
	case "spaces":
		s.handleSpaces(w, r, userID, parts[1:])
	case "invites":
		s.handleInvites(w, r, userID, parts[1:])
	case "boards":
		s.handleItems(w, r, userID, parts[1:], "board")
	case "notes":
		s.handleItems(w, r, userID, parts[1:], "note")
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such route", nil)
	}
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET", nil)
		return
	}
	since := time.Time{}
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "since must be RFC3339", nil)
			return
		}
		since = parsed
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.service.SyncSince(r.Context(), userID, since, limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": syncRecordsJSON(records)})
}

func (s *HTTPServer) handleSpaces(w http.ResponseWriter, r *http.Request, userID string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body struct {
			ID   string `json:"id"`
			Body []byte `json:"body"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		detail, err := s.service.CreateSpace(r.Context(), userID, store.Space{ID: body.ID, Body: body.Body})
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, spaceDetailJSON(detail))

	case len(rest) == 1 && rest[0] == "link" && r.Method == http.MethodPost:
		var body struct {
			IDs []string `json:"ids"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		links, err := s.service.LinkSpaces(r.Context(), body.IDs)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		out := make([]map[string]any, len(links))
		for i, link := range links {
			out[i] = map[string]any{"space": spaceJSON(link.Space), "members": membersJSON(link.Members)}
		}
		writeJSON(w, http.StatusOK, map[string]any{"spaces": out})

	case len(rest) == 1 && r.Method == http.MethodGet:
		detail, err := s.service.GetSpace(r.Context(), userID, rest[0])
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, spaceDetailJSON(detail))

	case len(rest) == 1 && r.Method == http.MethodPut:
		var body struct {
			Body []byte `json:"body"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		space, syncIDs, err := s.service.EditSpace(r.Context(), userID, store.Space{ID: rest[0], Body: body.Body})
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"space": spaceJSON(space), "sync_ids": syncIDs})

	case len(rest) == 1 && r.Method == http.MethodDelete:
		syncIDs, err := s.service.DeleteSpace(r.Context(), userID, rest[0])
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sync_ids": syncIDs})

	case len(rest) == 2 && rest[1] == "tree" && r.Method == http.MethodGet:
		tree, err := s.service.GetDataTree(r.Context(), userID, rest[0])
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, dataTreeJSON(tree))

	case len(rest) == 2 && rest[1] == "size" && r.Method == http.MethodGet:
		size, err := s.service.GetSpaceSize(r.Context(), userID, rest[0])
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"size": size})

	case len(rest) == 2 && rest[1] == "owner" && r.Method == http.MethodPut:
		var body struct {
			UserID string `json:"user_id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		space, syncIDs, err := s.service.SetSpaceOwner(r.Context(), userID, rest[0], body.UserID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"space": spaceJSON(space), "sync_ids": syncIDs})

	case len(rest) == 3 && rest[1] == "members" && r.Method == http.MethodPut:
		var body struct {
			Role string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		member, syncIDs, err := s.service.EditMember(r.Context(), userID, rest[2], body.Role)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"member": memberJSON(member), "sync_ids": syncIDs})

	case len(rest) == 3 && rest[1] == "members" && r.Method == http.MethodDelete:
		syncIDs, err := s.service.DeleteMember(r.Context(), userID, rest[0], rest[2])
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sync_ids": syncIDs})

	case len(rest) == 2 && rest[1] == "invites" && r.Method == http.MethodPost:
		var body struct {
			ToEmail    string `json:"to_email"`
			Role       string `json:"role"`
			Body       []byte `json:"body"`
			Passphrase string `json:"passphrase"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		invite := store.Invite{SpaceID: rest[0], ToEmail: body.ToEmail, Role: body.Role, Body: body.Body}
		created, syncIDs, err := s.service.CreateInvite(r.Context(), userID, invite, body.Passphrase)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"invite": inviteJSON(created), "sync_ids": syncIDs})

	case len(rest) == 3 && rest[1] == "invites" && r.Method == http.MethodDelete:
		syncIDs, err := s.service.DeleteInvite(r.Context(), userID, rest[0], rest[2])
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sync_ids": syncIDs})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such route", nil)
	}
}

func (s *HTTPServer) handleInvites(w http.ResponseWriter, r *http.Request, userID string, rest []string) {
	if len(rest) == 2 && rest[1] == "accept" && r.Method == http.MethodPost {
		var body struct {
			Passphrase string `json:"passphrase"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		member, syncIDs, err := s.service.AcceptInvite(r.Context(), userID, rest[0], body.Passphrase)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"member": memberJSON(member), "sync_ids": syncIDs})
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "no such route", nil)
}

// handleItems serves boards and notes, which share the same route shape.
func (s *HTTPServer) handleItems(w http.ResponseWriter, r *http.Request, userID string, rest []string, kind string) {
	type itemBody struct {
		ID      string  `json:"id"`
		SpaceID string  `json:"space_id"`
		BoardID *string `json:"board_id"`
		Body    []byte  `json:"body"`
	}

	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body itemBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if kind == "board" {
			board, syncIDs, err := s.service.AddBoard(r.Context(), userID, store.Board{ID: body.ID, SpaceID: body.SpaceID, Body: body.Body})
			s.writeItemResult(w, http.StatusCreated, map[string]any{"board": boardJSON(board)}, syncIDs, err)
			return
		}
		note, syncIDs, err := s.service.AddNote(r.Context(), userID, store.Note{ID: body.ID, SpaceID: body.SpaceID, BoardID: body.BoardID, Body: body.Body})
		s.writeItemResult(w, http.StatusCreated, map[string]any{"note": noteJSON(note)}, syncIDs, err)

	case len(rest) == 1 && r.Method == http.MethodPut:
		var body itemBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if kind == "board" {
			board, syncIDs, err := s.service.EditBoard(r.Context(), userID, store.Board{ID: rest[0], SpaceID: body.SpaceID, Body: body.Body})
			s.writeItemResult(w, http.StatusOK, map[string]any{"board": boardJSON(board)}, syncIDs, err)
			return
		}
		note, syncIDs, err := s.service.EditNote(r.Context(), userID, store.Note{ID: rest[0], SpaceID: body.SpaceID, BoardID: body.BoardID, Body: body.Body})
		s.writeItemResult(w, http.StatusOK, map[string]any{"note": noteJSON(note)}, syncIDs, err)

	case len(rest) == 1 && r.Method == http.MethodDelete:
		var syncIDs []string
		var err error
		if kind == "board" {
			syncIDs, err = s.service.DeleteBoard(r.Context(), userID, rest[0])
		} else {
			syncIDs, err = s.service.DeleteNote(r.Context(), userID, rest[0])
		}
		s.writeItemResult(w, http.StatusOK, map[string]any{}, syncIDs, err)

	case len(rest) == 2 && rest[1] == "space" && r.Method == http.MethodPut:
		var body struct {
			SpaceID string            `json:"space_id"`
			Body    []byte            `json:"body"`
			Notes   map[string][]byte `json:"notes"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if kind == "board" {
			board, syncIDs, err := s.service.MoveBoard(r.Context(), userID, rest[0], body.SpaceID, body.Body, body.Notes)
			s.writeItemResult(w, http.StatusOK, map[string]any{"board": boardJSON(board)}, syncIDs, err)
			return
		}
		note, syncIDs, err := s.service.MoveNote(r.Context(), userID, rest[0], body.SpaceID, body.Body)
		s.writeItemResult(w, http.StatusOK, map[string]any{"note": noteJSON(note)}, syncIDs, err)

	case len(rest) == 2 && rest[1] == "file" && kind == "note" && r.Method == http.MethodPut:
		note, syncIDs, err := s.service.UploadNoteAttachment(r.Context(), userID, rest[0], r.Body, r.ContentLength)
		s.writeItemResult(w, http.StatusOK, map[string]any{"note": noteJSON(note)}, syncIDs, err)

	case len(rest) == 2 && rest[1] == "file" && kind == "note" && r.Method == http.MethodGet:
		body, note, err := s.service.OpenNoteAttachment(r.Context(), userID, rest[0])
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		defer body.Close()
		w.Header().Set("Content-Type", "application/octet-stream")
		if note.FileSize > 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(note.FileSize, 10))
		}
		_, _ = io.Copy(w, body)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such route", nil)
	}
}

func (s *HTTPServer) writeItemResult(w http.ResponseWriter, status int, payload map[string]any, syncIDs []string, err error) {
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	payload["sync_ids"] = syncIDs
	writeJSON(w, status, payload)
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	var de *DomainError
	if errors.As(err, &de) {
		writeError(w, de.Status, de.Code, de.Message, de.Details)
		return
	}
	writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, map[string]any{
		"error":   code,
		"message": message,
		"details": details,
	})
}

func spaceJSON(space store.Space) map[string]any {
	return map[string]any{
		"id":         space.ID,
		"user_id":    space.UserID,
		"body":       space.Body,
		"created_at": space.CreatedAt,
		"updated_at": space.UpdatedAt,
	}
}

func memberJSON(m store.SpaceMember) map[string]any {
	return map[string]any{
		"id":       m.ID,
		"space_id": m.SpaceID,
		"user_id":  m.UserID,
		"role":     m.Role,
	}
}

func membersJSON(members []store.SpaceMember) []map[string]any {
	out := make([]map[string]any, len(members))
	for i, m := range members {
		out[i] = memberJSON(m)
	}
	return out
}

func inviteJSON(inv store.Invite) map[string]any {
	return map[string]any{
		"id":        inv.ID,
		"space_id":  inv.SpaceID,
		"from_user": inv.FromUserID,
		"to_email":  inv.ToEmail,
		"role":      inv.Role,
		"protected": inv.PassphraseHash != "",
	}
}

func boardJSON(b store.Board) map[string]any {
	return map[string]any{
		"id":       b.ID,
		"user_id":  b.UserID,
		"space_id": b.SpaceID,
		"body":     b.Body,
	}
}

func noteJSON(n store.Note) map[string]any {
	return map[string]any{
		"id":        n.ID,
		"user_id":   n.UserID,
		"space_id":  n.SpaceID,
		"board_id":  n.BoardID,
		"body":      n.Body,
		"file_id":   n.FileID,
		"file_size": n.FileSize,
	}
}

func dataTreeJSON(tree DataTree) map[string]any {
	boards := make([]map[string]any, len(tree.Boards))
	for i, b := range tree.Boards {
		boards[i] = boardJSON(b)
	}
	notes := make([]map[string]any, len(tree.Notes))
	for i, n := range tree.Notes {
		notes[i] = noteJSON(n)
	}
	return map[string]any{
		"space":  spaceJSON(tree.Space),
		"boards": boards,
		"notes":  notes,
	}
}

func spaceDetailJSON(detail SpaceDetail) map[string]any {
	invites := make([]map[string]any, len(detail.Invites))
	for i, inv := range detail.Invites {
		invites[i] = inviteJSON(inv)
	}
	return map[string]any{
		"space":    spaceJSON(detail.Space),
		"members":  membersJSON(detail.Members),
		"invites":  invites,
		"sync_ids": detail.SyncIDs,
	}
}

func syncRecordsJSON(records []store.SyncRecord) []map[string]any {
	out := make([]map[string]any, len(records))
	for i, rec := range records {
		out[i] = map[string]any{
			"id":         rec.ID,
			"actor_id":   rec.ActorID,
			"type":       rec.Type,
			"item_id":    rec.ItemID,
			"action":     rec.Action,
			"created_at": rec.CreatedAt,
		}
	}
	return out
}
