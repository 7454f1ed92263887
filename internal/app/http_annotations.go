package app

import (
	"net/http"
	"strconv"

	"pingin/api/internal/annotation"
)

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil && id > 0
}

func createdStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}

// handleDocumentAnnotations serves GET and POST on
// /api/documents/{id}/{comments|strikethroughs|insertions}.
func (s *HTTPServer) handleDocumentAnnotations(w http.ResponseWriter, r *http.Request, sess Session, documentID, kind string) {
	switch r.Method {
	case http.MethodGet:
		var (
			items any
			err   error
		)
		switch kind {
		case "comments":
			items, err = s.service.ListComments(r.Context(), sess, documentID)
		case "strikethroughs":
			items, err = s.service.ListStrikethroughs(r.Context(), sess, documentID)
		default:
			items, err = s.service.ListInsertions(r.Context(), sess, documentID)
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{kind: items})

	case http.MethodPost:
		var body struct {
			AnchorStart int    `json:"anchor_start"`
			AnchorEnd   int    `json:"anchor_end"`
			Position    int    `json:"position"`
			Body        string `json:"body"`
			Text        string `json:"text"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}

		var (
			record  any
			created bool
			err     error
		)
		switch kind {
		case "comments":
			record, created, err = s.service.CreateComment(r.Context(), sess, documentID, body.AnchorStart, body.AnchorEnd, body.Body)
		case "strikethroughs":
			record, created, err = s.service.CreateStrikethrough(r.Context(), sess, documentID, body.AnchorStart, body.AnchorEnd, body.Text)
		default:
			record, created, err = s.service.CreateInsertion(r.Context(), sess, documentID, body.Position, body.Text)
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, createdStatus(created), record)

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

// handleAnnotation serves routes addressed by annotation id:
// /api/comments/{id}[/resolve], /api/strikethroughs/{id}/{accept|reject} and
// /api/insertions/{id}/{accept|reject}.
func (s *HTTPServer) handleAnnotation(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	if len(parts) < 3 || len(parts) > 4 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	id, ok := parseID(parts[2])
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Annotation id must be a positive integer", nil)
		return
	}
	kind := parts[1]
	action := ""
	if len(parts) == 4 {
		action = parts[3]
	}

	switch {
	case kind == "comments" && action == "" && r.Method == http.MethodPatch:
		var body struct {
			Body string `json:"body"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		c, err := s.service.UpdateComment(r.Context(), sess, id, body.Body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)

	case kind == "comments" && action == "resolve" && r.Method == http.MethodPost:
		if err := s.service.ResolveComment(r.Context(), sess, id); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "resolved": true})

	case kind != "comments" && action == "accept" && r.Method == http.MethodPost:
		var (
			doc annotation.DocumentRecord
			err error
		)
		if kind == "strikethroughs" {
			doc, err = s.service.AcceptStrikethrough(r.Context(), sess, id)
		} else {
			doc, err = s.service.AcceptInsertion(r.Context(), sess, id)
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": annotation.StatusAccepted, "document": doc})

	case kind != "comments" && action == "reject" && r.Method == http.MethodPost:
		var err error
		if kind == "strikethroughs" {
			err = s.service.RejectStrikethrough(r.Context(), sess, id)
		} else {
			err = s.service.RejectInsertion(r.Context(), sess, id)
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": annotation.StatusRejected})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}
