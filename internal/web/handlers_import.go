package web

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/catalogimport/internal/core"
	"github.com/JonMunkholm/catalogimport/internal/logging"
)

const (
	// multipartOverhead is allowed on top of the upload limit for form
	// fields and boundaries.
	multipartOverhead = 1 << 20

	// truncateSlack is read past the staging ceiling so Parse sees the row
	// that crosses it and marks the session truncated.
	truncateSlack = 4 << 10

	maxFieldSize = 4 << 10
)

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"fields": s.service.Schema()})
}

// handleStage accepts a multipart upload with a "file" part and an optional
// "vendor" field naming the owner scope. Files larger than the staging
// ceiling are staged up to the ceiling and reported as truncated; only a
// body over the upload limit is rejected.
func (s *Server) handleStage(w http.ResponseWriter, r *http.Request) {
	stageLimit := s.cfg.Import.MaxFileSize + truncateSlack
	uploadLimit := max(s.cfg.Import.MaxUploadSize, stageLimit)
	r.Body = http.MaxBytesReader(w, r.Body, uploadLimit+multipartOverhead)

	form, data, err := readStageForm(r, stageLimit)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, r, badRequest(fmt.Sprintf("upload exceeds the %s limit", humanize.Bytes(uint64(uploadLimit)))))
			return
		}
		s.respondError(w, r, err)
		return
	}
	if err := validateStruct(&form); err != nil {
		s.respondError(w, r, err)
		return
	}

	res, err := s.service.Stage(r.Context(), core.StageRequest{
		Data:     data,
		FileName: form.FileName,
		Scope:    form.Vendor,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/imports/"+res.ImportID)
	writeJSON(w, http.StatusCreated, res)
}

// readStageForm streams the multipart body. At most limit bytes of the file
// part are kept; the rest of the body is read and discarded.
func readStageForm(r *http.Request, limit int64) (stageForm, []byte, error) {
	var form stageForm
	mr, err := r.MultipartReader()
	if err != nil {
		return form, nil, badRequest("invalid multipart form")
	}

	var data []byte
	found := false
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return form, nil, multipartError(err)
		}

		switch {
		case part.FormName() == "file" && !found:
			form.FileName = part.FileName()
			if data, err = io.ReadAll(io.LimitReader(part, limit)); err != nil {
				return form, nil, multipartError(err)
			}
			found = true
		case part.FormName() == "vendor":
			b, err := io.ReadAll(io.LimitReader(part, maxFieldSize))
			if err != nil {
				return form, nil, multipartError(err)
			}
			form.Vendor = string(b)
		}
	}

	if !found {
		return form, nil, badRequest("no file provided")
	}
	return form, data, nil
}

func multipartError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return badRequest("invalid multipart form")
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.service.Summary(r.Context(), chi.URLParam(r, "importID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Discard(r.Context(), chi.URLParam(r, "importID")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemap(w http.ResponseWriter, r *http.Request) {
	var req remapRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	res, err := s.service.Remap(r.Context(), chi.URLParam(r, "importID"), core.Mapping(req.Mapping))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListRows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := intParam(q.Get("page"))
	if err != nil {
		s.respondError(w, r, badRequest("page must be a number"))
		return
	}
	pageSize, err := intParam(q.Get("page_size"))
	if err != nil {
		s.respondError(w, r, badRequest("page_size must be a number"))
		return
	}

	query := listRowsQuery{Page: page, PageSize: pageSize, Filter: q.Get("filter")}
	if err := validateStruct(&query); err != nil {
		s.respondError(w, r, err)
		return
	}
	filter, err := core.ParseRowFilter(query.Filter)
	if err != nil {
		s.respondError(w, r, badRequest(err.Error()))
		return
	}

	result, err := s.service.ListRows(r.Context(), chi.URLParam(r, "importID"), query.Page, query.PageSize, filter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEditRow(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "rowIndex"))
	if err != nil || index < 1 {
		s.respondError(w, r, badRequest("row index must be a positive number"))
		return
	}

	var req editRowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	res, err := s.service.EditRow(r.Context(), chi.URLParam(r, "importID"), index, req.Values)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	mode, err := core.ParseCommitMode(req.Mode)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	strategy, err := core.ParseMatchStrategy(req.Strategy)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	importID := chi.URLParam(r, "importID")
	report, err := s.service.Commit(r.Context(), importID, core.CommitOptions{
		Mode:     mode,
		Strategy: strategy,
		Defaults: req.Defaults,
		Scope:    req.Vendor,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("import committed via api",
		"import_id", importID,
		"client_ip", core.ClientIPFromContext(r.Context()),
		"failed", report.Failed,
	)
	writeJSON(w, http.StatusOK, report)
}

// handleExportErrors streams the invalid rows as CSV. The row count is
// returned in X-Error-Rows.
func (s *Server) handleExportErrors(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	var buf bytes.Buffer
	n, err := s.service.ExportErrors(r.Context(), importID, &buf)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-errors.csv"`, importID))
	w.Header().Set("X-Error-Rows", strconv.Itoa(n))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// intParam parses an optional integer query parameter. Empty means 0.
func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
