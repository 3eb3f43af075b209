package routes

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/formsly/formsly/app"
	"github.com/formsly/formsly/assemble"
	"github.com/formsly/formsly/httpx"
	"github.com/formsly/formsly/log"
	"github.com/formsly/formsly/model"
	"github.com/formsly/formsly/section"
)

type submitRequest struct {
	TeamID        string          `json:"team_id"`
	TeamMemberID  string          `json:"team_member_id"`
	RequesterName string          `json:"requester_name"`
	Sections      []submitSection `json:"sections"`
	Signers       []submitSigner  `json:"signers"`
}

type submitSection struct {
	SectionID      int           `json:"section_id"`
	DuplicatableID *string       `json:"duplicatable_id"`
	Fields         []submitField `json:"fields"`
}

type submitField struct {
	FieldID int             `json:"field_id"`
	Value   json.RawMessage `json:"value"`
}

type submitSigner struct {
	SignerID     string `json:"signer_id"`
	TeamMemberID string `json:"team_member_id"`
	IsPrimary    bool   `json:"is_primary"`
}

// CreateRequest accepts a multipart submission: a "request" part with
// the filled-in section tree, plus one file part per FILE response
// named "file_" + the field's upload key. Assembly and the three-way
// insert happen in one pass; any upload or insert failure fails the
// whole submission.
func CreateRequest(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formId, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		err = r.ParseMultipartForm(app.MaxUploadSize)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_multipart")
			return
		}

		submit := submitRequest{}
		err = json.Unmarshal([]byte(r.FormValue("request")), &submit)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		var formName string
		err = app.QueryRowContext(r.Context(),
			`SELECT name FROM form WHERE id = ?`, formId,
		).Scan(&formName)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.LogNotFound(w, "create_request.get_form", formId)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.get_form", err)
			return
		}

		template, err := loadFormSections(r, app, formId)
		if err != nil {
			httpx.LogInternalError(w, "db.get_form.sections", err)
			return
		}

		inputs, fieldErrs, err := buildSectionInputs(app, r, template, submit.Sections)
		if err != nil {
			httpx.LogInternalError(w, "create_request.inputs", err)
			return
		}
		if fieldErrs == nil {
			fieldErrs = assemble.ValidateRequired(inputs)
		}
		if fieldErrs != nil {
			httpx.FieldErrors(w, r, "create_request.validate", fieldErrs)
			return
		}

		signers := make([]assemble.SignerInput, len(submit.Signers))
		for i, s := range submit.Signers {
			signers[i] = assemble.SignerInput{
				SignerID:     s.SignerID,
				TeamMemberID: s.TeamMemberID,
				IsPrimary:    s.IsPrimary,
			}
		}

		payload, err := assemble.Build(r.Context(), assemble.Session{
			TeamID:        submit.TeamID,
			TeamMemberID:  submit.TeamMemberID,
			RequesterName: submit.RequesterName,
			FormID:        formId,
			FormName:      formName,
		}, inputs, signers, app.Files)
		if err != nil {
			httpx.LogInternalError(w, "create_request.assemble", err)
			return
		}

		err = insertRequest(r, app, formId, submit.TeamMemberID, payload)
		if err != nil {
			httpx.LogInternalError(w, "db.insert_request", err)
			return
		}

		w.WriteHeader(http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"id": payload.RequestID,
		})
	}
}

// buildSectionInputs resolves each submitted section instance against
// the form template. Every template field of the instance becomes an
// input, answered or not, so SWITCH fields record their implicit
// false. Per-field problems come back as a field error map, not an
// error.
func buildSectionInputs(app app.App, r *http.Request, template []model.Section, submitted []submitSection) ([]assemble.SectionInput, map[string]string, error) {
	sectionById := map[int]model.Section{}
	for _, s := range template {
		sectionById[s.ID] = s
	}

	var inputs []assemble.SectionInput
	for _, sub := range submitted {
		tmpl, ok := sectionById[sub.SectionID]
		if !ok {
			return nil, map[string]string{"sections": "unknown section " + strconv.Itoa(sub.SectionID)}, nil
		}
		if sub.DuplicatableID != nil && !tmpl.IsDuplicatable {
			return nil, map[string]string{tmpl.Name: "section is not duplicatable"}, nil
		}

		answers := map[int]json.RawMessage{}
		known := map[int]bool{}
		for _, f := range tmpl.Fields {
			known[f.ID] = true
		}
		for _, sf := range sub.Fields {
			if !known[sf.FieldID] {
				return nil, map[string]string{"fields": "field " + strconv.Itoa(sf.FieldID) + " does not belong to section " + tmpl.Name}, nil
			}
			answers[sf.FieldID] = sf.Value
		}

		in := assemble.SectionInput{
			SectionID:      sub.SectionID,
			DuplicatableID: sub.DuplicatableID,
		}
		for _, field := range tmpl.Fields {
			fi := assemble.FieldInput{Field: field}
			if field.Type == model.FieldFile {
				file, fieldErr, err := readUpload(app, r, field, sub.DuplicatableID)
				if err != nil {
					return nil, nil, err
				}
				if fieldErr != "" {
					return nil, map[string]string{field.Name: fieldErr}, nil
				}
				fi.File = file
			} else if raw := answers[field.ID]; len(raw) > 0 && string(raw) != "null" {
				v, err := model.DecodeValue(field.ID, field.Type, string(raw))
				if err != nil {
					log.Debugf("create_request.decode_value: %s", err)
					return nil, map[string]string{field.Name: "malformed value"}, nil
				}
				fi.Value = &v
			}
			in.Fields = append(in.Fields, fi)
		}
		inputs = append(inputs, in)
	}
	return inputs, nil, nil
}

func readUpload(app app.App, r *http.Request, field model.Field, duplicatableID *string) (*assemble.File, string, error) {
	headers := r.MultipartForm.File["file_"+assemble.UploadKey(field.ID, duplicatableID)]
	if len(headers) == 0 {
		return nil, "", nil
	}
	fh := headers[0]
	if fh.Size > app.MaxUploadSize {
		return nil, "file exceeds size limit", nil
	}

	f, err := fh.Open()
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, "", err
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &assemble.File{
		Name:        fh.Filename,
		ContentType: contentType,
		Content:     content,
	}, "", nil
}

// insertRequest writes the request row and the three assembled row
// sets in a single transaction, the server-side counterpart of the
// one-shot creation procedure the client hands its payload to.
func insertRequest(r *http.Request, app app.App, formId int, teamMemberId string, p assemble.Payload) error {
	tx, err := app.BeginTx(r.Context(), nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(r.Context(), `
		INSERT INTO request (id, form_id, team_member_id, status, date_created)
		VALUES (?, ?, ?, ?, ?)`,
		p.RequestID,
		formId,
		teamMemberId,
		model.StatusPending,
		time.Now(),
	)
	if err != nil {
		return err
	}

	responseStmt, err := tx.PrepareContext(r.Context(), `
		INSERT INTO request_response (request_id, field_id, value, duplicatable_section_id, team_member_id)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer responseStmt.Close()

	for _, resp := range p.Responses {
		_, err := responseStmt.ExecContext(r.Context(),
			resp.RequestID, resp.FieldID, resp.Value, resp.DuplicatableSectionID, resp.TeamMemberID)
		if err != nil {
			return err
		}
	}

	signerStmt, err := tx.PrepareContext(r.Context(), `
		INSERT INTO request_signer (id, request_id, signer_id, team_member_id, is_primary, status)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer signerStmt.Close()

	for _, s := range p.Signers {
		_, err := signerStmt.ExecContext(r.Context(),
			s.ID, s.RequestID, s.SignerID, s.TeamMemberID, s.IsPrimary, s.Status)
		if err != nil {
			return err
		}
	}

	notificationStmt, err := tx.PrepareContext(r.Context(), `
		INSERT INTO notification (recipient_id, type, content, redirect_url, date_created)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer notificationStmt.Close()

	for _, n := range p.Notifications {
		_, err := notificationStmt.ExecContext(r.Context(),
			n.RecipientID, n.Type, n.Content, n.RedirectURL, time.Now())
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetRequestById returns a request with its duplicated sections
// regrouped into per-instance views.
func GetRequestById(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestId := chi.URLParam(r, "id")

		req := model.Request{}
		err := app.QueryRowContext(r.Context(), `
			SELECT r.id, r.form_id, f.name, r.team_member_id, r.status, r.date_created
			FROM request r
			INNER JOIN form f ON (f.id = r.form_id)
			WHERE r.id = ?`,
			requestId,
		).Scan(&req.ID, &req.FormID, &req.FormName, &req.TeamMemberID, &req.Status, &req.DateCreated)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.LogNotFound(w, "get_request", requestId)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.get_request", err)
			return
		}

		sections, err := loadFormSections(r, app, req.FormID)
		if err != nil {
			httpx.LogInternalError(w, "db.get_request.sections", err)
			return
		}

		err = attachResponses(r, app, requestId, sections)
		if err != nil {
			httpx.LogInternalError(w, "db.get_request.responses", err)
			return
		}

		req.Sections = section.Reconstruct(sections)
		render.JSON(w, r, req)
	}
}

func attachResponses(r *http.Request, app app.App, requestId string, sections []model.Section) error {
	rows, err := app.QueryContext(r.Context(), `
		SELECT rr.id, rr.field_id, rr.value, rr.duplicatable_section_id, rr.team_member_id
		FROM request_response rr
		WHERE rr.request_id = ?
		ORDER BY rr.id`,
		requestId,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	byField := map[int][]model.FieldResponse{}
	for rows.Next() {
		resp := model.FieldResponse{RequestID: requestId}
		err = rows.Scan(&resp.ID, &resp.FieldID, &resp.Value, &resp.DuplicatableSectionID, &resp.TeamMemberID)
		if err != nil {
			return err
		}
		byField[resp.FieldID] = append(byField[resp.FieldID], resp)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for si := range sections {
		for fi := range sections[si].Fields {
			f := &sections[si].Fields[fi]
			f.Responses = byField[f.ID]
		}
	}
	return nil
}

func ListFormRequests(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formId, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		query := `
			SELECT r.id, r.form_id, r.team_member_id, r.status, r.date_created
			FROM request r
			WHERE r.form_id = ?`
		args := []any{formId}
		if status := strings.ToUpper(r.URL.Query().Get("status")); status != "" {
			if !model.RequestStatus(status).Valid() {
				httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_query_param.status")
				return
			}
			query += ` AND r.status = ?`
			args = append(args, status)
		}
		query += ` ORDER BY r.date_created DESC`

		rows, err := app.QueryContext(r.Context(), query, args...)
		if err != nil {
			httpx.LogInternalError(w, "db.get_requests", err)
			return
		}
		defer rows.Close()

		requests := []model.Request{}
		for rows.Next() {
			req := model.Request{}
			err = rows.Scan(&req.ID, &req.FormID, &req.TeamMemberID, &req.Status, &req.DateCreated)
			if err != nil {
				httpx.LogInternalError(w, "db.get_requests.scan", err)
				return
			}
			requests = append(requests, req)
		}

		render.JSON(w, r, map[string]any{
			"requests": requests,
		})
	}
}

func UpdateRequestStatus(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestId := chi.URLParam(r, "id")

		body := struct {
			Status model.RequestStatus `json:"status"`
		}{}
		err := render.DecodeJSON(r.Body, &body)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		tx, err := app.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.LogInternalError(w, "db.begin_tx", err)
			return
		}
		defer tx.Rollback()

		var current model.RequestStatus
		err = tx.QueryRowContext(r.Context(),
			`SELECT status FROM request WHERE id = ?`, requestId,
		).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.LogNotFound(w, "update_request_status", requestId)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.get_request", err)
			return
		}

		if !current.CanTransition(body.Status) {
			httpx.LogStatusMsg(w, http.StatusConflict, log.DebugLevel,
				"update_request_status.transition", "cannot move request from %s to %s", current, body.Status)
			return
		}

		_, err = tx.ExecContext(r.Context(),
			`UPDATE request SET status = ? WHERE id = ?`, body.Status, requestId)
		if err != nil {
			httpx.LogInternalError(w, "db.update_request_status", err)
			return
		}

		err = tx.Commit()
		if err != nil {
			httpx.LogInternalError(w, "db.update_request_status.commit", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
