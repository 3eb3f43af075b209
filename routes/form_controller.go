package routes

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/formsly/formsly/app"
	"github.com/formsly/formsly/httpx"
	"github.com/formsly/formsly/log"
	"github.com/formsly/formsly/model"
)

func CreateForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form := model.Form{}
		err := render.DecodeJSON(r.Body, &form)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		if form.Name == "" {
			httpx.FieldErrors(w, r, "create_form.validate", map[string]string{"name": "required"})
			return
		}
		for _, s := range form.Sections {
			for _, f := range s.Fields {
				if !f.Type.Valid() {
					httpx.FieldErrors(w, r, "create_form.validate", map[string]string{f.Name: "unknown field type"})
					return
				}
			}
		}

		tx, err := app.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.LogInternalError(w, "db.begin_tx", err)
			return
		}
		defer tx.Rollback()

		var formId int
		err = tx.QueryRowContext(r.Context(), `
			INSERT INTO form (name, description, team_id) VALUES (?, ?, ?)
			RETURNING id`,
			form.Name,
			form.Description,
			form.TeamID,
		).Scan(&formId)
		if err != nil {
			httpx.LogInternalError(w, "db.insert_form", err)
			return
		}

		err = insertSections(r, tx, formId, form.Sections)
		if err != nil {
			httpx.LogInternalError(w, "db.insert_form.sections", err)
			return
		}

		err = tx.Commit()
		if err != nil {
			httpx.LogInternalError(w, "db.insert_form.commit", err)
			return
		}

		w.WriteHeader(http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"id": formId,
		})
	}
}

func insertSections(r *http.Request, tx *sql.Tx, formId int, sections []model.Section) error {
	sectionStmt, err := tx.PrepareContext(r.Context(), `
		INSERT INTO form_section (form_id, name, ord, is_duplicatable)
		VALUES (?, ?, ?, ?)
		RETURNING id`)
	if err != nil {
		return err
	}
	defer sectionStmt.Close()

	fieldStmt, err := tx.PrepareContext(r.Context(), `
		INSERT INTO form_field (section_id, name, type, required, read_only, ord)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`)
	if err != nil {
		return err
	}
	defer fieldStmt.Close()

	optionStmt, err := tx.PrepareContext(r.Context(), `
		INSERT INTO field_option (field_id, value, ord)
		VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer optionStmt.Close()

	for i, s := range sections {
		var sectionId int
		err := sectionStmt.QueryRowContext(r.Context(), formId, s.Name, i, s.IsDuplicatable).
			Scan(&sectionId)
		if err != nil {
			return err
		}

		for j, f := range s.Fields {
			var fieldId int
			err := fieldStmt.QueryRowContext(r.Context(), sectionId, f.Name, f.Type, f.Required, f.ReadOnly, j).
				Scan(&fieldId)
			if err != nil {
				return err
			}

			for k, o := range f.Options {
				_, err := optionStmt.ExecContext(r.Context(), fieldId, o.Value, k)
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func ListForms(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := app.QueryContext(r.Context(), `
			SELECT f.id, f.version, f.name, f.description, f.team_id
			FROM form f`)
		if err != nil {
			httpx.LogInternalError(w, "db.get_forms", err)
			return
		}
		defer rows.Close()

		forms := []model.Form{}
		for rows.Next() {
			f := model.Form{}
			err = rows.Scan(&f.ID, &f.Version, &f.Name, &f.Description, &f.TeamID)
			if err != nil {
				httpx.LogInternalError(w, "db.get_forms.scan", err)
				return
			}

			forms = append(forms, f)
		}

		render.JSON(w, r, map[string]any{
			"forms": forms,
		})
	}
}

func GetFormById(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formId, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		form := model.Form{}
		err = app.QueryRowContext(r.Context(), `
			SELECT f.id, f.version, f.name, f.description, f.team_id
			FROM form f
			WHERE f.id = ?`,
			formId,
		).Scan(&form.ID, &form.Version, &form.Name, &form.Description, &form.TeamID)
		if err != nil {
			httpx.LogNotFound(w, "get_form", formId)
			return
		}

		form.Sections, err = loadFormSections(r, app, formId)
		if err != nil {
			httpx.LogInternalError(w, "db.get_form.sections", err)
			return
		}

		render.JSON(w, r, form)
	}
}

func loadFormSections(r *http.Request, app app.App, formId int) ([]model.Section, error) {
	rows, err := app.QueryContext(r.Context(), `
		SELECT s.id, s.name, s.ord, s.is_duplicatable
		FROM form_section s
		WHERE s.form_id = ?
		ORDER BY s.ord`,
		formId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sections []model.Section
	sectionIdx := map[int]int{}
	for rows.Next() {
		s := model.Section{}
		err = rows.Scan(&s.ID, &s.Name, &s.Order, &s.IsDuplicatable)
		if err != nil {
			return nil, err
		}
		sectionIdx[s.ID] = len(sections)
		sections = append(sections, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	fieldRows, err := app.QueryContext(r.Context(), `
		SELECT f.id, f.section_id, f.name, f.type, f.required, f.read_only, f.ord
		FROM form_field f
		INNER JOIN form_section s ON (s.id = f.section_id)
		WHERE s.form_id = ?
		ORDER BY s.ord, f.ord`,
		formId,
	)
	if err != nil {
		return nil, err
	}
	defer fieldRows.Close()

	fieldIdx := map[int][2]int{}
	for fieldRows.Next() {
		f := model.Field{}
		var sectionId int
		err = fieldRows.Scan(&f.ID, &sectionId, &f.Name, &f.Type, &f.Required, &f.ReadOnly, &f.Order)
		if err != nil {
			return nil, err
		}
		si := sectionIdx[sectionId]
		fieldIdx[f.ID] = [2]int{si, len(sections[si].Fields)}
		sections[si].Fields = append(sections[si].Fields, f)
	}
	if err := fieldRows.Err(); err != nil {
		return nil, err
	}

	optionRows, err := app.QueryContext(r.Context(), `
		SELECT o.id, o.field_id, o.value, o.ord
		FROM field_option o
		INNER JOIN form_field f ON (f.id = o.field_id)
		INNER JOIN form_section s ON (s.id = f.section_id)
		WHERE s.form_id = ?
		ORDER BY o.field_id, o.ord`,
		formId,
	)
	if err != nil {
		return nil, err
	}
	defer optionRows.Close()

	for optionRows.Next() {
		o := model.Option{}
		err = optionRows.Scan(&o.ID, &o.FieldID, &o.Value, &o.Order)
		if err != nil {
			return nil, err
		}
		idx, ok := fieldIdx[o.FieldID]
		if !ok {
			continue
		}
		field := &sections[idx[0]].Fields[idx[1]]
		field.Options = append(field.Options, o)
	}
	return sections, optionRows.Err()
}

func UpdateForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formId, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		form := model.Form{}
		err = render.DecodeJSON(r.Body, &form)
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

		// drop and recreate the whole template tree
		_, err = tx.ExecContext(r.Context(), `
			DELETE FROM form_section
			WHERE form_id = ?`,
			formId,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.update_form.delete_sections", err)
			return
		}

		err = insertSections(r, tx, formId, form.Sections)
		if err != nil {
			httpx.LogInternalError(w, "db.update_form.sections", err)
			return
		}

		res, err := tx.ExecContext(r.Context(), `
			UPDATE form
			SET
				name = ?,
				description = ?,
				version = version+1
			WHERE	id = ?
				AND version = ?`,
			form.Name,
			form.Description,
			formId,
			form.Version,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.update_form", err)
			return
		}
		// optimistic lock
		n, err := res.RowsAffected()
		if err != nil {
			httpx.LogInternalError(w, "db.update_form.verify", err)
			return
		}
		if n < 1 {
			httpx.LogStatus(w, http.StatusConflict, log.DebugLevel, "db.update_form.verify.conflict")
			return
		}

		err = tx.Commit()
		if err != nil {
			httpx.LogInternalError(w, "db.update_form.commit", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func DeleteForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formId, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		res, err := app.ExecContext(r.Context(), `
			DELETE FROM form WHERE id = ?`,
			formId,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.delete_form", err)
			return
		}
		n, err := res.RowsAffected()
		if err != nil {
			httpx.LogInternalError(w, "db.delete_form.verify", err)
			return
		}
		if n < 1 {
			httpx.LogNotFound(w, "delete_form", formId)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
