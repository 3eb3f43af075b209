package routes

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/formsly/formsly/app"
	"github.com/formsly/formsly/dashboard"
	"github.com/formsly/formsly/httpx"
	"github.com/formsly/formsly/log"
	"github.com/formsly/formsly/model"
	"github.com/formsly/formsly/section"
)

func FieldTally(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fieldId, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		rows, err := app.QueryContext(r.Context(), `
			SELECT rr.field_id, rr.value, rr.team_member_id
			FROM request_response rr
			WHERE rr.field_id = ?
			ORDER BY rr.id`,
			fieldId,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.get_field_responses", err)
			return
		}
		defer rows.Close()

		var responses []model.FieldResponse
		for rows.Next() {
			resp := model.FieldResponse{}
			err = rows.Scan(&resp.FieldID, &resp.Value, &resp.TeamMemberID)
			if err != nil {
				httpx.LogInternalError(w, "db.get_field_responses.scan", err)
				return
			}
			responses = append(responses, resp)
		}

		render.JSON(w, r, map[string]any{
			"tally": dashboard.UniqueResponseTally(responses),
		})
	}
}

func SearchResponses(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keyword := r.URL.Query().Get("q")
		if keyword == "" {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_query_param.q")
			return
		}

		rows, err := app.QueryContext(r.Context(), `
			SELECT f.id, f.name, f.type, rr.value, rr.team_member_id
			FROM request_response rr
			INNER JOIN form_field f ON (f.id = rr.field_id)
			WHERE rr.value LIKE ?
			ORDER BY rr.id`,
			"%"+keyword+"%",
		)
		if err != nil {
			httpx.LogInternalError(w, "db.search_responses", err)
			return
		}
		defer rows.Close()

		var results []dashboard.SearchResult
		for rows.Next() {
			res := dashboard.SearchResult{}
			err = rows.Scan(&res.FieldID, &res.FieldName, &res.FieldType,
				&res.Response.Value, &res.Response.TeamMemberID)
			if err != nil {
				httpx.LogInternalError(w, "db.search_responses.scan", err)
				return
			}
			res.Response.FieldID = res.FieldID
			results = append(results, res)
		}

		render.JSON(w, r, map[string]any{
			"groups": dashboard.GroupSearchResults(results),
		})
	}
}

// purchaseRows pairs each quantity response with the item-name
// response of the same duplicated row (null-safe join on the
// duplication key).
const purchaseRowsQuery = `
	SELECT r.date_created, ri.value, rq.field_id, rq.value, rq.team_member_id
	FROM request r
	INNER JOIN request_response ri
		ON (ri.request_id = r.id AND ri.field_id = ?)
	INNER JOIN request_response rq
		ON (rq.request_id = r.id AND rq.field_id = ?
			AND rq.duplicatable_section_id IS ri.duplicatable_section_id)
	WHERE r.form_id = ?
	ORDER BY r.date_created, rq.id`

type purchaseRow struct {
	date     time.Time
	item     string
	response model.FieldResponse
}

func queryPurchaseRows(app app.App, r *http.Request, formId int) ([]purchaseRow, string, error) {
	itemField, err := strconv.Atoi(r.URL.Query().Get("item_field"))
	if err != nil {
		return nil, "request.get_query_param.item_field", nil
	}
	qtyField, err := strconv.Atoi(r.URL.Query().Get("quantity_field"))
	if err != nil {
		return nil, "request.get_query_param.quantity_field", nil
	}

	rows, err := app.QueryContext(r.Context(), purchaseRowsQuery, itemField, qtyField, formId)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var purchases []purchaseRow
	for rows.Next() {
		row := purchaseRow{}
		var rawItem string
		err = rows.Scan(&row.date, &rawItem, &row.response.FieldID, &row.response.Value, &row.response.TeamMemberID)
		if err != nil {
			return nil, "", err
		}

		item, err := model.DecodeValue(itemField, model.FieldText, rawItem)
		if err != nil {
			log.Warnf("dashboard.purchase_rows: %s", err)
			continue
		}
		row.item = item.Text
		purchases = append(purchases, row)
	}
	return purchases, "", rows.Err()
}

func PurchaseTrend(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formId, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		rows, badParam, err := queryPurchaseRows(app, r, formId)
		if err != nil {
			httpx.LogInternalError(w, "db.purchase_trend", err)
			return
		}
		if badParam != "" {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, badParam)
			return
		}

		purchases := make([]dashboard.MonthlyPurchase, len(rows))
		for i, row := range rows {
			purchases[i] = dashboard.MonthlyPurchase{
				Date:     row.date,
				Item:     row.item,
				Response: row.response,
			}
		}

		render.JSON(w, r, map[string]any{
			"trend": dashboard.MonthlyTrend(purchases),
		})
	}
}

func PurchaseTotalsByItem(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formId, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		rows, badParam, err := queryPurchaseRows(app, r, formId)
		if err != nil {
			httpx.LogInternalError(w, "db.purchase_totals", err)
			return
		}
		if badParam != "" {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, badParam)
			return
		}

		var order []string
		byItem := map[string][]model.FieldResponse{}
		for _, row := range rows {
			if _, found := byItem[row.item]; !found {
				order = append(order, row.item)
			}
			byItem[row.item] = append(byItem[row.item], row.response)
		}

		entries := make([]dashboard.PurchaseEntry, len(order))
		for i, item := range order {
			entries[i] = dashboard.PurchaseEntry{Label: item, Responses: byItem[item]}
		}

		render.JSON(w, r, map[string]any{
			"totals": dashboard.PurchaseTotals(entries, r.URL.Query().Get("team_member")),
		})
	}
}

func RequestItemGroups(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestId := chi.URLParam(r, "id")

		keyField := r.URL.Query().Get("key_field")
		if keyField == "" {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_query_param.key_field")
			return
		}
		stripQuantity := r.URL.Query().Get("strip_quantity") == "true"

		var formId int
		err := app.QueryRowContext(r.Context(), `
			SELECT r.form_id
			FROM request r
			WHERE r.id = ?`,
			requestId,
		).Scan(&formId)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.LogNotFound(w, "get_item_groups", requestId)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.get_item_groups", err)
			return
		}

		sections, err := loadFormSections(r, app, formId)
		if err != nil {
			httpx.LogInternalError(w, "db.get_item_groups.sections", err)
			return
		}
		err = attachResponses(r, app, requestId, sections)
		if err != nil {
			httpx.LogInternalError(w, "db.get_item_groups.responses", err)
			return
		}

		instances := section.Reconstruct(sections)
		if identity := r.URL.Query().Get("identity"); identity != "" {
			instances = section.MergeDuplicates(instances, strings.Split(identity, ","))
		}

		render.JSON(w, r, map[string]any{
			"groups": dashboard.GroupByKeyField(instances, keyField, stripQuantity),
		})
	}
}
