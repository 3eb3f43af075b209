package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formsly/formsly/app"
	"github.com/formsly/formsly/assemble"
	"github.com/formsly/formsly/config"
	"github.com/formsly/formsly/dashboard"
	"github.com/formsly/formsly/database"
	"github.com/formsly/formsly/model"
)

type fakeUploader struct {
	keys []string
}

func (f *fakeUploader) Upload(ctx context.Context, key string, file assemble.File) (string, error) {
	f.keys = append(f.keys, key)
	return "https://files.test/" + key, nil
}

func (f *fakeUploader) UploadImage(ctx context.Context, key string, file assemble.File) (string, error) {
	return f.Upload(ctx, key, file)
}

// newTestApp opens a throwaway migrated database and mounts the
// handlers without the auth middleware, which is not under test here.
func newTestApp(t *testing.T) (app.App, http.Handler, *fakeUploader) {
	t.Helper()
	return newTestAppWithLimit(t, 25<<20)
}

func newTestAppWithLimit(t *testing.T, maxUpload int64) (app.App, http.Handler, *fakeUploader) {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "formsly_test.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	files := &fakeUploader{}
	a := app.App{
		DB:     db,
		Config: config.Config{MaxUploadSize: maxUpload},
		Files:  files,
	}

	api := chi.NewRouter()
	api.Post("/forms", CreateForm(a))
	api.Get(`/forms/{id:^\d+$}`, GetFormById(a))
	api.Post(`/forms/{id:^\d+$}/requests`, CreateRequest(a))
	api.Get(`/forms/{id:^\d+$}/requests`, ListFormRequests(a))
	api.Get("/requests/{id}", GetRequestById(a))
	api.Patch("/requests/{id}/status", UpdateRequestStatus(a))
	api.Get("/requests/{id}/item-groups", RequestItemGroups(a))
	api.Get(`/fields/{id:^\d+$}/tally`, FieldTally(a))

	return a, api, files
}

func createTestForm(t *testing.T, h http.Handler) model.Form {
	t.Helper()

	form := model.Form{
		Name: "Order to Purchase",
		Sections: []model.Section{
			{Name: "Main", Fields: []model.Field{
				{Name: "Project Name", Type: model.FieldText, Required: true},
				{Name: "Urgent", Type: model.FieldSwitch},
				{Name: "Receipt", Type: model.FieldFile},
			}},
			{Name: "Item", IsDuplicatable: true, Fields: []model.Field{
				{Name: "General Name", Type: model.FieldText, Required: true},
				{Name: "Quantity", Type: model.FieldNumber},
			}},
		},
	}
	body, err := json.Marshal(form)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/forms", bytes.NewReader(body))
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// fetch back to learn generated ids
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/forms/1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	created := model.Form{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.Len(t, created.Sections, 2)
	return created
}

func fieldByName(t *testing.T, form model.Form, name string) model.Field {
	t.Helper()
	for _, s := range form.Sections {
		for _, f := range s.Fields {
			if f.Name == name {
				return f
			}
		}
	}
	t.Fatalf("field %q not in form", name)
	return model.Field{}
}

func submitBody(t *testing.T, submit submitRequest, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)

	payload, err := json.Marshal(submit)
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("request", string(payload)))

	for name, content := range files {
		part, err := mw.CreateFormFile(name, "upload.bin")
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func TestCreateAndGetRequest(t *testing.T) {
	_, h, files := newTestApp(t)
	form := createTestForm(t, h)

	main := form.Sections[0]
	item := form.Sections[1]
	project := fieldByName(t, form, "Project Name")
	receipt := fieldByName(t, form, "Receipt")
	general := fieldByName(t, form, "General Name")
	quantity := fieldByName(t, form, "Quantity")
	dupId := "dup-1"

	submit := submitRequest{
		TeamMemberID:  "tm-1",
		RequesterName: "Jane Reyes",
		Sections: []submitSection{
			{SectionID: main.ID, Fields: []submitField{
				{FieldID: project.ID, Value: json.RawMessage(`"Bridge Works"`)},
				{FieldID: receipt.ID},
			}},
			{SectionID: item.ID, Fields: []submitField{
				{FieldID: general.ID, Value: json.RawMessage(`"Cement"`)},
				{FieldID: quantity.ID, Value: json.RawMessage(`0`)},
			}},
			{SectionID: item.ID, DuplicatableID: &dupId, Fields: []submitField{
				{FieldID: general.ID, Value: json.RawMessage(`"Gravel"`)},
				{FieldID: quantity.ID, Value: json.RawMessage(`3`)},
			}},
		},
		Signers: []submitSigner{{SignerID: "sig-1", TeamMemberID: "tm-2", IsPrimary: true}},
	}

	body, contentType := submitBody(t, submit, map[string][]byte{
		"file_" + fmt.Sprint(receipt.ID): []byte("receipt-bytes"),
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", fmt.Sprintf("/forms/%d/requests", form.ID), body)
	req.Header.Set("Content-Type", contentType)
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var createResp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &createResp))
	require.NotEmpty(t, createResp.ID)
	assert.Equal(t, []string{fmt.Sprint(receipt.ID)}, files.keys)

	// fetch it back: duplicated section comes out as two instances
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/requests/"+createResp.ID, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := model.Request{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, "Order to Purchase", got.FormName)
	require.Len(t, got.Sections, 3)

	assert.Equal(t, `"Bridge Works"`, got.Sections[0].Fields[0].Response().Value)
	// untouched switch still recorded an explicit false
	assert.Equal(t, `false`, got.Sections[0].Fields[1].Response().Value)
	assert.Equal(t, `"https://files.test/`+fmt.Sprint(receipt.ID)+`"`, got.Sections[0].Fields[2].Response().Value)

	assert.Nil(t, got.Sections[1].DuplicatableID)
	assert.Equal(t, `"Cement"`, got.Sections[1].Fields[0].Response().Value)
	// zero quantity is an answer, not a gap
	assert.Equal(t, `0`, got.Sections[1].Fields[1].Response().Value)

	require.NotNil(t, got.Sections[2].DuplicatableID)
	assert.Equal(t, dupId, *got.Sections[2].DuplicatableID)
	assert.Equal(t, `"Gravel"`, got.Sections[2].Fields[0].Response().Value)
}

func TestCreateRequestValidatesRequired(t *testing.T) {
	_, h, _ := newTestApp(t)
	form := createTestForm(t, h)

	main := form.Sections[0]
	project := fieldByName(t, form, "Project Name")

	submit := submitRequest{
		TeamMemberID: "tm-1",
		Sections: []submitSection{
			{SectionID: main.ID, Fields: []submitField{
				{FieldID: project.ID}, // required, unanswered
			}},
		},
	}

	body, contentType := submitBody(t, submit, nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", fmt.Sprintf("/forms/%d/requests", form.ID), body)
	req.Header.Set("Content-Type", contentType)
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp struct {
		FieldErrors map[string]string `json:"field_errors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "required", resp.FieldErrors["Project Name"])
}

func TestCreateRequestRejectsDuplicationOfPlainSection(t *testing.T) {
	_, h, _ := newTestApp(t)
	form := createTestForm(t, h)

	main := form.Sections[0]
	project := fieldByName(t, form, "Project Name")
	dupId := "dup-1"

	submit := submitRequest{
		Sections: []submitSection{
			{SectionID: main.ID, DuplicatableID: &dupId, Fields: []submitField{
				{FieldID: project.ID, Value: json.RawMessage(`"x"`)},
			}},
		},
	}

	body, contentType := submitBody(t, submit, nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", fmt.Sprintf("/forms/%d/requests", form.ID), body)
	req.Header.Set("Content-Type", contentType)
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateRequestEnforcesUploadLimit(t *testing.T) {
	_, h, files := newTestAppWithLimit(t, 8)
	form := createTestForm(t, h)

	main := form.Sections[0]
	project := fieldByName(t, form, "Project Name")
	receipt := fieldByName(t, form, "Receipt")

	submit := submitRequest{
		TeamMemberID: "tm-1",
		Sections: []submitSection{
			{SectionID: main.ID, Fields: []submitField{
				{FieldID: project.ID, Value: json.RawMessage(`"Bridge Works"`)},
				{FieldID: receipt.ID},
			}},
		},
	}

	body, contentType := submitBody(t, submit, map[string][]byte{
		"file_" + fmt.Sprint(receipt.ID): []byte("way past eight bytes"),
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", fmt.Sprintf("/forms/%d/requests", form.ID), body)
	req.Header.Set("Content-Type", contentType)
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	var resp struct {
		FieldErrors map[string]string `json:"field_errors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "file exceeds size limit", resp.FieldErrors["Receipt"])
	// nothing reached storage
	assert.Empty(t, files.keys)
}

func TestRequestItemGroupsEndpoint(t *testing.T) {
	_, h, _ := newTestApp(t)
	form := createTestForm(t, h)

	main := form.Sections[0]
	item := form.Sections[1]
	project := fieldByName(t, form, "Project Name")
	general := fieldByName(t, form, "General Name")
	quantity := fieldByName(t, form, "Quantity")
	dup1, dup2 := "dup-1", "dup-2"

	submit := submitRequest{
		TeamMemberID: "tm-1",
		Sections: []submitSection{
			{SectionID: main.ID, Fields: []submitField{
				{FieldID: project.ID, Value: json.RawMessage(`"Bridge Works"`)},
			}},
			{SectionID: item.ID, Fields: []submitField{
				{FieldID: general.ID, Value: json.RawMessage(`"Cement"`)},
				{FieldID: quantity.ID, Value: json.RawMessage(`2`)},
			}},
			{SectionID: item.ID, DuplicatableID: &dup1, Fields: []submitField{
				{FieldID: general.ID, Value: json.RawMessage(`"Cement"`)},
				{FieldID: quantity.ID, Value: json.RawMessage(`2`)},
			}},
			{SectionID: item.ID, DuplicatableID: &dup2, Fields: []submitField{
				{FieldID: general.ID, Value: json.RawMessage(`"Gravel"`)},
				{FieldID: quantity.ID, Value: json.RawMessage(`1`)},
			}},
		},
	}
	body, contentType := submitBody(t, submit, nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", fmt.Sprintf("/forms/%d/requests", form.ID), body)
	req.Header.Set("Content-Type", contentType)
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var createResp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &createResp))

	getGroups := func(query string) []dashboard.ItemGroup {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", "/requests/"+createResp.ID+"/item-groups?"+query, nil))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp struct {
			Groups []dashboard.ItemGroup `json:"groups"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return resp.Groups
	}

	groups := getGroups("key_field=General+Name")
	require.Len(t, groups, 2)
	assert.Equal(t, "Cement", groups[0].Key)
	assert.Equal(t, "Gravel", groups[1].Key)
	// both Cement instances folded into one group
	assert.Len(t, groups[0].Section.Fields[1].Responses, 2)
	assert.Len(t, groups[1].Section.Fields[1].Responses, 1)

	// identity list collapses instances that repeat the same row
	groups = getGroups("key_field=General+Name&identity=General+Name,Quantity")
	require.Len(t, groups, 2)
	assert.Len(t, groups[0].Section.Fields[1].Responses, 1)

	// the key field is mandatory
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/requests/"+createResp.ID+"/item-groups", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/requests/nope/item-groups?key_field=General+Name", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateRequestStatusTransitions(t *testing.T) {
	_, h, _ := newTestApp(t)
	form := createTestForm(t, h)

	main := form.Sections[0]
	project := fieldByName(t, form, "Project Name")

	submit := submitRequest{
		TeamMemberID: "tm-1",
		Sections: []submitSection{
			{SectionID: main.ID, Fields: []submitField{
				{FieldID: project.ID, Value: json.RawMessage(`"Bridge Works"`)},
			}},
		},
	}
	body, contentType := submitBody(t, submit, nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", fmt.Sprintf("/forms/%d/requests", form.ID), body)
	req.Header.Set("Content-Type", contentType)
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var createResp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &createResp))

	patch := func(status string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("PATCH", "/requests/"+createResp.ID+"/status",
			bytes.NewReader([]byte(`{"status":"`+status+`"}`)))
		h.ServeHTTP(w, req)
		return w
	}

	require.Equal(t, http.StatusNoContent, patch("PAUSED").Code)
	require.Equal(t, http.StatusNoContent, patch("APPROVED").Code)
	// terminal state: no way back
	require.Equal(t, http.StatusConflict, patch("PENDING").Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", fmt.Sprintf("/forms/%d/requests?status=approved", form.ID), nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Requests []model.Request `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Requests, 1)
	assert.Equal(t, model.StatusApproved, list.Requests[0].Status)
}

func TestFieldTallyEndpoint(t *testing.T) {
	_, h, _ := newTestApp(t)
	form := createTestForm(t, h)

	main := form.Sections[0]
	item := form.Sections[1]
	project := fieldByName(t, form, "Project Name")
	general := fieldByName(t, form, "General Name")

	submitOne := func(name string) {
		submit := submitRequest{
			TeamMemberID: "tm-1",
			Sections: []submitSection{
				{SectionID: main.ID, Fields: []submitField{
					{FieldID: project.ID, Value: json.RawMessage(`"p"`)},
				}},
				{SectionID: item.ID, Fields: []submitField{
					{FieldID: general.ID, Value: json.RawMessage(`"` + name + `"`)},
				}},
			},
		}
		body, contentType := submitBody(t, submit, nil)
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", fmt.Sprintf("/forms/%d/requests", form.ID), body)
		req.Header.Set("Content-Type", contentType)
		h.ServeHTTP(w, req)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	submitOne("Cement")
	submitOne("Gravel")
	submitOne("Cement")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", fmt.Sprintf("/fields/%d/tally", general.ID), nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Tally []dashboard.Tally `json:"tally"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []dashboard.Tally{
		{Label: "Cement", Value: 2},
		{Label: "Gravel", Value: 1},
	}, resp.Tally)
}
