// Package assemble converts a filled-in, possibly duplicated
// section/field tree into the flat row sets consumed by the request
// creation transaction: responses, signer assignments and
// notifications, all sharing one client-generated request id.
package assemble

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/formsly/formsly/model"
)

type File struct {
	Name        string
	ContentType string
	Content     []byte
}

// Uploader stores a file response and returns its public URL. Image
// uploads go through the compression path.
type Uploader interface {
	Upload(ctx context.Context, key string, f File) (url string, err error)
	UploadImage(ctx context.Context, key string, f File) (url string, err error)
}

// Session carries the contextual identifiers of one submission. It is
// passed in explicitly; nothing here reads ambient global state.
type Session struct {
	TeamID        string
	TeamMemberID  string
	RequesterName string
	FormID        int
	FormName      string
}

type FieldInput struct {
	Field model.Field
	Value *model.Value
	File  *File
}

type SectionInput struct {
	SectionID      int
	DuplicatableID *string
	Fields         []FieldInput
}

type SignerInput struct {
	SignerID     string
	TeamMemberID string
	IsPrimary    bool
}

type Payload struct {
	RequestID     string
	Responses     []model.FieldResponse
	Signers       []model.RequestSigner
	Notifications []model.Notification
}

// UploadKey derives the deterministic storage key for a FILE field,
// so re-submitting the same duplicated row overwrites the previous
// upload instead of orphaning it.
func UploadKey(fieldID int, duplicatableID *string) string {
	key := strconv.Itoa(fieldID)
	if duplicatableID != nil {
		key += "_" + *duplicatableID
	}
	return key
}

// Build walks the sections in order and emits one response row per
// present field value. File uploads run one at a time, before the row
// that references them; any upload failure aborts the whole
// submission. The context bounds in-flight uploads to the caller's
// lifetime.
func Build(ctx context.Context, session Session, sections []SectionInput, signers []SignerInput, files Uploader) (Payload, error) {
	p := Payload{RequestID: uuid.NewString()}

	for _, s := range sections {
		for _, in := range s.Fields {
			value := in.Value

			if in.Field.Type == model.FieldFile {
				if in.File == nil {
					continue
				}
				if err := ctx.Err(); err != nil {
					return Payload{}, err
				}
				url, err := uploadFile(ctx, files, UploadKey(in.Field.ID, s.DuplicatableID), *in.File)
				if err != nil {
					return Payload{}, fmt.Errorf("upload field %d: %w", in.Field.ID, err)
				}
				value = &model.Value{Type: model.FieldFile, Text: url}
			}

			value = normalize(in.Field.Type, value)
			if !present(in.Field.Type, value) {
				continue
			}

			raw, err := value.Encode()
			if err != nil {
				return Payload{}, fmt.Errorf("encode field %d: %w", in.Field.ID, err)
			}
			p.Responses = append(p.Responses, model.FieldResponse{
				RequestID:             p.RequestID,
				FieldID:               in.Field.ID,
				Value:                 raw,
				DuplicatableSectionID: s.DuplicatableID,
				TeamMemberID:          session.TeamMemberID,
			})
		}
	}

	for _, s := range signers {
		p.Signers = append(p.Signers, model.RequestSigner{
			ID:           uuid.NewString(),
			RequestID:    p.RequestID,
			SignerID:     s.SignerID,
			TeamMemberID: s.TeamMemberID,
			IsPrimary:    s.IsPrimary,
			Status:       "PENDING",
		})
		p.Notifications = append(p.Notifications, model.Notification{
			RecipientID: s.TeamMemberID,
			Type:        "REQUEST",
			Content:     fmt.Sprintf("%s requested you to sign their %s request", session.RequesterName, session.FormName),
			RedirectURL: "/team-requests/requests/" + p.RequestID,
		})
	}

	return p, nil
}

func uploadFile(ctx context.Context, files Uploader, key string, f File) (string, error) {
	if strings.HasPrefix(f.ContentType, "image/") {
		return files.UploadImage(ctx, key, f)
	}
	return files.Upload(ctx, key, f)
}

// normalize gives SWITCH fields their implicit false: no interaction
// still encodes an explicit boolean.
func normalize(t model.FieldType, v *model.Value) *model.Value {
	if v == nil && t == model.FieldSwitch {
		return &model.Value{Type: model.FieldSwitch}
	}
	return v
}

// present decides whether a value yields a response row. Booleans are
// always present, NUMBER zero is present, empty text is not. A nil
// MULTISELECT list means unanswered, but an explicitly empty selection
// still counts.
func present(t model.FieldType, v *model.Value) bool {
	if v == nil {
		return false
	}
	switch t {
	case model.FieldSwitch, model.FieldNumber:
		return true
	case model.FieldMultiSelect:
		return v.List != nil
	case model.FieldDate, model.FieldTime:
		return !v.Date.IsZero()
	}
	return v.Text != ""
}

// ValidateRequired reports, per field name, the required fields left
// unanswered across the section inputs. SWITCH fields always pass:
// absence encodes explicit false.
func ValidateRequired(sections []SectionInput) map[string]string {
	missing := map[string]string{}
	for _, s := range sections {
		for _, in := range s.Fields {
			if !in.Field.Required {
				continue
			}
			if in.Field.Type == model.FieldFile {
				if in.File == nil {
					missing[in.Field.Name] = "required"
				}
				continue
			}
			if !present(in.Field.Type, normalize(in.Field.Type, in.Value)) {
				missing[in.Field.Name] = "required"
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return missing
}
