package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	reserrors "lerian-entity-resolver/internal/errors"
	"lerian-entity-resolver/internal/types"
)

func TestValidateEntityCreate(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]interface{}
		valid   bool
		errPart string
	}{
		{"minimal", map[string]interface{}{"description": "Buy milk"}, true, ""},
		{"full", map[string]interface{}{"description": "Dentist", "due_date": "2024-02-29", "due_time": "09:30", "kind": "event"}, true, ""},
		{"nil payload", nil, false, "payload is required"},
		{"blank description", map[string]interface{}{"description": "   "}, false, "description is required"},
		{"long description", map[string]interface{}{"description": strings.Repeat("a", 501)}, false, "500 characters"},
		{"description at limit in runes", map[string]interface{}{"description": strings.Repeat("é", 500)}, true, ""},
		{"bad date format", map[string]interface{}{"description": "x", "due_date": "02/03/2024"}, false, "YYYY-MM-DD"},
		{"impossible date", map[string]interface{}{"description": "x", "due_date": "2023-02-30"}, false, "not a valid date"},
		{"bad time", map[string]interface{}{"description": "x", "due_time": "24:00"}, false, "HH:MM"},
		{"twelve hour time", map[string]interface{}{"description": "x", "due_time": "9:30pm"}, false, "HH:MM"},
		{"unknown kind", map[string]interface{}{"description": "x", "kind": "note"}, false, "kind"},
		{"malformed field", map[string]interface{}{"description": map[string]interface{}{"a": 1}}, false, "malformed payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateEntityCreate(tt.payload)
			assert.Equal(t, tt.valid, res.IsValid)
			if tt.valid {
				assert.Nil(t, res.Errors)
				assert.NoError(t, res.Err())
				return
			}
			require.NotEmpty(t, res.Errors)
			assert.Contains(t, strings.Join(res.Errors, "; "), tt.errPart)
		})
	}
}

func TestValidateEntityCreate_CollectsAllErrors(t *testing.T) {
	res := ValidateEntityCreate(map[string]interface{}{"description": "", "due_date": "x", "due_time": "y"})
	assert.False(t, res.IsValid)
	assert.Len(t, res.Errors, 3)

	var stdErr *reserrors.StandardError
	require.True(t, errors.As(res.Err(), &stdErr))
	assert.Equal(t, reserrors.ErrorCodeValidationError, stdErr.ErrorInfo.Code)
}

func TestValidateListCreate(t *testing.T) {
	assert.True(t, ValidateListCreate(map[string]interface{}{"title": "Groceries"}).IsValid)
	assert.False(t, ValidateListCreate(map[string]interface{}{"title": " "}).IsValid)
	assert.False(t, ValidateListCreate(map[string]interface{}{"title": strings.Repeat("l", 101)}).IsValid)
	assert.False(t, ValidateListCreate(nil).IsValid)
}

func TestValidateReference(t *testing.T) {
	assert.True(t, ValidateReference(map[string]interface{}{"id": "evt-1"}).IsValid)
	assert.True(t, ValidateReference(map[string]interface{}{"id": 42}).IsValid, "numeric ids are accepted")
	assert.True(t, ValidateReference(map[string]interface{}{"title": "Doctor"}).IsValid)
	assert.False(t, ValidateReference(map[string]interface{}{"title": ""}).IsValid)
	assert.False(t, ValidateReference(map[string]interface{}{"title": strings.Repeat("t", 501)}).IsValid)
	assert.False(t, ValidateReference(map[string]interface{}{}).IsValid)
}

func TestValidateUserID(t *testing.T) {
	assert.True(t, ValidateUserID("u1").IsValid)
	assert.False(t, ValidateUserID("").IsValid)
	assert.False(t, ValidateUserID(types.UserID(strings.Repeat("u", 257))).IsValid)
}

func TestValidateOperation(t *testing.T) {
	tests := []struct {
		name  string
		op    types.Operation
		valid bool
	}{
		{"create entity", types.Operation{Type: types.OperationCreateEntity, Payload: map[string]interface{}{"description": "x"}}, true},
		{"complete by title", types.Operation{Type: types.OperationCompleteEntity, Payload: map[string]interface{}{"title": "x"}}, true},
		{"delete without ref", types.Operation{Type: types.OperationDeleteEntity, Payload: map[string]interface{}{}}, false},
		{"update with patch", types.Operation{Type: types.OperationUpdateEntity, Payload: map[string]interface{}{"id": "1", "patch": map[string]interface{}{"title": "y"}}}, true},
		{"update without patch", types.Operation{Type: types.OperationUpdateEntity, Payload: map[string]interface{}{"id": "1"}}, false},
		{"create list", types.Operation{Type: types.OperationCreateList, Payload: map[string]interface{}{"title": "Work"}}, true},
		{"rename list", types.Operation{Type: types.OperationUpdateList, Payload: map[string]interface{}{"id": "l1", "new_title": "Home"}}, true},
		{"rename list without new title", types.Operation{Type: types.OperationUpdateList, Payload: map[string]interface{}{"id": "l1"}}, false},
		{"delete list by title", types.Operation{Type: types.OperationDeleteList, Payload: map[string]interface{}{"title": "Work"}}, true},
		{"unknown type", types.Operation{Type: "archive", Payload: map[string]interface{}{}}, false},
		{"nil payload", types.Operation{Type: types.OperationCreateList}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateOperation(tt.op)
			assert.Equal(t, tt.valid, res.IsValid, res.Errors)
		})
	}
}

func TestValidateOperation_DoesNotMutatePayload(t *testing.T) {
	payload := map[string]interface{}{"description": "  padded  ", "due_date": "2024-01-01"}
	ValidateOperation(types.Operation{Type: types.OperationCreateEntity, Payload: payload})
	assert.Equal(t, map[string]interface{}{"description": "  padded  ", "due_date": "2024-01-01"}, payload)
}

func TestValidateBatch(t *testing.T) {
	item := map[string]interface{}{"type": "create_entity", "payload": map[string]interface{}{"description": "x"}}

	tooMany := make([]interface{}, 51)
	for i := range tooMany {
		tooMany[i] = item
	}

	tests := []struct {
		name    string
		raw     interface{}
		valid   bool
		errPart string
	}{
		{"single item", []interface{}{item}, true, ""},
		{"fifty items", tooMany[:50], true, ""},
		{"not an array", map[string]interface{}{"type": "create_entity"}, false, "must be an array"},
		{"nil", nil, false, "must be an array"},
		{"empty", []interface{}{}, false, "at least one"},
		{"too many", tooMany, false, "at most 50"},
		{"unknown type", []interface{}{map[string]interface{}{"type": "archive", "payload": map[string]interface{}{}}}, false, "operations[0] has unknown type"},
		{"null payload", []interface{}{item, map[string]interface{}{"type": "delete_list", "payload": nil}}, false, "operations[1] is missing payload"},
		{"not an object", []interface{}{"create_entity"}, false, "must be an object"},
		{"typed operations", []types.Operation{{Type: types.OperationCreateList, Payload: map[string]interface{}{"title": "x"}}}, true, ""},
		{"typed nil payload", []types.Operation{{Type: types.OperationCreateList}}, false, "missing payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateBatch(tt.raw)
			assert.Equal(t, tt.valid, res.IsValid, res.Errors)
			if !tt.valid {
				assert.Contains(t, strings.Join(res.Errors, "; "), tt.errPart)
			}
		})
	}
}

func TestValidateBatchEnvelope(t *testing.T) {
	ops := []types.Operation{{Type: types.OperationCreateList}, {Type: "bogus"}}

	assert.True(t, ValidateBatchEnvelope(ops, 5).IsValid, "item contents are not checked")
	assert.False(t, ValidateBatchEnvelope(ops, 1).IsValid)
	assert.False(t, ValidateBatchEnvelope(nil, 5).IsValid)
	assert.False(t, ValidateBatchEnvelope([]types.Operation{}, 5).IsValid)
}

func TestDecodeOperations(t *testing.T) {
	ops, err := DecodeOperations([]interface{}{
		map[string]interface{}{"type": "create_list", "payload": map[string]interface{}{"title": "Work"}},
	})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, types.OperationCreateList, ops[0].Type)
	assert.Equal(t, "Work", ops[0].Payload["title"])

	_, err = DecodeOperations("nope")
	assert.Error(t, err)
}

func TestDecodeEntityMutation_Squash(t *testing.T) {
	p, err := DecodeEntityMutation(map[string]interface{}{
		"id":         "evt-1",
		"title":      "Standup",
		"reference":  "the meeting",
		"completion": map[string]interface{}{"note": "done early"},
	})
	require.NoError(t, err)
	assert.Equal(t, "evt-1", p.ID)
	assert.Equal(t, "Standup", p.Title)
	assert.Equal(t, "the meeting", p.Reference)
	assert.Equal(t, "done early", p.Completion["note"])
}
