package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	reserrors "lerian-entity-resolver/internal/errors"
	"lerian-entity-resolver/internal/types"
)

// Limits applied by the validator
const (
	MaxDescriptionLength = 500
	MaxListTitleLength   = 100
	MaxReferenceLength   = 500
	DefaultMaxBatchSize  = 50
)

var (
	datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timePattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
)

// Result is the outcome of a validation. Errors is nil when IsValid.
type Result struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors"`
}

func result(errs []string) Result {
	if len(errs) == 0 {
		return Result{IsValid: true}
	}
	return Result{IsValid: false, Errors: errs}
}

// Err converts an invalid result into a validation error, or nil
func (r Result) Err() error {
	if r.IsValid {
		return nil
	}
	return reserrors.NewValidationErrors(r.Errors)
}

// ValidateUserID checks that a user id is present
func ValidateUserID(userID types.UserID) Result {
	if err := userID.Validate(); err != nil {
		return result([]string{err.Error()})
	}
	return result(nil)
}

// ValidateEntityCreate checks a create_entity payload
func ValidateEntityCreate(payload map[string]interface{}) Result {
	if payload == nil {
		return result([]string{"payload is required"})
	}
	p, err := DecodeEntityCreate(payload)
	if err != nil {
		return result([]string{err.Error()})
	}

	var errs []string
	description := strings.TrimSpace(p.Description)
	switch {
	case description == "":
		errs = append(errs, "description is required")
	case utf8.RuneCountInString(description) > MaxDescriptionLength:
		errs = append(errs, fmt.Sprintf("description must be %d characters or less", MaxDescriptionLength))
	}

	if p.DueDate != "" {
		if !datePattern.MatchString(p.DueDate) {
			errs = append(errs, "due_date must be in YYYY-MM-DD format")
		} else if _, err := time.Parse(types.DateLayout, p.DueDate); err != nil {
			errs = append(errs, fmt.Sprintf("due_date %q is not a valid date", p.DueDate))
		}
	}

	if p.DueTime != "" && !timePattern.MatchString(p.DueTime) {
		errs = append(errs, "due_time must be in 24-hour HH:MM format")
	}

	if p.Kind != "" && !p.Kind.Valid() {
		errs = append(errs, fmt.Sprintf("kind %q is not recognized", p.Kind))
	}

	return result(errs)
}

// ValidateListCreate checks a create_list payload
func ValidateListCreate(payload map[string]interface{}) Result {
	if payload == nil {
		return result([]string{"payload is required"})
	}
	p, err := DecodeList(payload)
	if err != nil {
		return result([]string{err.Error()})
	}
	return result(listTitle("title", p.Title))
}

func listTitle(field, title string) []string {
	title = strings.TrimSpace(title)
	switch {
	case title == "":
		return []string{field + " is required"}
	case utf8.RuneCountInString(title) > MaxListTitleLength:
		return []string{fmt.Sprintf("%s must be %d characters or less", field, MaxListTitleLength)}
	}
	return nil
}

// ValidateReference checks that a payload identifies an entity either by id
// or by a non-empty title
func ValidateReference(payload map[string]interface{}) Result {
	if payload == nil {
		return result([]string{"payload is required"})
	}
	p, err := DecodeEntityMutation(payload)
	if err != nil {
		return result([]string{err.Error()})
	}
	return result(reference(p.EntityRef))
}

func reference(ref types.EntityRef) []string {
	if strings.TrimSpace(ref.ID) != "" {
		return nil
	}
	title := strings.TrimSpace(ref.Title)
	switch {
	case title == "":
		return []string{"either id or title is required"}
	case utf8.RuneCountInString(title) > MaxReferenceLength:
		return []string{fmt.Sprintf("title must be %d characters or less", MaxReferenceLength)}
	}
	return nil
}

// ValidateOperation dispatches to the check matching op.Type
func ValidateOperation(op types.Operation) Result {
	if !op.Type.Valid() {
		return result([]string{fmt.Sprintf("unknown operation type %q", op.Type)})
	}
	if op.Payload == nil {
		return result([]string{"payload is required"})
	}

	switch op.Type {
	case types.OperationCreateEntity:
		return ValidateEntityCreate(op.Payload)

	case types.OperationCompleteEntity, types.OperationDeleteEntity:
		return ValidateReference(op.Payload)

	case types.OperationUpdateEntity:
		p, err := DecodeEntityMutation(op.Payload)
		if err != nil {
			return result([]string{err.Error()})
		}
		errs := reference(p.EntityRef)
		if len(p.Patch) == 0 {
			errs = append(errs, "patch must contain at least one field")
		}
		return result(errs)

	case types.OperationCreateList:
		return ValidateListCreate(op.Payload)

	case types.OperationUpdateList, types.OperationDeleteList:
		p, err := DecodeList(op.Payload)
		if err != nil {
			return result([]string{err.Error()})
		}
		errs := listRef(p)
		if op.Type == types.OperationUpdateList {
			errs = append(errs, listTitle("new_title", p.NewTitle)...)
		}
		return result(errs)
	}

	return result([]string{fmt.Sprintf("unknown operation type %q", op.Type)})
}

func listRef(p types.ListPayload) []string {
	if strings.TrimSpace(p.ID) != "" {
		return nil
	}
	return listTitle("id or title", p.Title)
}

// ValidateBatchEnvelope checks the top-level shape of a typed batch: the
// size bounds only. Item checks happen per item during execution.
func ValidateBatchEnvelope(ops []types.Operation, maxSize int) Result {
	if maxSize <= 0 {
		maxSize = DefaultMaxBatchSize
	}
	switch {
	case ops == nil:
		return result([]string{"operations must be an array"})
	case len(ops) == 0:
		return result([]string{"operations must contain at least one item"})
	case len(ops) > maxSize:
		return result([]string{fmt.Sprintf("operations must contain at most %d items, got %d", maxSize, len(ops))})
	}
	return result(nil)
}

// ValidateBatch checks a raw, JSON-shaped batch: an array of 1 to
// DefaultMaxBatchSize items, each with a recognised type and non-null
// payload. Item errors are prefixed with their index.
func ValidateBatch(raw interface{}) Result {
	return ValidateBatchWithLimit(raw, DefaultMaxBatchSize)
}

// ValidateBatchWithLimit is ValidateBatch with a custom size limit
func ValidateBatchWithLimit(raw interface{}, maxSize int) Result {
	var items []interface{}
	switch v := raw.(type) {
	case []interface{}:
		items = v
	case []map[string]interface{}:
		items = make([]interface{}, len(v))
		for i := range v {
			items[i] = v[i]
		}
	case []types.Operation:
		items = make([]interface{}, len(v))
		for i, op := range v {
			items[i] = map[string]interface{}{"type": string(op.Type), "payload": op.Payload}
		}
	default:
		return result([]string{"operations must be an array"})
	}

	if env := ValidateBatchEnvelope(make([]types.Operation, len(items)), maxSize); !env.IsValid {
		return env
	}

	var errs []string
	for i, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			errs = append(errs, fmt.Sprintf("operations[%d] must be an object", i))
			continue
		}
		typ, _ := m["type"].(string)
		if !types.OperationType(typ).Valid() {
			errs = append(errs, fmt.Sprintf("operations[%d] has unknown type %q", i, typ))
		}
		if payload, present := m["payload"]; !present || isNil(payload) {
			errs = append(errs, fmt.Sprintf("operations[%d] is missing payload", i))
		}
	}
	return result(errs)
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	m, ok := v.(map[string]interface{})
	return ok && m == nil
}
