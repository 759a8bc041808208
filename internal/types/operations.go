package types

// OperationType enumerates the mutations the engine can dispatch
type OperationType string

const (
	OperationCreateEntity   OperationType = "create_entity"
	OperationCompleteEntity OperationType = "complete_entity"
	OperationUpdateEntity   OperationType = "update_entity"
	OperationDeleteEntity   OperationType = "delete_entity"
	OperationCreateList     OperationType = "create_list"
	OperationUpdateList     OperationType = "update_list"
	OperationDeleteList     OperationType = "delete_list"
)

// AllOperationTypes lists every recognised operation type in declaration order
func AllOperationTypes() []OperationType {
	return []OperationType{
		OperationCreateEntity,
		OperationCompleteEntity,
		OperationUpdateEntity,
		OperationDeleteEntity,
		OperationCreateList,
		OperationUpdateList,
		OperationDeleteList,
	}
}

// Valid returns true if the operation type is one of the seven known types
func (t OperationType) Valid() bool {
	for _, known := range AllOperationTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// IsEntityMutation returns true for operations that touch a single entity
// and therefore refresh the user's active reference context
func (t OperationType) IsEntityMutation() bool {
	switch t {
	case OperationCreateEntity, OperationCompleteEntity, OperationUpdateEntity, OperationDeleteEntity:
		return true
	default:
		return false
	}
}

// Operation is a typed mutation with a loosely-typed payload as received
// from the upstream caller
type Operation struct {
	Type    OperationType          `json:"type" mapstructure:"type"`
	Payload map[string]interface{} `json:"payload" mapstructure:"payload"`
}

// EntityCreatePayload is the decoded payload of create_entity
type EntityCreatePayload struct {
	Description string     `json:"description" mapstructure:"description"`
	DueDate     string     `json:"due_date,omitempty" mapstructure:"due_date"`
	DueTime     string     `json:"due_time,omitempty" mapstructure:"due_time"`
	ListID      string     `json:"list_id,omitempty" mapstructure:"list_id"`
	Notes       string     `json:"notes,omitempty" mapstructure:"notes"`
	Kind        EntityKind `json:"kind,omitempty" mapstructure:"kind"`
}

// EntityRef identifies an existing entity by id or by title
type EntityRef struct {
	ID    string `json:"id,omitempty" mapstructure:"id"`
	Title string `json:"title,omitempty" mapstructure:"title"`
}

// EntityMutationPayload is the decoded payload of complete/update/delete_entity
type EntityMutationPayload struct {
	EntityRef  `mapstructure:",squash"`
	Reference  string                 `json:"reference,omitempty" mapstructure:"reference"`
	Patch      map[string]interface{} `json:"patch,omitempty" mapstructure:"patch"`
	Completion map[string]interface{} `json:"completion,omitempty" mapstructure:"completion"`
}

// ListPayload is the decoded payload of the list operations
type ListPayload struct {
	ID       string `json:"id,omitempty" mapstructure:"id"`
	Title    string `json:"title,omitempty" mapstructure:"title"`
	NewTitle string `json:"new_title,omitempty" mapstructure:"new_title"`
}
