// Package validation provides the synchronous gate every operation passes
// before it may reach the collaborator. Checks never mutate their input and
// never perform I/O.
package validation

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"lerian-entity-resolver/internal/types"
)

// decode maps a loosely-typed payload onto a typed struct. Weak typing lets
// ids arrive as JSON numbers; explicit nulls leave the field empty.
func decode(payload map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("failed to create payload decoder: %w", err)
	}
	if err := decoder.Decode(payload); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	return nil
}

// DecodeEntityCreate decodes a create_entity payload
func DecodeEntityCreate(payload map[string]interface{}) (types.EntityCreatePayload, error) {
	var p types.EntityCreatePayload
	err := decode(payload, &p)
	return p, err
}

// DecodeEntityMutation decodes a complete/update/delete_entity payload
func DecodeEntityMutation(payload map[string]interface{}) (types.EntityMutationPayload, error) {
	var p types.EntityMutationPayload
	err := decode(payload, &p)
	return p, err
}

// DecodeList decodes a list operation payload
func DecodeList(payload map[string]interface{}) (types.ListPayload, error) {
	var p types.ListPayload
	err := decode(payload, &p)
	return p, err
}

// DecodeOperations decodes a raw batch (as read from JSON) into operations.
// It does not validate; see ValidateBatch.
func DecodeOperations(raw interface{}) ([]types.Operation, error) {
	var ops []types.Operation
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &ops,
		TagName: "mapstructure",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create batch decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("malformed batch: %w", err)
	}
	return ops, nil
}
