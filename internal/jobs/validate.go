package jobs

import (
	"encoding/json"
	"errors"
)

var (
	ErrInvalidType    = errors.New("type must be one of EMAIL, WHATSAPP, SMS, NOTIFICATION, CRONJOB")
	ErrInvalidPayload = errors.New("Payload must be a non-empty object")
)

// ValidatePayload enforces the data-model invariant that payload is a
// non-empty JSON object — go-playground/validator's `required` tag only
// rejects a nil/empty byte slice, not `{}` or `[1,2]`, so the object shape
// is checked by hand here the way the teacher's packages check anything
// validator's struct tags can't express.
func ValidatePayload(raw json.RawMessage) error {
	if len(raw) == 0 {
		return ErrInvalidPayload
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ErrInvalidPayload
	}
	if len(obj) == 0 {
		return ErrInvalidPayload
	}
	return nil
}

// ValidateType enforces the closed job-type set.
func ValidateType(t Type) error {
	if !t.IsValid() {
		return ErrInvalidType
	}
	return nil
}
