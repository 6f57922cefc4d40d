package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

type testPayload struct {
	UserID string `json:"user_id" validate:"required"`
	Type   string `json:"type" validate:"required"`
	Title  string `json:"title" validate:"max=255"`
	Size   int    `json:"size" validate:"gte=1"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := testPayload{
		UserID: "user-42",
		Type:   "TASK_ASSIGNED",
		Title:  "Task assigned",
		Size:   20,
	}

	if err := ValidateStruct(payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStructFailures(t *testing.T) {
	payload := testPayload{
		UserID: "",
		Type:   "",
		Size:   0,
	}

	err := ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation error")
	}

	vErrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	if len(vErrs) != 3 {
		t.Fatalf("expected 3 validation errors, got %d", len(vErrs))
	}

	fields := map[string]bool{}
	for _, fe := range vErrs {
		fields[fe.Field] = true
	}
	for _, want := range []string{"user_id", "type", "size"} {
		if !fields[want] {
			t.Fatalf("expected validation failure for %q, got %v", want, vErrs)
		}
	}
}

func TestRegisterValidation(t *testing.T) {
	if err := RegisterValidation("is_even", func(fl validator.FieldLevel) bool {
		return fl.Field().Int()%2 == 0
	}); err != nil {
		t.Fatalf("RegisterValidation returned error: %v", err)
	}

	type payload struct {
		Page int `json:"page" validate:"is_even"`
	}

	if err := ValidateStruct(payload{Page: 2}); err != nil {
		t.Fatalf("expected even value to pass, got %v", err)
	}
	if err := ValidateStruct(payload{Page: 3}); err == nil {
		t.Fatal("expected odd value to fail")
	}
}
