package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_EmptyIsValid(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())
}

func TestValidationResult_AddError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("workflows[0].rules[0].name", ErrCodeValidation, "rule name is required")

	assert.False(t, r.Valid())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "workflows[0].rules[0].name", r.Errors[0].Path)
	assert.Equal(t, ErrCodeValidation, r.Errors[0].Code)
	assert.Equal(t, "rule name is required", r.Errors[0].Message)
	assert.Equal(t, SeverityError, r.Errors[0].Severity)
}

func TestValidationResult_AddWarning(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("workflows[0].rules[1]", ErrCodeValidation, "rule is disabled")

	assert.True(t, r.Valid(), "warnings alone should not make result invalid")
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
}

func TestValidationResult_Merge(t *testing.T) {
	r1 := &ValidationResult{}
	r1.AddError("/", ErrCodeValidation, "err1")
	r1.AddWarning("/", ErrCodeValidation, "warn1")

	r2 := &ValidationResult{}
	r2.AddError("workflows[1]", ErrCodeDuplicateWorkflow, "err2")
	r2.AddWarning("workflows[1].rules[0]", ErrCodeValidation, "warn2")

	r1.Merge(r2)

	assert.Len(t, r1.Errors, 2)
	assert.Len(t, r1.Warnings, 2)
}

func TestValidationResult_MergeNil(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("/", ErrCodeValidation, "err")
	r.Merge(nil)
	assert.Len(t, r.Errors, 1)
}

func TestValidationResult_ToError_Valid(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("/", ErrCodeValidation, "just a warning")
	assert.Nil(t, r.ToError())
}

func TestValidationResult_ToError_SingleError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("workflows[0].rules[0].name", ErrCodeValidation, "rule name is required")

	err := r.ToError()
	require.NotNil(t, err)

	opErr, ok := err.(*EngineError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeValidation, opErr.Code)
	assert.Equal(t, "workflows[0].rules[0].name: rule name is required", opErr.Message)
	assert.Equal(t, 1, opErr.Details["error_count"])
}

func TestValidationResult_ToError_MultipleErrors(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("/", ErrCodeValidation, "err1")
	r.AddError("/", ErrCodeValidation, "err2")
	r.AddWarning("/", ErrCodeValidation, "warn1")

	err := r.ToError()
	require.NotNil(t, err)

	opErr, ok := err.(*EngineError)
	require.True(t, ok)
	assert.Contains(t, opErr.Message, "2 errors")
	assert.Equal(t, 2, opErr.Details["error_count"])
	assert.Equal(t, 1, opErr.Details["warning_count"])
}

func TestValidationResult_ToError_KeepsFirstCode(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("workflows[1].name", ErrCodeDuplicateWorkflow, `duplicate workflow name "w"`)

	err := r.ToError()
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeDuplicateWorkflow))
	assert.False(t, IsCode(err, ErrCodeValidation))
}
