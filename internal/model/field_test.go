package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFieldSchema_Defaults(t *testing.T) {
	s, err := NewFieldSchema([]FieldSpec{
		{Name: " Title ", Prompt: ""},
		{Name: "When", Prompt: "The start time", Kind: FieldKindDatetime},
		{Name: "Where", Prompt: "The address", Kind: FieldKindAddress},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []string{"Title", "When", "Where"}, s.Names())
	assert.Equal(t, []string{"Title", "The start time", "The address"}, s.Prompts())
	assert.Equal(t, FieldKindText, s.Fields[0].Kind)
	assert.Equal(t, []int{1}, s.DatetimeIndexes())
	assert.Equal(t, 2, s.AddressIndex())
}

func TestNewFieldSchema_Errors(t *testing.T) {
	tests := []struct {
		name  string
		specs []FieldSpec
		want  string
	}{
		{"empty", nil, "no fields"},
		{"blank name", []FieldSpec{{Name: "  "}}, "has no name"},
		{"duplicate", []FieldSpec{{Name: "A"}, {Name: "A"}}, "duplicate field"},
		{"bad kind", []FieldSpec{{Name: "A", Kind: "money"}}, "unknown kind"},
		{"two addresses", []FieldSpec{
			{Name: "A", Kind: FieldKindAddress},
			{Name: "B", Kind: FieldKindAddress},
		}, "more than one address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFieldSchema(tt.specs)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDefaultFieldSchema(t *testing.T) {
	s := DefaultFieldSchema()
	assert.Equal(t, 6, s.Len())
	assert.Equal(t, "Event Name", s.Names()[0])
	assert.Equal(t, []int{1, 2}, s.DatetimeIndexes())
	assert.Equal(t, 3, s.AddressIndex())

	// Round-trips through validation unchanged.
	again, err := NewFieldSchema(s.Fields)
	require.NoError(t, err)
	assert.Equal(t, s.Fields, again.Fields)
}

func TestAddressIndex_None(t *testing.T) {
	s, err := NewFieldSchema([]FieldSpec{{Name: "A"}})
	require.NoError(t, err)
	assert.Equal(t, -1, s.AddressIndex())
	assert.Empty(t, s.DatetimeIndexes())
}
