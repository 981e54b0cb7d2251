package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePassword(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"Valid", "welcome2work", false},
		{"Exactly Min Length", "abcdefg1", false},
		{"Exactly Max Length", strings.Repeat("a", 127) + "1", false},
		{"Too Short", "abc1", true},
		{"Too Long", strings.Repeat("a", 128) + "1", true},
		{"No Digit", "onlyletters", true},
		{"No Letter", "1234567890", true},
		{"Unicode Letters", "Ångström42", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEmail(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Email("someone@corp.example"))
	assert.Error(t, Email("someone"))
	assert.Error(t, Email(""))
}

type sample struct {
	Content string `validate:"required,max=5"`
	Kind    string `validate:"omitempty,oneof=a b"`
	Link    string `validate:"omitempty,url"`
}

func TestStruct(t *testing.T) {
	t.Parallel()
	require.NoError(t, Struct(sample{Content: "hi", Kind: "a"}))

	err := Struct(sample{Content: "", Kind: "c", Link: "not a url"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content is required")
	assert.Contains(t, err.Error(), "kind must be one of: a b")
	assert.Contains(t, err.Error(), "link must be a valid URL")

	err = Struct(sample{Content: "too long"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content must be at most 5 characters")
}
