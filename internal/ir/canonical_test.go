package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"sorted keys", IRObject{"b": IRInt(1), "a": IRString("x")}, `{"a":"x","b":1}`},
		{"no html escaping", IRString("<a & b>"), `"<a & b>"`},
		{"null", IRNull{}, `null`},
		{"nested array", IRArray{IRBool(false), IRArray{}}, `[false,[]]`},
		{"negative int", IRInt(-42), `-42`},
		{"plain go map", map[string]any{"k": []any{"v", 1}}, `{"k":["v",1]}`},
		{"control chars escaped", IRString("a\nb"), `"a\nb"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshalCanonicalNFC(t *testing.T) {
	decomposed := "e\u0301"
	composed := "\u00e9"

	a, err := MarshalCanonical(IRString(decomposed))
	require.NoError(t, err)
	b, err := MarshalCanonical(IRString(composed))
	require.NoError(t, err)

	assert.Equal(t, string(b), string(a))
}

func TestMarshalCanonicalLineSeparators(t *testing.T) {
	got, err := MarshalCanonical(IRString("a\u2028b\u2029c"))
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(got))

	// A literal backslash followed by the text u2028 stays escaped.
	got, err = MarshalCanonical(IRString(`x\u2028`))
	require.NoError(t, err)
	assert.Equal(t, `"x\\u2028"`, string(got))
}

func TestMarshalCanonicalRejectsFloats(t *testing.T) {
	_, err := MarshalCanonical(1.25)
	require.Error(t, err)
}
