package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIRValueSealed(t *testing.T) {
	var _ IRValue = IRNull{}
	var _ IRValue = IRString("test")
	var _ IRValue = IRInt(42)
	var _ IRValue = IRBool(true)
	var _ IRValue = IRArray{IRString("a"), IRInt(1)}
	var _ IRValue = IRObject{"key": IRString("value")}
}

func TestIRObjectSortedKeysRFC8785Order(t *testing.T) {
	obj := IRObject{
		"a":  IRInt(1),
		"A":  IRInt(2),
		"aa": IRInt(3),
		"aA": IRInt(4),
		"Aa": IRInt(5),
		"AA": IRInt(6),
	}

	assert.Equal(t, []string{"A", "AA", "Aa", "a", "aA", "aa"}, obj.SortedKeys())
}

func TestIRObjectSortedKeysSurrogatePairs(t *testing.T) {
	// U+1F600 encodes as surrogates 0xD83D 0xDE00, which sort below U+FF61
	// in UTF-16 but above it in UTF-8.
	obj := IRObject{
		"\U0001F600": IRInt(1),
		"\uff61":     IRInt(2),
	}

	assert.Equal(t, []string{"\U0001F600", "\uff61"}, obj.SortedKeys())
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b IRValue
		want bool
	}{
		{"same ints", IRInt(1), IRInt(1), true},
		{"different ints", IRInt(1), IRInt(2), false},
		{"int vs string", IRInt(1), IRString("1"), false},
		{"nil is null", nil, IRNull{}, true},
		{"null vs false", IRNull{}, IRBool(false), false},
		{"arrays", IRArray{IRInt(1), IRString("x")}, IRArray{IRInt(1), IRString("x")}, true},
		{"array order matters", IRArray{IRInt(1), IRInt(2)}, IRArray{IRInt(2), IRInt(1)}, false},
		{"array length", IRArray{IRInt(1)}, IRArray{IRInt(1), IRInt(1)}, false},
		{"objects ignore insertion order",
			NewIRObjectFromPairs(O("a", IRInt(1)), O("b", IRBool(true))),
			NewIRObjectFromPairs(O("b", IRBool(true)), O("a", IRInt(1))), true},
		{"object missing key", IRObject{"a": IRNull{}}, IRObject{"b": IRNull{}}, false},
		{"nested", IRObject{"xs": IRArray{IRObject{"k": IRString("v")}}},
			IRObject{"xs": IRArray{IRObject{"k": IRString("v")}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
			assert.Equal(t, tt.want, Equal(tt.b, tt.a))
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := IRObject{"items": IRArray{IRString("a")}}
	cp := Clone(orig).(IRObject)

	cp["items"].(IRArray)[0] = IRString("changed")
	cp["extra"] = IRInt(1)

	assert.Equal(t, IRString("a"), orig["items"].(IRArray)[0])
	assert.NotContains(t, orig, "extra")
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNull, KindOf(nil))
	assert.Equal(t, KindNull, KindOf(IRNull{}))
	assert.Equal(t, KindString, KindOf(IRString("")))
	assert.Equal(t, KindInt, KindOf(IRInt(0)))
	assert.Equal(t, KindBool, KindOf(IRBool(false)))
	assert.Equal(t, KindArray, KindOf(IRArray{}))
	assert.Equal(t, KindObject, KindOf(IRObject{}))
}

func TestUnmarshalIRValue(t *testing.T) {
	v, err := UnmarshalIRValue([]byte(`{"a":[1,null,"x"],"b":true}`))
	require.NoError(t, err)

	want := IRObject{
		"a": IRArray{IRInt(1), IRNull{}, IRString("x")},
		"b": IRBool(true),
	}
	assert.True(t, Equal(want, v), "got %#v", v)
}

func TestUnmarshalIRValueRejectsFloats(t *testing.T) {
	_, err := UnmarshalIRValue([]byte(`{"price": 1.5}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are not allowed")

	_, err = UnmarshalIRValue([]byte(`1e3`))
	require.Error(t, err)
}

func TestFromGo(t *testing.T) {
	v, err := FromGo(map[string]any{
		"n":    3,
		"f":    float64(4),
		"s":    "x",
		"list": []any{true, nil},
	})
	require.NoError(t, err)

	want := IRObject{
		"n":    IRInt(3),
		"f":    IRInt(4),
		"s":    IRString("x"),
		"list": IRArray{IRBool(true), IRNull{}},
	}
	assert.True(t, Equal(want, v))

	_, err = FromGo(2.5)
	assert.Error(t, err)

	_, err = FromGo(struct{}{})
	assert.Error(t, err)
}

func TestToGo(t *testing.T) {
	got := ToGo(IRObject{"n": IRInt(2), "xs": IRArray{IRString("a"), IRNull{}}})

	assert.Equal(t, map[string]any{"n": int64(2), "xs": []any{"a", nil}}, got)
}

func TestIRObjectMarshalJSONSortsKeys(t *testing.T) {
	data, err := json.Marshal(IRObject{"zebra": IRInt(1), "apple": IRInt(2)})
	require.NoError(t, err)

	assert.Equal(t, `{"apple":2,"zebra":1}`, string(data))
}
