package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grove/internal/ir"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		in   Intent
		want string
	}{
		{"empty", nil, ""},
		{"names only", New(Named("tabs", ""), Named("profile", "")), "/tabs/profile"},
		{"payload", New(Named("item", "42")), "/item;42"},
		{"reserved chars escaped", New(Named("a/b", "x;y/z")), "/a%2Fb;x%3By%2Fz"},
		{"spaces and unicode", New(Named("open doc", "é")), "/open%20doc;%C3%A9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Encode(tt.in))
		})
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	in := New(
		Named("tabs", "settings"),
		Step("blob", []byte{0x00, 0xff, '/', ';'}),
		Named("done", ""),
	)

	out, err := Decode(Encode(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeLenient(t *testing.T) {
	out, err := Decode("tabs//item;7/")
	require.NoError(t, err)
	assert.Equal(t, []string{"tabs", "item"}, out.Names())
	assert.Equal(t, []byte("7"), out[1].Payload)
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode("/;payload")
	assert.ErrorIs(t, err, ErrEmptyStepName)

	_, err = Decode("/bad%zz")
	assert.Error(t, err)
}

func TestHeadRest(t *testing.T) {
	i := New(Named("a", ""), Named("b", ""))

	head, ok := i.Head()
	require.True(t, ok)
	assert.Equal(t, "a", head.Name)
	assert.Equal(t, []string{"b"}, i.Rest().Names())

	_, ok = Intent(nil).Head()
	assert.False(t, ok)
	assert.Nil(t, Intent(nil).Rest())
}

func TestRecordRoundTrip(t *testing.T) {
	i := New(Named("a", "1"), Named("b", ""))

	rec := i.Record(ir.RootID)
	require.NotNil(t, rec)
	assert.Equal(t, ir.RootID, rec.From)
	assert.Equal(t, i, FromRecord(rec))

	assert.Nil(t, Intent(nil).Record(ir.RootID))
	assert.Nil(t, FromRecord(nil))
}

func TestCloneIsDeep(t *testing.T) {
	i := New(Named("a", "xy"))
	c := i.Clone()
	c[0].Payload[0] = 'z'

	assert.Equal(t, "xy", string(i[0].Payload))
	assert.Nil(t, Intent(nil).Clone())
}
