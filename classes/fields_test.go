package classes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldsValidate(t *testing.T) {
	ok := Fields{
		{Name: "count", Kind: Int},
		{Name: "pose", Kind: Buffer, Capacity: 1200},
	}
	assert.NoError(t, ok.Validate())
	assert.Equal(t, 2, ok.Find("pose"))
	assert.Equal(t, -1, ok.Find("nope"))
	f, found := ok.At(1)
	assert.True(t, found)
	assert.Equal(t, "count", f.Name)
	_, found = ok.At(3)
	assert.False(t, found)

	bad := []Fields{
		{{Name: "", Kind: Int}},
		{{Name: "a b", Kind: Int}},
		{{Name: "x", Kind: 'Z'}},
		{{Name: "buf", Kind: Buffer}},
		{{Name: "n", Kind: Int, Capacity: 4}},
		{{Name: "a", Kind: Int}, {Name: "a", Kind: Float}},
	}
	for _, fs := range bad {
		assert.Error(t, fs.Validate(), fs)
	}
}

func TestClassRoundTrip(t *testing.T) {
	fs := Fields{
		{Name: "open", Kind: Bool},
		{Name: "speed", Kind: Float},
		{Name: "state", Kind: Enum},
		{Name: "pose", Kind: Buffer, Capacity: 1200},
	}
	parsed, err := ParseClass(fs.Encode())
	require.NoError(t, err)
	assert.Equal(t, fs, parsed)

	_, err = ParseClass(fs.Encode()[:7])
	assert.ErrorIs(t, err, ErrBadClass)
}

func TestParseFields(t *testing.T) {
	fs, err := ParseFields([]string{"hp:int", "open:bool", "pose:buffer:1200"})
	require.NoError(t, err)
	assert.Equal(t, Fields{
		{Name: "hp", Kind: Int},
		{Name: "open", Kind: Bool},
		{Name: "pose", Kind: Buffer, Capacity: 1200},
	}, fs)

	for _, bad := range [][]string{
		{"hp"},
		{"hp:integer"},
		{"pose:buffer"},
		{"pose:buffer:lots"},
		{"hp:int:4"},
		{"a:int", "a:float"},
	} {
		_, err = ParseFields(bad)
		assert.ErrorIs(t, err, ErrBadClass, bad)
	}
}
