package input

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyNames(t *testing.T) {
	tests := []struct {
		name string
		code uint16
	}{
		{"a", 30},
		{"esc", 1},
		{"leftctrl", 29},
		{"space", 57},
		{"btn_left", 0x110},
		{"btn_right", 0x111},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := KeyCode(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.name, KeyName(tt.code))
		})
	}

	t.Run("evdev spelling", func(t *testing.T) {
		code, ok := KeyCode("KEY_A")
		require.True(t, ok)
		assert.Equal(t, uint16(30), code)
	})

	t.Run("unknown", func(t *testing.T) {
		_, ok := KeyCode("notakey")
		assert.False(t, ok)
		assert.Equal(t, "key_1000", KeyName(1000))
	})

	assert.Contains(t, KeyNames(), "leftshift")
}

func TestIsButton(t *testing.T) {
	assert.True(t, IsButton(mustCode(t, "btn_left")))
	assert.True(t, IsButton(mustCode(t, "btn_touch")))
	assert.False(t, IsButton(mustCode(t, "a")))
	assert.False(t, IsButton(mustCode(t, "leftmeta")))
}

func TestIsModifier(t *testing.T) {
	assert.True(t, IsModifier("leftctrl"))
	assert.True(t, IsModifier("KEY_RIGHTALT"))
	assert.False(t, IsModifier("a"))
	assert.False(t, IsModifier("ctrl"), "aliases are resolved first")
}

func TestAliasesResolve(t *testing.T) {
	aliases := DefaultAliases.Merge(map[string]string{
		"hyper":  "super",
		"Launch": "f13",
		"loop1":  "loop2",
		"loop2":  "loop1",
		"ghost":  "nothing_here",
		"esc":    "capslock",
	})

	tests := []struct {
		in      string
		want    string
		wantErr error
	}{
		{in: "ctrl", want: "leftctrl"},
		{in: "Escape", want: "capslock"},
		{in: "hyper", want: "leftmeta"},
		{in: "launch", want: "f13"},
		{in: "lmb", want: "btn_left"},
		{in: "a", want: "a"},
		{in: "KEY_B", want: "b"},
		{in: "btn_mouse", want: "btn_left"},
		{in: "loop1", wantErr: ErrAliasCycle},
		{in: "ghost", wantErr: ErrUnknownKey},
		{in: "nope", wantErr: ErrUnknownKey},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := aliases.Resolve(tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAliasesMergeDoesNotMutate(t *testing.T) {
	merged := DefaultAliases.Merge(map[string]string{"ctrl": "rightctrl"})
	assert.Equal(t, "rightctrl", merged["ctrl"])
	assert.Equal(t, "leftctrl", DefaultAliases["ctrl"])
}

func TestResolveReturnsDecodedName(t *testing.T) {
	for _, name := range []string{"screenlock", "btn_south", "btn_mouse"} {
		t.Run(name, func(t *testing.T) {
			code, ok := KeyCode(name)
			require.True(t, ok)
			got, err := DefaultAliases.Resolve(name)
			require.NoError(t, err)
			assert.Equal(t, KeyName(code), got)
		})
	}
}
