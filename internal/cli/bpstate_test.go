package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakpointState_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "web.dll.json")

	saved := []savedBreakpoint{
		{File: "/src/app/Program.cs", Line: 12},
		{File: "/src/app/Orders.cs", Line: 40},
	}
	require.NoError(t, saveBreakpointState(path, saved, "web.dll"))

	st, err := loadBreakpointState(path)
	require.NoError(t, err)
	require.NotNil(t, st)

	assert.Equal(t, 1, st.Version)
	assert.Equal(t, "web.dll", st.Process)
	assert.NotEmpty(t, st.SavedAt)
	assert.Equal(t, saved, st.Breakpoints)
}

func TestLoadBreakpointState_MissingFile(t *testing.T) {
	st, err := loadBreakpointState(filepath.Join(t.TempDir(), "absent.json"))
	assert.NoError(t, err)
	assert.Nil(t, st)
}

func TestLoadBreakpointState_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := loadBreakpointState(path)
	assert.Error(t, err)
}

func TestSanitizeProcessName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"orders", "orders"},
		{"/opt/app/web.dll", "web.dll"},
		{"web.dll", "web.dll"},
		{"", "process"},
		{".", "process"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeProcessName(tt.input))
		})
	}
}

func TestDefaultBreakpointStatePath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := defaultBreakpointStatePath("/opt/app/web.dll")
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(path, filepath.Join(".mdbg", "breakpoints", "web.dll.json")))

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
