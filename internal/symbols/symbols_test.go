package symbols

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdbg-dev/mdbg/internal/domain"
	"github.com/mdbg-dev/mdbg/internal/nativedbg"
)

func testIndex(t *testing.T) *Index {
	t.Helper()
	ix := NewIndex()
	ix.AddModule(nativedbg.ModuleInfo{
		Path:       "/opt/app/Orders.dll",
		Name:       "Orders.dll",
		HasSymbols: true,
		Symbols: &nativedbg.SymbolTable{Lines: []nativedbg.LineEntry{
			{MethodToken: 0x06000001, ILOffset: 0, File: "/src/app/Orders.cs", Line: 10},
			{MethodToken: 0x06000001, ILOffset: 4, File: "/src/app/Orders.cs", Line: 11},
			{MethodToken: 0x06000001, ILOffset: 12, File: "/src/app/Orders.cs", Line: 14},
			{MethodToken: 0x06000002, ILOffset: 0, File: "/src/app/Orders.cs", Line: 30},
		}},
	})
	ix.AddModule(nativedbg.ModuleInfo{
		Path:       "/opt/app/Stripped.dll",
		Name:       "Stripped.dll",
		HasSymbols: false,
	})
	return ix
}

func TestResolve(t *testing.T) {
	ix := testIndex(t)

	t.Run("exact offset", func(t *testing.T) {
		loc := &domain.SourceLocation{Module: "/opt/app/Orders.dll", MethodToken: 0x06000001, ILOffset: 4}
		require.True(t, ix.Resolve(loc))
		assert.Equal(t, "/src/app/Orders.cs", loc.File)
		assert.Equal(t, 11, loc.Line)
	})

	t.Run("offset between entries picks preceding", func(t *testing.T) {
		loc := &domain.SourceLocation{Module: "/opt/app/Orders.dll", MethodToken: 0x06000001, ILOffset: 9}
		require.True(t, ix.Resolve(loc))
		assert.Equal(t, 11, loc.Line)
	})

	t.Run("module by basename", func(t *testing.T) {
		loc := &domain.SourceLocation{Module: "Orders.dll", MethodToken: 0x06000002, ILOffset: 0}
		require.True(t, ix.Resolve(loc))
		assert.Equal(t, 30, loc.Line)
	})

	t.Run("unknown method", func(t *testing.T) {
		loc := &domain.SourceLocation{Module: "/opt/app/Orders.dll", MethodToken: 0x06000099, ILOffset: 0}
		assert.False(t, ix.Resolve(loc))
	})

	t.Run("module without symbols", func(t *testing.T) {
		loc := &domain.SourceLocation{Module: "/opt/app/Stripped.dll", MethodToken: 0x06000001, ILOffset: 0}
		assert.False(t, ix.Resolve(loc))
	})

	t.Run("nil location", func(t *testing.T) {
		assert.False(t, ix.Resolve(nil))
	})
}

func TestFindLine(t *testing.T) {
	ix := testIndex(t)

	t.Run("exact line", func(t *testing.T) {
		p, ok := ix.FindLine("/src/app/Orders.cs", 11)
		require.True(t, ok)
		assert.Equal(t, "/opt/app/Orders.dll", p.ModulePath)
		assert.Equal(t, uint32(0x06000001), p.MethodToken)
		assert.Equal(t, uint32(4), p.ILOffset)
		assert.Equal(t, 11, p.Line)
	})

	t.Run("slides to next line with code", func(t *testing.T) {
		p, ok := ix.FindLine("/src/app/Orders.cs", 12)
		require.True(t, ok)
		assert.Equal(t, 14, p.Line)
		assert.Equal(t, uint32(12), p.ILOffset)
	})

	t.Run("basename match", func(t *testing.T) {
		p, ok := ix.FindLine("Orders.cs", 10)
		require.True(t, ok)
		assert.Equal(t, uint32(0), p.ILOffset)
	})

	t.Run("partial name does not match", func(t *testing.T) {
		_, ok := ix.FindLine("ders.cs", 10)
		assert.False(t, ok)
	})

	t.Run("line past method end", func(t *testing.T) {
		_, ok := ix.FindLine("/src/app/Orders.cs", 99)
		assert.False(t, ok)
	})
}

func TestRemoveModule(t *testing.T) {
	ix := testIndex(t)
	ix.RemoveModule("/opt/app/Orders.dll")

	_, ok := ix.FindLine("/src/app/Orders.cs", 10)
	assert.False(t, ok)

	loc := &domain.SourceLocation{Module: "/opt/app/Orders.dll", MethodToken: 0x06000001, ILOffset: 0}
	assert.False(t, ix.Resolve(loc))
}
