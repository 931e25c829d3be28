package value

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdbg-dev/mdbg/internal/domain"
	"github.com/mdbg-dev/mdbg/internal/nativedbg"
	"github.com/mdbg-dev/mdbg/internal/nativedbg/sim"
)

type account struct {
	id     int32 `sim:"_id"`
	Name   string
	bal    float64 `sim:"Balance"`
	opened uint64  `sim:"Opened,static"`
}

type customer struct {
	account
	Email string
	Next  *customer
}

func newValueTarget(t *testing.T) *sim.Target {
	t.Helper()
	return sim.NewTarget("bank").
		Class("Bank.Account", account{}).
		Class("Bank.Customer", customer{})
}

func formatOf(t *testing.T, v nativedbg.Value) Info {
	t.Helper()
	info, err := Format(v, DefaultOptions())
	require.NoError(t, err)
	return info
}

func TestFormatScalars(t *testing.T) {
	tgt := newValueTarget(t)

	cases := []struct {
		name     string
		in       any
		display  string
		typeName string
	}{
		{"nil", nil, "null", "System.Object"},
		{"true", true, "true", "System.Boolean"},
		{"false", false, "false", "System.Boolean"},
		{"int32", int32(-42), "-42", "System.Int32"},
		{"int64", int64(9000000000), "9000000000", "System.Int64"},
		{"uint8", uint8(255), "255", "System.Byte"},
		{"uint64", uint64(18446744073709551615), "18446744073709551615", "System.UInt64"},
		{"float32", float32(1.5), "1.5", "System.Single"},
		{"float64", 0.1, "0.1", "System.Double"},
		{"char", sim.Char('A'), "'A'", "System.Char"},
		{"string", "hello", `"hello"`, "System.String"},
		{"boxed int", sim.Boxed{V: int32(7)}, "7", "System.Int32"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info := formatOf(t, tgt.ValueOf(tc.in))
			assert.Equal(t, tc.display, info.Display)
			assert.Equal(t, tc.typeName, info.TypeName)
			assert.False(t, info.Expandable)
		})
	}
}

func TestFormatStringTruncation(t *testing.T) {
	tgt := newValueTarget(t)
	long := strings.Repeat("x", 150)

	info := formatOf(t, tgt.ValueOf(long))
	require.Equal(t, `"`+strings.Repeat("x", 100)+`..."`, info.Display)

	// formatting is deterministic
	again := formatOf(t, tgt.ValueOf(long))
	assert.Equal(t, info.Display, again.Display)

	exact := formatOf(t, tgt.ValueOf(strings.Repeat("y", 100)))
	assert.Equal(t, `"`+strings.Repeat("y", 100)+`"`, exact.Display)
}

func TestFormatArrays(t *testing.T) {
	tgt := newValueTarget(t)

	t.Run("small", func(t *testing.T) {
		info := formatOf(t, tgt.ValueOf([]int32{1, 2, 3}))
		assert.Equal(t, "System.Int32[3]", info.Display)
		assert.True(t, info.Expandable)
		assert.Equal(t, 3, info.ChildCount)
	})

	t.Run("empty not expandable", func(t *testing.T) {
		info := formatOf(t, tgt.ValueOf([]int32{}))
		assert.Equal(t, "System.Int32[0]", info.Display)
		assert.False(t, info.Expandable)
	})

	t.Run("over cap", func(t *testing.T) {
		info := formatOf(t, tgt.ValueOf(make([]int32, 150)))
		assert.Equal(t, "System.Int32[100+]", info.Display)
		assert.Equal(t, 100, info.ChildCount)
	})

	t.Run("null array", func(t *testing.T) {
		var s []int32
		info := formatOf(t, tgt.ValueOf(s))
		assert.Equal(t, "null", info.Display)
	})
}

func TestFormatObjects(t *testing.T) {
	tgt := newValueTarget(t)

	t.Run("object with fields", func(t *testing.T) {
		info := formatOf(t, tgt.ValueOf(&customer{Email: "a@b.c"}))
		assert.Equal(t, "{Bank.Customer}", info.Display)
		assert.True(t, info.Expandable)
		// Email, Next plus inherited _id, Name, Balance; Opened is static
		assert.Equal(t, 5, info.ChildCount)
	})

	t.Run("only static fields not expandable", func(t *testing.T) {
		type counters struct {
			total int64 `sim:"Total,static"`
		}
		tgt.Class("Bank.Counters", counters{})
		info := formatOf(t, tgt.ValueOf(&counters{total: 9}))
		assert.Equal(t, "{Bank.Counters}", info.Display)
		assert.False(t, info.Expandable)
	})

	t.Run("typed null", func(t *testing.T) {
		var c *customer
		info := formatOf(t, tgt.ValueOf(c))
		assert.Equal(t, "null", info.Display)
		assert.Equal(t, "Bank.Customer", info.TypeName)
	})
}

func TestChildrenEnumeration(t *testing.T) {
	tgt := newValueTarget(t)

	t.Run("array elements", func(t *testing.T) {
		kids, err := Children(tgt.ValueOf([]string{"a", "b"}), DefaultOptions())
		require.NoError(t, err)
		require.Len(t, kids, 2)
		assert.Equal(t, "[0]", kids[0].Name)
		assert.Equal(t, domain.ScopeElement, kids[0].Scope)
		assert.Equal(t, `"b"`, formatOf(t, kids[1].Value).Display)
	})

	t.Run("array elements capped", func(t *testing.T) {
		opts := DefaultOptions()
		opts.MaxArrayElems = 4
		kids, err := Children(tgt.ValueOf(make([]int32, 10)), opts)
		require.NoError(t, err)
		assert.Len(t, kids, 4)
	})

	t.Run("object fields walk base chain", func(t *testing.T) {
		c := &customer{
			account: account{id: 7, Name: "Ada", bal: 12.5},
			Email:   "ada@example.com",
		}
		kids, err := Children(tgt.ValueOf(c), DefaultOptions())
		require.NoError(t, err)

		byName := map[string]nativedbg.Value{}
		for _, k := range kids {
			assert.Equal(t, domain.ScopeField, k.Scope)
			byName[k.Name] = k.Value
		}
		require.Len(t, byName, 5)
		assert.Equal(t, "7", formatOf(t, byName["_id"]).Display)
		assert.Equal(t, `"Ada"`, formatOf(t, byName["Name"]).Display)
		assert.Equal(t, "12.5", formatOf(t, byName["Balance"]).Display)
		assert.Equal(t, `"ada@example.com"`, formatOf(t, byName["Email"]).Display)
		assert.NotContains(t, byName, "Opened")
	})

	t.Run("scalar has none", func(t *testing.T) {
		kids, err := Children(tgt.ValueOf(int32(1)), DefaultOptions())
		require.NoError(t, err)
		assert.Empty(t, kids)
	})
}

func TestTreeExpansion(t *testing.T) {
	tgt := newValueTarget(t)
	c := &customer{
		account: account{id: 3, Name: "Bea"},
		Email:   "bea@example.com",
	}

	node, err := Tree("cust", "cust", domain.ScopeLocal, tgt.ValueOf(c), 2, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, "cust", node.Name)
	assert.Equal(t, "{Bank.Customer}", node.Value)
	assert.Equal(t, domain.ScopeLocal, node.Scope)
	require.Len(t, node.Children, 5)

	paths := map[string]string{}
	for _, ch := range node.Children {
		paths[ch.Name] = ch.Path
	}
	assert.Equal(t, "cust.Email", paths["Email"])
	assert.Equal(t, "cust._id", paths["_id"])
}

func TestTreeArrayPaths(t *testing.T) {
	tgt := newValueTarget(t)

	node, err := Tree("xs", "xs", domain.ScopeLocal, tgt.ValueOf([]int32{5, 6}), 1, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, node.Children, 2)
	assert.Equal(t, "xs[0]", node.Children[0].Path)
	assert.Equal(t, "5", node.Children[0].Value)
	assert.Equal(t, "xs[1]", node.Children[1].Path)
}

func TestTreeDepthZeroStops(t *testing.T) {
	tgt := newValueTarget(t)

	node, err := Tree("c", "c", domain.ScopeLocal, tgt.ValueOf(&customer{}), 0, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, node.Expandable)
	assert.Empty(t, node.Children)
}

func TestTreeCycleDetection(t *testing.T) {
	tgt := newValueTarget(t)

	t.Run("self reference", func(t *testing.T) {
		c := &customer{Email: "loop@example.com"}
		c.Next = c

		node, err := Tree("c", "c", domain.ScopeLocal, tgt.ValueOf(c), 3, DefaultOptions())
		require.NoError(t, err)

		var next *domain.VariableNode
		for _, ch := range node.Children {
			if ch.Name == "Next" {
				next = ch
			}
		}
		require.NotNil(t, next)
		assert.Equal(t, "{circular reference: Bank.Customer}", next.Value)
		assert.False(t, next.Expandable)
		assert.Empty(t, next.Children)
	})

	t.Run("two node cycle", func(t *testing.T) {
		a := &customer{Email: "a@example.com"}
		b := &customer{Email: "b@example.com"}
		a.Next, b.Next = b, a

		node, err := Tree("a", "a", domain.ScopeLocal, tgt.ValueOf(a), 4, DefaultOptions())
		require.NoError(t, err)

		cur := node
		for i := 0; i < 2; i++ {
			var next *domain.VariableNode
			for _, ch := range cur.Children {
				if ch.Name == "Next" {
					next = ch
				}
			}
			require.NotNil(t, next, "level %d", i)
			cur = next
		}
		assert.Equal(t, "{circular reference: Bank.Customer}", cur.Value)
	})

	t.Run("deep acyclic chain terminates", func(t *testing.T) {
		head := &customer{Email: "head@example.com"}
		cur := head
		for i := 0; i < 50; i++ {
			n := &customer{}
			cur.Next = n
			cur = n
		}

		node, err := Tree("head", "head", domain.ScopeLocal, tgt.ValueOf(head), 5, DefaultOptions())
		require.NoError(t, err)

		depth := 0
		for n := node; n != nil; depth++ {
			var next *domain.VariableNode
			for _, ch := range n.Children {
				if ch.Name == "Next" {
					next = ch
				}
			}
			n = next
		}
		assert.LessOrEqual(t, depth, 7)
	})
}

func TestFormatBoxedNestedUnwrap(t *testing.T) {
	tgt := newValueTarget(t)
	info := formatOf(t, tgt.ValueOf(sim.Boxed{V: sim.Boxed{V: "inner"}}))
	assert.Equal(t, `"inner"`, info.Display)
}

func TestInstanceFieldsShadowing(t *testing.T) {
	type ancestor struct {
		tag int32 `sim:"Tag"`
	}
	type descendant struct {
		ancestor
		tag int32 `sim:"Tag"`
	}
	tgt := sim.NewTarget("shadow").
		Class("App.Ancestor", ancestor{}).
		Class("App.Descendant", descendant{})

	v := tgt.ValueOf(&descendant{ancestor: ancestor{tag: 1}, tag: 2})
	ov := v.(nativedbg.ObjectValue)

	fields := instanceFields(ov.Class(), DefaultOptions().MaxBaseDepth)
	require.Len(t, fields, 1, "shadowed name collapses to the derived field")

	fv, err := ov.Field("Tag")
	require.NoError(t, err)
	assert.Equal(t, "2", formatOf(t, fv).Display)
}
