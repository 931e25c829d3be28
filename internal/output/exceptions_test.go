package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdbg-dev/mdbg/internal/domain"
)

func exceptionEvent(typ, method string) *domain.ExceptionHit {
	return &domain.ExceptionHit{
		Type:          domain.TypeException,
		SchemaVersion: domain.SchemaVersion,
		ExceptionType: typ,
		Message:       "boom id=42",
		FirstChance:   true,
		ThreadID:      1,
		Location: &domain.SourceLocation{
			Method: method,
			Module: "/opt/app/Orders.dll",
			File:   "Order.cs",
			Line:   31,
		},
	}
}

func TestSignature(t *testing.T) {
	t.Run("type and method", func(t *testing.T) {
		ev := exceptionEvent("System.InvalidOperationException", "OrderService.Fail")
		assert.Equal(t, "System.InvalidOperationException at OrderService.Fail", Signature(ev))
	})

	t.Run("module fallback when method is unknown", func(t *testing.T) {
		ev := exceptionEvent("System.IO.IOException", "")
		assert.Equal(t, "System.IO.IOException in Orders.dll", Signature(ev))
	})

	t.Run("bare type without location", func(t *testing.T) {
		ev := &domain.ExceptionHit{ExceptionType: "System.OutOfMemoryException"}
		assert.Equal(t, "System.OutOfMemoryException", Signature(ev))
	})
}

func TestNewExceptionStore(t *testing.T) {
	t.Run("default path under home", func(t *testing.T) {
		store := NewExceptionStore("")
		require.NotNil(t, store)
		assert.Contains(t, store.path, ".mdbg")
		assert.Contains(t, store.path, "exceptions.json")
	})

	t.Run("custom path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "history.json")
		store := NewExceptionStore(path)
		require.NotNil(t, store)
		assert.Equal(t, path, store.path)
	})

	t.Run("starts empty without a file", func(t *testing.T) {
		store := NewExceptionStore(filepath.Join(t.TempDir(), "missing.json"))
		assert.Equal(t, 0, store.Count())
	})
}

func TestExceptionStoreRecord(t *testing.T) {
	store := NewExceptionStore(filepath.Join(t.TempDir(), "history.json"))

	t.Run("returns true for a new signature", func(t *testing.T) {
		assert.True(t, store.Record("sig-a", 5))
		assert.Equal(t, 1, store.Count())
	})

	t.Run("returns false for an existing signature", func(t *testing.T) {
		assert.False(t, store.Record("sig-a", 3))
		assert.Equal(t, 1, store.Count())
	})

	t.Run("accumulates total hits", func(t *testing.T) {
		rec := store.Get("sig-a")
		require.NotNil(t, rec)
		assert.Equal(t, 8, rec.TotalHits)
	})

	t.Run("tracks first and last seen", func(t *testing.T) {
		rec := store.Get("sig-a")
		require.NotNil(t, rec)
		assert.False(t, rec.FirstSeen.IsZero())
		assert.False(t, rec.LastSeen.Before(rec.FirstSeen))
	})
}

func TestExceptionStoreIsKnown(t *testing.T) {
	store := NewExceptionStore(filepath.Join(t.TempDir(), "history.json"))

	assert.False(t, store.IsKnown("sig-x"))
	store.Record("sig-x", 1)
	assert.True(t, store.IsKnown("sig-x"))
}

func TestExceptionStoreAllSortsByHits(t *testing.T) {
	store := NewExceptionStore(filepath.Join(t.TempDir(), "history.json"))
	store.Record("rare", 1)
	store.Record("common", 9)
	store.Record("middling", 4)

	all := store.All()
	require.Len(t, all, 3)
	assert.Equal(t, "common", all[0].Signature)
	assert.Equal(t, "middling", all[1].Signature)
	assert.Equal(t, "rare", all[2].Signature)
}

func TestExceptionStoreClear(t *testing.T) {
	store := NewExceptionStore(filepath.Join(t.TempDir(), "history.json"))
	store.Record("sig-a", 1)
	store.Record("sig-b", 2)

	store.Clear()
	assert.Equal(t, 0, store.Count())
}

func TestExceptionStoreSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exceptions.json")

	store := NewExceptionStore(path)
	store.Record("System.NullReferenceException at OrderService.Process", 5)
	store.Record("System.TimeoutException at Gateway.Send", 3)
	require.NoError(t, store.Save())

	_, err := os.Stat(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var file historyFile
	require.NoError(t, json.Unmarshal(data, &file))
	assert.Equal(t, 1, file.Version)
	assert.Len(t, file.Signatures, 2)

	reloaded := NewExceptionStore(path)
	assert.Equal(t, 2, reloaded.Count())
	assert.True(t, reloaded.IsKnown("System.NullReferenceException at OrderService.Process"))

	rec := reloaded.Get("System.NullReferenceException at OrderService.Process")
	require.NotNil(t, rec)
	assert.Equal(t, 5, rec.TotalHits)
}

func TestExceptionStoreLoadNonexistent(t *testing.T) {
	store := NewExceptionStore(filepath.Join(t.TempDir(), "nope", "exceptions.json"))
	assert.NoError(t, store.Load())
	assert.Equal(t, 0, store.Count())
}

func TestExceptionStoreAnnotate(t *testing.T) {
	store := NewExceptionStore(filepath.Join(t.TempDir(), "history.json"))
	known := exceptionEvent("System.InvalidOperationException", "OrderService.Fail")
	store.Record(Signature(known), 10)

	t.Run("known signature", func(t *testing.T) {
		ann := store.Annotate(known)
		assert.True(t, ann.Known)
		assert.Equal(t, 10, ann.Occurrences)
		assert.NotNil(t, ann.FirstSeen)
		assert.Equal(t, Signature(known), ann.Signature)
	})

	t.Run("new signature", func(t *testing.T) {
		ann := store.Annotate(exceptionEvent("System.ArgumentNullException", "Cart.Add"))
		assert.False(t, ann.Known)
		assert.Equal(t, 0, ann.Occurrences)
		assert.Nil(t, ann.FirstSeen)
	})

	t.Run("does not record", func(t *testing.T) {
		assert.Equal(t, 1, store.Count())
	})
}

func TestExceptionStoreObserve(t *testing.T) {
	store := NewExceptionStore(filepath.Join(t.TempDir(), "history.json"))
	ev := exceptionEvent("System.InvalidOperationException", "OrderService.Fail")
	store.Record(Signature(ev), 5)

	t.Run("existing signature", func(t *testing.T) {
		ann := store.Observe(ev)
		assert.True(t, ann.Known)
		assert.Equal(t, 6, ann.Occurrences)
		assert.NotNil(t, ann.FirstSeen)
	})

	t.Run("new signature", func(t *testing.T) {
		ann := store.Observe(exceptionEvent("System.ArgumentNullException", "Cart.Add"))
		assert.False(t, ann.Known)
		assert.Equal(t, 1, ann.Occurrences)
		assert.Equal(t, 2, store.Count())
		assert.True(t, store.IsKnown("System.ArgumentNullException at Cart.Add"))
	})
}

func TestExceptionStoreConcurrency(t *testing.T) {
	store := NewExceptionStore(filepath.Join(t.TempDir(), "history.json"))

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				store.Record("concurrent", 1)
				store.IsKnown("concurrent")
				store.Get("concurrent")
				store.Count()
			}
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	rec := store.Get("concurrent")
	require.NotNil(t, rec)
	assert.Equal(t, 1000, rec.TotalHits)
}

func TestAnnotatedExceptionJSON(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	ann := AnnotatedException{
		ExceptionHit: *exceptionEvent("System.InvalidOperationException", "OrderService.Fail"),
		Signature:    "System.InvalidOperationException at OrderService.Fail",
		Known:        true,
		Occurrences:  15,
		FirstSeen:    &now,
	}

	data, err := json.Marshal(&ann)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "exception", m["type"], "embedded event fields flatten onto the record")
	assert.Equal(t, "System.InvalidOperationException", m["exception_type"])
	assert.Equal(t, true, m["known"])
	assert.EqualValues(t, 15, m["occurrences"])
	assert.NotEmpty(t, m["signature"])
}
