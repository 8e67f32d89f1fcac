// File: internal/protocol/registry_test.go
package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRegistry() *Registry {
	return NewRegistry(zap.NewNop())
}

// buildTree registers browser -> context -> page -> frame and returns the
// registry.
func buildTree(t *testing.T) *Registry {
	t.Helper()
	r := newTestRegistry()
	_, err := r.Create("", "browser-1", "Browser", nil)
	require.NoError(t, err)
	_, err = r.Create("browser-1", "ctx-1", "BrowserContext", nil)
	require.NoError(t, err)
	_, err = r.Create("ctx-1", "page-1", "Page", nil)
	require.NoError(t, err)
	_, err = r.Create("page-1", "frame-1", "Frame", nil)
	require.NoError(t, err)
	return r
}

func TestRegistryCreateAndResolve(t *testing.T) {
	r := buildTree(t)

	ch, err := r.Resolve("page-1")
	require.NoError(t, err)
	assert.Equal(t, KindPage, ch.Kind())
	assert.Equal(t, "ctx-1", ch.Parent().GUID())
	assert.False(t, ch.Detached())
	assert.Equal(t, 4, r.Size())
}

func TestRegistryRejectsBadCreates(t *testing.T) {
	t.Run("unknown kind", func(t *testing.T) {
		r := newTestRegistry()
		_, err := r.Create("", "x", "Gizmo", nil)
		var uk *UnknownKindError
		require.ErrorAs(t, err, &uk)
		assert.Equal(t, "Gizmo", uk.Tag)
	})

	t.Run("duplicate guid", func(t *testing.T) {
		r := newTestRegistry()
		_, err := r.Create("", "b", "Browser", nil)
		require.NoError(t, err)
		_, err = r.Create("", "b", "Browser", nil)
		require.Error(t, err)
		// The original channel survives.
		_, err = r.Resolve("b")
		assert.NoError(t, err)
	})

	t.Run("unknown parent", func(t *testing.T) {
		r := newTestRegistry()
		_, err := r.Create("ghost", "p", "Page", nil)
		var uc *UnknownChannelError
		require.ErrorAs(t, err, &uc)
		assert.Equal(t, "ghost", uc.GUID)
	})
}

func TestRegistryResolveUnknown(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Resolve("nope")
	var uc *UnknownChannelError
	require.ErrorAs(t, err, &uc)
}

func TestRegistryCascadeDisposal(t *testing.T) {
	r := buildTree(t)

	var order []string
	r.SetDisposeHook(func(ch *Channel) {
		order = append(order, ch.GUID())
		assert.True(t, ch.Detached())
	})

	require.NoError(t, r.Dispose("ctx-1"))

	// Children are notified before parents.
	require.Equal(t, []string{"frame-1", "page-1", "ctx-1"}, order)

	for _, guid := range order {
		_, err := r.Resolve(guid)
		assert.Error(t, err, "channel %s should be gone", guid)
	}
	_, err := r.Resolve("browser-1")
	assert.NoError(t, err)
	assert.Equal(t, 1, r.Size())
}

func TestRegistryDisposeUnknown(t *testing.T) {
	r := newTestRegistry()
	var uc *UnknownChannelError
	require.ErrorAs(t, r.Dispose("nope"), &uc)
}

func TestRegistryDisposeAll(t *testing.T) {
	r := buildTree(t)

	disposed := make(map[string]bool)
	r.SetDisposeHook(func(ch *Channel) { disposed[ch.GUID()] = true })

	r.DisposeAll()

	assert.Equal(t, 0, r.Size())
	assert.Len(t, disposed, 4)
}

func TestChannelDetachedErr(t *testing.T) {
	r := buildTree(t)
	ch, err := r.Resolve("frame-1")
	require.NoError(t, err)

	require.NoError(t, r.Dispose("frame-1"))

	assert.True(t, ch.Detached())
	var de *DetachedError
	require.ErrorAs(t, ch.DetachedErr(), &de)
	assert.Equal(t, "frame-1", de.GUID)
	assert.Equal(t, KindFrame, de.Kind)
}
