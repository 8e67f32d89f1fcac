// File: internal/engine/timeouts_test.go
package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeoutSettingsChain(t *testing.T) {
	root := NewTimeoutSettings(nil, 30*time.Second, 45*time.Second)
	ctx := NewTimeoutSettings(root, 0, 0)
	page := NewTimeoutSettings(ctx, 0, 0)

	t.Run("falls through to root defaults", func(t *testing.T) {
		assert.Equal(t, 30*time.Second, page.Timeout())
		assert.Equal(t, 45*time.Second, page.NavigationTimeout())
	})

	t.Run("context override applies to pages", func(t *testing.T) {
		ctx.SetDefaultTimeout(10 * time.Second)
		defer ctx.SetDefaultTimeout(0)

		assert.Equal(t, 10*time.Second, page.Timeout())
		// A default override also covers navigations at that level.
		assert.Equal(t, 10*time.Second, page.NavigationTimeout())
	})

	t.Run("page override wins over context", func(t *testing.T) {
		ctx.SetDefaultTimeout(10 * time.Second)
		page.SetDefaultTimeout(3 * time.Second)
		defer ctx.SetDefaultTimeout(0)
		defer page.SetDefaultTimeout(0)

		assert.Equal(t, 3*time.Second, page.Timeout())
		assert.Equal(t, 10*time.Second, ctx.Timeout())
	})

	t.Run("navigation override is independent", func(t *testing.T) {
		page.SetNavigationTimeout(time.Minute)
		defer page.SetNavigationTimeout(0)

		assert.Equal(t, time.Minute, page.NavigationTimeout())
		assert.Equal(t, 30*time.Second, page.Timeout())
	})

	t.Run("clearing restores inheritance", func(t *testing.T) {
		page.SetDefaultTimeout(5 * time.Second)
		page.SetDefaultTimeout(0)
		assert.Equal(t, 30*time.Second, page.Timeout())
	})
}

func TestTimeoutSettingsFallbackDefaults(t *testing.T) {
	root := NewTimeoutSettings(nil, 0, 0)
	assert.Equal(t, 30*time.Second, root.Timeout())
	assert.Equal(t, 30*time.Second, root.NavigationTimeout())
}
