package portal

import (
	"regexp"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
)

func TestSessionHandle(t *testing.T) {
	path, ok := sessionHandle(map[string]dbus.Variant{
		"session_handle": dbus.MakeVariant("/org/freedesktop/portal/desktop/session/1_42/trayfold_x"),
	})
	assert.True(t, ok)
	assert.Equal(t, dbus.ObjectPath("/org/freedesktop/portal/desktop/session/1_42/trayfold_x"), path)

	path, ok = sessionHandle(map[string]dbus.Variant{
		"session_handle": dbus.MakeVariant(dbus.ObjectPath("/s")),
	})
	assert.True(t, ok)
	assert.Equal(t, dbus.ObjectPath("/s"), path)

	_, ok = sessionHandle(map[string]dbus.Variant{})
	assert.False(t, ok)

	_, ok = sessionHandle(map[string]dbus.Variant{
		"session_handle": dbus.MakeVariant(uint32(1)),
	})
	assert.False(t, ok)
}

func TestRequestTokenCharset(t *testing.T) {
	// Portal handle tokens must stay within [A-Za-z0-9_].
	valid := regexp.MustCompile(`^[A-Za-z0-9_]+$`)

	for i := 0; i < 8; i++ {
		token := requestToken()
		assert.Regexp(t, valid, token)
	}
}
