package featureflags

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultsApplyWhenUnset(t *testing.T) {
	m := NewManager("")
	assert.True(t, m.Enabled(BotAPI))
	assert.True(t, m.EnabledFor(AuditStream, 1))
	assert.Equal(t, []string{AuditStream, BotAPI}, m.Names())
}

func TestEnabled_BooleanValues(t *testing.T) {
	m := NewManager("a=on,b=off,c=true,d=false,e=1,f=0,bot_api=OFF")

	for _, name := range []string{"a", "c", "e"} {
		assert.True(t, m.Enabled(name), name)
	}
	for _, name := range []string{"b", "d", "f", BotAPI, "missing"} {
		assert.False(t, m.Enabled(name), name)
	}
}

func TestEnabledFor_Percentage(t *testing.T) {
	m := NewManager("always=100%,never=0%,canary=25%,junk=abc%")

	assert.True(t, m.Enabled("always"))
	assert.False(t, m.EnabledFor("never", 1))
	assert.False(t, m.Enabled("canary"), "partial rollout is off without a user")
	assert.False(t, m.EnabledFor("canary", 0))
	assert.False(t, m.EnabledFor("junk", 5))

	first := m.EnabledFor("canary", 42)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, m.EnabledFor("canary", 42), "rollout must be deterministic per user")
	}

	hits := 0
	for id := uint(1); id <= 1000; id++ {
		if m.EnabledFor("canary", id) {
			hits++
		}
	}
	assert.InDelta(t, 250, hits, 80)
}

func TestParseAndSnapshot(t *testing.T) {
	m := NewManager(" bad ,X=on, y = 20% ,z=off,=on")

	raw := m.Raw()
	assert.Equal(t, "on", raw["x"])
	assert.Equal(t, "20%", raw["y"])
	assert.NotContains(t, raw, "bad")

	snap := m.Snapshot(0)
	assert.True(t, snap["x"])
	assert.False(t, snap["y"])
	assert.False(t, snap["z"])

	var nilManager *Manager
	assert.False(t, nilManager.Enabled(BotAPI))
}
