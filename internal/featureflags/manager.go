// Package featureflags evaluates the FEATURE_FLAGS setting.
package featureflags

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
)

// Known flags.
const (
	// BotAPI gates the chat bot endpoints under /api/discord/bot.
	BotAPI = "bot_api"
	// AuditStream gates the live audit WebSocket; percentage rollout is per staff account.
	AuditStream = "audit_stream"
)

// defaults apply when a known flag is absent from the configured list.
var defaults = map[string]string{
	BotAPI:      "on",
	AuditStream: "on",
}

// Manager evaluates feature flags defined as "name=value" pairs, e.g.
// "bot_api=on,audit_stream=25%". Values are on/off/true/false/1/0 or N%.
type Manager struct {
	flags map[string]string
}

// NewManager creates a feature-flag manager from a comma-separated config string.
func NewManager(raw string) *Manager {
	out := make(map[string]string, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}

	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key, value = normalize(key), normalize(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}

	return &Manager{flags: out}
}

// Enabled reports whether name is switched on for everyone. Partial
// rollouts count as off here; use EnabledFor when a user is known.
func (m *Manager) Enabled(name string) bool {
	on, pct := m.eval(name)
	return on || pct >= 100
}

// EnabledFor evaluates name for one account. Percentage rollouts bucket
// accounts deterministically so a user keeps the same answer.
func (m *Manager) EnabledFor(name string, userID uint) bool {
	on, pct := m.eval(name)
	switch {
	case on || pct >= 100:
		return true
	case pct <= 0 || userID == 0:
		return false
	default:
		return rolloutBucket(name, userID) < pct
	}
}

func (m *Manager) eval(name string) (on bool, pct int) {
	if m == nil {
		return false, 0
	}
	value, ok := m.flags[normalize(name)]
	if !ok {
		return false, 0
	}
	switch value {
	case "on", "true", "1":
		return true, 0
	case "off", "false", "0":
		return false, 0
	}
	if p, found := strings.CutSuffix(value, "%"); found {
		n, err := strconv.Atoi(p)
		if err != nil {
			return false, 0
		}
		return false, n
	}
	return false, 0
}

// Names lists configured flags in sorted order.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.flags))
	for k := range m.flags {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Raw returns a copy of configured flags.
func (m *Manager) Raw() map[string]string {
	out := make(map[string]string, len(m.flags))
	for k, v := range m.flags {
		out[k] = v
	}
	return out
}

// Snapshot returns evaluated flag status for one user.
func (m *Manager) Snapshot(userID uint) map[string]bool {
	out := make(map[string]bool, len(m.flags))
	for name := range m.flags {
		out[name] = m.EnabledFor(name, userID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name string, userID uint) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(fmt.Sprintf("%s:%d", normalize(name), userID)))
	return int(h.Sum32() % 100)
}
