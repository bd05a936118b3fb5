package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern   string
		eventType string
		want      bool
	}{
		{"agent.started", "agent.started", true},
		{"agent.started", "agent.stopped", false},
		{"*", "anything.at.all", true},
		{"agent.*", "agent.started", true},
		{"agent.*", "agent.tool.done", true},
		{"agent.*", "agent", false},
		{"agent.*", "workflow.started", false},
		{"*.started", "agent.started", true},
		{"*.started", "agent.tool.started", false},
		{"agent.*.done", "agent.tool.done", true},
		{"agent.*.done", "agent.tool.failed", false},
		{"agent.tool.*", "agent.tool", false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, MatchPattern(tc.pattern, tc.eventType),
			"pattern %q against %q", tc.pattern, tc.eventType)
	}
}
