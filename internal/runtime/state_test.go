package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateCreated:      "Created",
		StateInstantiated: "Instantiated",
		StateReady:        "Ready",
		StateStopped:      "Stopped",
		StateExited:       "Exited",
		State(99):         "Unknown",
	}
	for s, want := range cases {
		assert.Equal(t, want, s.String())
	}
}

func TestExitStatusString(t *testing.T) {
	cases := map[ExitStatus]string{
		ExitOk:            "Ok",
		ExitBadCode:       "BadCode",
		ExitInternalError: "InternalError",
		ExitStatus(99):    "Unknown",
	}
	for s, want := range cases {
		assert.Equal(t, want, s.String())
	}
}
