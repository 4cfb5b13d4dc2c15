package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusReceived, StatusPreparing, true},
		{StatusReceived, StatusCancelled, true},
		{StatusReceived, StatusCompleted, false}, // tidak boleh loncat
		{StatusPreparing, StatusCompleted, true},
		{StatusPreparing, StatusCancelled, true},
		{StatusPreparing, StatusReceived, false},
		{StatusCompleted, StatusCancelled, false}, // terminal
		{StatusCancelled, StatusPreparing, false}, // terminal
		{Status("UNKNOWN"), StatusPreparing, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}
