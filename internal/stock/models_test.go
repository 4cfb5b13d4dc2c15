package stock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReservationTransitions(t *testing.T) {
	// held boleh ke mana saja, state lainnya terminal
	for _, to := range []ReservationState{StateConfirmed, StateReleased, StateExpired} {
		assert.True(t, CanTransition(StateHeld, to), "held -> %s", to)
	}
	for _, from := range []ReservationState{StateConfirmed, StateReleased, StateExpired} {
		for _, to := range []ReservationState{StateHeld, StateConfirmed, StateReleased, StateExpired} {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}
