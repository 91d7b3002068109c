package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/atmx/arena-engine/internal/competition"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{competition.ErrInvalidOrder, http.StatusBadRequest},
		{competition.ErrNotActive, http.StatusConflict},
		{competition.ErrNotAuthorized, http.StatusForbidden},
		{competition.ErrNotFound, http.StatusNotFound},
		{competition.ErrAlreadyExists, http.StatusConflict},
		{competition.ErrDuplicateParticipant, http.StatusConflict},
		{competition.ErrCapacityExceeded, http.StatusConflict},
		{competition.ErrHalted, http.StatusServiceUnavailable},
		{fmt.Errorf("leaderboard: %w", competition.ErrHalted), http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
