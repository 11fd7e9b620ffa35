package app

import (
	"time"

	"eventsched/internal/dispatch"
)

func firingAt(event string, at time.Time) dispatch.Firing {
	return dispatch.Firing{
		ID:              "f-" + event,
		Group:           "main",
		Event:           event,
		ScheduledAt:     at,
		FiredAt:         at,
		Acknowledgeable: true,
	}
}
