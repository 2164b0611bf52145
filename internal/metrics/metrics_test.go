package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegisterTwice(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(reservationTransitions.WithLabelValues("accepted"))
	IncTransition("accepted")
	assert.Equal(t, before+1, testutil.ToFloat64(reservationTransitions.WithLabelValues("accepted")))

	before = testutil.ToFloat64(bookingConflicts.WithLabelValues("create"))
	IncConflict("create")
	assert.Equal(t, before+1, testutil.ToFloat64(bookingConflicts.WithLabelValues("create")))

	before = testutil.ToFloat64(httpRequests.WithLabelValues("/v1/items"))
	IncHTTP("/v1/items")
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequests.WithLabelValues("/v1/items")))

	ObserveCoordinator("create", 0.01)
	assert.Equal(t, 1, testutil.CollectAndCount(coordinatorDuration))
}
