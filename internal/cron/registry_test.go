package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistryKeepsOrderAndSkipsNil(t *testing.T) {
	a := &testJob{name: "outbox_retention", schedule: "0 0 1 * *"}
	b := &testJob{name: "seller_payouts", schedule: "0 0 * * *"}

	registry, err := NewRegistry(a, nil, b)
	require.NoError(t, err)

	jobs := registry.Jobs()
	require.Equal(t, []Job{a, b}, jobs)

	jobs[0] = nil
	require.NotNil(t, registry.Jobs()[0], "caller must not mutate registry state")
}

func TestRegistryRejectsDuplicatesAndBadSchedules(t *testing.T) {
	_, err := NewRegistry(&testJob{name: "payouts"}, &testJob{name: "payouts"})
	require.ErrorContains(t, err, "registered twice")

	_, err = NewRegistry(&testJob{name: "bad", schedule: "every tuesday"})
	require.ErrorContains(t, err, "invalid schedule")

	// seconds field is not accepted
	_, err = NewRegistry(&testJob{name: "six", schedule: "0 0 0 * * *"})
	require.Error(t, err)
}

func TestRegistryNextUsesUTC(t *testing.T) {
	registry, err := NewRegistry(
		&testJob{name: "seller_payouts", schedule: "0 0 * * *"},
		&testJob{name: "outbox_retention", schedule: "0 0 1 * *"},
	)
	require.NoError(t, err)

	ist := time.FixedZone("IST", 5*3600+1800)
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, ist) // 03:30 UTC

	next, ok := registry.Next("seller_payouts", now)
	require.True(t, ok)
	require.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), next)

	next, ok = registry.Next("outbox_retention", now)
	require.True(t, ok)
	require.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), next)

	_, ok = registry.Next("missing", now)
	require.False(t, ok)
}
