package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegistryPushesIncrements(t *testing.T) {
	before := testutil.ToFloat64(RegistryPushes)
	RegistryPushes.Inc()
	require.Equal(t, before+1, testutil.ToFloat64(RegistryPushes))
}

func TestLockConflictsIncrements(t *testing.T) {
	before := testutil.ToFloat64(LockConflicts)
	LockConflicts.Inc()
	require.Equal(t, before+1, testutil.ToFloat64(LockConflicts))
}

func TestTablePutConflictsLabeled(t *testing.T) {
	before := testutil.ToFloat64(TablePutConflicts.WithLabelValues("version_conflict"))
	TablePutConflicts.WithLabelValues("version_conflict").Inc()
	require.Equal(t, before+1, testutil.ToFloat64(TablePutConflicts.WithLabelValues("version_conflict")))
}
