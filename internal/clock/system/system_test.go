package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webharvest/harvester/internal/content"
)

func TestClockIsUTC(t *testing.T) {
	t.Parallel()

	var clk content.Clock = New()
	now := clk.Now()
	require.Equal(t, time.UTC, now.Location())
	require.WithinDuration(t, time.Now().UTC(), now, time.Second)
}
