package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNew_LoadsZone(t *testing.T) {
	t.Parallel()

	c, err := New("America/Lima")
	require.NoError(t, err)
	require.Equal(t, "America/Lima", c.Location().String())

	now := c.Now()
	require.Equal(t, c.Location(), now.Location())
	require.WithinDuration(t, time.Now(), now, time.Second)
}

func TestNew_RejectsUnknownZone(t *testing.T) {
	t.Parallel()

	_, err := New("Mars/Olympus_Mons")
	require.Error(t, err)
}
