package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnectSucceedsAfterFailures(t *testing.T) {
	calls := 0
	v, err := Connect(context.Background(), "test", 5, time.Millisecond, func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("not yet")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", v)
	require.Equal(t, 3, calls)
}

func TestPingGivesUp(t *testing.T) {
	calls := 0
	err := Ping(context.Background(), "test", 2, time.Millisecond, func() error {
		calls++
		return errors.New("down")
	})
	require.EqualError(t, err, "down")
	require.Equal(t, 2, calls)
}
