package btree

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func seedStore(t *testing.T, s *Store, n int) []string {
	ctx := context.Background()
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("k-%04d", i)
		keys[i] = k
		require.NoError(t, s.Insert(ctx, 1, []byte(k), []byte(fmt.Sprintf("v-%04d", i)), true))
	}
	return keys
}

func collectForward(t *testing.T, c *Cursor) []string {
	var got []string
	for {
		ok, err := c.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, string(c.Key()))
	}
	return got
}

func TestCursorForwardFullScan(t *testing.T) {
	s := newTestStore(t)
	keys := seedStore(t, s, 60)

	c := s.Scan(context.Background(), 1, nil, true, nil, true, true, true)
	got := collectForward(t, c)
	require.Equal(t, keys, got)
}

func TestCursorForwardBoundedRangeInclusive(t *testing.T) {
	s := newTestStore(t)
	seedStore(t, s, 30)

	c := s.Scan(context.Background(), 1, []byte("k-0005"), true, []byte("k-0010"), true, true, true)
	got := collectForward(t, c)
	require.Equal(t, []string{"k-0005", "k-0006", "k-0007", "k-0008", "k-0009", "k-0010"}, got)
}

func TestCursorForwardBoundedRangeExclusive(t *testing.T) {
	s := newTestStore(t)
	seedStore(t, s, 30)

	c := s.Scan(context.Background(), 1, []byte("k-0005"), false, []byte("k-0010"), false, true, true)
	got := collectForward(t, c)
	require.Equal(t, []string{"k-0006", "k-0007", "k-0008", "k-0009"}, got)
}

func TestCursorSkipsGhostedKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedStore(t, s, 10)
	require.NoError(t, s.Remove(ctx, 1, []byte("k-0003"), true))
	require.NoError(t, s.Remove(ctx, 1, []byte("k-0007"), true))

	c := s.Scan(ctx, 1, nil, true, nil, true, true, true)
	got := collectForward(t, c)
	require.NotContains(t, got, "k-0003")
	require.NotContains(t, got, "k-0007")
	require.Len(t, got, 8)
}

func TestCursorBackwardWithinSingleLeaf(t *testing.T) {
	s := newTestStore(t)
	seedStore(t, s, 5)

	c := s.Scan(context.Background(), 1, nil, true, nil, true, false, true)
	var got []string
	for {
		ok, err := c.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, string(c.Key()))
	}
	require.Equal(t, []string{"k-0004", "k-0003", "k-0002", "k-0001", "k-0000"}, got)
}
