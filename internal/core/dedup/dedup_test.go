package dedup

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeKey_DifferentInputsProduceDifferentKeys(t *testing.T) {
	a := ComputeKey("apns", []byte("device-1"), []byte("hash-1"))
	b := ComputeKey("apns", []byte("device-2"), []byte("hash-1"))
	c := ComputeKey("apns", []byte("device-1"), []byte("hash-2"))
	d := ComputeKey("fcm", []byte("device-1"), []byte("hash-1"))

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)

	again := ComputeKey("apns", []byte("device-1"), []byte("hash-1"))
	assert.Equal(t, a, again, "key derivation must be deterministic")
}

func TestFilter_SeenOrAdd_FirstSeenThenDuplicate(t *testing.T) {
	f := New(5*time.Minute, clock.NewMock())
	key := ComputeKey("apns", []byte("device-1"), []byte("hash-1"))

	assert.False(t, f.SeenOrAdd(key), "first sighting is not a duplicate")
	assert.True(t, f.SeenOrAdd(key), "second sighting within the same window is a duplicate")
	assert.Equal(t, 1, f.Size())
}

func TestFilter_Rotate_MovesActiveToDecayButKeepsCoverage(t *testing.T) {
	f := New(5*time.Minute, clock.NewMock())
	key := ComputeKey("apns", []byte("device-1"), []byte("hash-1"))

	require.False(t, f.SeenOrAdd(key))
	f.Rotate()

	assert.True(t, f.SeenOrAdd(key), "an entry rotated into decay is still recognized as a duplicate")
	assert.Equal(t, 1, f.Size(), "rotation must not duplicate the entry across both sets")
}

func TestFilter_Rotate_TwiceDropsStaleEntries(t *testing.T) {
	f := New(5*time.Minute, clock.NewMock())
	key := ComputeKey("apns", []byte("device-1"), []byte("hash-1"))

	require.False(t, f.SeenOrAdd(key))
	f.Rotate() // active -> decay
	f.Rotate() // decay (with key) -> dropped, new active is empty

	assert.False(t, f.SeenOrAdd(key), "after two rotations without reseeing, the key has aged out of the window")
}

func TestFilter_Run_RotatesOnTickerAndStopsCleanly(t *testing.T) {
	mock := clock.NewMock()
	f := New(time.Minute, mock)
	key := ComputeKey("apns", []byte("device-1"), []byte("hash-1"))
	require.False(t, f.SeenOrAdd(key))

	done := make(chan struct{})
	go func() {
		f.Run()
		close(done)
	}()

	mock.Add(time.Minute)
	// give the Run goroutine a chance to observe the ticker fire.
	require.Eventually(t, func() bool {
		f.mu.Lock()
		_, inActive := f.active[key]
		f.mu.Unlock()
		return !inActive
	}, time.Second, time.Millisecond, "rotation should have moved the key out of active")

	f.Stop()
	<-done
}
