package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFutureWaitReturnsResultOnComplete(t *testing.T) {
	f := newFuture()

	go f.complete([]byte("ok"), nil)

	result, err := f.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), result)
}

func TestFutureCompleteIsIdempotent(t *testing.T) {
	f := newFuture()

	f.complete([]byte("first"), nil)
	f.complete([]byte("second"), errors.New("ignored"))

	result, err := f.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("first"), result)
}

func TestFutureWaitRespectsContextCancellation(t *testing.T) {
	f := newFuture()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFutureDoneChannelClosesOnComplete(t *testing.T) {
	f := newFuture()

	select {
	case <-f.Done():
		t.Fatal("Done() closed before complete")
	default:
	}

	f.complete(nil, nil)

	select {
	case <-f.Done():
	default:
		t.Fatal("Done() did not close after complete")
	}
}
