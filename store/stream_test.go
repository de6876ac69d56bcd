package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSliceStreamAndCollect(t *testing.T) {
	data := []byte("hello world")
	got := CollectStream(SliceStream(data, 4))
	assert.Equal(t, data, got)

	gotWhole := CollectStream(SliceStream(data, 0))
	assert.Equal(t, data, gotWhole)
}

func TestSliceStreamEarlyBreak(t *testing.T) {
	data := []byte("abcdefgh")
	var seen [][]byte
	SliceStream(data, 2)(func(chunk []byte) bool {
		seen = append(seen, append([]byte(nil), chunk...))
		return len(seen) < 2
	})
	assert.Len(t, seen, 2)
}

func TestErrStreamCapturesTerminalError(t *testing.T) {
	boom := errors.New("read failed")
	es := NewErrStream(func(yield func([]byte) bool) error {
		yield([]byte("partial"))
		return boom
	})
	got := CollectStream(es.Stream())
	assert.Equal(t, []byte("partial"), got)
	assert.ErrorIs(t, es.Err(), boom)
}
