package abr

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_Notify(t *testing.T) {
	var failures []Result
	n := NewNotifier(zerolog.Nop(), func(res Result) { failures = append(failures, res) })

	var got []ID
	n.Subscribe(func(ID) { panic("listener bug") })
	n.Subscribe(func(index ID) { got = append(got, index) })

	assert.NotPanics(t, func() { n.Notify(4) })
	assert.Equal(t, []ID{4}, got, "a failing listener must not block the others")
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0].Err, ErrCallbackPanic)
}

func TestNotifier_no_listeners(t *testing.T) {
	n := NewNotifier(zerolog.Nop(), nil)
	assert.NotPanics(t, func() { n.Notify(1) })
}
