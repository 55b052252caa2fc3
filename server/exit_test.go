package server

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/kuar-io/kuar/server/protocol"
)

func TestStatusFromError(t *testing.T) {
	wrap := func(kind protocol.Kind) error {
		return errors.Wrap(&protocol.Error{Kind: kind, Err: errors.New("x")}, "session")
	}
	tests := []struct {
		err    error
		status int
	}{
		{nil, NormalExit},
		{wrap(protocol.KindHandshake), KeyInitError},
		{wrap(protocol.KindHandshakeSize), KeyInitSizeError},
		{wrap(protocol.KindRead), RecvError},
		{wrap(protocol.KindCiphertext), RecvError},
		{wrap(protocol.KindWrite), SendError},
		{wrap(protocol.KindPadding), NormalExit},
		{protocol.ErrClosed, RecvError},
		{ErrInvalidOption, InvalidMainOption},
		{errors.New("disk full"), InternalError},
	}
	for _, tc := range tests {
		require.Equal(t, tc.status, StatusFromError(tc.err), "%v", tc.err)
	}
}

func TestStatusValues(t *testing.T) {
	require.Equal(t, 3585, KeyInitError)
	require.Equal(t, 3586, KeyInitSizeError)
	require.Equal(t, 3587, RecvError)
	require.Equal(t, 3588, SendError)
	require.Equal(t, 3589, InvalidMainOption)
}
