package gatewayerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNotFoundScenario(t *testing.T) {
	err := NotFoundf("failed to handle exec: no stmt with id %d", 666)
	require.Equal(t, NotFound, err.Kind)
	require.Equal(t, "NOTFOUND: failed to handle exec: no stmt with id 666", err.Error())
}

func TestDBErrorUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := DBErrorf(21, 0, cause, "bad parameter or other API misuse")
	require.ErrorIs(t, err, cause)
	require.Equal(t, 21, err.Code)
}

func TestKindStrings(t *testing.T) {
	require.Equal(t, "PROTOCOL", Protocol.String())
	require.Equal(t, "BUSY", Busy.String())
}
