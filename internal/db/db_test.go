package db

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateFlagsMisuseScenario(t *testing.T) {
	// spec.md §8 scenario 2: flags = CREATE only -> DB_ERROR code 21.
	err := validateFlags(OpenCreate)
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad parameter or other API misuse")
}

func TestValidateFlagsReadWriteCreateOK(t *testing.T) {
	require.NoError(t, validateFlags(OpenReadWrite|OpenCreate))
}

func TestValidateFlagsReadOnlyOK(t *testing.T) {
	require.NoError(t, validateFlags(OpenReadOnly))
}

func TestValidateFlagsNeitherReadFlagIsMisuse(t *testing.T) {
	require.Error(t, validateFlags(0))
}

func TestValidateFlagsBothReadFlagsIsMisuse(t *testing.T) {
	require.Error(t, validateFlags(OpenReadOnly | OpenReadWrite))
}
