package knowledge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsMissingCollection(t *testing.T) {
	_, err := New(nil, Config{Dimension: 4}, nil)
	require.Error(t, err)
}

func TestNewRejectsZeroDimension(t *testing.T) {
	_, err := New(nil, Config{Collection: "facts"}, nil)
	require.Error(t, err)
}
