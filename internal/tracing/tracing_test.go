package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), "fixfox-bot", "", "test")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
