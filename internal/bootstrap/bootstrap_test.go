package bootstrap

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestCloseRunsInReverseAndJoinsErrors(t *testing.T) {
	var order []string
	rt := &Runtime{}
	rt.OnClose(func() error { order = append(order, "db"); return errors.New("db close") })
	rt.OnClose(func() error { order = append(order, "redis"); return nil })
	rt.OnClose(func() error { order = append(order, "pubsub"); return errors.New("pubsub close") })

	err := rt.Close()
	assert.Equal(t, []string{"pubsub", "redis", "db"}, order)
	assert.Len(t, multierr.Errors(err), 2)

	assert.NoError(t, rt.Close(), "closers run once")
}

func TestLoadFailsWithoutRequiredEnv(t *testing.T) {
	t.Setenv("STOREFRONT_APP_ENV", "test")
	require.NoError(t, os.Unsetenv("STOREFRONT_APP_ENV"))
	_, logg, err := Load("api")
	assert.Error(t, err)
	assert.NotNil(t, logg)
}
