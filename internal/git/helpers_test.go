package git

import (
	"testing"

	gogit "github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/require"
)

func initBare(t *testing.T, dir string) {
	t.Helper()
	_, err := gogit.PlainInit(dir, true)
	require.NoError(t, err)
}
