package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWorkspace(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, contents := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
	}
	return dir
}

func TestCheckArtifacts(t *testing.T) {
	type testCase struct {
		name     string
		files    map[string]string
		checkErr func(*testing.T, error)
	}
	cases := []testCase{
		{
			name: "complete workspace",
			files: map[string]string{
				"requirements.txt": "streamlit==1.27.0\npandas==2.0.3\n",
				"Procfile":         "web: streamlit run app.py --server.port $PORT\n",
				"runtime.txt":      "python-3.11.4\n",
			},
			checkErr: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name: "runtime pin is optional",
			files: map[string]string{
				"requirements.txt": "flask==2.3.2\n",
				"Procfile":         "web: flask run\n",
			},
			checkErr: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name: "missing manifest",
			files: map[string]string{
				"Procfile": "web: flask run\n",
			},
			checkErr: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "requirements.txt")
			},
		},
		{
			name: "unpinned dependency",
			files: map[string]string{
				"requirements.txt": "flask>=2.0\n",
				"Procfile":         "web: flask run\n",
			},
			checkErr: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "invalid requirements.txt")
			},
		},
		{
			name: "missing Procfile",
			files: map[string]string{
				"requirements.txt": "flask==2.3.2\n",
			},
			checkErr: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "Procfile")
			},
		},
		{
			name: "malformed runtime pin",
			files: map[string]string{
				"requirements.txt": "flask==2.3.2\n",
				"Procfile":         "web: flask run\n",
				"runtime.txt":      "python3.11\n",
			},
			checkErr: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "invalid runtime.txt")
			},
		},
	}
	t.Parallel()
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tc.checkErr(t, checkArtifacts(writeWorkspace(t, tc.files)))
		})
	}
}

func TestWorkspaceBinding(t *testing.T) {
	t.Chdir(t.TempDir())

	// no binding file yet
	app, err := readWorkspaceBinding()
	require.NoError(t, err)
	assert.Empty(t, app)

	require.NoError(t, writeWorkspaceBinding("chem-ia-planner"))
	app, err = readWorkspaceBinding()
	require.NoError(t, err)
	assert.Equal(t, "chem-ia-planner", app)
}

func TestXor(t *testing.T) {
	t.Parallel()
	assert.False(t, xor())
	assert.True(t, xor(true))
	assert.False(t, xor(false, false))
	assert.True(t, xor(true, false, false))
	assert.False(t, xor(true, true, false))
}

func TestShortCommit(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "0c4a1b2", shortCommit("0c4a1b2f3e4d5c6b"))
	assert.Equal(t, "abc", shortCommit("abc"))
}
