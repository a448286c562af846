package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProcfile(t *testing.T) {
	type testCase struct {
		name     string
		input    string
		expected []Process
		checkErr func(*testing.T, error)
	}
	cases := []testCase{
		{
			name:  "web and worker",
			input: "web: streamlit run app.py --server.port $PORT\nworker: python worker.py\n",
			expected: []Process{
				{Name: "web", Command: "streamlit run app.py --server.port $PORT"},
				{Name: "worker", Command: "python worker.py"},
			},
			checkErr: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name:  "no processes",
			input: "# empty\n",
			checkErr: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "at least one process")
			},
		},
		{
			name:  "duplicate process",
			input: "web: run\nweb: run again\n",
			checkErr: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "duplicate process")
			},
		},
		{
			name:  "invalid name",
			input: "we b: run\n",
			checkErr: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "invalid process name")
			},
		},
		{
			name:  "missing command",
			input: "web:\n",
			checkErr: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "has no command")
			},
		},
	}
	t.Parallel()
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseProcfileString(tc.input)
			tc.checkErr(t, err)
			assert.Equal(t, tc.expected, got.Processes)
		})
	}
}

func TestProcfileLookup(t *testing.T) {
	t.Parallel()
	p, err := ParseProcfileString("web: streamlit run app.py\n")
	require.NoError(t, err)

	assert.True(t, p.HasWeb())
	cmd, err := p.Command("web")
	assert.NoError(t, err)
	assert.Equal(t, "streamlit run app.py", cmd)

	_, err = p.Command("worker")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParseRuntime(t *testing.T) {
	type testCase struct {
		name     string
		input    string
		expected Runtime
		checkErr func(*testing.T, error)
	}
	cases := []testCase{
		{
			name:     "python pin",
			input:    "python-3.11.4\n",
			expected: Runtime{Language: "python", Version: "3.11.4"},
			checkErr: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name:     "hyphenated language",
			input:    "pypy-python-3.10.2",
			expected: Runtime{Language: "pypy-python", Version: "3.10.2"},
			checkErr: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name:  "missing version",
			input: "python",
			checkErr: func(t *testing.T, err error) {
				assert.Error(t, err)
			},
		},
		{
			name:  "invalid version",
			input: "python-three.eleven",
			checkErr: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "not a valid runtime version")
			},
		},
	}
	t.Parallel()
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseRuntime(tc.input)
			tc.checkErr(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestRuntimeSupported(t *testing.T) {
	t.Parallel()
	r := Runtime{Language: "python", Version: "3.11.4"}
	assert.True(t, r.Supported(nil))
	assert.True(t, r.Supported([]string{"Python", "nodejs"}))
	assert.False(t, r.Supported([]string{"nodejs"}))
}
