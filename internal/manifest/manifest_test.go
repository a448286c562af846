package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleManifest = `# app dependencies
streamlit==1.27.0
pandas==2.0.3
numpy==1.24.3  # pinned for ABI compat
scipy==1.11.1
matplotlib==3.7.2
fpdf==1.7.2
`

func TestParse(t *testing.T) {
	type testCase struct {
		name     string
		input    string
		expected []Entry
		checkErr func(*testing.T, error)
	}
	cases := []testCase{
		{
			name:  "full example",
			input: exampleManifest,
			expected: []Entry{
				{Name: "streamlit", Version: "1.27.0"},
				{Name: "pandas", Version: "2.0.3"},
				{Name: "numpy", Version: "1.24.3"},
				{Name: "scipy", Version: "1.11.1"},
				{Name: "matplotlib", Version: "3.7.2"},
				{Name: "fpdf", Version: "1.7.2"},
			},
			checkErr: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name:  "empty input",
			input: "\n# nothing here\n",
			checkErr: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name:  "pre-release pin",
			input: "scipy==1.11.0rc1\n",
			expected: []Entry{
				{Name: "scipy", Version: "1.11.0rc1"},
			},
			checkErr: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name:  "missing separator",
			input: "pandas=2.0.3\n",
			checkErr: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "line 1")
			},
		},
		{
			name:  "range constraint is not a pin",
			input: "pandas==>=2.0\n",
			checkErr: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "not a valid version pin")
			},
		},
		{
			name:  "duplicate name",
			input: "pandas==2.0.3\nnumpy==1.24.3\npandas==2.1.0\n",
			checkErr: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "duplicate declaration")
				assert.ErrorContains(t, err, "line 3")
			},
		},
		{
			name:  "duplicate name with different case and separators",
			input: "Foo_Bar==1.0\nfoo-bar==1.1\n",
			checkErr: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "duplicate declaration")
			},
		},
		{
			name:  "missing name",
			input: "==1.0.0\n",
			checkErr: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "missing package name")
			},
		},
	}
	t.Parallel()
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseString(tc.input)
			tc.checkErr(t, err)
			assert.Equal(t, tc.expected, got.Entries)
		})
	}
}

func TestStringRoundTrip(t *testing.T) {
	t.Parallel()
	m, err := ParseString(exampleManifest)
	require.NoError(t, err)

	again, err := ParseString(m.String())
	require.NoError(t, err)
	assert.Equal(t, m, again)
}

func TestVersionLookup(t *testing.T) {
	t.Parallel()
	m, err := ParseString(exampleManifest)
	require.NoError(t, err)

	v, err := m.Version("PANDAS")
	assert.NoError(t, err)
	assert.Equal(t, "2.0.3", v)

	_, err = m.Version("plotly")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompare(t *testing.T) {
	t.Parallel()
	old, err := ParseString("streamlit==1.26.0\npandas==2.0.3\nfpdf==1.7.2\n")
	require.NoError(t, err)
	new, err := ParseString("streamlit==1.27.0\npandas==2.0.3\nplotly==5.15.0\n")
	require.NoError(t, err)

	d := Compare(old, new)
	assert.Equal(t, []Entry{{Name: "plotly", Version: "5.15.0"}}, d.Added)
	assert.Equal(t, []Entry{{Name: "fpdf", Version: "1.7.2"}}, d.Removed)
	assert.Equal(t, []Entry{{Name: "streamlit", Version: "1.27.0"}}, d.Changed)
	assert.False(t, d.Empty())

	assert.True(t, Compare(new, new).Empty())
}
