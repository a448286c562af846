package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipway-dev/slipway/internal/api"
	"github.com/slipway-dev/slipway/internal/logstream"
)

// doerFunc adapts a function to the Doer interface.
type doerFunc func(req *http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(t *testing.T, code int, v any) *http.Response {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return &http.Response{
		StatusCode: code,
		Body:       io.NopCloser(bytes.NewReader(data)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestCreateApp(t *testing.T) {
	t.Parallel()
	c := New("slipway.example.com:8044", "sekrit").WithDoer(doerFunc(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "http://slipway.example.com:8044/api/v1/apps", req.URL.String())
		assert.Equal(t, "Bearer sekrit", req.Header.Get("Authorization"))
		var body api.CreateAppRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "chem-ia-planner", body.Name)
		return jsonResponse(t, http.StatusCreated, api.App{
			Name: body.Name,
			URL:  "https://chem-ia-planner.slipway.test",
		}), nil
	}))

	app, err := c.CreateApp(context.Background(), "chem-ia-planner")
	require.NoError(t, err)
	assert.Equal(t, "https://chem-ia-planner.slipway.test", app.URL)
}

func TestAPIErrors(t *testing.T) {
	t.Parallel()
	c := New("localhost:8044", "").WithDoer(doerFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusConflict, api.Error{Message: `app "chem-ia-planner" already exists`}), nil
	}))

	_, err := c.CreateApp(context.Background(), "chem-ia-planner")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "already exists")
	assert.False(t, IsUnavailable(err))
	assert.False(t, IsNotFound(err))

	c = c.WithDoer(doerFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusBadGateway, Body: io.NopCloser(strings.NewReader("bad gateway"))}, nil
	}))
	_, err = c.GetApp(context.Background(), "chem-ia-planner")
	assert.True(t, IsUnavailable(err))
}

func TestListAppsFollowsPaging(t *testing.T) {
	t.Parallel()
	calls := 0
	c := New("localhost:8044", "").WithDoer(doerFunc(func(req *http.Request) (*http.Response, error) {
		calls++
		switch req.URL.Query().Get("page_token") {
		case "":
			return jsonResponse(t, http.StatusOK, api.AppList{
				Apps:          []api.App{{Name: "chem-ia-planner"}},
				NextPageToken: "next",
			}), nil
		case "next":
			return jsonResponse(t, http.StatusOK, api.AppList{
				Apps: []api.App{{Name: "other-app"}},
			}), nil
		default:
			return nil, fmt.Errorf("unexpected page token")
		}
	}))

	apps, err := c.ListApps(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, apps, 2)
	assert.Equal(t, "other-app", apps[1].Name)
}

func TestCreateReleaseUpload(t *testing.T) {
	t.Parallel()
	c := New("localhost:8044", "").WithDoer(doerFunc(func(req *http.Request) (*http.Response, error) {
		require.NoError(t, req.ParseMultipartForm(1<<20))
		assert.Equal(t, "fix titration plots", req.FormValue(api.ReleaseDescriptionField))
		assert.Equal(t, "0c4a1b2", req.FormValue(api.ReleaseCommitField))
		src, _, err := req.FormFile(api.ReleaseSourceField)
		require.NoError(t, err)
		data, err := io.ReadAll(src)
		require.NoError(t, err)
		assert.Equal(t, "archive-bytes", string(data))
		return jsonResponse(t, http.StatusCreated, api.Release{App: "chem-ia-planner", Num: 4, Status: "deployed"}), nil
	}))

	rel, err := c.CreateRelease(context.Background(), "chem-ia-planner", "fix titration plots", "0c4a1b2",
		strings.NewReader("archive-bytes"))
	require.NoError(t, err)
	assert.Equal(t, int32(4), rel.Num)
	assert.Equal(t, "deployed", rel.Status)
}

func TestLogsDecodesStream(t *testing.T) {
	t.Parallel()
	var stream bytes.Buffer
	enc := json.NewEncoder(&stream)
	for i := 1; i <= 3; i++ {
		require.NoError(t, enc.Encode(logstream.Line{
			App: "chem-ia-planner", Source: logstream.SourceApp, Proc: "web.1",
			Time: time.Now().UTC(), Text: fmt.Sprintf("line %d", i),
		}))
	}
	c := New("localhost:8044", "").WithDoer(doerFunc(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "1", req.URL.Query().Get("tail"))
		assert.Equal(t, "25", req.URL.Query().Get("lines"))
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(&stream)}, nil
	}))

	var texts []string
	err := c.Logs(context.Background(), "chem-ia-planner", 25, true, func(l logstream.Line) error {
		texts = append(texts, l.Text)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"line 1", "line 2", "line 3"}, texts)
}
