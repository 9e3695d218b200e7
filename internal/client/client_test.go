package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"videoterror/internal/config"
	"videoterror/internal/dao"
	"videoterror/internal/model"
	"videoterror/internal/rpc"
	"videoterror/internal/server"
	"videoterror/internal/storage"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

func newServer(t *testing.T, secret string) *httptest.Server {
	conf := config.DefaultConfig()
	conf.MetadataDir = ""
	conf.JwtSecret = secret
	store := model.NewMemoryStore()
	srv, err := server.NewServer(context.Background(), conf, store, server.WithStorage(storage.InPlace{}))
	require.NoError(t, err)
	ts := httptest.NewServer(srv.SetUpRouter())
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown()
		store.Close()
	})
	return ts
}

func newClient(t *testing.T, ts *httptest.Server, opts ...Option) *Client {
	c, err := NewClient(ts.URL, append([]Option{WithHTTPClient(ts.Client())}, opts...)...)
	require.NoError(t, err)
	return c
}

func TestParseConn(t *testing.T) {
	cases := []struct {
		conn string
		want string
		ok   bool
	}{
		{"tcp://127.0.0.1:5555", "http://127.0.0.1:5555", true},
		{"http://localhost:8081/", "http://localhost:8081", true},
		{"https://vt.example.com", "https://vt.example.com", true},
		{"udp://127.0.0.1:5555", "", false},
		{"127.0.0.1:5555", "", false},
		{"tcp://", "", false},
	}
	for _, c := range cases {
		got, err := parseConn(c.conn)
		if !c.ok {
			assert.Error(t, err, c.conn)
			continue
		}
		require.NoError(t, err, c.conn)
		assert.Equal(t, c.want, got)
	}
}

func TestEagerConnect(t *testing.T) {
	ts := newServer(t, "")
	c := newClient(t, ts, WithEagerConnect())
	c.Close()

	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()
	_, err := NewClient(url, WithEagerConnect(), WithDeadline(time.Second))
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindConnect, terr.Kind)

	c, err = NewClient(url)
	require.NoError(t, err)
	c.Close()
}

func TestCall(t *testing.T) {
	ts := newServer(t, "")
	c := newClient(t, ts)
	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))

	out, err := c.Call(ctx, "addDataset", map[string]any{"name": "demo"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"res": map[string]any{"success": true}, "dataset_id": "demo"}, out)

	out, err = c.Call(ctx, "addDataset", map[string]any{"name": "demo"})
	require.NoError(t, err)
	res := out["res"].(map[string]any)
	assert.Equal(t, false, res["success"])
	assert.Contains(t, res["error"], "already exists")

	out, err = c.Call(ctx, "getDatasetList", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"dataset_id": "demo", "name": "demo"}}, out["datasets"])
}

func TestTypedCalls(t *testing.T) {
	ts := newServer(t, "")
	c := newClient(t, ts)
	ctx := context.Background()

	resp, err := c.AddDataset(ctx, &dao.AddDatasetRequest{Name: "demo"})
	require.NoError(t, err)
	require.True(t, resp.OK())
	assert.Equal(t, "demo", resp.DatasetId)

	src := filepath.Join(t.TempDir(), "video.mp4")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0644))
	video, err := c.AddVideo(ctx, &dao.AddVideoRequest{DatasetId: "demo", Filepath: src})
	require.NoError(t, err)
	require.True(t, video.OK(), video.Result().Error)

	task, err := c.AddTaskVideoProcessing(ctx, &dao.AddTaskVideoProcessingRequest{
		DatasetId: "demo", Module: "videotype",
		Params: []dao.TaskParam{dao.IntParam("keyframe_freq", 25)},
	})
	require.NoError(t, err)
	require.True(t, task.OK())

	info, err := c.GetTaskInfo(ctx, &dao.GetTaskInfoRequest{DatasetId: "demo"})
	require.NoError(t, err)
	require.Len(t, info.Tasks, 1)
	assert.Equal(t, model.TaskKindVideoProcessing, info.Tasks[0].TaskType)
	require.Len(t, info.Tasks[0].Params, 1)
	assert.Equal(t, int32(25), *info.Tasks[0].Params[0].ValueInt)

	list, err := c.GetDatasetList(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, list.Datasets, 1)

	_, err = c.GetVideoInfo(ctx, &dao.GetVideoInfoRequest{})
	var encErr *rpc.EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, "dataset_id", encErr.Field)
}

func TestNoIOBeforeEncoding(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer ts.Close()
	c := newClient(t, ts)

	_, err := c.Call(context.Background(), "getEverything", map[string]any{})
	assert.ErrorIs(t, err, rpc.ErrUnknownService)
	_, err = c.Call(context.Background(), "addVideo", map[string]any{"filepath": "/a.mp4"})
	assert.ErrorIs(t, err, rpc.ErrEncoding)
	assert.Equal(t, int32(0), hits.Load())
}

func TestDeadlineGivesSoftResult(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()
	c := newClient(t, ts, WithDeadline(50*time.Millisecond))

	out, err := c.Call(context.Background(), "getDatasetList", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"res": map[string]any{"success": false, "error": dao.ErrNoAnswer}}, out)

	resp, err := c.GetTaskProgress(context.Background(), &dao.GetTaskProgressRequest{DatasetId: "demo", TaskId: "t"},
		WithCallDeadline(20*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, resp.OK())
	assert.Equal(t, dao.ErrNoAnswer, resp.Result().Error)
	assert.Nil(t, resp.TaskProgress)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Call(ctx, "getDatasetList", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTransportErrors(t *testing.T) {
	answer := func(code int, body string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(body))
		}))
	}
	cases := []struct {
		name   string
		code   int
		body   string
		kind   TransportErrorKind
		status int
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, KindStatus, http.StatusInternalServerError},
		{"not json", http.StatusOK, `not json`, KindMalformed, 0},
		{"no result", http.StatusOK, `{"datasets":[]}`, KindMalformed, 0},
		{"schema mismatch", http.StatusOK, `{"res":{"success":true},"bogus":1}`, KindMalformed, 0},
		{"wrong type", http.StatusOK, `{"res":{"success":"yes"}}`, KindMalformed, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := answer(tc.code, tc.body)
			defer ts.Close()
			c := newClient(t, ts)

			_, err := c.Call(context.Background(), "getDatasetList", nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrTransport))
			var terr *TransportError
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, tc.kind, terr.Kind)
			assert.Equal(t, tc.status, terr.Status)
			assert.Equal(t, "getDatasetList", terr.Op)
		})
	}

	ts := answer(http.StatusOK, `{}`)
	c := newClient(t, ts)
	ts.Close()
	_, err := c.Call(context.Background(), "getDatasetList", nil)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindConnect, terr.Kind)
}

func TestToken(t *testing.T) {
	ts := newServer(t, "secret")
	ctx := context.Background()

	_, err := newClient(t, ts).Call(ctx, "getDatasetList", nil)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusUnauthorized, terr.Status)

	out, err := newClient(t, ts, WithToken("secret")).Call(ctx, "getDatasetList", nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["res"].(map[string]any)["success"])
}

func TestSharedClient(t *testing.T) {
	ts := newServer(t, "")
	c := newClient(t, ts)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.AddDataset(context.Background(), &dao.AddDatasetRequest{Name: string(rune('a' + i))})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	list, err := c.GetDatasetList(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, list.Datasets, 8)
}
