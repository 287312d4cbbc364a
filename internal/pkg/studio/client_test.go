package studio

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/castgate/castgate/internal/pkg/studio/api"
	"github.com/castgate/castgate/internal/pkg/test"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testResp struct {
	code int
	resp string
}

type testReq struct {
	URL  string
	body string
}

func newTestR(code int, resp string) testResp {
	return testResp{code: code, resp: resp}
}

func initTestServer(t *testing.T, rData map[string]testResp) (*Client, *[]testReq) {
	t.Helper()
	resRequest := make([]testReq, 0)
	rLock := &sync.Mutex{}
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rLock.Lock()
		defer rLock.Unlock()
		b, _ := io.ReadAll(req.Body)
		resRequest = append(resRequest, testReq{URL: req.URL.String(), body: string(b)})
		resp, f := rData[req.URL.String()]
		if f {
			rw.WriteHeader(resp.code)
			_, _ = rw.Write([]byte(resp.resp))
		} else {
			rw.WriteHeader(http.StatusNotFound)
		}
	}))
	cl := Client{}
	cl.httpclient = server.Client()
	cl.startURL = server.URL + "/start"
	cl.artifactURL = server.URL + "/artifact"
	cl.jobsURL = server.URL + "/jobs"
	cl.cancelURL = server.URL + "/cancel"
	cl.startTimeout = time.Second * 5
	cl.timeout = time.Second
	cl.backoff = func() backoff.BackOff {
		return &backoff.StopBackOff{}
	}
	t.Cleanup(func() { server.Close() })
	return &cl, &resRequest
}

func TestStart(t *testing.T) {
	cl, tReq := initTestServer(t, map[string]testResp{"/start": newTestR(200, `{"success":true,"id":"id1"}`)})

	id, err := cl.Start(test.Ctx(t), &api.StartInput{Owner: "own", ContainerID: "cont",
		Title: "olia", FileName: "f.mp3", File: strings.NewReader("opus"), FileSize: 4})
	require.Nil(t, err)
	assert.Equal(t, "id1", id)
	require.Equal(t, 1, len(*tReq))
	assert.Contains(t, (*tReq)[0].body, "opus")
	assert.Contains(t, (*tReq)[0].body, "own")
}

func TestStart_url(t *testing.T) {
	cl, tReq := initTestServer(t, map[string]testResp{"/start": newTestR(200, `{"success":true,"id":"id1"}`)})

	id, err := cl.Start(test.Ctx(t), &api.StartInput{Owner: "own", ContainerID: "cont",
		URL: "http://olia/f.mp3"})
	require.Nil(t, err)
	assert.Equal(t, "id1", id)
	assert.Contains(t, (*tReq)[0].body, "http://olia/f.mp3")
}

func TestStart_respError(t *testing.T) {
	cl, _ := initTestServer(t, map[string]testResp{"/start": newTestR(200, `{"error":"olia"}`)})
	_, err := cl.Start(test.Ctx(t), &api.StartInput{Owner: "own"})
	assert.NotNil(t, err)
}

func TestStart_noID(t *testing.T) {
	cl, _ := initTestServer(t, map[string]testResp{"/start": newTestR(200, `{"success":true}`)})
	_, err := cl.Start(test.Ctx(t), &api.StartInput{Owner: "own"})
	assert.NotNil(t, err)
}

func TestStart_failCode(t *testing.T) {
	cl, _ := initTestServer(t, map[string]testResp{"/start": newTestR(400, "")})
	_, err := cl.Start(test.Ctx(t), &api.StartInput{Owner: "own"})
	assert.NotNil(t, err)
}

func TestGetArtifact(t *testing.T) {
	cl, _ := initTestServer(t, map[string]testResp{
		"/artifact/id1": newTestR(200, `{"id":"art1","url":"http://olia/art1"}`)})

	a, err := cl.GetArtifact(test.Ctx(t), "id1")
	require.Nil(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "art1", a.ID)
	assert.Equal(t, "http://olia/art1", a.URL)
}

func TestGetArtifact_notReady(t *testing.T) {
	cl, _ := initTestServer(t, map[string]testResp{})

	a, err := cl.GetArtifact(test.Ctx(t), "id1")
	assert.Nil(t, err)
	assert.Nil(t, a)
}

func TestListActive(t *testing.T) {
	cl, _ := initTestServer(t, map[string]testResp{
		"/jobs?owner=own": newTestR(200, `[{"jobId":"id1","status":"processing"}]`)})

	res, err := cl.ListActive(test.Ctx(t), "own")
	require.Nil(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "id1", res[0].ID)
	assert.Equal(t, "processing", res[0].Status)
}

func TestCancel(t *testing.T) {
	cl, _ := initTestServer(t, map[string]testResp{"/cancel/id1": newTestR(200, `{"cancelled":true}`)})

	ok, err := cl.Cancel(test.Ctx(t), "id1")
	require.Nil(t, err)
	assert.True(t, ok)
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name                                   string
		start, artifact, jobs, cancel          string
		wantErr                                bool
	}{
		{name: "OK", start: "http://s", artifact: "http://a", jobs: "http://j", cancel: "http://c", wantErr: false},
		{name: "Fail start", artifact: "http://a", jobs: "http://j", cancel: "http://c", wantErr: true},
		{name: "Fail artifact", start: "http://s", jobs: "http://j", cancel: "http://c", wantErr: true},
		{name: "Fail jobs", start: "http://s", artifact: "http://a", cancel: "http://c", wantErr: true},
		{name: "Fail cancel", start: "http://s", artifact: "http://a", jobs: "http://j", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.start, tt.artifact, tt.jobs, tt.cancel)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClient() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
