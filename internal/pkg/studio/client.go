package studio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/castgate/castgate/internal/pkg/studio/api"
	"github.com/cenkalti/backoff/v4"
)

// Client communicates with the studio processing backend
type Client struct {
	httpclient   *http.Client
	startURL     string
	artifactURL  string
	jobsURL      string
	cancelURL    string
	startTimeout time.Duration
	timeout      time.Duration
	backoff      func() backoff.BackOff
}

// NewClient creates a studio client
func NewClient(startURL, artifactURL, jobsURL, cancelURL string) (*Client, error) {
	res := Client{}
	if startURL == "" {
		return nil, fmt.Errorf("no startURL")
	}
	if artifactURL == "" {
		return nil, fmt.Errorf("no artifactURL")
	}
	if jobsURL == "" {
		return nil, fmt.Errorf("no jobsURL")
	}
	if cancelURL == "" {
		return nil, fmt.Errorf("no cancelURL")
	}
	res.startURL = startURL
	res.artifactURL = artifactURL
	res.jobsURL = jobsURL
	res.cancelURL = cancelURL
	res.startTimeout = time.Minute * 10
	res.timeout = time.Second * 30
	res.httpclient = studioHTTPClient()
	res.backoff = newSimpleBackoff
	return &res, nil
}

type startResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Error   string `json:"error,omitempty"`
}

// Start submits a file or URL for processing and returns the operation id.
// The call returns promptly, the heavy work happens server-side.
func (sp *Client) Start(ctx context.Context, in *api.StartInput) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if in.File != nil {
		part, err := writer.CreateFormFile(api.PrmFile, in.FileName)
		if err != nil {
			return "", fmt.Errorf("can't add file to request: %w", err)
		}
		if _, err := io.Copy(part, in.File); err != nil {
			return "", fmt.Errorf("can't add file content to request: %w", err)
		}
	}
	for k, v := range map[string]string{api.PrmURL: in.URL, api.PrmOwner: in.Owner,
		api.PrmContainer: in.ContainerID, api.PrmTitle: in.Title} {
		if v == "" {
			continue
		}
		if err := writer.WriteField(k, v); err != nil {
			return "", fmt.Errorf("can't add param: %w", err)
		}
	}
	writer.Close()

	return goapp.InvokeWithBackoff(ctx, func() (string, bool, error) {
		req, err := http.NewRequest(http.MethodPost, sp.startURL, bytes.NewReader(body.Bytes()))
		if err != nil {
			return "", false, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())

		ctx, cancelF := context.WithTimeout(ctx, sp.startTimeout)
		defer cancelF()
		req = req.WithContext(ctx)
		goapp.Log.Info().Str("url", req.URL.String()).Str("method", req.Method).Msg("call")
		resp, err := sp.httpclient.Do(req)
		if err != nil {
			return "", goapp.IsRetryableErr(err), fmt.Errorf("can't call: %w", err)
		}
		defer drop(resp)
		if err := goapp.ValidateHTTPResp(resp, 100); err != nil {
			err = fmt.Errorf("can't invoke '%s': %w", req.URL.String(), err)
			return "", goapp.IsRetryableCode(resp.StatusCode), err
		}
		var respData startResponse
		if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
			return "", true, fmt.Errorf("can't decode response: %w", err)
		}
		if respData.Error != "" {
			return "", false, fmt.Errorf("studio: %s", respData.Error)
		}
		if respData.ID == "" {
			return "", false, fmt.Errorf("can't get operation ID from response")
		}
		return respData.ID, false, nil
	}, sp.backoff())
}

// GetArtifact returns the finished artifact for the operation,
// or nil with no error while it is not ready yet
func (sp *Client) GetArtifact(ctx context.Context, opID string) (*api.Artifact, error) {
	return goapp.InvokeWithBackoff(ctx, func() (*api.Artifact, bool, error) {
		ctx, cancelF := context.WithTimeout(ctx, sp.timeout)
		defer cancelF()
		req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/%s", sp.artifactURL, url.PathEscape(opID)), nil)
		if err != nil {
			return nil, false, err
		}
		req = req.WithContext(ctx)
		resp, err := sp.httpclient.Do(req)
		if err != nil {
			return nil, goapp.IsRetryableErr(err), fmt.Errorf("can't call: %w", err)
		}
		defer drop(resp)
		if resp.StatusCode == http.StatusNotFound {
			// not ready yet, the poll's expected case
			return nil, false, nil
		}
		if err := goapp.ValidateHTTPResp(resp, 100); err != nil {
			err = fmt.Errorf("can't invoke '%s': %w", req.URL.String(), err)
			return nil, goapp.IsRetryableCode(resp.StatusCode), err
		}
		res := &api.Artifact{}
		if err := json.NewDecoder(resp.Body).Decode(res); err != nil {
			return nil, goapp.IsRetryableErr(err), fmt.Errorf("can't unmarshal: %w", err)
		}
		return res, false, nil
	}, sp.backoff())
}

// ListActive returns the owner's not-yet-terminal jobs, used by recovery
func (sp *Client) ListActive(ctx context.Context, owner string) ([]api.JobInfo, error) {
	return goapp.InvokeWithBackoff(ctx, func() ([]api.JobInfo, bool, error) {
		ctx, cancelF := context.WithTimeout(ctx, sp.timeout)
		defer cancelF()
		req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s?owner=%s", sp.jobsURL, url.QueryEscape(owner)), nil)
		if err != nil {
			return nil, false, err
		}
		req = req.WithContext(ctx)
		resp, err := sp.httpclient.Do(req)
		if err != nil {
			return nil, goapp.IsRetryableErr(err), fmt.Errorf("can't call: %w", err)
		}
		defer drop(resp)
		if err := goapp.ValidateHTTPResp(resp, 100); err != nil {
			err = fmt.Errorf("can't invoke '%s': %w", req.URL.String(), err)
			return nil, goapp.IsRetryableCode(resp.StatusCode), err
		}
		var res []api.JobInfo
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return nil, goapp.IsRetryableErr(err), fmt.Errorf("can't unmarshal: %w", err)
		}
		return res, false, nil
	}, sp.backoff())
}

type cancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// Cancel asks the backend to cancel the job, returns its acknowledgement
func (sp *Client) Cancel(ctx context.Context, jobID string) (bool, error) {
	return goapp.InvokeWithBackoff(ctx, func() (bool, bool, error) {
		ctx, cancelF := context.WithTimeout(ctx, sp.timeout)
		defer cancelF()
		req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/%s", sp.cancelURL, url.PathEscape(jobID)), nil)
		if err != nil {
			return false, false, err
		}
		req = req.WithContext(ctx)
		resp, err := sp.httpclient.Do(req)
		if err != nil {
			return false, goapp.IsRetryableErr(err), fmt.Errorf("can't call: %w", err)
		}
		defer drop(resp)
		if err := goapp.ValidateHTTPResp(resp, 100); err != nil {
			err = fmt.Errorf("can't invoke '%s': %w", req.URL.String(), err)
			return false, goapp.IsRetryableCode(resp.StatusCode), err
		}
		var res cancelResponse
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return false, goapp.IsRetryableErr(err), fmt.Errorf("can't unmarshal: %w", err)
		}
		return res.Cancelled, false, nil
	}, sp.backoff())
}

func drop(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 10000))
	_ = resp.Body.Close()
}

func studioHTTPClient() *http.Client {
	return &http.Client{Transport: newTransport()}
}

func newTransport() http.RoundTripper {
	// default roundripper has just 2 idle connections per host, tune a bit
	res := http.DefaultTransport.(*http.Transport).Clone()
	res.MaxConnsPerHost = 100
	res.MaxIdleConns = 50
	res.MaxIdleConnsPerHost = 50
	res.IdleConnTimeout = 90 * time.Second
	return res
}

func newSimpleBackoff() backoff.BackOff {
	res := backoff.NewExponentialBackOff()
	return backoff.WithMaxRetries(res, 3)
}
