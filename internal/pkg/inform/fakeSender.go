package inform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/jordan-wright/email"
	"github.com/spf13/viper"
)

// fakeEmailSender posts the composed email as JSON to a debug endpoint
// instead of delivering it over SMTP. Used in test deployments.
type fakeEmailSender struct {
	url    string
	httpCl *http.Client
}

func NewFakeEmailSender(c *viper.Viper) (*fakeEmailSender, error) {
	url := c.GetString("smtp.fakeUrl")
	if url == "" {
		return nil, fmt.Errorf("no smtp.fakeUrl")
	}
	goapp.Log.Info().Str("URL", url).Msg("fake email sender")
	return &fakeEmailSender{url: url, httpCl: &http.Client{Timeout: time.Second * 5}}, nil
}

// Send posts the email to the configured URL.
func (s *fakeEmailSender) Send(m *email.Email) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}
	ctx, cancelF := context.WithTimeout(context.Background(), time.Second*5)
	defer cancelF()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	goapp.Log.Info().Str("url", req.URL.String()).Str("method", req.Method).Msg("call")
	resp, err := s.httpCl.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 10000))
		_ = resp.Body.Close()
	}()
	if err := goapp.ValidateHTTPResp(resp, 100); err != nil {
		return fmt.Errorf("can't invoke '%s': %w", req.URL.String(), err)
	}
	return nil
}
