package consul

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/castgate/castgate/internal/pkg/studio"
	sapi "github.com/castgate/castgate/internal/pkg/studio/api"
	"github.com/hashicorp/consul/api"
	"go.uber.org/multierr"
)

const (
	startKey     = "startURL"
	artifactKey  = "artifactURL"
	jobsKey      = "jobsURL"
	cancelKey    = "cancelURL"
	isHTTPSSLKey = "HTTPSSL"
	priorityKey  = "priority"
)

// Provider returns studio backends registered in consul
type Provider struct {
	consul  *api.Client
	srvName string

	lock    *sync.RWMutex
	studios []*stWrap
}

type stWrap struct {
	real     sapi.Studio
	srv      string
	key      string
	priority float64
}

// NewProvider creates consul based studio provider
func NewProvider(cfg *api.Config, srvNameInConsul string) (*Provider, error) {
	c, err := api.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if srvNameInConsul == "" {
		return nil, fmt.Errorf("no srv name")
	}
	return newProvider(c, srvNameInConsul), nil
}

func newProvider(c *api.Client, srvNameInConsul string) *Provider {
	goapp.Log.Info().Str("service", srvNameInConsul).Msg("cfg: srv name in consul")
	return &Provider{consul: c, srvName: srvNameInConsul, lock: &sync.RWMutex{}, studios: make([]*stWrap, 0)}
}

func (c *Provider) Get(srv string, allowNew bool) (sapi.Studio, string, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if !allowNew {
		for _, s := range c.studios {
			if s.srv == srv {
				return s.real, s.srv, nil
			}
		}
		return nil, "", fmt.Errorf("no active srv `%s`", srv)
	}
	if len(c.studios) == 0 {
		return nil, "", nil
	}
	// try return same
	for _, s := range c.studios {
		if s.srv == srv {
			return s.real, s.srv, nil
		}
	}
	if len(c.studios) == 1 {
		s := c.studios[0]
		return s.real, s.srv, nil
	}
	// else random select by priority
	i, err := getRandomByPriority(c.studios)
	if err != nil {
		return nil, "", fmt.Errorf("can't select studio: %v", err)
	}
	if i < len(c.studios) {
		s := c.studios[i]
		return s.real, s.srv, nil
	}
	return nil, "", nil
}

func getRandomByPriority(wraps []*stWrap) (int, error) {
	prMax := 0.0
	for _, s := range wraps {
		prMax += s.priority
	}
	if prMax < 0.1 {
		return 0, fmt.Errorf("wrong priority sum found %f", prMax)
	}
	rnd := rand.Float64() * prMax
	prMax = 0.0
	for i, s := range wraps {
		prMax += s.priority
		if prMax > rnd {
			return i, nil
		}
	}
	return len(wraps), nil
}

func (c *Provider) StartRegistryLoop(ctx context.Context, checkInterval time.Duration) (<-chan struct{}, error) {
	goapp.Log.Info().Msgf("Starting consul service check every %v", checkInterval)
	res := make(chan struct{}, 2)
	go func() {
		defer close(res)
		c.serviceLoop(ctx, checkInterval)
	}()
	return res, nil
}

func (c *Provider) serviceLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	// run on startup
	if err := c.check(ctx); err != nil {
		goapp.Log.Error().Err(err).Send()
	}
	for {
		select {
		case <-ticker.C:
			if err := c.check(ctx); err != nil {
				goapp.Log.Error().Err(err).Send()
			}
		case <-ctx.Done():
			ticker.Stop()
			goapp.Log.Info().Msgf("Stopped consul timer service")
			return
		}
	}
}

func (c *Provider) check(ctx context.Context) error {
	ctxInt, cf := context.WithTimeout(ctx, time.Second*5)
	defer cf()
	srvs, _, err := c.consul.Health().Service(c.srvName, "", true, (&api.QueryOptions{}).WithContext(ctxInt))
	if err != nil {
		return fmt.Errorf("can't invoke consul: %v", err)
	}
	return c.updateSrv(srvs)
}

func (c *Provider) updateSrv(srvs []*api.ServiceEntry) error {
	goapp.Log.Info().Msgf("got %d services from consul", len(srvs))
	c.lock.Lock()
	defer c.lock.Unlock()
	ms := map[string]*api.ServiceEntry{}
	for _, s := range srvs {
		ms[key(s)] = s
	}
	new := []*stWrap{}
	for _, s := range c.studios {
		if v, ok := ms[s.srv]; ok && s.key == fullKey(v) {
			new = append(new, s)
			delete(ms, s.srv)
			continue
		}
		goapp.Log.Warn().Str("service", s.srv).Msgf("dropped studio")
	}
	if len(new) == len(c.studios) && len(ms) == 0 {
		return nil
	}
	c.studios = new
	var err error
	for v, k := range ms {
		st, errInt := newStudio(v, k)
		if errInt != nil {
			err = multierr.Append(err, errInt)
			continue
		}
		c.studios = append(c.studios, st)
		goapp.Log.Info().Str("service", v).Float64("priority", st.priority).Msg("added studio")
	}
	return err
}

func newStudio(v string, s *api.ServiceEntry) (*stWrap, error) {
	st, err := studio.NewClient(getURL(s, startKey), getURL(s, artifactKey), getURL(s, jobsKey), getURL(s, cancelKey))
	if err != nil {
		return nil, fmt.Errorf("can't init studio for %s: %v", v, err)
	}
	priority, err := getPriority(s)
	if err != nil {
		return nil, fmt.Errorf("can't init studio for %s: %v", v, err)
	}
	res := &stWrap{real: st, srv: v, key: fullKey(s), priority: priority}
	return res, nil
}

func getPriority(s *api.ServiceEntry) (float64, error) {
	v, ok := s.Service.Meta[priorityKey]
	if !ok {
		return 1, nil
	}
	res, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("can't parse priority '%s': %v", v, err)
	}
	if res < 0.5 || res > 50 {
		return 0, fmt.Errorf("wrong priority value '%f', not in [0.5, 50]", res)
	}
	return res, nil
}

func getURL(s *api.ServiceEntry, key string) string {
	v, ok := s.Service.Meta[key]
	if !ok {
		return ""
	}
	ssl := ""
	if isSSL, ok := s.Service.Meta[isHTTPSSLKey]; ok {
		if boolValue, err := strconv.ParseBool(isSSL); err == nil && boolValue {
			ssl = "s"
		}
	}
	return fmt.Sprintf("http%s://%s:%d/%s", ssl, s.Service.Address, s.Service.Port, v)
}

func key(s *api.ServiceEntry) string {
	return fmt.Sprintf("%s:%d", s.Service.Address, s.Service.Port)
}

func fullKey(s *api.ServiceEntry) string {
	res := strings.Builder{}
	for _, key := range [...]string{startKey, artifactKey, jobsKey, cancelKey, isHTTPSSLKey, priorityKey} {
		v, ok := s.Service.Meta[key]
		if ok {
			res.WriteString(key + ":" + v + ",")
		}
	}
	return res.String()
}
