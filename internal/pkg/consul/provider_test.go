package consul

import (
	"fmt"
	"testing"

	sapi "github.com/castgate/castgate/internal/pkg/studio/api"
	"github.com/castgate/castgate/internal/pkg/test/mocks"
	"github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/assert"
)

var testMeta = map[string]string{"startURL": "start", "artifactURL": "art", "jobsURL": "jobs", "cancelURL": "cancel"}

func Test_Get_empty(t *testing.T) {
	p := newProvider(nil, "studio")
	st, name, err := p.Get("olia", true)
	assert.Nil(t, st)
	assert.Equal(t, "", name)
	assert.Nil(t, err)
	st, name, err = p.Get("olia", false)
	assert.Nil(t, st)
	assert.Equal(t, "", name)
	assert.NotNil(t, err)
}

func Test_Get_existing(t *testing.T) {
	p := newProvider(nil, "studio")
	st := &mocks.Studio{}
	p.studios = append(p.studios, &stWrap{real: st, srv: "olia"})
	rst, name, err := p.Get("olia", true)
	assert.Equal(t, st, rst)
	assert.Equal(t, "olia", name)
	assert.Nil(t, err)
	rst, name, err = p.Get("olia1", true)
	assert.Equal(t, st, rst)
	assert.Equal(t, "olia", name)
	assert.Nil(t, err)
	rst, name, err = p.Get("olia", false)
	assert.Equal(t, st, rst)
	assert.Equal(t, "olia", name)
	assert.Nil(t, err)
	rst, name, err = p.Get("olia1", false)
	assert.Nil(t, rst)
	assert.Equal(t, "", name)
	assert.NotNil(t, err)
}

func Test_Get_by_name(t *testing.T) {
	p := newProvider(nil, "studio")
	st := &mocks.Studio{}
	st1 := &mocks.Studio{}
	p.studios = append(p.studios, &stWrap{real: st, srv: "olia"})
	p.studios = append(p.studios, &stWrap{real: st1, srv: "olia1"})
	rst, name, _ := p.Get("olia", true)
	testAssertEqPtr(t, st, rst)
	assert.Equal(t, "olia", name)
	rst, _, _ = p.Get("olia", true)
	testAssertEqPtr(t, st, rst)

	rst, name, _ = p.Get("olia1", true)
	testAssertEqPtr(t, st1, rst)
	assert.Equal(t, "olia1", name)
	rst, _, _ = p.Get("olia1", true)
	testAssertEqPtr(t, st1, rst)
}

func Test_Get_by_priority(t *testing.T) {
	p := newProvider(nil, "studio")
	st := &mocks.Studio{}
	st1 := &mocks.Studio{}
	p.studios = append(p.studios, &stWrap{real: st, srv: "olia", priority: 50})
	p.studios = append(p.studios, &stWrap{real: st1, srv: "olia1", priority: 0.5})
	got := map[string]int{}
	for i := 0; i < 100; i++ {
		_, name, err := p.Get("", true)
		assert.Nil(t, err)
		got[name]++
	}
	assert.Greater(t, got["olia"], got["olia1"])
}

func testAssertEqPtr(t *testing.T, st, exp sapi.Studio) {
	t.Helper()
	assert.Equal(t, fmt.Sprintf("%p", st), fmt.Sprintf("%p", exp))
}

func TestProvider_updateSrv_no_meta(t *testing.T) {
	p := newProvider(nil, "studio")
	err := p.updateSrv([]*api.ServiceEntry{{Service: &api.AgentService{Service: "olia", Port: 80, Address: "srv", Meta: map[string]string{}}}})
	assert.NotNil(t, err)
}

func TestProvider_updateSrv_adds(t *testing.T) {
	p := newProvider(nil, "studio")
	err := p.updateSrv([]*api.ServiceEntry{{Service: &api.AgentService{Service: "olia", Port: 80, Address: "srv",
		Meta: testMeta}}})
	assert.Nil(t, err)
	assert.Equal(t, 1, len(p.studios))
}

func TestProvider_updateSrv_addsSame(t *testing.T) {
	p := newProvider(nil, "studio")
	err := p.updateSrv([]*api.ServiceEntry{{Service: &api.AgentService{Service: "olia", Port: 80, Address: "srv",
		Meta: testMeta}}})
	assert.Nil(t, err)
	assert.Equal(t, 1, len(p.studios))
	cp := p.studios[0]
	err = p.updateSrv([]*api.ServiceEntry{{Service: &api.AgentService{Service: "olia", Port: 80, Address: "srv",
		Meta: testMeta}}})
	assert.Nil(t, err)
	assert.Equal(t, 1, len(p.studios))
	assert.Equal(t, cp, p.studios[0])
}

func TestProvider_updateSrv_updates(t *testing.T) {
	p := newProvider(nil, "studio")
	err := p.updateSrv([]*api.ServiceEntry{{Service: &api.AgentService{Service: "olia", Port: 80, Address: "srv",
		Meta: testMeta}}})
	assert.Nil(t, err)
	assert.Equal(t, 1, len(p.studios))
	cp := p.studios[0]
	changed := map[string]string{"startURL": "start/", "artifactURL": "art", "jobsURL": "jobs", "cancelURL": "cancel"}
	err = p.updateSrv([]*api.ServiceEntry{{Service: &api.AgentService{Service: "olia", Port: 80, Address: "srv",
		Meta: changed}}})
	assert.Nil(t, err)
	assert.Equal(t, 1, len(p.studios))
	assert.NotEqual(t, cp, p.studios[0])
}

func TestProvider_updateSrv_addsTwo(t *testing.T) {
	p := newProvider(nil, "studio")
	err := p.updateSrv([]*api.ServiceEntry{{Service: &api.AgentService{Service: "olia", Port: 80, Address: "srv",
		Meta: testMeta}}})
	assert.Nil(t, err)
	assert.Equal(t, 1, len(p.studios))
	err = p.updateSrv([]*api.ServiceEntry{{Service: &api.AgentService{Service: "olia", Port: 81, Address: "srv",
		Meta: testMeta}},
		{Service: &api.AgentService{Service: "olia", Port: 80, Address: "srv",
			Meta: testMeta}}})
	assert.Nil(t, err)
	assert.Equal(t, 2, len(p.studios))
}

func TestProvider_updateSrv_drops(t *testing.T) {
	p := newProvider(nil, "studio")
	err := p.updateSrv([]*api.ServiceEntry{{Service: &api.AgentService{Service: "olia", Port: 80, Address: "srv",
		Meta: testMeta}},
		{Service: &api.AgentService{Service: "olia", Port: 81, Address: "srv",
			Meta: testMeta}},
		{Service: &api.AgentService{Service: "olia", Port: 82, Address: "srv",
			Meta: testMeta}}})
	assert.Nil(t, err)
	assert.Equal(t, 3, len(p.studios))
	err = p.updateSrv([]*api.ServiceEntry{{Service: &api.AgentService{Service: "olia", Port: 81, Address: "srv",
		Meta: testMeta}}})
	assert.Nil(t, err)
	assert.Equal(t, 1, len(p.studios))
}

func TestProvider_getPriority(t *testing.T) {
	pr, err := getPriority(&api.ServiceEntry{Service: &api.AgentService{Meta: map[string]string{}}})
	assert.Nil(t, err)
	assert.Equal(t, 1.0, pr)
	pr, err = getPriority(&api.ServiceEntry{Service: &api.AgentService{Meta: map[string]string{"priority": "5"}}})
	assert.Nil(t, err)
	assert.Equal(t, 5.0, pr)
	_, err = getPriority(&api.ServiceEntry{Service: &api.AgentService{Meta: map[string]string{"priority": "olia"}}})
	assert.NotNil(t, err)
	_, err = getPriority(&api.ServiceEntry{Service: &api.AgentService{Meta: map[string]string{"priority": "100"}}})
	assert.NotNil(t, err)
}
