package svc

import (
	"time"

	consul "github.com/hashicorp/consul/api"

	"github.com/torantis/torenms/log"
)

// Query the Consul for the center:
// dig +noall +answer @127.0.0.1 -p 8600 torenms.service.dc1.consul
// curl localhost:8500/v1/health/service/torenms?passing

type (
	// TTLUpdater reports the health of a registered service.
	TTLUpdater interface {
		ServiceRegister(*consul.AgentServiceRegistration) error
		UpdateTTL(checkID, output, status string) error
	}

	// MeshAgentCfg is used to initialize an instance of MeshAgent.
	MeshAgentCfg struct {
		Name  string
		Port  int
		Agent TTLUpdater
		Ctrl  *Ctrl
		TTL   time.Duration
		Check func() error
		Log   log.Logger
	}

	// MeshAgent registers the center in the service mesh and keeps its TTL check up to date.
	MeshAgent struct {
		name  string
		port  int
		agent TTLUpdater
		ctrl  *Ctrl
		ttl   time.Duration
		check func() error
		log   log.Logger
	}
)

// NewConsulAgent returns the agent of the local consul.
func NewConsulAgent() (*consul.Agent, error) {
	c, err := consul.NewClient(consul.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return c.Agent(), nil
}

// NewMeshAgent creates and initializes a new instance of MeshAgent.
func NewMeshAgent(c *MeshAgentCfg) *MeshAgent {
	return &MeshAgent{
		name:  c.Name,
		port:  c.Port,
		agent: c.Agent,
		ctrl:  c.Ctrl,
		ttl:   c.TTL,
		check: c.Check,
		log:   c.Log.With("component", "meshAgent"),
	}
}

// Run registers the service and launches the TTL updates.
func (a *MeshAgent) Run() error {
	reg := &consul.AgentServiceRegistration{
		Name: a.name,
		Port: a.port,
		Check: &consul.AgentServiceCheck{
			TTL: a.ttl.String(),
		},
	}
	if err := a.agent.ServiceRegister(reg); err != nil {
		a.log.With("func", "Run").Errorf("ServiceRegister() failed: %s", err)
		return err
	}
	go a.updateTTL()
	return nil
}

func (a *MeshAgent) updateTTL() {
	t := time.NewTicker(a.ttl / 2)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			a.update()
		case <-a.ctrl.StopChan:
			return
		}
	}
}

func (a *MeshAgent) update() {
	health := consul.HealthPassing
	if err := a.check(); err != nil {
		a.log.With("func", "update", "event", log.EventUpdConsulStatus).Errorf("check() failed: %s", err)
		// failed check removes the instance from DNS and HTTP queries
		health = consul.HealthCritical
	}

	if err := a.agent.UpdateTTL("service:"+a.name, "", health); err != nil {
		a.log.With("func", "update", "event", log.EventUpdConsulStatus).Errorf("UpdateTTL() failed: %s", err)
	}
}
