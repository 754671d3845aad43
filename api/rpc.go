package api

import (
	"fmt"
	"math/rand"
	"net"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/torantis/torenms/log"
)

const (
	// ServiceName is the name the health server reports the center under.
	ServiceName  = "torenms"
	healthPeriod = 5 * time.Second
)

func (a *API) serveRPC() {
	defer func() {
		if r := recover(); r != nil {
			a.log.With("func", "serveRPC", "event", log.EventPanic).Errorf("%s", r)
		}
	}()

	l, err := net.Listen("tcp", fmt.Sprintf(":%d", a.portRPC))
	for err != nil {
		a.log.With("func", "serveRPC").Errorf("Listen() failed: %s", err)
		select {
		case <-a.ctrl.StopChan:
			return
		case <-time.After(jitter(a.retry)):
		}
		l, err = net.Listen("tcp", fmt.Sprintf(":%d", a.portRPC))
	}

	go a.reportHealth()

	if err := a.rpc.Serve(l); err != nil {
		a.log.With("func", "serveRPC").Errorf("Serve() failed: %s", err)
	}
}

// reportHealth keeps the serving status of the health server in line with the store liveness.
func (a *API) reportHealth() {
	ticker := time.NewTicker(healthPeriod)
	defer ticker.Stop()

	for {
		a.updateHealth()
		select {
		case <-a.ctrl.StopChan:
			a.healthSrv.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

func (a *API) updateHealth() {
	status := healthpb.HealthCheckResponse_SERVING
	if a.check != nil {
		if err := a.check(); err != nil {
			a.log.With("func", "updateHealth").Errorf("check failed: %s", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	a.healthSrv.SetServingStatus("", status)
	a.healthSrv.SetServingStatus(ServiceName, status)
}

func jitter(retry time.Duration) time.Duration {
	secs := int(retry.Seconds())
	if secs < 1 {
		return time.Second
	}
	return time.Second*time.Duration(rand.Intn(secs)) + time.Second
}
