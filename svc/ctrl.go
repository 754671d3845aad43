package svc

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Ctrl contains StopChan that allows to terminate all the components that listen the channel.
type Ctrl struct {
	StopChan chan struct{}
	once     sync.Once
}

// NewCtrl creates a new instance of Ctrl.
func NewCtrl() *Ctrl {
	return &Ctrl{StopChan: make(chan struct{})}
}

// Wait blocks until an interrupt arrives or StopChan gets closed, then makes a pause of t to give the
// components time to shut down gracefully.
func (c *Ctrl) Wait(t time.Duration) {
	inter := make(chan os.Signal, 1)
	signal.Notify(inter, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(inter)

	select {
	case <-inter:
		c.Terminate()
	case <-c.StopChan:
	}

	<-time.NewTimer(t).C
}

// Terminate closes StopChan to signal all the components to shut down. It's safe to call it more than once.
func (c *Ctrl) Terminate() {
	c.once.Do(func() { close(c.StopChan) })
}
