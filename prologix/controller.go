// Package prologix drives a GPIB bus through a Prologix GPIB-ETHERNET controller.
//
// Typical usage:
//
//	c, err := prologix.Dial(ctx, "192.168.0.10", prologix.WithTimeout(3*time.Second))
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//	_ = c.Select(ctx, 11)
//	reading, err := c.Query(ctx, "C07X", 0)
package prologix

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mklimuk/gpib"
)

var _ gpib.Bus = &Controller{}

type state int

const (
	stateClosed state = iota
	stateUnselected
	stateSelected
)

// Controller keeps the bus state of one bridge: which device is addressed and
// whether the connection is usable. Operations are serialized.
type Controller struct {
	mx        sync.Mutex
	transport *Transport
	config    Options
	state     state
	address   int
}

func NewController(host string, opts ...Option) *Controller {
	config := newOptions(opts...)
	return &Controller{
		transport: newTransport(host, config),
		config:    config,
		state:     stateClosed,
		address:   -1,
	}
}

// Dial creates a controller and opens its connection.
func Dial(ctx context.Context, host string, opts ...Option) (*Controller, error) {
	c := NewController(host, opts...)
	if err := c.Open(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Controller) Open(ctx context.Context) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if err := c.transport.Open(ctx); err != nil {
		return err
	}
	c.state = stateUnselected
	c.address = -1
	return nil
}

func (c *Controller) Close() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.state = stateClosed
	return c.transport.Close()
}

// Selected returns the remembered device address.
func (c *Controller) Selected() (int, bool) {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.address, c.state == stateSelected
}

func (c *Controller) Select(ctx context.Context, addr int) error {
	if err := gpib.ValidAddress(addr); err != nil {
		return err
	}
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.state == stateClosed {
		return gpib.ErrClosed
	}
	if err := c.transport.SendDirective(ctx, "++addr %d", addr); err != nil {
		return fmt.Errorf("select %d: %w", addr, err)
	}
	c.address = addr
	c.state = stateSelected
	return nil
}

// InterfaceClear asserts IFC on the whole bus. The remembered selection is kept.
func (c *Controller) InterfaceClear(ctx context.Context) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.state == stateClosed {
		return gpib.ErrClosed
	}
	if err := c.transport.SendDirective(ctx, "++ifc"); err != nil {
		return fmt.Errorf("interface clear: %w", err)
	}
	return nil
}

// SelectedDeviceClear resets the selected instrument only.
func (c *Controller) SelectedDeviceClear(ctx context.Context) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if err := c.checkSelected(); err != nil {
		return err
	}
	if err := c.transport.SendDirective(ctx, "++clr"); err != nil {
		return fmt.Errorf("device clear %d: %w", c.address, err)
	}
	return nil
}

func (c *Controller) Write(ctx context.Context, cmd string) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.write(ctx, cmd)
}

func (c *Controller) Read(ctx context.Context, maxBytes int) (string, error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.read(ctx, "++read eoi", maxBytes)
}

func (c *Controller) ReadLine(ctx context.Context, maxBytes int) (string, error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.read(ctx, "++read 10", maxBytes)
}

func (c *Controller) Query(ctx context.Context, cmd string, maxBytes int) (string, error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if err := c.write(ctx, cmd); err != nil {
		return "", err
	}
	return c.read(ctx, "++read eoi", maxBytes)
}

// Version returns the bridge firmware banner. It does not need a selection.
func (c *Controller) Version(ctx context.Context) (string, error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.state == stateClosed {
		return "", gpib.ErrClosed
	}
	if err := c.transport.SendDirective(ctx, "++ver"); err != nil {
		return "", fmt.Errorf("version: %w", err)
	}
	resp, err := c.transport.RecvRaw(ctx, gpib.DefaultReadSize)
	if err != nil {
		return "", fmt.Errorf("version: %w", err)
	}
	return strings.TrimSpace(resp), nil
}

// GoToLocal returns the selected instrument to front panel control.
func (c *Controller) GoToLocal(ctx context.Context) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if err := c.checkSelected(); err != nil {
		return err
	}
	if err := c.transport.SendDirective(ctx, "++loc"); err != nil {
		return fmt.Errorf("go to local %d: %w", c.address, err)
	}
	return nil
}

func (c *Controller) write(ctx context.Context, cmd string) error {
	if err := c.checkSelected(); err != nil {
		return err
	}
	if err := c.transport.SendRaw(ctx, cmd); err != nil {
		return fmt.Errorf("write to %d: %w", c.address, err)
	}
	if c.config.SettleDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(c.config.SettleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) read(ctx context.Context, directive string, maxBytes int) (string, error) {
	if err := c.checkSelected(); err != nil {
		return "", err
	}
	if err := c.transport.SendDirective(ctx, "%s", directive); err != nil {
		return "", fmt.Errorf("read from %d: %w", c.address, err)
	}
	resp, err := c.transport.RecvRaw(ctx, maxBytes)
	if err != nil {
		return "", fmt.Errorf("read from %d: %w", c.address, err)
	}
	return strings.TrimSpace(resp), nil
}

func (c *Controller) checkSelected() error {
	switch c.state {
	case stateClosed:
		return gpib.ErrClosed
	case stateUnselected:
		return gpib.ErrNotSelected
	}
	return nil
}
