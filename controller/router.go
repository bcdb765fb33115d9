// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package controller

import (
	"sync"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"vxpy.io/vxpy/pkg/ipc"
)

// Router connects the pipes of all children. Messages for the controller
// are returned by Poll, everything else is forwarded to the receiver.
type Router struct {
	log *zap.Logger

	mu        sync.Mutex
	pipes     map[ipc.Role]*ipc.Pipe
	confirmed map[ipc.Role]bool
	pending   []*ipc.Message
}

// NewRouter creates a router without children.
func NewRouter(log *zap.Logger) *Router {
	return &Router{
		log:       log,
		pipes:     map[ipc.Role]*ipc.Pipe{},
		confirmed: map[ipc.Role]bool{},
	}
}

// Attach connects the pipe of role, replacing an earlier one.
func (router *Router) Attach(role ipc.Role, pipe *ipc.Pipe) {
	router.mu.Lock()
	defer router.mu.Unlock()
	router.pipes[role] = pipe
	router.confirmed[role] = false
}

// Detach disconnects role.
func (router *Router) Detach(role ipc.Role) {
	router.mu.Lock()
	defer router.mu.Unlock()
	delete(router.pipes, role)
}

// Confirmed returns whether role confirmed its shutdown.
func (router *Router) Confirmed(role ipc.Role) bool {
	router.mu.Lock()
	defer router.mu.Unlock()
	return router.confirmed[role]
}

type route struct {
	role ipc.Role
	pipe *ipc.Pipe
}

func (router *Router) routes() []route {
	router.mu.Lock()
	defer router.mu.Unlock()

	routes := make([]route, 0, len(router.pipes))
	for _, role := range ipc.Roles {
		if pipe, ok := router.pipes[role]; ok {
			routes = append(routes, route{role: role, pipe: pipe})
		}
	}
	return routes
}

// Poll returns the next message for the controller without blocking.
func (router *Router) Poll() (*ipc.Message, bool) {
	if msg, ok := router.next(); ok {
		return msg, true
	}
	for _, route := range router.routes() {
		for {
			msg, ok := route.pipe.Poll()
			if !ok {
				break
			}
			if router.route(route.role, msg) {
				return msg, true
			}
		}
	}
	return nil, false
}

// Route forwards every received message without blocking. Messages for the
// controller are kept for Poll.
func (router *Router) Route() {
	for _, route := range router.routes() {
		for {
			msg, ok := route.pipe.Poll()
			if !ok {
				break
			}
			if router.route(route.role, msg) {
				router.mu.Lock()
				router.pending = append(router.pending, msg)
				router.mu.Unlock()
			}
		}
	}
}

func (router *Router) next() (*ipc.Message, bool) {
	router.mu.Lock()
	defer router.mu.Unlock()
	if len(router.pending) == 0 {
		return nil, false
	}
	msg := router.pending[0]
	router.pending = router.pending[1:]
	return msg, true
}

// route handles msg received from role. It returns true when msg is for
// the controller.
func (router *Router) route(role ipc.Role, msg *ipc.Message) bool {
	if msg.Sender != role {
		router.log.Warn("sender does not match pipe",
			zap.String("pipe", string(role)), zap.String("sender", string(msg.Sender)))
		msg.Sender = role
	}

	switch {
	case msg.Signal == ipc.SignalConfirmShutdown:
		router.mu.Lock()
		router.confirmed[role] = true
		router.mu.Unlock()
		router.log.Debug("shutdown confirmed", zap.String("role", string(role)))
		return false
	case msg.Receiver == "" || msg.Receiver == ipc.Controller:
		return true
	default:
		if err := router.Send(msg); err != nil {
			router.log.Warn("forwarding failed",
				zap.String("sender", string(msg.Sender)), zap.String("receiver", string(msg.Receiver)),
				zap.String("name", msg.Name), zap.Error(err))
		}
		return false
	}
}

// Send delivers msg to its receiver. Messages for the controller are dropped.
func (router *Router) Send(msg *ipc.Message) error {
	if msg.Receiver == "" || msg.Receiver == ipc.Controller {
		router.log.Debug("message to the controller dropped", zap.Stringer("signal", msg.Signal), zap.String("name", msg.Name))
		return nil
	}

	router.mu.Lock()
	pipe, ok := router.pipes[msg.Receiver]
	router.mu.Unlock()
	if !ok {
		mon.Counter("router_undeliverable").Inc(1)
		return Error.New("no process %q", msg.Receiver)
	}
	mon.Counter("router_forwarded").Inc(1)
	return pipe.Send(msg)
}

// Broadcast sends msg to every child, setting the receiver.
func (router *Router) Broadcast(msg *ipc.Message) error {
	var group errs.Group
	for _, route := range router.routes() {
		copied := *msg
		copied.Receiver = route.role
		group.Add(route.pipe.Send(&copied))
	}
	return group.Err()
}
