package router

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/wireformat"
)

const outgoingRouteMaxFrames = 2 * DefaultMaxFrames

// Router connects one network connection to the node: frames read from the
// connection go to the incoming route, frames the node sends go to the
// outgoing route.
type Router struct {
	name          string
	incomingRoute *Route
	outgoingRoute *Route
}

// NewRouter creates a new router. name only appears in errors and logs.
func NewRouter(name string) *Router {
	return &Router{
		name:          name,
		incomingRoute: NewRoute(fmt.Sprintf("%s-incoming", name)),
		outgoingRoute: newRouteWithCapacity(fmt.Sprintf("%s-outgoing", name), outgoingRouteMaxFrames),
	}
}

// NewRouterWithCapacity creates a router whose routes hold capacity frames.
func NewRouterWithCapacity(name string, capacity int) *Router {
	return &Router{
		name:          name,
		incomingRoute: newRouteWithCapacity(fmt.Sprintf("%s-incoming", name), capacity),
		outgoingRoute: newRouteWithCapacity(fmt.Sprintf("%s-outgoing", name), capacity),
	}
}

// EnqueueIncomingFrame enqueues a frame read from the connection.
func (r *Router) EnqueueIncomingFrame(frame wireformat.Frame) error {
	err := r.incomingRoute.Enqueue(frame)
	if err != nil {
		return errors.Wrapf(err, "router %s", r.name)
	}
	return nil
}

// IncomingRoute returns the route of frames read from the connection.
func (r *Router) IncomingRoute() *Route {
	return r.incomingRoute
}

// OutgoingRoute returns the outgoing route
func (r *Router) OutgoingRoute() *Route {
	return r.outgoingRoute
}

// Close shuts down the router by closing both routes
func (r *Router) Close() {
	r.incomingRoute.Close()
	r.outgoingRoute.Close()
}
