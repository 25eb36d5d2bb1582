package transport

// Role is the local node's configured participation level in the mesh.
// It is the only configuration the filtering path consults: whether this node
// opportunistically rebroadcasts, passed in at construction rather than
// read from a global.
type Role int

const (
	// RoleClient only originates and receives traffic addressed to it.
	RoleClient Role = iota
	// RoleClientMute behaves like RoleClient but never emits beacons.
	RoleClientMute
	// RoleRouter forwards traffic for other nodes.
	RoleRouter
	// RoleRouterClient both originates/receives and forwards.
	RoleRouterClient
	// RoleRepeater forwards traffic without participating as an endpoint.
	RoleRepeater
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleClientMute:
		return "client_mute"
	case RoleRouter:
		return "router"
	case RoleRouterClient:
		return "router_client"
	case RoleRepeater:
		return "repeater"
	default:
		return "unknown"
	}
}

// CanRebroadcast reports whether this role participates in opportunistic
// rebroadcast and is therefore exempt from the duplicate-frame
// pending-rebroadcast cancellation on duplicate reception.
func (r Role) CanRebroadcast() bool {
	switch r {
	case RoleRouter, RoleRouterClient, RoleRepeater:
		return true
	default:
		return false
	}
}
