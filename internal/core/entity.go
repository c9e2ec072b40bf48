package core

// EntityType identifies what kind of value an Entity carries.
type EntityType string

const (
	EntityIP      EntityType = "ip"
	EntityHost    EntityType = "host"
	EntityUser    EntityType = "user"
	EntityUnknown EntityType = "unknown"
)

// EntityRole distinguishes who acted from what was acted upon.
type EntityRole string

const (
	RoleActor EntityRole = "actor"
	RoleAsset EntityRole = "asset"
)

// Entity is the canonical identity alerts and cases are keyed by.
type Entity struct {
	Type  EntityType `json:"type"`
	Value string     `json:"value"`
	Role  EntityRole `json:"role"`
}

// Key returns the canonical "type:value" form. Role is not part of the key.
func (en Entity) Key() string {
	return string(en.Type) + ":" + en.Value
}

func (en Entity) String() string { return en.Key() }

func known(v string) bool {
	return v != "" && v != Unknown
}

// Actor resolves who performed an event: the source IP, then the user.
func Actor(e Event) Entity {
	switch {
	case known(e.IP):
		return Entity{Type: EntityIP, Value: e.IP, Role: RoleActor}
	case known(e.User):
		return Entity{Type: EntityUser, Value: e.User, Role: RoleActor}
	default:
		return Entity{Type: EntityUnknown, Value: Unknown, Role: RoleActor}
	}
}

// Asset resolves what system an event concerns: the host, then the IP.
func Asset(e Event) Entity {
	switch {
	case known(e.Host):
		return Entity{Type: EntityHost, Value: e.Host, Role: RoleAsset}
	case known(e.IP):
		return Entity{Type: EntityIP, Value: e.IP, Role: RoleAsset}
	default:
		return Entity{Type: EntityUnknown, Value: Unknown, Role: RoleAsset}
	}
}

// WindowIP is the raw IP string rule detectors key their windows by.
func WindowIP(e Event) string {
	if e.IP == "" {
		return Unknown
	}
	return e.IP
}
