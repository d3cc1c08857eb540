package routing

import (
	"fmt"
	"strings"
)

// Kind is the connector variant.
type Kind string

const (
	KindConversation   Kind = "CONVERSATION"
	KindChannel        Kind = "CHANNEL"
	KindRouterInbound  Kind = "ROUTER_INBOUND"
	KindRouterOutbound Kind = "ROUTER_OUTBOUND"
)

// Router connector directions as they appear in the string key.
const (
	dirInbound  = "INBOUND"
	dirOutbound = "OUTBOUND"
	routerTag   = "ROUTER"
)

// DefaultEndpoint is used when an entry does not name an endpoint.
const DefaultEndpoint = "default"

// Connector is an addressable endpoint on a conversation, channel, or router.
// It is a plain value; two connectors are the same iff their keys are equal.
//
// For conversations OwnerType/OwnerKey are the conversation type and key. For
// channels they are the tag pool and tag name. For routers they are the router
// type and key, and Kind carries the direction.
type Connector struct {
	Kind      Kind
	OwnerType string
	OwnerKey  string
}

// ConversationConnector returns the connector for a conversation.
func ConversationConnector(convType, convKey string) Connector {
	return Connector{Kind: KindConversation, OwnerType: convType, OwnerKey: convKey}
}

// ChannelConnector returns the connector for a tag from a tag pool.
func ChannelConnector(pool, tag string) Connector {
	return Connector{Kind: KindChannel, OwnerType: pool, OwnerKey: tag}
}

// RouterInboundConnector returns the channel-facing side of a router.
func RouterInboundConnector(routerType, routerKey string) Connector {
	return Connector{Kind: KindRouterInbound, OwnerType: routerType, OwnerKey: routerKey}
}

// RouterOutboundConnector returns the conversation-facing side of a router.
func RouterOutboundConnector(routerType, routerKey string) Connector {
	return Connector{Kind: KindRouterOutbound, OwnerType: routerType, OwnerKey: routerKey}
}

// String returns the stable key of the connector.
func (c Connector) String() string {
	switch c.Kind {
	case KindRouterInbound:
		return strings.Join([]string{routerTag, c.OwnerType, c.OwnerKey, dirInbound}, ":")
	case KindRouterOutbound:
		return strings.Join([]string{routerTag, c.OwnerType, c.OwnerKey, dirOutbound}, ":")
	default:
		return strings.Join([]string{string(c.Kind), c.OwnerType, c.OwnerKey}, ":")
	}
}

// Validate reports whether the connector is well formed.
func (c Connector) Validate() error {
	switch c.Kind {
	case KindConversation, KindChannel, KindRouterInbound, KindRouterOutbound:
	default:
		return fmt.Errorf("unknown connector kind %q", c.Kind)
	}
	if c.OwnerType == "" || c.OwnerKey == "" {
		return fmt.Errorf("connector %s: owner type and key are required", c)
	}
	if strings.Contains(c.OwnerType, ":") || strings.Contains(c.OwnerKey, ":") {
		return fmt.Errorf("connector %s: owner fields must not contain ':'", c)
	}
	return nil
}

// IsRouter reports whether the connector belongs to a router.
func (c Connector) IsRouter() bool {
	return c.Kind == KindRouterInbound || c.Kind == KindRouterOutbound
}

// ParseConnector is the inverse of Connector.String.
func ParseConnector(s string) (Connector, error) {
	parts := strings.Split(s, ":")
	switch {
	case len(parts) == 3 && (parts[0] == string(KindConversation) || parts[0] == string(KindChannel)):
		c := Connector{Kind: Kind(parts[0]), OwnerType: parts[1], OwnerKey: parts[2]}
		return c, c.Validate()
	case len(parts) == 4 && parts[0] == routerTag:
		var kind Kind
		switch parts[3] {
		case dirInbound:
			kind = KindRouterInbound
		case dirOutbound:
			kind = KindRouterOutbound
		default:
			return Connector{}, fmt.Errorf("parse connector %q: unknown router direction %q", s, parts[3])
		}
		c := Connector{Kind: kind, OwnerType: parts[1], OwnerKey: parts[2]}
		return c, c.Validate()
	}
	return Connector{}, fmt.Errorf("parse connector %q: malformed key", s)
}

// MarshalText implements encoding.TextMarshaler so connectors can be map keys
// in JSON documents.
func (c Connector) MarshalText() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Connector) UnmarshalText(b []byte) error {
	parsed, err := ParseConnector(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
