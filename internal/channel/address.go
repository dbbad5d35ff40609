package channel

import (
	"fmt"
	"strings"
)

// Address identifies a channel within the component registry.
type Address struct {
	Component string `json:"component"`
	Channel   string `json:"channel"`
}

func (a Address) String() string {
	return a.Component + "/" + a.Channel
}

// ParseAddress parses "component/channel".
func ParseAddress(s string) (Address, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Address{}, fmt.Errorf("invalid channel address: %q", s)
	}
	return Address{Component: parts[0], Channel: parts[1]}, nil
}
