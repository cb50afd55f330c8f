// Package dispatch forwards delegated mass actions ("target:action") to the
// code that handles them, either through an in-process sub-request on a
// named route or as a NATS message.
package dispatch

import (
	"fmt"
	"strings"

	"github.com/InterNations/DataGridBundle/pkg/grid"
)

// Target and Action split a "target:action" identifier
type Target struct {
	Target string
	Action string
}

func ParseIdentifier(identifier string) (Target, error) {
	target, action, ok := strings.Cut(identifier, ":")
	target, action = strings.TrimSpace(target), strings.TrimSpace(action)
	if !ok || target == "" || action == "" {
		return Target{}, grid.NewError(grid.ErrConfiguration, "dispatch.ParseIdentifier",
			fmt.Errorf("callback %s is not callable or Controller action", identifier))
	}
	return Target{Target: target, Action: action}, nil
}

func (t Target) String() string {
	return t.Target + ":" + t.Action
}
