package main

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// enumValue is a string flag restricted to a fixed set of choices. Empty means unset.
type enumValue struct {
	target  *string
	choices []string
}

var _ pflag.Value = (*enumValue)(nil)

func newEnumValue(target *string, choices ...string) *enumValue {
	return &enumValue{target: target, choices: choices}
}

func (e *enumValue) String() string {
	return *e.target
}

func (e *enumValue) Set(v string) error {
	for _, c := range e.choices {
		if strings.EqualFold(v, c) {
			*e.target = c
			return nil
		}
	}
	return fmt.Errorf("must be one of %s", strings.Join(e.choices, ", "))
}

func (e *enumValue) Type() string {
	return "string"
}
