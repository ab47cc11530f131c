// Package check evaluates named predicates against each response, the way a
// benchmark script asserts `status === 200`.
package check

import (
	"bytes"
	"fmt"

	"prodbench/internal/config"
)

// Response is the part of an HTTP exchange a check can look at.
type Response struct {
	Status int
	Body   []byte
	Err    error
}

type Check struct {
	Name         string
	Status       int
	BodyContains string
}

func FromSpec(s config.CheckSpec) (Check, error) {
	if s.Status == 0 && s.BodyContains == "" {
		return Check{}, fmt.Errorf("check %q has no predicate", s.Name)
	}
	c := Check{Name: s.Name, Status: s.Status, BodyContains: s.BodyContains}
	if c.Name == "" {
		c.Name = c.defaultName()
	}
	return c, nil
}

func FromSpecs(specs []config.CheckSpec) ([]Check, error) {
	out := make([]Check, 0, len(specs))
	for _, s := range specs {
		c, err := FromSpec(s)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (c Check) defaultName() string {
	if c.Status != 0 && c.BodyContains != "" {
		return fmt.Sprintf("status is %d and body contains %q", c.Status, c.BodyContains)
	}
	if c.Status != 0 {
		return fmt.Sprintf("status is %d", c.Status)
	}
	return fmt.Sprintf("body contains %q", c.BodyContains)
}

// Passes is true when every configured predicate holds. A transport error
// fails every check.
func (c Check) Passes(r Response) bool {
	if r.Err != nil {
		return false
	}
	if c.Status != 0 && r.Status != c.Status {
		return false
	}
	if c.BodyContains != "" && !bytes.Contains(r.Body, []byte(c.BodyContains)) {
		return false
	}
	return true
}

// NeedsBody reports whether any check inspects the body, so the runner can
// skip buffering it otherwise.
func NeedsBody(checks []Check) bool {
	for _, c := range checks {
		if c.BodyContains != "" {
			return true
		}
	}
	return false
}
