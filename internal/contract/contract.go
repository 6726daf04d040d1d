// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

// Package contract provides the catalog of service interfaces plugins
// declare and consumers discover.
package contract

import (
	"regexp"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Capability describes an operational property of a declared service.
type Capability string

// Capabilities a provider may declare.
const (
	CapabilityStreaming     Capability = "streaming"
	CapabilityBatch         Capability = "batch"
	CapabilityTransactional Capability = "transactional"
	CapabilityIdempotent    Capability = "idempotent"
)

var knownCapabilities = map[Capability]bool{
	CapabilityStreaming:     true,
	CapabilityBatch:         true,
	CapabilityTransactional: true,
	CapabilityIdempotent:    true,
}

// maxNameLength is the maximum allowed length for service names.
const maxNameLength = 64

// namePattern validates service names: lowercase segments separated by
// dots, each starting with a letter. "math", "vector.store" are valid;
// trailing separators and uppercase are not.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*(\.[a-z][a-z0-9-]*)*$`)

// methodPattern validates method names.
var methodPattern = regexp.MustCompile(`^[a-z][a-zA-Z0-9_]*$`)

// MethodSignature declares one callable method of a service.
type MethodSignature struct {
	Name   string `yaml:"name" json:"name"`
	Input  string `yaml:"input,omitempty" json:"input,omitempty"`
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
}

// ServiceContract is a versioned, named declaration of a callable
// interface a plugin provides. Contracts with the same name and different
// major versions coexist side by side.
type ServiceContract struct {
	Name         string
	Version      *semver.Version
	ProviderID   string
	Capabilities []Capability
	Methods      []MethodSignature
	RegisteredAt time.Time
}

// Validate checks contract constraints.
func (c *ServiceContract) Validate() error {
	if c.Name == "" || !namePattern.MatchString(c.Name) {
		return ErrInvalid("name", c.Name, "must be lowercase dot-separated segments")
	}
	if len(c.Name) > maxNameLength {
		return ErrInvalid("name", c.Name, "must be 64 characters or less")
	}
	if c.Version == nil {
		return ErrInvalid("version", "", "is required")
	}
	if c.ProviderID == "" {
		return ErrInvalid("provider", "", "is required")
	}
	for _, cap := range c.Capabilities {
		if !knownCapabilities[cap] {
			return ErrInvalid("capabilities", string(cap), "is not a known capability")
		}
	}
	if len(c.Methods) == 0 {
		return ErrInvalid("methods", "", "at least one method is required")
	}
	for _, m := range c.Methods {
		if !methodPattern.MatchString(m.Name) {
			return ErrInvalid("methods", m.Name, "must start with a lowercase letter")
		}
	}
	return nil
}
