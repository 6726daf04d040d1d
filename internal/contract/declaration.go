// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package contract

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Declaration is the contract.yaml form of a service contract, shipped
// alongside a plugin so the host can register its services at load time.
type Declaration struct {
	Name         string            `yaml:"name" json:"name"`
	Version      string            `yaml:"version" json:"version"`
	Provider     string            `yaml:"provider" json:"provider"`
	Capabilities []string          `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	Methods      []MethodSignature `yaml:"methods" json:"methods"`
}

// ParseDeclaration parses and validates a contract.yaml file, returning
// the registrable contract.
func ParseDeclaration(data []byte) (*ServiceContract, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("declaration data is empty")
	}

	var d Declaration
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	return d.Contract()
}

// Contract converts the declaration into a validated ServiceContract.
func (d *Declaration) Contract() (*ServiceContract, error) {
	version, err := semver.NewVersion(d.Version)
	if err != nil {
		return nil, ErrInvalid("version", d.Version, "is not a semantic version")
	}

	capabilities := make([]Capability, len(d.Capabilities))
	for i, c := range d.Capabilities {
		capabilities[i] = Capability(c)
	}

	contract := &ServiceContract{
		Name:         d.Name,
		Version:      version,
		ProviderID:   d.Provider,
		Capabilities: capabilities,
		Methods:      d.Methods,
	}
	if err := contract.Validate(); err != nil {
		return nil, err
	}
	return contract, nil
}
