package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/brokerwire/callstats/internal/models"
	"gopkg.in/yaml.v3"
)

// OrgsFile is the YAML layout of the organizations seed file.
//
//	organizations:
//	  - org_id: acme
//	    name: Acme Freight
//	    node_persistent_id: 7f3c...
//	    timezone: America/Chicago
type OrgsFile struct {
	Organizations []OrgEntry `yaml:"organizations"`
}

// OrgEntry is one organization in the seed file.
type OrgEntry struct {
	OrgID        string `yaml:"org_id"`
	Name         string `yaml:"name,omitempty"`
	SourceNodeID string `yaml:"node_persistent_id"`
	Timezone     string `yaml:"timezone,omitempty"`
	Active       *bool  `yaml:"active,omitempty"`
}

// Validate checks that the entry can become an organization.
func (e OrgEntry) Validate() error {
	if e.OrgID == "" {
		return errors.New("org_id is required")
	}
	if e.SourceNodeID == "" {
		return fmt.Errorf("org %s: node_persistent_id is required", e.OrgID)
	}
	if e.Timezone != "" {
		if _, err := time.LoadLocation(e.Timezone); err != nil {
			return fmt.Errorf("org %s: timezone %q: %w", e.OrgID, e.Timezone, err)
		}
	}
	return nil
}

// Organization converts the entry, falling back to defaultTZ and using the
// org ID as the name when none is given.
func (e OrgEntry) Organization(defaultTZ string) *models.Organization {
	name := e.Name
	if name == "" {
		name = e.OrgID
	}
	tz := e.Timezone
	if tz == "" {
		tz = defaultTZ
	}
	org := models.NewOrganization(e.OrgID, name, e.SourceNodeID, tz)
	if e.Active != nil {
		org.IsActive = *e.Active
	}
	return org
}

// LoadOrgsFile reads the seed file at path.
// If the file does not exist, an empty OrgsFile is returned.
func LoadOrgsFile(path string) (*OrgsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &OrgsFile{}, nil
		}
		return nil, fmt.Errorf("read orgs file: %w", err)
	}

	var f OrgsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse orgs file: %w", err)
	}

	seen := make(map[string]bool, len(f.Organizations))
	for _, e := range f.Organizations {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("orgs file %s: %w", path, err)
		}
		if seen[e.OrgID] {
			return nil, fmt.Errorf("orgs file %s: duplicate org_id %s", path, e.OrgID)
		}
		seen[e.OrgID] = true
	}
	return &f, nil
}

// Save writes the seed file, for the CLI's export command.
func (f *OrgsFile) Save(path string) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal orgs file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write orgs file: %w", err)
	}
	return nil
}

// Organizations returns every organization the server should seed: the
// single env-configured org first, then the entries of OrgsFile. Env wins
// when both name the same org_id.
func (c SeedConfig) Organizations() ([]*models.Organization, error) {
	var orgs []*models.Organization
	seen := make(map[string]bool)

	if c.OrgID != "" {
		entry := OrgEntry{OrgID: c.OrgID, Name: c.ClientName, SourceNodeID: c.SourceNodeID}
		if err := entry.Validate(); err != nil {
			return nil, fmt.Errorf("ORG_ID seed: %w", err)
		}
		orgs = append(orgs, entry.Organization(c.Timezone))
		seen[c.OrgID] = true
	}

	if c.OrgsFile != "" {
		f, err := LoadOrgsFile(c.OrgsFile)
		if err != nil {
			return nil, err
		}
		for _, e := range f.Organizations {
			if seen[e.OrgID] {
				continue
			}
			orgs = append(orgs, e.Organization(c.Timezone))
			seen[e.OrgID] = true
		}
	}
	return orgs, nil
}
