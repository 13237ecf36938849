// Package models defines the domain models for callstats.
package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultTimezone is applied to organizations created without one.
const DefaultTimezone = "UTC"

// Organization is a tenant whose call data is analyzed independently.
// OrgID is the stable external key and never changes after creation.
type Organization struct {
	ID           uuid.UUID `json:"id"`
	OrgID        string    `json:"org_id"`
	Name         string    `json:"name"`
	SourceNodeID string    `json:"node_persistent_id"`
	Timezone     string    `json:"timezone"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewOrganization creates a new active Organization.
func NewOrganization(orgID, name, sourceNodeID, timezone string) *Organization {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	return &Organization{
		ID:           uuid.New(),
		OrgID:        orgID,
		Name:         name,
		SourceNodeID: sourceNodeID,
		Timezone:     timezone,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
}

// Location resolves the organization's IANA timezone.
func (o *Organization) Location() (*time.Location, error) {
	tz := o.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	return time.LoadLocation(tz)
}

// OrganizationUpdate carries the mutable fields of an organization.
// Nil fields are left unchanged.
type OrganizationUpdate struct {
	Name         *string `json:"name,omitempty"`
	SourceNodeID *string `json:"node_persistent_id,omitempty"`
	Timezone     *string `json:"timezone,omitempty"`
	IsActive     *bool   `json:"is_active,omitempty"`
}

// Apply copies the set fields of u onto o.
func (u OrganizationUpdate) Apply(o *Organization) {
	if u.Name != nil {
		o.Name = *u.Name
	}
	if u.SourceNodeID != nil {
		o.SourceNodeID = *u.SourceNodeID
	}
	if u.Timezone != nil {
		o.Timezone = *u.Timezone
	}
	if u.IsActive != nil {
		o.IsActive = *u.IsActive
	}
}

// Empty reports whether the update changes nothing.
func (u OrganizationUpdate) Empty() bool {
	return u.Name == nil && u.SourceNodeID == nil && u.Timezone == nil && u.IsActive == nil
}
