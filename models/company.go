package models

import (
	"gorm.io/gorm"
)

// Company represents a tenant of the platform. Every lead and every CRM
// integration is owned by exactly one company.
type Company struct {
	gorm.Model

	Name   string `gorm:"not null" json:"name"`
	Domain string `json:"domain"`

	IsActive bool `gorm:"default:true" json:"is_active"`

	// Relations
	Integrations []Integration `gorm:"foreignKey:CompanyID" json:"integrations,omitempty"`
	Leads        []Lead        `gorm:"foreignKey:CompanyID" json:"leads,omitempty"`
}
