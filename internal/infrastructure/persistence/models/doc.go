// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer pure and free
// from ORM concerns.
//
// Structure:
// - base.go: shared id, timestamp and version columns
// - opportunity.go: opportunities table
// - section.go: sections table, replaced wholesale on every ingest
// - requirement.go: requirements table with classification and tracking columns
package models
