//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-backed implementation of authcore.UserStore.
// It supports any database GORM supports (PostgreSQL, MySQL, SQLite, etc.).
//
// # Database Schema
//
// AutoMigrate creates a single "identities" table. Email is unique and the
// (provider, provider_id) pair is unique where provider_id is set. The
// version column backs the compare-and-swap in Save.
//
// # Usage
//
//	db, _ := gorm.Open(sqlite.Open("authcore.db"), &gorm.Config{})
//	if err := gormstore.AutoMigrate(db); err != nil { ... }
//	store := gormstore.NewIdentityStore(db)
package gorm
