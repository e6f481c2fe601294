//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore implementation of authcore.UserStore.
// It supports multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
//   - Identity: one entity per identity, keyed by identity id
//   - IdentityClaim: uniqueness claims keyed by "email:<address>" or
//     "provider:<name>:<id>", each pointing at the owning identity
//
// Claims are written in the same transaction as the identity, so two
// registrations racing on one email cannot both commit.
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	store := gae.NewIdentityStore(client, "")           // default namespace
//	tenant := gae.NewIdentityStore(client, "tenant-123")
package gae
