// Package config defines the typed share-pack configuration consumed by the
// provisioning engine and the application configuration for the sharectl
// binary. The share-pack types are the strict intermediate representation
// produced by an external ConfigParser; the engine never accepts an untyped
// document directly.
package config
