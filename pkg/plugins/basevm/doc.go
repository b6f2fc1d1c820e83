// Package basevm implements the base virtual-machine application plugin: a
// single instance launched from an image, reachable over SSH, optionally
// configured by a shell script after boot.
//
// Application configs are validated against a CUE schema before anything
// touches the provider, and an optional Starlark hook can derive extra
// config values from the user input. Provisioning creates a key pair, the
// instance, waits for it to come up and attaches a public address, reporting
// progress along the way. Every resource created before a failure is
// attributed to the returned error so operators can inspect or reclaim it.
package basevm
