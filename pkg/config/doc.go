// Package config owns the orchestrator's own configuration file and the
// validation tooling plugins use on application configurations: a CUE schema
// registry for structural validation and a Starlark evaluator for
// plugin-supplied derivation hooks.
package config
