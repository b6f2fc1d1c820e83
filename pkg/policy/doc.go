// Package policy gates deployment launches with Rego policies evaluated
// through Open Policy Agent. Built-in policies cover baseline hygiene;
// operators add their own as .rego files, hot-reloaded on change.
//
// A policy package must expose a deny set. Each deny entry is either a plain
// message string or an object with message and severity keys. Violations at
// error severity or above block the launch.
package policy
