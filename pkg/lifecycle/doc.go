// Package lifecycle defines the plugin contract and state machine that drive
// an application deployment from validation through provisioning,
// configuration, monitoring, and deletion.
//
// The package is the seam across which independently developed plugin code
// executes infrastructure-mutating operations. It owns three things: the
// AppPlugin capability interface every application plugin implements, the
// launch-status state machine that sequences calls into that interface, and
// the registry that resolves an application identifier to a plugin instance.
// Everything cloud-specific lives behind the cloud.Provider handle; everything
// application-specific lives behind AppPlugin.
package lifecycle
