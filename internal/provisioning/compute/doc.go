// Package compute defines and creates the virtual machines of a deployment.
//
// An [Instance] is a plain netbooted domain (the bootstrap node and any
// extra virtual nodes). A [CloudInstance] boots an Ubuntu cloud image
// instead: it clones a per-release base volume into a root disk, attaches a
// NoCloud seed volume carrying the rendered cloud-init user data, and is
// created (started) rather than only defined.
//
// Every domain and volume goes through the same lifecycle.Policy so re-runs
// behave identically for all of them.
package compute
