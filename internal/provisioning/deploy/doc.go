// Package deploy brings up a controller and its nodes on one hypervisor.
//
// An [Engine] runs a fixed list of phases through provisioning.RunPhases:
// the virtual machines are defined first, then the controller is waited on,
// configured through its management API and finally asked to commission the
// registered nodes. No phase is retried as a whole; waits and remote calls
// retry individually.
package deploy
