// Package ssh runs commands on the controller VM over SSH.
//
// The client authenticates with the deployer's fixed identity (id_maas) and
// does not verify host keys, since the controller is rebuilt on every forced
// run. [Client] implements shell.Runner, so anything that drives the local
// shell can be pointed at the controller instead.
package ssh
