// Package keygen creates and loads the RSA key pair the deployer uses to
// reach the controller VM and that the controller uses to power-control
// domains over qemu+ssh.
//
// Keys are written as a PEM private key and an OpenSSH authorized_keys
// public key, the same layout ssh-keygen produces.
package keygen
