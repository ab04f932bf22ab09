// Package provisioning provides shared types, interfaces, and orchestration for deployments.
//
// # Subpackages
//
//   - lifecycle/ — create, reuse or recreate policy for managed resources
//   - compute/ — VM domains, cloud image volumes and seed images
//   - deploy/ — the phases taking a target from nothing to a configured controller
//
// # Core Types
//
// Context carries the target, timeouts, lifecycle policy and observer.
// Phase defines a provisioning step with Name() and Provision() methods.
// State accumulates results from each phase (controller address, API key, client, registered nodes).
package provisioning
