// Package s3 publishes deployment artifacts to S3-compatible object storage.
//
// A Store keeps every target's rendered files under <prefix>/<target>/ in one
// bucket together with a manifest.json describing the run that wrote them.
// Credentials come from the options or, when empty, from the default AWS
// credential chain (environment, shared config, instance role).
package s3
