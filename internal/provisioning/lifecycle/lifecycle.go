// Package lifecycle decides what to do with a provisioned resource that may
// already exist: create it, reuse it, recreate it, or refuse.
//
// One Policy is shared by every managed resource (VM domains, base volumes,
// root volumes and seed volumes) so they all behave the same way on re-runs.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/imamik/vmaas/internal/deployerr"
	"github.com/imamik/vmaas/internal/logging"
	"github.com/imamik/vmaas/internal/metrics"
)

// Outcome reports which branch Ensure took.
type Outcome string

const (
	// Created means the resource was absent and has been created.
	Created Outcome = "created"
	// Reused means the resource was present and left untouched.
	Reused Outcome = "reused"
	// Recreated means the resource was deleted and created again.
	Recreated Outcome = "recreated"
)

// Policy holds the operator's choice for resources that already exist.
// When both flags are set Force wins.
type Policy struct {
	UseExisting bool
	Force       bool
}

// Resource describes one managed resource by name.
//
// Usage example:
//
//	outcome, err := policy.Ensure(ctx, lifecycle.Resource{
//	    Kind:   "volume",
//	    Name:   rootVol,
//	    Exists: func(ctx context.Context) (bool, error) { return v.VolumeExists(ctx, pool, rootVol) },
//	    Delete: func(ctx context.Context) error { return v.VolumeDelete(ctx, pool, rootVol) },
//	    Create: func(ctx context.Context) error { return v.VolumeClone(ctx, pool, base, rootVol) },
//	})
type Resource struct {
	Kind string
	Name string

	Exists func(ctx context.Context) (bool, error)
	Create func(ctx context.Context) error
	// Delete is only needed when Force may be set.
	Delete func(ctx context.Context) error
}

// Ensure applies the policy to r.
func (p Policy) Ensure(ctx context.Context, r Resource) (Outcome, error) {
	log := logging.FromContext(ctx).WithValues("kind", r.Kind, "name", r.Name)

	exists, err := r.Exists(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to check whether %s %s exists: %w", r.Kind, r.Name, err)
	}

	switch {
	case !exists:
		if err := r.Create(ctx); err != nil {
			return "", err
		}
		metrics.RecordResource(r.Kind, string(Created))
		return Created, nil

	case p.Force:
		if r.Delete == nil {
			return "", fmt.Errorf("%s %s exists and cannot be deleted", r.Kind, r.Name)
		}
		log.Info("Deleting existing resource (force)")
		if err := r.Delete(ctx); err != nil {
			return "", fmt.Errorf("failed to delete %s %s: %w", r.Kind, r.Name, err)
		}
		if err := r.Create(ctx); err != nil {
			return "", err
		}
		metrics.RecordResource(r.Kind, string(Recreated))
		return Recreated, nil

	case p.UseExisting:
		log.Info("Using existing resource")
		metrics.RecordResource(r.Kind, string(Reused))
		return Reused, nil

	default:
		return "", &deployerr.ResourceAlreadyExistsError{Kind: r.Kind, Name: r.Name}
	}
}

// Check applies the policy without a create step: it reports whether the
// caller should go on to create r. A reused resource yields false; a forced
// one is deleted first and yields true.
func (p Policy) Check(ctx context.Context, r Resource) (bool, error) {
	created := false
	r.Create = func(context.Context) error {
		created = true
		return nil
	}
	if _, err := p.Ensure(ctx, r); err != nil {
		return false, err
	}
	return created, nil
}
