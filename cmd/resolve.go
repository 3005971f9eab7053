package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/desertthunder/reelsync/internal/shared"
	"github.com/urfave/cli/v3"
)

type resolvedID struct {
	ID        string `json:"id"`
	Canonical string `json:"canonical"`
	Changed   bool   `json:"changed"`
}

// Resolve looks up the canonical form of each IMDb ID given as an argument.
func (r *Runner) Resolve(ctx context.Context, cmd *cli.Command) error {
	ids := cmd.Args().Slice()
	if len(ids) == 0 {
		return fmt.Errorf("%w: at least one IMDb ID", shared.ErrMissingArgument)
	}
	for _, id := range ids {
		if !strings.HasPrefix(id, "tt") {
			return fmt.Errorf("%w: %q is not an IMDb title ID", shared.ErrInvalidArgument, id)
		}
	}

	res := r.newResolver()
	mapping, err := res.Resolve(ctx, ids)
	if err != nil {
		return err
	}

	out := make([]resolvedID, 0, len(ids))
	for i, id := range ids {
		if slices.Contains(ids[:i], id) {
			continue
		}
		canonical := mapping[id]
		out = append(out, resolvedID{ID: id, Canonical: canonical, Changed: canonical != id})
	}

	if cmd.Bool("json") {
		return r.writeJSON(out, true)
	}
	for _, o := range out {
		if o.Changed {
			r.writePlain("%s → %s\n", o.ID, o.Canonical)
		} else {
			r.writePlain("%s (unchanged)\n", o.ID)
		}
	}
	stats := res.Stats()
	if stats.Errors > 0 {
		r.logger.Warn("some lookups failed and were left unchanged", "errors", stats.Errors)
	}
	return nil
}
