package vpl

import (
	"context"
	"fmt"

	"github.com/pspoerri/tilepipe/tilesource"
)

// buildFromContainer implements `from_container filename=<path|url>`:
// opens the location via the Compiler's registered ContainerOpener
// (spec.md §4.J).
func buildFromContainer(ctx context.Context, node Node, c *Compiler) (tilesource.Source, error) {
	if err := node.CheckProperties("filename"); err != nil {
		return nil, err
	}
	filename, err := node.StringRequired("filename")
	if err != nil {
		return nil, err
	}
	if c.opener == nil {
		return nil, fmt.Errorf("vpl: from_container requires a ContainerOpener, none configured")
	}
	return c.opener.Open(ctx, filename)
}
