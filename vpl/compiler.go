package vpl

import (
	"context"
	"fmt"

	"github.com/pspoerri/tilepipe/tilesource"
)

// ContainerOpener opens a container by the location string given to
// from_container (a path or URL). Satisfied by package registry; kept as
// an interface here so vpl has no import-time dependency on it.
type ContainerOpener interface {
	Open(ctx context.Context, location string) (tilesource.Source, error)
}

// ReaderFactory builds the head of a pipeline from a Node with no input
// source (from_container, from_stacked_raster, ...).
type ReaderFactory func(ctx context.Context, node Node, c *Compiler) (tilesource.Source, error)

// TransformFactory wraps an existing source (filter, dem_quantize, ...).
type TransformFactory func(ctx context.Context, node Node, input tilesource.Source, c *Compiler) (tilesource.Source, error)

// Compiler turns a parsed Pipeline into a tilesource.Source, dispatching
// each Node's op name to a registered reader or transform factory
// (spec.md §4.J's "Factory": map op-name -> reader-factory or
// transform-factory).
type Compiler struct {
	opener     ContainerOpener
	readers    map[string]ReaderFactory
	transforms map[string]TransformFactory
}

// NewCompiler returns a Compiler with every built-in operation registered
// (from_container, from_stacked_raster, filter, vectortiles_update_properties,
// dem_quantize, raster_overscale). opener resolves from_container's
// filename/URL; pass nil if the pipeline never uses from_container.
func NewCompiler(opener ContainerOpener) *Compiler {
	c := &Compiler{
		opener:     opener,
		readers:    make(map[string]ReaderFactory),
		transforms: make(map[string]TransformFactory),
	}
	registerBuiltins(c)
	return c
}

// RegisterReader adds or replaces a reader factory for op name.
func (c *Compiler) RegisterReader(name string, f ReaderFactory) { c.readers[name] = f }

// RegisterTransform adds or replaces a transform factory for op name.
func (c *Compiler) RegisterTransform(name string, f TransformFactory) { c.transforms[name] = f }

// Build compiles pipeline into a Source: the first Node must resolve to
// a registered reader, every following Node to a registered transform.
func (c *Compiler) Build(ctx context.Context, pipeline Pipeline) (tilesource.Source, error) {
	if len(pipeline) == 0 {
		return nil, fmt.Errorf("vpl: empty pipeline")
	}
	head := pipeline[0]
	reader, ok := c.readers[head.Name]
	if !ok {
		return nil, fmt.Errorf("vpl: unknown reader operation %q", head.Name)
	}
	src, err := reader(ctx, head, c)
	if err != nil {
		return nil, fmt.Errorf("vpl: building %q: %w", head.Name, err)
	}
	for _, node := range pipeline[1:] {
		transform, ok := c.transforms[node.Name]
		if !ok {
			return nil, fmt.Errorf("vpl: unknown transform operation %q", node.Name)
		}
		src, err = transform(ctx, node, src, c)
		if err != nil {
			return nil, fmt.Errorf("vpl: building %q: %w", node.Name, err)
		}
	}
	return src, nil
}

// BuildString parses text and compiles the resulting pipeline.
func (c *Compiler) BuildString(ctx context.Context, text string) (tilesource.Source, error) {
	pipeline, err := Parse(text)
	if err != nil {
		return nil, err
	}
	return c.Build(ctx, pipeline)
}

func registerBuiltins(c *Compiler) {
	c.RegisterReader("from_container", buildFromContainer)
	c.RegisterReader("from_stacked_raster", buildFromStackedRaster)
	c.RegisterTransform("filter", buildFilter)
	c.RegisterTransform("vectortiles_update_properties", buildVectorTilesUpdateProperties)
	c.RegisterTransform("dem_quantize", buildDemQuantize)
	c.RegisterTransform("raster_overscale", buildRasterOverscale)
}
