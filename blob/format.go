package blob

// TileFormat identifies the payload encoding of a tile.
type TileFormat uint8

const (
	FormatUnknown TileFormat = iota
	FormatPNG
	FormatJPG
	FormatWebP
	FormatAVIF
	FormatSVG
	FormatMVT
	FormatGeoJSON
	FormatTopoJSON
	FormatJSON
	FormatBIN
)

// Category groups formats by how they must be transcoded.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryImage
	CategoryVector
)

// Category returns the format's transcoding category.
func (f TileFormat) Category() Category {
	switch f {
	case FormatPNG, FormatJPG, FormatWebP, FormatAVIF:
		return CategoryImage
	case FormatMVT, FormatGeoJSON, FormatTopoJSON:
		return CategoryVector
	default:
		return CategoryUnknown
	}
}

// Extension returns the canonical file extension, without a leading dot's
// compression suffix (that's TileCompression.Extension).
func (f TileFormat) Extension() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatJPG:
		return "jpg"
	case FormatWebP:
		return "webp"
	case FormatAVIF:
		return "avif"
	case FormatSVG:
		return "svg"
	case FormatMVT:
		return "mvt"
	case FormatGeoJSON:
		return "geojson"
	case FormatTopoJSON:
		return "topojson"
	case FormatJSON:
		return "json"
	case FormatBIN:
		return "bin"
	default:
		return "bin"
	}
}

// MIME returns the canonical Content-Type for the format.
func (f TileFormat) MIME() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatJPG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	case FormatAVIF:
		return "image/avif"
	case FormatSVG:
		return "image/svg+xml"
	case FormatMVT:
		return "application/vnd.mapbox-vector-tile"
	case FormatGeoJSON:
		return "application/geo+json"
	case FormatTopoJSON:
		return "application/topo+json"
	case FormatJSON:
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

func (f TileFormat) String() string {
	return f.Extension()
}

// FormatFromExtension maps a bare file extension (without dot) to a
// TileFormat, used by the TAR/directory containers to parse
// `z/x/y.<format>[.<compression>]` paths.
func FormatFromExtension(ext string) (TileFormat, bool) {
	switch ext {
	case "png":
		return FormatPNG, true
	case "jpg", "jpeg":
		return FormatJPG, true
	case "webp":
		return FormatWebP, true
	case "avif":
		return FormatAVIF, true
	case "svg":
		return FormatSVG, true
	case "mvt", "pbf":
		return FormatMVT, true
	case "geojson":
		return FormatGeoJSON, true
	case "topojson":
		return FormatTopoJSON, true
	case "json":
		return FormatJSON, true
	case "bin":
		return FormatBIN, true
	default:
		return FormatUnknown, false
	}
}
