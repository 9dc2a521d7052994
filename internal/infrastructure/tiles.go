package infrastructure

import (
	"math"
	"strconv"
	"strings"

	"github.com/yourusername/offline-go/internal/domain"
)

// maxLatitude is the limit of the web mercator projection
const maxLatitude = 85.05112878

// TileCoord identifies a slippy-map tile
type TileCoord struct {
	Z int
	X int
	Y int
}

// tileX returns the column containing lng at zoom z
func tileX(lng float64, z int) int {
	n := 1 << uint(z)
	x := int(math.Floor((lng + 180.0) / 360.0 * float64(n)))
	return clampTile(x, n)
}

// tileY returns the row containing lat at zoom z
func tileY(lat float64, z int) int {
	n := 1 << uint(z)
	lat = math.Max(-maxLatitude, math.Min(maxLatitude, lat))
	rad := lat * math.Pi / 180.0
	y := int(math.Floor((1.0 - math.Log(math.Tan(rad)+1.0/math.Cos(rad))/math.Pi) / 2.0 * float64(n)))
	return clampTile(y, n)
}

func clampTile(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}

// zoomRange returns the integer zoom levels a definition covers
func zoomRange(definition domain.RegionDefinition) (int, int) {
	return int(math.Floor(definition.MinZoom)), int(math.Ceil(definition.MaxZoom))
}

// tileBounds returns the inclusive tile ranges covering bounds at zoom z
func tileBounds(bounds domain.LatLngBounds, z int) (minX, maxX, minY, maxY int) {
	minX, maxX = tileX(bounds.West, z), tileX(bounds.East, z)
	// Rows grow southwards
	minY, maxY = tileY(bounds.North, z), tileY(bounds.South, z)
	return minX, maxX, minY, maxY
}

// CountTiles returns the number of tiles covering a region definition
func CountTiles(definition domain.RegionDefinition) int64 {
	var total int64
	minZ, maxZ := zoomRange(definition)
	for z := minZ; z <= maxZ; z++ {
		minX, maxX, minY, maxY := tileBounds(definition.Bounds, z)
		total += int64(maxX-minX+1) * int64(maxY-minY+1)
	}
	return total
}

// EachTile calls fn for every tile of a definition, lowest zoom first,
// until fn returns false.
func EachTile(definition domain.RegionDefinition, fn func(TileCoord) bool) {
	minZ, maxZ := zoomRange(definition)
	for z := minZ; z <= maxZ; z++ {
		minX, maxX, minY, maxY := tileBounds(definition.Bounds, z)
		for x := minX; x <= maxX; x++ {
			for y := minY; y <= maxY; y++ {
				if !fn(TileCoord{Z: z, X: x, Y: y}) {
					return
				}
			}
		}
	}
}

// CenterTile returns the tile containing the centre of the bounds at zoom z
func CenterTile(bounds domain.LatLngBounds, z int) TileCoord {
	lat, lng := bounds.Center()
	return TileCoord{Z: z, X: tileX(lng, z), Y: tileY(lat, z)}
}

// TileURL expands a {z}/{x}/{y} template. {ratio} becomes "@2x" for pixel
// ratios above one.
func TileURL(template string, coord TileCoord, pixelRatio float64) string {
	ratio := ""
	if pixelRatio > 1 {
		ratio = "@2x"
	}
	return strings.NewReplacer(
		"{z}", strconv.Itoa(coord.Z),
		"{x}", strconv.Itoa(coord.X),
		"{y}", strconv.Itoa(coord.Y),
		"{ratio}", ratio,
	).Replace(template)
}
