package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/image/tiff/lzw"
)

// TIFF tags read or written by the codec.
const (
	tagImageWidth        = 256
	tagImageLength       = 257
	tagBitsPerSample     = 258
	tagCompression       = 259
	tagPhotometric       = 262
	tagStripOffsets      = 273
	tagSamplesPerPixel   = 277
	tagRowsPerStrip      = 278
	tagStripByteCounts   = 279
	tagPlanarConfig      = 284
	tagPredictor         = 317
	tagTileWidth         = 322
	tagTileLength        = 323
	tagTileOffsets       = 324
	tagTileByteCounts    = 325
	tagSampleFormat      = 339
	tagModelPixelScale   = 33550
	tagModelTiepoint     = 33922
	tagModelTransform    = 34264
	tagGeoKeyDirectory   = 34735
	tagGeoDoubleParams   = 34736
	tagGeoASCIIParams    = 34737
	tagGDALNoData        = 42113
	geoKeyModelType      = 1024
	geoKeyRasterType     = 1025
	geoKeyGeographicType = 2048
	geoKeyProjectedType  = 3072
	rasterPixelIsPoint   = 2
	userDefinedGeoKey    = 32767
)

// TIFF field types.
const (
	typeByte   = 1
	typeASCII  = 2
	typeShort  = 3
	typeLong   = 4
	typeRat    = 5
	typeSByte  = 6
	typeUndef  = 7
	typeSShort = 8
	typeSLong  = 9
	typeSRat   = 10
	typeFloat  = 11
	typeDouble = 12
	typeLong8  = 16
)

var typeSizes = map[uint16]int{
	typeByte: 1, typeASCII: 1, typeShort: 2, typeLong: 4, typeRat: 8,
	typeSByte: 1, typeUndef: 1, typeSShort: 2, typeSLong: 4, typeSRat: 8,
	typeFloat: 4, typeDouble: 8, typeLong8: 8,
}

// DataType selects the sample type of a written GeoTIFF.
type DataType int

const (
	Float32 DataType = iota
	Float64
	Int32
)

// ErrUnsupported is wrapped by every error about a valid but unsupported
// TIFF layout.
var ErrUnsupported = errors.New("geotiff: unsupported")

type ifdEntry struct {
	typ   uint16
	count uint32
	raw   []byte
}

type tiffReader struct {
	bo      binary.ByteOrder
	entries map[uint16]ifdEntry
	data    []byte
}

// ReadInfo decodes only the geometry of a GeoTIFF file.
func ReadInfo(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, err
	}
	tr, err := parseTIFF(data)
	if err != nil {
		return Info{}, fmt.Errorf("read %s: %w", path, err)
	}
	info, err := tr.info()
	if err != nil {
		return Info{}, fmt.Errorf("read %s: %w", path, err)
	}
	return info, nil
}

// Read decodes the first band of a GeoTIFF file.
func Read(path string) (*Grid, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	g, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return g, nil
}

// Decode parses an in-memory GeoTIFF. Baseline strips and tiles are
// supported with no, LZW, Deflate or PackBits compression and horizontal or
// floating-point predictors.
func Decode(data []byte) (*Grid, error) {
	tr, err := parseTIFF(data)
	if err != nil {
		return nil, err
	}
	info, err := tr.info()
	if err != nil {
		return nil, err
	}
	g := &Grid{Info: info, Data: make([]float64, info.Cols*info.Rows)}
	if err := tr.decodePixels(g); err != nil {
		return nil, err
	}
	return g, nil
}

func parseTIFF(data []byte) (*tiffReader, error) {
	if len(data) < 8 {
		return nil, errors.New("geotiff: file too short")
	}
	var bo binary.ByteOrder
	switch string(data[:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil, errors.New("geotiff: not a TIFF file")
	}
	switch bo.Uint16(data[2:4]) {
	case 42:
	case 43:
		return nil, fmt.Errorf("%w: BigTIFF", ErrUnsupported)
	default:
		return nil, errors.New("geotiff: bad TIFF magic")
	}
	off := int(bo.Uint32(data[4:8]))
	if off+2 > len(data) {
		return nil, errors.New("geotiff: IFD offset out of range")
	}
	n := int(bo.Uint16(data[off : off+2]))
	if off+2+n*12 > len(data) {
		return nil, errors.New("geotiff: IFD truncated")
	}
	tr := &tiffReader{bo: bo, entries: make(map[uint16]ifdEntry, n), data: data}
	for i := 0; i < n; i++ {
		e := data[off+2+i*12 : off+2+(i+1)*12]
		tag := bo.Uint16(e[0:2])
		typ := bo.Uint16(e[2:4])
		count := bo.Uint32(e[4:8])
		size, ok := typeSizes[typ]
		if !ok {
			continue
		}
		total := size * int(count)
		var raw []byte
		if total <= 4 {
			raw = e[8 : 8+total]
		} else {
			vo := int(bo.Uint32(e[8:12]))
			if vo < 0 || vo+total > len(data) {
				return nil, fmt.Errorf("geotiff: tag %d value out of range", tag)
			}
			raw = data[vo : vo+total]
		}
		tr.entries[tag] = ifdEntry{typ: typ, count: count, raw: raw}
	}
	return tr, nil
}

func (tr *tiffReader) uints(tag uint16) []uint64 {
	e, ok := tr.entries[tag]
	if !ok {
		return nil
	}
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case typeByte, typeUndef:
			out[i] = uint64(e.raw[i])
		case typeShort:
			out[i] = uint64(tr.bo.Uint16(e.raw[i*2:]))
		case typeLong:
			out[i] = uint64(tr.bo.Uint32(e.raw[i*4:]))
		case typeLong8:
			out[i] = tr.bo.Uint64(e.raw[i*8:])
		default:
			return nil
		}
	}
	return out
}

func (tr *tiffReader) uint(tag uint16, def uint64) uint64 {
	v := tr.uints(tag)
	if len(v) == 0 {
		return def
	}
	return v[0]
}

func (tr *tiffReader) floats(tag uint16) []float64 {
	e, ok := tr.entries[tag]
	if !ok {
		return nil
	}
	switch e.typ {
	case typeDouble:
		out := make([]float64, e.count)
		for i := range out {
			out[i] = math.Float64frombits(tr.bo.Uint64(e.raw[i*8:]))
		}
		return out
	case typeFloat:
		out := make([]float64, e.count)
		for i := range out {
			out[i] = float64(math.Float32frombits(tr.bo.Uint32(e.raw[i*4:])))
		}
		return out
	}
	u := tr.uints(tag)
	if u == nil {
		return nil
	}
	out := make([]float64, len(u))
	for i, v := range u {
		out[i] = float64(v)
	}
	return out
}

func (tr *tiffReader) ascii(tag uint16) string {
	e, ok := tr.entries[tag]
	if !ok || e.typ != typeASCII {
		return ""
	}
	return string(e.raw)
}

func (tr *tiffReader) info() (Info, error) {
	info := Info{
		Cols:   int(tr.uint(tagImageWidth, 0)),
		Rows:   int(tr.uint(tagImageLength, 0)),
		NoData: math.NaN(),
	}
	if info.Cols == 0 || info.Rows == 0 {
		return Info{}, errors.New("geotiff: missing image size")
	}

	keys := tr.uints(tagGeoKeyDirectory)
	pixelIsPoint := false
	geographic := 0
	if len(keys) >= 4 {
		k16 := make([]uint16, len(keys))
		for i, k := range keys {
			k16[i] = uint16(k)
		}
		info.CRS.GeoKeys = k16
		info.CRS.GeoDoubles = tr.floats(tagGeoDoubleParams)
		info.CRS.GeoASCII = tr.ascii(tagGeoASCIIParams)
		for i := 4; i+3 < len(k16); i += 4 {
			id, loc, val := k16[i], k16[i+1], k16[i+3]
			if loc != 0 {
				continue
			}
			switch id {
			case geoKeyRasterType:
				pixelIsPoint = val == rasterPixelIsPoint
			case geoKeyProjectedType:
				if val != userDefinedGeoKey {
					info.CRS.EPSG = int(val)
				}
			case geoKeyGeographicType:
				if val != userDefinedGeoKey {
					geographic = int(val)
				}
			}
		}
	}
	if info.CRS.EPSG == 0 {
		info.CRS.EPSG = geographic
	}

	scale := tr.floats(tagModelPixelScale)
	tie := tr.floats(tagModelTiepoint)
	switch {
	case len(scale) >= 2 && len(tie) >= 6:
		sx, sy := scale[0], scale[1]
		info.Transform = Transform{
			OriginX:     tie[3] - tie[0]*sx,
			OriginY:     tie[4] + tie[1]*sy,
			PixelWidth:  sx,
			PixelHeight: -sy,
		}
	default:
		m := tr.floats(tagModelTransform)
		if len(m) < 16 {
			return Info{}, errors.New("geotiff: no georeferencing")
		}
		if m[1] != 0 || m[4] != 0 {
			return Info{}, ErrNotNorthUp
		}
		info.Transform = Transform{OriginX: m[3], OriginY: m[7], PixelWidth: m[0], PixelHeight: m[5]}
	}
	if pixelIsPoint {
		info.Transform.OriginX -= info.Transform.PixelWidth / 2
		info.Transform.OriginY -= info.Transform.PixelHeight / 2
	}
	if err := info.validate(); err != nil {
		return Info{}, err
	}

	if s := strings.Trim(tr.ascii(tagGDALNoData), "\x00 "); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Info{}, fmt.Errorf("geotiff: bad nodata %q: %w", s, err)
		}
		info.NoData = v
	}
	return info, nil
}

func (tr *tiffReader) decodePixels(g *Grid) error {
	if spp := tr.uint(tagSamplesPerPixel, 1); spp != 1 {
		return fmt.Errorf("%w: %d samples per pixel", ErrUnsupported, spp)
	}
	bps := int(tr.uint(tagBitsPerSample, 1))
	format := tr.uint(tagSampleFormat, 1)
	sampleBytes := bps / 8
	if bps%8 != 0 || sampleBytes == 0 {
		return fmt.Errorf("%w: %d bits per sample", ErrUnsupported, bps)
	}
	sample, err := sampleDecoder(tr.bo, format, bps)
	if err != nil {
		return err
	}
	compression := tr.uint(tagCompression, 1)
	predictor := tr.uint(tagPredictor, 1)

	chunkW, chunkH := g.Cols, int(tr.uint(tagRowsPerStrip, uint64(g.Rows)))
	offsets, counts := tr.uints(tagStripOffsets), tr.uints(tagStripByteCounts)
	tiled := false
	if _, ok := tr.entries[tagTileWidth]; ok {
		tiled = true
		chunkW, chunkH = int(tr.uint(tagTileWidth, 0)), int(tr.uint(tagTileLength, 0))
		offsets, counts = tr.uints(tagTileOffsets), tr.uints(tagTileByteCounts)
	}
	if chunkW <= 0 || chunkH <= 0 || len(offsets) == 0 || len(offsets) != len(counts) {
		return errors.New("geotiff: bad strip/tile layout")
	}
	across := (g.Cols + chunkW - 1) / chunkW
	if !tiled {
		chunkH = min(chunkH, g.Rows)
		across = 1
	}

	for i := range offsets {
		r0 := (i / across) * chunkH
		c0 := (i % across) * chunkW
		if r0 >= g.Rows {
			break
		}
		rows := chunkH
		if !tiled {
			rows = min(chunkH, g.Rows-r0)
		}
		want := chunkW * rows * sampleBytes
		start, n := int(offsets[i]), int(counts[i])
		if start < 0 || start+n > len(tr.data) {
			return fmt.Errorf("geotiff: chunk %d out of range", i)
		}
		buf, err := decompress(compression, tr.data[start:start+n], want)
		if err != nil {
			return fmt.Errorf("geotiff: chunk %d: %w", i, err)
		}
		for r := 0; r < rows; r++ {
			row := buf[r*chunkW*sampleBytes : (r+1)*chunkW*sampleBytes]
			switch predictor {
			case 1:
			case 2:
				undoHorizontal(tr.bo, row, sampleBytes)
			case 3:
				undoFloatPredictor(tr.bo, row, chunkW, sampleBytes)
			default:
				return fmt.Errorf("%w: predictor %d", ErrUnsupported, predictor)
			}
			gr := r0 + r
			if gr >= g.Rows {
				break
			}
			for c := 0; c < chunkW; c++ {
				gc := c0 + c
				if gc >= g.Cols {
					break
				}
				g.Data[gr*g.Cols+gc] = sample(row[c*sampleBytes:])
			}
		}
	}
	return nil
}

func sampleDecoder(bo binary.ByteOrder, format uint64, bps int) (func([]byte) float64, error) {
	switch {
	case format == 1 && bps == 8:
		return func(b []byte) float64 { return float64(b[0]) }, nil
	case format == 1 && bps == 16:
		return func(b []byte) float64 { return float64(bo.Uint16(b)) }, nil
	case format == 1 && bps == 32:
		return func(b []byte) float64 { return float64(bo.Uint32(b)) }, nil
	case format == 2 && bps == 8:
		return func(b []byte) float64 { return float64(int8(b[0])) }, nil
	case format == 2 && bps == 16:
		return func(b []byte) float64 { return float64(int16(bo.Uint16(b))) }, nil
	case format == 2 && bps == 32:
		return func(b []byte) float64 { return float64(int32(bo.Uint32(b))) }, nil
	case format == 3 && bps == 32:
		return func(b []byte) float64 { return float64(math.Float32frombits(bo.Uint32(b))) }, nil
	case format == 3 && bps == 64:
		return func(b []byte) float64 { return math.Float64frombits(bo.Uint64(b)) }, nil
	}
	return nil, fmt.Errorf("%w: sample format %d with %d bits", ErrUnsupported, format, bps)
}

func decompress(compression uint64, src []byte, want int) ([]byte, error) {
	out := make([]byte, want)
	switch compression {
	case 1:
		if len(src) < want {
			return nil, io.ErrUnexpectedEOF
		}
		copy(out, src)
		return out, nil
	case 5:
		rc := lzw.NewReader(bytes.NewReader(src), lzw.MSB, 8)
		defer rc.Close()
		if _, err := io.ReadFull(rc, out); err != nil {
			return nil, fmt.Errorf("lzw: %w", err)
		}
		return out, nil
	case 8, 32946:
		zr, err := zlib.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		defer zr.Close()
		if _, err := io.ReadFull(zr, out); err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		return out, nil
	case 32773:
		return unpackBits(src, out)
	}
	return nil, fmt.Errorf("%w: compression %d", ErrUnsupported, compression)
}

func unpackBits(src, out []byte) ([]byte, error) {
	o := 0
	for i := 0; i < len(src) && o < len(out); {
		n := int(int8(src[i]))
		i++
		switch {
		case n >= 0:
			if i+n+1 > len(src) || o+n+1 > len(out) {
				return nil, io.ErrUnexpectedEOF
			}
			copy(out[o:], src[i:i+n+1])
			i += n + 1
			o += n + 1
		case n != -128:
			if i >= len(src) || o-n+1 > len(out) {
				return nil, io.ErrUnexpectedEOF
			}
			for k := 0; k < -n+1; k++ {
				out[o+k] = src[i]
			}
			i++
			o += -n + 1
		}
	}
	if o < len(out) {
		return nil, io.ErrUnexpectedEOF
	}
	return out, nil
}

// undoHorizontal reverses TIFF predictor 2 on one row of integer samples.
func undoHorizontal(bo binary.ByteOrder, row []byte, sampleBytes int) {
	n := len(row) / sampleBytes
	for i := 1; i < n; i++ {
		cur, prev := row[i*sampleBytes:], row[(i-1)*sampleBytes:]
		switch sampleBytes {
		case 1:
			cur[0] += prev[0]
		case 2:
			bo.PutUint16(cur, bo.Uint16(cur)+bo.Uint16(prev))
		case 4:
			bo.PutUint32(cur, bo.Uint32(cur)+bo.Uint32(prev))
		case 8:
			bo.PutUint64(cur, bo.Uint64(cur)+bo.Uint64(prev))
		}
	}
}

// undoFloatPredictor reverses TIFF predictor 3: byte-wise differencing over
// the row followed by de-interleaving of the most-significant-first byte
// planes back into samples laid out in the file byte order.
func undoFloatPredictor(bo binary.ByteOrder, row []byte, width, sampleBytes int) {
	for i := 1; i < len(row); i++ {
		row[i] += row[i-1]
	}
	tmp := make([]byte, len(row))
	copy(tmp, row)
	little := bo == binary.LittleEndian
	for s := 0; s < width; s++ {
		for j := 0; j < sampleBytes; j++ {
			b := tmp[j*width+s]
			if little {
				row[s*sampleBytes+sampleBytes-1-j] = b
			} else {
				row[s*sampleBytes+j] = b
			}
		}
	}
}

// Write encodes g as a little-endian, Deflate-compressed GeoTIFF. The file is
// written next to path and renamed into place.
func Write(path string, g *Grid, dt DataType) error {
	data, err := Encode(g, dt)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.tif")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

type outEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

// Encode serializes g as a GeoTIFF.
func Encode(g *Grid, dt DataType) ([]byte, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}
	bo := binary.LittleEndian
	var bps, format int
	switch dt {
	case Float32:
		bps, format = 32, 3
	case Float64:
		bps, format = 64, 3
	case Int32:
		bps, format = 32, 2
	default:
		return nil, fmt.Errorf("%w: data type %d", ErrUnsupported, dt)
	}
	sampleBytes := bps / 8
	rowBytes := g.Cols * sampleBytes
	rowsPerStrip := max(1, 1<<16/rowBytes)

	var buf bytes.Buffer
	buf.Write([]byte{'I', 'I', 42, 0, 0, 0, 0, 0})

	var offsets, counts []uint32
	raw := make([]byte, rowBytes*rowsPerStrip)
	for r0 := 0; r0 < g.Rows; r0 += rowsPerStrip {
		rows := min(rowsPerStrip, g.Rows-r0)
		chunk := raw[:rows*rowBytes]
		for i := 0; i < rows*g.Cols; i++ {
			v := g.Data[r0*g.Cols+i]
			if math.IsNaN(v) && dt == Int32 {
				v = g.NoData
			}
			b := chunk[i*sampleBytes:]
			switch dt {
			case Float32:
				bo.PutUint32(b, math.Float32bits(float32(v)))
			case Float64:
				bo.PutUint64(b, math.Float64bits(v))
			case Int32:
				bo.PutUint32(b, uint32(int32(v)))
			}
		}
		var zbuf bytes.Buffer
		zw := zlib.NewWriter(&zbuf)
		if _, err := zw.Write(chunk); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		offsets = append(offsets, uint32(buf.Len()))
		counts = append(counts, uint32(zbuf.Len()))
		buf.Write(zbuf.Bytes())
		if buf.Len()%2 == 1 {
			buf.WriteByte(0)
		}
	}

	t := g.Transform
	entries := []outEntry{
		longsEntry(bo, tagImageWidth, uint32(g.Cols)),
		longsEntry(bo, tagImageLength, uint32(g.Rows)),
		shortsEntry(bo, tagBitsPerSample, uint16(bps)),
		shortsEntry(bo, tagCompression, 8),
		shortsEntry(bo, tagPhotometric, 1),
		longsEntry(bo, tagStripOffsets, offsets...),
		shortsEntry(bo, tagSamplesPerPixel, 1),
		longsEntry(bo, tagRowsPerStrip, uint32(rowsPerStrip)),
		longsEntry(bo, tagStripByteCounts, counts...),
		shortsEntry(bo, tagPlanarConfig, 1),
		shortsEntry(bo, tagSampleFormat, uint16(format)),
		doublesEntry(bo, tagModelPixelScale, t.PixelWidth, -t.PixelHeight, 0),
		doublesEntry(bo, tagModelTiepoint, 0, 0, 0, t.OriginX, t.OriginY, 0),
		shortsEntry(bo, tagGeoKeyDirectory, geoKeys(g.CRS)...),
	}
	if len(g.CRS.GeoKeys) > 0 && len(g.CRS.GeoDoubles) > 0 {
		entries = append(entries, doublesEntry(bo, tagGeoDoubleParams, g.CRS.GeoDoubles...))
	}
	if len(g.CRS.GeoKeys) > 0 && g.CRS.GeoASCII != "" {
		entries = append(entries, asciiEntry(tagGeoASCIIParams, g.CRS.GeoASCII))
	}
	entries = append(entries, asciiEntry(tagGDALNoData, strconv.FormatFloat(g.NoData, 'g', -1, 64)))

	// Out-of-line values go before the IFD.
	valueOffsets := make([]uint32, len(entries))
	for i, e := range entries {
		if len(e.data) <= 4 {
			continue
		}
		valueOffsets[i] = uint32(buf.Len())
		buf.Write(e.data)
		if buf.Len()%2 == 1 {
			buf.WriteByte(0)
		}
	}

	ifd := uint32(buf.Len())
	var b2 [2]byte
	var b4 [4]byte
	bo.PutUint16(b2[:], uint16(len(entries)))
	buf.Write(b2[:])
	for i, e := range entries {
		bo.PutUint16(b2[:], e.tag)
		buf.Write(b2[:])
		bo.PutUint16(b2[:], e.typ)
		buf.Write(b2[:])
		bo.PutUint32(b4[:], e.count)
		buf.Write(b4[:])
		if len(e.data) <= 4 {
			var inline [4]byte
			copy(inline[:], e.data)
			buf.Write(inline[:])
			continue
		}
		bo.PutUint32(b4[:], valueOffsets[i])
		buf.Write(b4[:])
	}
	buf.Write([]byte{0, 0, 0, 0})

	out := buf.Bytes()
	bo.PutUint32(out[4:8], ifd)
	return out, nil
}

// geoKeys returns the key directory to write. A copied directory keeps its
// entries but is forced to PixelIsArea, matching the written tiepoint.
func geoKeys(crs CRS) []uint16 {
	if len(crs.GeoKeys) >= 4 {
		keys := append([]uint16(nil), crs.GeoKeys...)
		for i := 4; i+3 < len(keys); i += 4 {
			if keys[i] == geoKeyRasterType && keys[i+1] == 0 {
				keys[i+3] = 1
			}
		}
		return keys
	}
	if crs.EPSG == 0 {
		return []uint16{1, 1, 0, 1, geoKeyRasterType, 0, 1, 1}
	}
	model, key := uint16(1), uint16(geoKeyProjectedType)
	if crs.EPSG >= 4000 && crs.EPSG < 5000 {
		model, key = 2, geoKeyGeographicType
	}
	return []uint16{
		1, 1, 0, 3,
		geoKeyModelType, 0, 1, model,
		geoKeyRasterType, 0, 1, 1,
		key, 0, 1, uint16(crs.EPSG),
	}
}

func shortsEntry(bo binary.ByteOrder, tag uint16, vals ...uint16) outEntry {
	b := make([]byte, 2*len(vals))
	for i, v := range vals {
		bo.PutUint16(b[i*2:], v)
	}
	return outEntry{tag: tag, typ: typeShort, count: uint32(len(vals)), data: b}
}

func longsEntry(bo binary.ByteOrder, tag uint16, vals ...uint32) outEntry {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		bo.PutUint32(b[i*4:], v)
	}
	return outEntry{tag: tag, typ: typeLong, count: uint32(len(vals)), data: b}
}

func doublesEntry(bo binary.ByteOrder, tag uint16, vals ...float64) outEntry {
	b := make([]byte, 8*len(vals))
	for i, v := range vals {
		bo.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return outEntry{tag: tag, typ: typeDouble, count: uint32(len(vals)), data: b}
}

func asciiEntry(tag uint16, s string) outEntry {
	b := append([]byte(s), 0)
	return outEntry{tag: tag, typ: typeASCII, count: uint32(len(b)), data: b}
}
