package pointcloud

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chenzhekl/goply"
	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/guidedgrasp/depthcloud/logging"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed binary format for pcd.
	PCDCompressed PCDType = 2
)

// lasUnitsPerMeter scales positions into the millimeter integers stored in LAS files.
const lasUnitsPerMeter = 1000.

// Lossless float64 integer range for LAS coordinates in millimeters.
const (
	maxPreciseFloat64 = float64(1 << 53)
	minPreciseFloat64 = -maxPreciseFloat64
)

// maxPreallocatedPoints bounds the capacity reserved up front for a point count declared in a file
// header. Larger clouds still load; the slice grows as points are actually read.
const maxPreallocatedPoints = 1 << 20

func newPointsForCount(declared uint64) Points {
	return make(Points, 0, min(declared, maxPreallocatedPoints))
}

// NewFromFile returns a point cloud read in from the given file. The format is chosen by extension.
func NewFromFile(fn string, logger logging.Logger) (Points, error) {
	if filepath.Ext(fn) == ".las" {
		return NewFromLASFile(fn, logger)
	}
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	switch filepath.Ext(fn) {
	case ".ply":
		return ReadPLY(f)
	case ".pcd":
		return ReadPCD(f)
	case ".xyz", ".txt":
		return ReadXYZRGB(f)
	default:
		return nil, errors.Errorf("do not know how to read file %q", fn)
	}
}

// WriteToFile writes the cloud to fn. The format is chosen by extension.
func WriteToFile(cloud Cloud, fn string) (err error) {
	ext := filepath.Ext(fn)
	switch ext {
	case ".las":
		return WriteToLASFile(cloud, fn)
	case ".ply", ".pcd", ".xyz", ".txt":
	default:
		return errors.Errorf("do not know how to write file %q", fn)
	}

	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	defer func() {
		err = multierr.Combine(err, w.Flush())
	}()

	switch ext {
	case ".ply":
		return WritePLY(cloud, w)
	case ".pcd":
		return ToPCD(cloud, w, PCDBinary)
	default:
		return WriteXYZRGB(cloud, w)
	}
}

// WriteXYZRGB writes the point count on the first line, then one "x y z r g b" line per point.
func WriteXYZRGB(cloud Cloud, out io.Writer) error {
	if _, err := fmt.Fprintf(out, "%d\n", cloud.Size()); err != nil {
		return err
	}
	var err error
	cloud.Iterate(func(p AccumulatedPoint) bool {
		r, g, b := p.RGB255()
		_, err = fmt.Fprintf(out, "%g %g %g %d %d %d\n", p.Position.X, p.Position.Y, p.Position.Z, r, g, b)
		return err == nil
	})
	return err
}

// ReadXYZRGB reads the format written by WriteXYZRGB.
func ReadXYZRGB(in io.Reader) (Points, error) {
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return nil, errors.Wrap(multierr.Combine(scanner.Err(), io.ErrUnexpectedEOF), "missing point count")
	}
	count, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil || count < 0 {
		return nil, errors.Errorf("invalid point count %q", scanner.Text())
	}
	points := newPointsForCount(uint64(count))
	for i := 0; i < count; i++ {
		if !scanner.Scan() {
			return nil, errors.Errorf("expected %d points, got %d", count, i)
		}
		p, err := parseVertexLine(scanner.Text(), 6)
		if err != nil {
			return nil, errors.Wrapf(err, "point %d", i)
		}
		points = append(points, p)
	}
	return points, scanner.Err()
}

// parseVertexLine parses "x y z r g b [a]" with at least minFields tokens.
func parseVertexLine(line string, minFields int) (AccumulatedPoint, error) {
	tokens := strings.Fields(line)
	if len(tokens) < minFields {
		return AccumulatedPoint{}, errors.Errorf("expected %d fields, got %d", minFields, len(tokens))
	}
	var pos [3]float64
	for i := range pos {
		v, err := strconv.ParseFloat(tokens[i], 64)
		if err != nil {
			return AccumulatedPoint{}, errors.Wrapf(err, "invalid coordinate %q", tokens[i])
		}
		pos[i] = v
	}
	var rgb [3]uint8
	for i := range rgb {
		v, err := strconv.ParseUint(tokens[3+i], 10, 8)
		if err != nil {
			return AccumulatedPoint{}, errors.Wrapf(err, "invalid color component %q", tokens[3+i])
		}
		rgb[i] = uint8(v)
	}
	return NewColoredPoint(r3.Vector{X: pos[0], Y: pos[1], Z: pos[2]}, rgb[0], rgb[1], rgb[2]), nil
}

// plyEOL is the line terminator used in PLY exports.
const plyEOL = "\r\n"

// WritePLY writes an ASCII PLY file with float positions and byte RGBA colors.
func WritePLY(cloud Cloud, out io.Writer) error {
	header := []string{
		"ply",
		"format ascii 1.0",
		fmt.Sprintf("element vertex %d", cloud.Size()),
		"property float x",
		"property float y",
		"property float z",
		"property uchar red",
		"property uchar green",
		"property uchar blue",
		"property uchar alpha",
		"element face 0",
		"property list uchar int vertex_indices",
		"end_header",
	}
	if _, err := io.WriteString(out, strings.Join(header, plyEOL)+plyEOL); err != nil {
		return err
	}
	var err error
	cloud.Iterate(func(p AccumulatedPoint) bool {
		r, g, b := p.RGB255()
		_, err = fmt.Fprintf(out, "%g %g %g %d %d %d 255%s",
			float32(p.Position.X), float32(p.Position.Y), float32(p.Position.Z), r, g, b, plyEOL)
		return err == nil
	})
	return err
}

// ReadPLY reads an ASCII PLY file. Vertices need x, y and z properties; red, green and blue are
// optional and default to white. The file is held in memory while it is parsed.
func ReadPLY(in io.Reader) (points Points, err error) {
	raw, err := io.ReadAll(in)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read ply")
	}
	raw = append(bytes.TrimRight(raw, " \t\r\n"), '\n')
	if err := checkPLYLayout(raw); err != nil {
		return nil, err
	}

	// goply reports malformed input by panicking
	defer func() {
		if r := recover(); r != nil {
			points, err = nil, errors.Errorf("malformed ply: %v", r)
		}
	}()
	vertices := goply.New(bytes.NewReader(raw)).Elements("vertex")

	points = newPointsForCount(uint64(len(vertices)))
	for i := range vertices {
		v := &vertices[i]
		var pos [3]float64
		for j, name := range [3]string{"x", "y", "z"} {
			f, ok := plyNumber(v.Property(name))
			if !ok {
				return nil, errors.Errorf("vertex %d has no numeric %s", i, name)
			}
			pos[j] = f
		}
		rgb := [3]uint8{255, 255, 255}
		for j, name := range [3]string{"red", "green", "blue"} {
			if f, ok := plyNumber(v.Property(name)); ok {
				rgb[j] = uint8(math.Max(0, math.Min(255, math.Round(f))))
			}
		}
		points = append(points, NewColoredPoint(r3.Vector{X: pos[0], Y: pos[1], Z: pos[2]}, rgb[0], rgb[1], rgb[2]))
	}
	return points, nil
}

// checkPLYLayout rejects what goply would accept silently or allocate for blindly: a missing
// end_header, a missing vertex element, and element counts the body cannot hold.
func checkPLYLayout(raw []byte) error {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	declared := uint64(0)
	hasVertex, inHeader := false, true
	for inHeader && scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		switch {
		case len(fields) == 1 && fields[0] == "end_header":
			inHeader = false
		case len(fields) == 3 && fields[0] == "element":
			n, err := strconv.ParseUint(fields[2], 10, 63)
			if err != nil {
				return errors.Errorf("invalid %s count %q", fields[1], fields[2])
			}
			if declared += n; declared < n {
				declared = math.MaxUint64
			}
			hasVertex = hasVertex || fields[1] == "vertex"
		}
	}
	if inHeader {
		return errors.Wrap(multierr.Combine(scanner.Err(), io.ErrUnexpectedEOF), "ply header not terminated")
	}
	if !hasVertex {
		return errors.New("ply header has no vertex element")
	}
	body := uint64(0)
	for scanner.Scan() {
		body++
	}
	if declared > body {
		return errors.Errorf("ply header declares %d elements but the body has %d lines", declared, body)
	}
	return scanner.Err()
}

func plyNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case int8:
		return float64(n), true
	case uint8:
		return float64(n), true
	case int16:
		return float64(n), true
	case uint16:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint32:
		return float64(n), true
	default:
		return 0, false
	}
}

// ToPCD writes the cloud in the PCD format with packed rgb.
func ToPCD(cloud Cloud, out io.Writer, outputType PCDType) error {
	var err error

	_, err = fmt.Fprintf(out, "VERSION .7\n"+
		"FIELDS x y z rgb\n"+
		"SIZE 4 4 4 4\n"+
		"TYPE F F F I\n"+
		"COUNT 1 1 1 1\n")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "WIDTH %d\n"+
		"HEIGHT %d\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n",
		cloud.Size(),
		1,
		cloud.Size())
	if err != nil {
		return err
	}

	switch outputType {
	case PCDBinary:
		_, err = fmt.Fprintf(out, "DATA binary\n")
	case PCDAscii:
		_, err = fmt.Fprintf(out, "DATA ascii\n")
	case PCDCompressed:
		return errors.New("compressed PCD not yet implemented")
	default:
		return errors.Errorf("unknown PCD type %d", outputType)
	}
	if err != nil {
		return err
	}
	return writePCDData(cloud, out, outputType)
}

func writePCDData(cloud Cloud, out io.Writer, pcdtype PCDType) error {
	var err error
	buf := make([]byte, 16)
	cloud.Iterate(func(p AccumulatedPoint) bool {
		pos := p.Position
		c := colorToPCDInt(p.Color)
		switch pcdtype {
		case PCDBinary:
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(pos.X)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(pos.Y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(pos.Z)))
			binary.LittleEndian.PutUint32(buf[12:], uint32(c))
			_, err = out.Write(buf)
		case PCDAscii:
			_, err = fmt.Fprintf(out, "%f %f %f %d\n", pos.X, pos.Y, pos.Z, c)
		}
		return err == nil
	})
	return err
}

type pcdFieldType int

const (
	pcdPointOnly  pcdFieldType = 3
	pcdPointColor pcdFieldType = 4
)

type pcdHeader struct {
	fields pcdFieldType
	size   []uint64
	width  uint64
	height uint64
	points uint64
	data   PCDType
}

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	tokens := strings.Split(value, " ")
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	switch name {
	case "VERSION":
		if value != ".7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		switch value {
		case "x y z":
			header.fields = pcdPointOnly
		case "x y z rgb":
			header.fields = pcdPointColor
		default:
			return errors.Errorf("unsupported pcd fields %s", value)
		}
	case "SIZE":
		if len(tokens) != int(header.fields) {
			return errors.New("unexpected number of fields in SIZE line")
		}
		header.size = make([]uint64, len(tokens))
		for i, token := range tokens {
			header.size[i], err = strconv.ParseUint(token, 10, 64)
			if err != nil || header.size[i] != 4 {
				return errors.Errorf("invalid SIZE field %s", token)
			}
		}
	case "TYPE", "COUNT":
		if len(tokens) != int(header.fields) {
			return errors.Errorf("unexpected number of fields in %s line", name)
		}
	case "WIDTH":
		header.width, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid WIDTH field %s", value)
		}
	case "HEIGHT":
		header.height, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid HEIGHT field %s", value)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
	case "POINTS":
		header.points, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid POINTS field %s", value)
		}
		if header.points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", header.points, header.width*header.height)
		}
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return errors.Errorf("unsupported pcd data %s", value)
		}
	}
	return nil
}

// ReadPCD reads an ascii or binary PCD file with x y z and optional rgb fields.
func ReadPCD(inRaw io.Reader) (Points, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "error reading header line %d", headerLineCount)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}
	switch header.data {
	case PCDAscii:
		return readPCDAscii(in, header)
	case PCDBinary:
		return readPCDBinary(in, header)
	default:
		return nil, errors.New("compressed pcd not yet supported")
	}
}

func readPCDAscii(in *bufio.Reader, header pcdHeader) (Points, error) {
	points := newPointsForCount(header.points)
	for i := uint64(0); i < header.points; i++ {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return nil, err
		}
		tokens := strings.Fields(line)
		if len(tokens) != int(header.fields) {
			return nil, errors.Errorf("unexpected number of fields in point %d", i)
		}
		values := make([]float64, len(tokens))
		for j, token := range tokens {
			values[j], err = strconv.ParseFloat(token, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid point %d field %s", i, token)
			}
		}
		points = append(points, pcdValuesToPoint(values, header))
	}
	return points, nil
}

func readPCDBinary(in *bufio.Reader, header pcdHeader) (Points, error) {
	points := newPointsForCount(header.points)
	buf := make([]byte, 4*int(header.fields))
	values := make([]float64, int(header.fields))
	for i := uint64(0); i < header.points; i++ {
		if _, err := io.ReadFull(in, buf); err != nil {
			return nil, errors.Wrapf(err, "point %d", i)
		}
		for j := 0; j < 3; j++ {
			values[j] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4*j:])))
		}
		if header.fields == pcdPointColor {
			values[3] = float64(binary.LittleEndian.Uint32(buf[12:]))
		}
		points = append(points, pcdValuesToPoint(values, header))
	}
	return points, nil
}

func pcdValuesToPoint(values []float64, header pcdHeader) AccumulatedPoint {
	p := AccumulatedPoint{Position: r3.Vector{X: values[0], Y: values[1], Z: values[2]}}
	if header.fields == pcdPointColor {
		p.Color = pcdIntToColor(int(values[3]))
	} else {
		p.Color = pcdIntToColor(0xFFFFFF)
	}
	return p
}

// WriteToLASFile writes the cloud out to a LAS file with RGB points. Positions are stored in
// millimeters.
func WriteToLASFile(cloud Cloud, fn string) (err error) {
	lf, err := lidario.NewLasFile(fn, "w")
	if err != nil {
		return
	}
	defer func() {
		cerr := lf.Close()
		err = multierr.Combine(err, cerr)
	}()

	if err = lf.AddHeader(lidario.LasHeader{
		PointFormatID: 2,
	}); err != nil {
		return
	}

	cloud.Iterate(func(p AccumulatedPoint) bool {
		pr0 := &lidario.PointRecord0{
			X: p.Position.X * lasUnitsPerMeter,
			Y: p.Position.Y * lasUnitsPerMeter,
			Z: p.Position.Z * lasUnitsPerMeter,
			BitField: lidario.PointBitField{
				Value: (1) | (1 << 3) | (0 << 6) | (0 << 7),
			},
			ClassBitField: lidario.ClassificationBitField{
				Value: 0,
			},
			ScanAngle:     0,
			UserData:      0,
			PointSourceID: 1,
		}
		r, g, b := p.RGB255()
		lp := &lidario.PointRecord2{
			PointRecord0: pr0,
			RGB: &lidario.RgbData{
				Red:   uint16(r) * 256,
				Green: uint16(g) * 256,
				Blue:  uint16(b) * 256,
			},
		}
		if lerr := lf.AddLasPoint(lp); lerr != nil {
			err = lerr
			return false
		}
		return true
	})
	return err
}

// NewFromLASFile returns a point cloud from reading a LAS file written in millimeters. If any
// lossiness of points could occur from reading it in, it's reported but is not an error.
func NewFromLASFile(fn string, logger logging.Logger) (Points, error) {
	lf, err := lidario.NewLasFile(fn, "r")
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(lf.Close)

	points := newPointsForCount(uint64(max(lf.Header.NumberPoints, 0)))
	for i := 0; i < lf.Header.NumberPoints; i++ {
		p, err := lf.LasPoint(i)
		if err != nil {
			return nil, err
		}
		data := p.PointData()

		x, y, z := data.X, data.Y, data.Z
		if x < minPreciseFloat64 || x > maxPreciseFloat64 ||
			y < minPreciseFloat64 || y > maxPreciseFloat64 ||
			z < minPreciseFloat64 || z > maxPreciseFloat64 {
			logger.Warnw("potential floating point lossiness for LAS point",
				"point", data, "range", fmt.Sprintf("[%f,%f]", minPreciseFloat64, maxPreciseFloat64))
		}

		pt := NewColoredPoint(r3.Vector{X: x, Y: y, Z: z}.Mul(1/lasUnitsPerMeter), 255, 255, 255)
		if lf.Header.PointFormatID == 2 && p.RgbData() != nil {
			pt.Color.R = uint8(p.RgbData().Red / 256)
			pt.Color.G = uint8(p.RgbData().Green / 256)
			pt.Color.B = uint8(p.RgbData().Blue / 256)
		}
		points = append(points, pt)
	}
	return points, nil
}
