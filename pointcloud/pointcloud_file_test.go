package pointcloud

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"

	"github.com/guidedgrasp/depthcloud/logging"
)

func testCloud() Points {
	return Points{
		NewColoredPoint(NewVector(0.25, -1.5, 2), 255, 0, 10),
		NewColoredPoint(NewVector(-0.125, 0.5, -3.75), 1, 2, 3),
		NewColoredPoint(NewVector(1, 1, 1), 128, 128, 128),
	}
}

func assertSameCloud(t *testing.T, got, want Points, tolerance float64) {
	t.Helper()
	test.That(t, got, test.ShouldHaveLength, len(want))
	for i := range want {
		test.That(t, got[i].Position.X, test.ShouldAlmostEqual, want[i].Position.X, tolerance)
		test.That(t, got[i].Position.Y, test.ShouldAlmostEqual, want[i].Position.Y, tolerance)
		test.That(t, got[i].Position.Z, test.ShouldAlmostEqual, want[i].Position.Z, tolerance)
		test.That(t, got[i].Color, test.ShouldResemble, want[i].Color)
	}
}

func TestXYZRGB(t *testing.T) {
	var buf bytes.Buffer
	test.That(t, WriteXYZRGB(testCloud(), &buf), test.ShouldBeNil)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	test.That(t, lines[0], test.ShouldEqual, "3")
	test.That(t, lines[1], test.ShouldEqual, "0.25 -1.5 2 255 0 10")

	back, err := ReadXYZRGB(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back, test.ShouldResemble, testCloud())

	_, err = ReadXYZRGB(strings.NewReader("2\n1 2 3 4 5 6\n"))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = ReadXYZRGB(strings.NewReader("1\n1 2 3 4 5 300\n"))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = ReadXYZRGB(strings.NewReader(""))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPLY(t *testing.T) {
	var buf bytes.Buffer
	test.That(t, WritePLY(testCloud(), &buf), test.ShouldBeNil)
	out := buf.String()
	test.That(t, out, test.ShouldStartWith, "ply\r\nformat ascii 1.0\r\nelement vertex 3\r\nproperty float x\r\n")
	test.That(t, out, test.ShouldContainSubstring, "element face 0\r\nproperty list uchar int vertex_indices\r\nend_header\r\n")
	test.That(t, out, test.ShouldContainSubstring, "end_header\r\n0.25 -1.5 2 255 0 10 255\r\n")

	back, err := ReadPLY(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back, test.ShouldResemble, testCloud())

	_, err = ReadPLY(strings.NewReader("ply\nformat binary_little_endian 1.0\nend_header\n"))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = ReadPLY(strings.NewReader("ply\nelement vertex 1\n"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPLYFromOtherWriters(t *testing.T) {
	// double positions, no colors, comments and a populated face element
	back, err := ReadPLY(strings.NewReader(`ply
format ascii 1.0
comment exported elsewhere
element vertex 2
property double x
property double y
property double z
element face 1
property list uchar int vertex_indices
end_header
0.1 0.2 0.3
-1 -2 -3
2 0 1

`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back, test.ShouldResemble, Points{
		NewColoredPoint(NewVector(0.1, 0.2, 0.3), 255, 255, 255),
		NewColoredPoint(NewVector(-1, -2, -3), 255, 255, 255),
	})

	_, err = ReadPLY(strings.NewReader("ply\nformat ascii 1.0\nelement vertex 1\nproperty float x\nend_header\nabc\n"))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = ReadPLY(strings.NewReader("ply\nformat ascii 1.0\nelement vertex 1\nproperty float y\nend_header\n1\n"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReadersRejectOversizedCounts(t *testing.T) {
	const huge = "9223372036854775807"

	_, err := ReadXYZRGB(strings.NewReader(huge + "\n0 0 0 1 2 3\n"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "got 1")
	_, err = ReadXYZRGB(strings.NewReader("-4\n"))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = ReadPLY(strings.NewReader("ply\nformat ascii 1.0\nelement vertex " + huge +
		"\nproperty float x\nproperty float y\nproperty float z\nend_header\n0 0 0\n"))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = ReadPLY(strings.NewReader("ply\nformat ascii 1.0\nelement vertex -1\nend_header\n"))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = ReadPLY(strings.NewReader("ply\nformat ascii 1.0\nelement vertex 3\n" +
		"property float x\nproperty float y\nproperty float z\nend_header\n0 0 0\n"))
	test.That(t, err, test.ShouldNotBeNil)

	pcdHeader := "VERSION .7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\n" +
		"WIDTH " + huge + "\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS " + huge + "\n"
	_, err = ReadPCD(strings.NewReader(pcdHeader + "DATA ascii\n1 2 3\n"))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = ReadPCD(strings.NewReader(pcdHeader + "DATA binary\n\x00\x00\x80\x3f"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPCD(t *testing.T) {
	for _, pcdType := range []PCDType{PCDAscii, PCDBinary} {
		var buf bytes.Buffer
		test.That(t, ToPCD(testCloud(), &buf, pcdType), test.ShouldBeNil)
		test.That(t, buf.String(), test.ShouldStartWith, "VERSION .7\nFIELDS x y z rgb\n")

		back, err := ReadPCD(&buf)
		test.That(t, err, test.ShouldBeNil)
		assertSameCloud(t, back, testCloud(), 1e-6)
	}

	var buf bytes.Buffer
	test.That(t, ToPCD(testCloud(), &buf, PCDCompressed), test.ShouldNotBeNil)

	back, err := ReadPCD(strings.NewReader("VERSION .7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\n" +
		"WIDTH 1\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS 1\nDATA ascii\n1 2 3\n"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back, test.ShouldResemble, Points{NewColoredPoint(NewVector(1, 2, 3), 255, 255, 255)})
}

func TestFilesByExtension(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()
	for _, ext := range []string{".ply", ".pcd", ".xyz", ".las"} {
		fn := filepath.Join(dir, "cloud"+ext)
		test.That(t, WriteToFile(testCloud(), fn), test.ShouldBeNil)
		back, err := NewFromFile(fn, logger)
		test.That(t, err, test.ShouldBeNil)
		assertSameCloud(t, back, testCloud(), 1e-3)
	}

	test.That(t, WriteToFile(testCloud(), filepath.Join(dir, "cloud.obj")), test.ShouldNotBeNil)
	_, err := NewFromFile(filepath.Join(dir, "cloud.obj"), logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestComputeMetaData(t *testing.T) {
	meta := ComputeMetaData(testCloud())
	test.That(t, meta.Count, test.ShouldEqual, 3)
	test.That(t, meta.MinX, test.ShouldEqual, -0.125)
	test.That(t, meta.MaxX, test.ShouldEqual, 1.0)
	test.That(t, meta.MinY, test.ShouldEqual, -1.5)
	test.That(t, meta.MaxZ, test.ShouldEqual, 2.0)
	test.That(t, meta.MinZ, test.ShouldEqual, -3.75)
}
