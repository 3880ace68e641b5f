package detection

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Format identifies the model container family.
type Format int

const (
	FormatUnknown Format = iota
	// FormatDarknet is the classical-network family: raw weight
	// blobs with a sidecar .cfg describing the grid layout.
	FormatDarknet
	// FormatTorch is the general tensor-graph family packaged as a
	// Torch archive.
	FormatTorch
	// FormatONNX is the optimized-runtime family: a serialized ONNX
	// graph executed by a different engine under the same contract.
	FormatONNX
)

func (f Format) String() string {
	switch f {
	case FormatDarknet:
		return "darknet"
	case FormatTorch:
		return "torch"
	case FormatONNX:
		return "onnx"
	default:
		return "unknown"
	}
}

var zipMagic = []byte{0x50, 0x4b, 0x03, 0x04}

// SniffFormat inspects the artifact's leading bytes to classify the
// container. The filename extension is deliberately ignored.
func SniffFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, err
	}
	defer f.Close()

	header := make([]byte, 12)
	n, err := f.Read(header)
	if err != nil || n < 12 {
		return FormatUnknown, fmt.Errorf("artifact too short to classify")
	}

	// Torch archives are ZIPs; legacy serialized modules start with
	// a pickle protocol marker.
	if bytes.HasPrefix(header, zipMagic) || header[0] == 0x80 {
		return FormatTorch, nil
	}

	// ONNX is a protobuf ModelProto whose first field (ir_version)
	// encodes as a 0x08 varint tag.
	if header[0] == 0x08 {
		return FormatONNX, nil
	}

	// Darknet weights open with three little-endian int32 version
	// numbers, all small.
	major := int32(binary.LittleEndian.Uint32(header[0:4]))
	minor := int32(binary.LittleEndian.Uint32(header[4:8]))
	revision := int32(binary.LittleEndian.Uint32(header[8:12]))
	if major >= 0 && major < 16 && minor >= 0 && minor < 16 && revision >= 0 {
		return FormatDarknet, nil
	}

	return FormatUnknown, fmt.Errorf("unrecognized model container")
}

// findDarknetConfig locates the .cfg sidecar for a darknet weights
// file: first a file with the same stem, then any .cfg in the model
// directory.
func findDarknetConfig(weightsPath string) (string, error) {
	dir := filepath.Dir(weightsPath)
	stem := strings.TrimSuffix(filepath.Base(weightsPath), filepath.Ext(weightsPath))

	exact := filepath.Join(dir, stem+".cfg")
	if _, err := os.Stat(exact); err == nil {
		return exact, nil
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "*.cfg"))
	if len(matches) > 0 {
		return matches[0], nil
	}
	return "", fmt.Errorf("no .cfg sidecar found for %s", weightsPath)
}

// loadClassNames reads one class name per line, skipping blanks.
func loadClassNames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read class names: %w", err)
	}
	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, line)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("class names file %s is empty", path)
	}
	return names, nil
}
