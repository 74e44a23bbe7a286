package loader

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
)

var (
	errGLTFVersion      = errors.New("invalid glTF version: must be 2.0")
	errGLBMagic         = errors.New("invalid GLB magic number")
	errGLBVersion       = errors.New("invalid GLB version: must be 2")
	errMissingJSONChunk = errors.New("GLB file missing JSON chunk")
	errBufferURI        = errors.New("invalid buffer URI")
	errBufferSize       = errors.New("buffer size mismatch")
)

// gltfFile is a parsed document with its buffers resolved.
type gltfFile struct {
	doc     gltfDocument
	baseDir string
	bin     []byte
}

// parseFile reads a .gltf or .glb file. GLB is detected by extension or magic number.
func parseFile(path string) (*gltfFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	isGLB := strings.EqualFold(filepath.Ext(path), ".glb") ||
		(len(data) >= 4 && binary.LittleEndian.Uint32(data) == glbMagic)
	return parse(data, isGLB, filepath.Dir(path))
}

func parse(data []byte, isGLB bool, baseDir string) (*gltfFile, error) {
	f := &gltfFile{baseDir: baseDir}
	jsonData := data
	if isGLB {
		var err error
		if jsonData, f.bin, err = splitGLB(data); err != nil {
			return nil, err
		}
	}
	if err := json.Unmarshal(jsonData, &f.doc); err != nil {
		return nil, fmt.Errorf("failed to parse glTF JSON: %w", err)
	}
	if !strings.HasPrefix(f.doc.Asset.Version, "2.") {
		return nil, errGLTFVersion
	}
	if err := f.loadBuffers(); err != nil {
		return nil, fmt.Errorf("failed to load buffers: %w", err)
	}
	return f, nil
}

// splitGLB returns the JSON and BIN chunks of a GLB container.
func splitGLB(data []byte) ([]byte, []byte, error) {
	if len(data) < 12 {
		return nil, nil, errors.New("GLB file too small")
	}
	r := bytes.NewReader(data)
	var header glbHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, nil, fmt.Errorf("failed to read GLB header: %w", err)
	}
	if header.Magic != glbMagic {
		return nil, nil, errGLBMagic
	}
	if header.Version != glbVersion {
		return nil, nil, errGLBVersion
	}

	var jsonData, bin []byte
	for {
		var ch glbChunkHeader
		if err := binary.Read(r, binary.LittleEndian, &ch); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, nil, fmt.Errorf("failed to read chunk header: %w", err)
		}
		chunk := make([]byte, ch.Length)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, nil, fmt.Errorf("failed to read chunk data: %w", err)
		}
		switch ch.Type {
		case glbChunkJSON:
			jsonData = chunk
		case glbChunkBIN:
			bin = chunk
		}
	}
	if jsonData == nil {
		return nil, nil, errMissingJSONChunk
	}
	return jsonData, bin, nil
}

func (f *gltfFile) loadBuffers() error {
	for i := range f.doc.Buffers {
		buf := &f.doc.Buffers[i]
		switch {
		case buf.URI == "" && i == 0 && f.bin != nil:
			buf.data = f.bin
		case buf.URI == "":
			return fmt.Errorf("buffer %d has no URI and no GLB binary chunk", i)
		case strings.HasPrefix(buf.URI, "data:"):
			data, err := decodeDataURI(buf.URI)
			if err != nil {
				return fmt.Errorf("buffer %d: %w", i, err)
			}
			buf.data = data
		default:
			data, err := os.ReadFile(filepath.Join(f.baseDir, buf.URI))
			if err != nil {
				return fmt.Errorf("buffer %d: failed to load %q: %w", i, buf.URI, err)
			}
			buf.data = data
		}
		if len(buf.data) < buf.ByteLength {
			return fmt.Errorf("buffer %d: %w", i, errBufferSize)
		}
	}
	return nil
}

// decodeDataURI decodes data:[<mediatype>];base64,<data>.
func decodeDataURI(uri string) ([]byte, error) {
	comma := strings.IndexByte(uri, ',')
	if comma < 0 {
		return nil, errBufferURI
	}
	if !strings.Contains(uri[5:comma], "base64") {
		return nil, fmt.Errorf("unsupported data URI encoding: %s", uri[5:comma])
	}
	data, err := base64.StdEncoding.DecodeString(uri[comma+1:])
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}
	return data, nil
}

// elements returns the tightly packed bytes of an accessor, one slice per element.
func (f *gltfFile) elements(index int) ([][]byte, *gltfAccessor, error) {
	if index < 0 || index >= len(f.doc.Accessors) {
		return nil, nil, fmt.Errorf("accessor %d out of range", index)
	}
	acc := &f.doc.Accessors[index]
	if acc.Sparse != nil {
		return nil, nil, fmt.Errorf("accessor %d: sparse accessors are not supported", index)
	}
	if acc.BufferView == nil || *acc.BufferView >= len(f.doc.BufferViews) {
		return nil, nil, fmt.Errorf("accessor %d has no bufferView", index)
	}
	bv := &f.doc.BufferViews[*acc.BufferView]
	if bv.Buffer >= len(f.doc.Buffers) {
		return nil, nil, fmt.Errorf("bufferView %d: buffer %d out of range", *acc.BufferView, bv.Buffer)
	}
	data := f.doc.Buffers[bv.Buffer].data

	size := componentSize(acc.ComponentType) * componentCount(acc.Type)
	if size == 0 {
		return nil, nil, fmt.Errorf("accessor %d: unknown element %s/%d", index, acc.Type, acc.ComponentType)
	}
	stride := size
	if bv.ByteStride != nil && *bv.ByteStride > 0 {
		stride = *bv.ByteStride
	}
	base := bv.ByteOffset + acc.ByteOffset
	if acc.Count > 0 && base+(acc.Count-1)*stride+size > len(data) {
		return nil, nil, fmt.Errorf("accessor %d: %w", index, errBufferSize)
	}
	out := make([][]byte, acc.Count)
	for i := range out {
		off := base + i*stride
		out[i] = data[off : off+size]
	}
	return out, acc, nil
}

// floats reads a FLOAT accessor of n components per element.
func (f *gltfFile) floats(index, n int) ([][4]float32, error) {
	elems, acc, err := f.elements(index)
	if err != nil {
		return nil, err
	}
	if acc.ComponentType != gltfFloat || componentCount(acc.Type) != n {
		return nil, fmt.Errorf("accessor %d is %s/%d, want %d floats", index, acc.Type, acc.ComponentType, n)
	}
	out := make([][4]float32, len(elems))
	for i, e := range elems {
		for c := 0; c < n; c++ {
			out[i][c] = math.Float32frombits(binary.LittleEndian.Uint32(e[c*4:]))
		}
	}
	return out, nil
}

// uints reads an unsigned integer accessor, widening each component to uint32.
func (f *gltfFile) uints(index int) ([][4]uint32, int, error) {
	elems, acc, err := f.elements(index)
	if err != nil {
		return nil, 0, err
	}
	n := componentCount(acc.Type)
	if n > 4 {
		return nil, 0, fmt.Errorf("accessor %d: %s is not an integer vector", index, acc.Type)
	}
	out := make([][4]uint32, len(elems))
	for i, e := range elems {
		for c := 0; c < n; c++ {
			switch acc.ComponentType {
			case gltfUnsignedByte:
				out[i][c] = uint32(e[c])
			case gltfUnsignedShort:
				out[i][c] = uint32(binary.LittleEndian.Uint16(e[c*2:]))
			case gltfUnsignedInt:
				out[i][c] = binary.LittleEndian.Uint32(e[c*4:])
			default:
				return nil, 0, fmt.Errorf("accessor %d: unsupported component type %d", index, acc.ComponentType)
			}
		}
	}
	return out, n, nil
}

// indices reads a SCALAR index accessor.
func (f *gltfFile) indices(index int) ([]uint32, error) {
	v, n, err := f.uints(index)
	if err != nil {
		return nil, err
	}
	if n != 1 {
		return nil, fmt.Errorf("index accessor %d is not SCALAR", index)
	}
	out := make([]uint32, len(v))
	for i := range v {
		out[i] = v[i][0]
	}
	return out, nil
}
