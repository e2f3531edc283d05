package shonan

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/satoshi-pes/rotavg/son"
)

// codecVersion is written to every encoded document and checked on
// decode, so format changes fail loudly instead of misreading.
const codecVersion = 1

type measurementJSON struct {
	Key1     Key         `json:"key1"`
	Key2     Key         `json:"key2"`
	Rotation [][]float64 `json:"rotation"`
	Weight   float64     `json:"weight"`
}

type measurementSetJSON struct {
	Version      int               `json:"version"`
	Measurements []measurementJSON `json:"measurements"`
}

type poseJSON struct {
	Key      Key         `json:"key"`
	Rotation [][]float64 `json:"rotation"`
}

type poseMapJSON struct {
	Version int        `json:"version"`
	Poses   []poseJSON `json:"poses"`
}

type parametersJSON struct {
	Version    int        `json:"version"`
	Parameters Parameters `json:"parameters"`
}

// matrixRows lays a rotation out as row-major nested slices.
func matrixRows(x son.SOn) [][]float64 {
	n := x.N()
	rows := make([][]float64, n)
	for i := range n {
		row := make([]float64, n)
		for j := range n {
			row[j] = x.At(i, j)
		}
		rows[i] = row
	}
	return rows
}

// rotationFromRows rebuilds a rotation, validating shape and propriety.
func rotationFromRows(rows [][]float64) (son.SOn, error) {
	n := len(rows)
	if n == 0 {
		return son.SOn{}, fmt.Errorf("empty rotation")
	}
	m := mat.NewDense(n, n, nil)
	for i, row := range rows {
		if len(row) != n {
			return son.SOn{}, fmt.Errorf("rotation row %d has %d entries, want %d", i, len(row), n)
		}
		for j, v := range row {
			m.Set(i, j, v)
		}
	}
	return son.FromMatrix(m)
}

// EncodeMeasurements writes measurements as a versioned JSON document,
// rotations row major, in the given order.
func EncodeMeasurements(w io.Writer, measurements []Measurement) error {
	doc := measurementSetJSON{
		Version:      codecVersion,
		Measurements: make([]measurementJSON, len(measurements)),
	}
	for i, m := range measurements {
		doc.Measurements[i] = measurementJSON{
			Key1:     m.Key1,
			Key2:     m.Key2,
			Rotation: matrixRows(m.Rotation),
			Weight:   m.Weight,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("shonan: encoding measurements: %w", err)
	}
	return nil
}

// DecodeMeasurements reads a measurement document written by
// EncodeMeasurements, rejecting unknown versions and invalid rotations.
func DecodeMeasurements(r io.Reader) ([]Measurement, error) {
	var doc measurementSetJSON
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("shonan: decoding measurements: %w", err)
	}
	if doc.Version != codecVersion {
		return nil, fmt.Errorf("shonan: unsupported measurement file version %d", doc.Version)
	}

	out := make([]Measurement, len(doc.Measurements))
	for i, m := range doc.Measurements {
		rot, err := rotationFromRows(m.Rotation)
		if err != nil {
			return nil, fmt.Errorf("shonan: measurement %d: %w", i, err)
		}
		out[i] = Measurement{Key1: m.Key1, Key2: m.Key2, Rotation: rot, Weight: m.Weight}
	}
	return out, nil
}

// EncodePoses writes a value set as a versioned JSON document with
// poses sorted by key, so equal value sets encode to equal bytes.
func EncodePoses(w io.Writer, values Values) error {
	keys := make([]Key, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	doc := poseMapJSON{Version: codecVersion, Poses: make([]poseJSON, len(keys))}
	for i, k := range keys {
		doc.Poses[i] = poseJSON{Key: k, Rotation: matrixRows(values[k])}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("shonan: encoding poses: %w", err)
	}
	return nil
}

// DecodePoses reads a pose document written by EncodePoses.
func DecodePoses(r io.Reader) (Values, error) {
	var doc poseMapJSON
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("shonan: decoding poses: %w", err)
	}
	if doc.Version != codecVersion {
		return nil, fmt.Errorf("shonan: unsupported pose file version %d", doc.Version)
	}

	out := make(Values, len(doc.Poses))
	for _, p := range doc.Poses {
		rot, err := rotationFromRows(p.Rotation)
		if err != nil {
			return nil, fmt.Errorf("shonan: pose %d: %w", p.Key, err)
		}
		out[p.Key] = rot
	}
	return out, nil
}

// EncodeParameters writes parameters as a versioned JSON document.
func EncodeParameters(w io.Writer, params Parameters) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(parametersJSON{Version: codecVersion, Parameters: params}); err != nil {
		return fmt.Errorf("shonan: encoding parameters: %w", err)
	}
	return nil
}

// DecodeParameters reads a parameter document written by
// EncodeParameters. Absent fields keep their defaults and the decoded
// set is validated before use.
func DecodeParameters(r io.Reader) (Parameters, error) {
	doc := parametersJSON{Parameters: DefaultParameters()}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return Parameters{}, fmt.Errorf("shonan: decoding parameters: %w", err)
	}
	if doc.Version != codecVersion {
		return Parameters{}, fmt.Errorf("shonan: unsupported parameter file version %d", doc.Version)
	}
	if err := doc.Parameters.validate(); err != nil {
		return Parameters{}, err
	}
	return doc.Parameters, nil
}
