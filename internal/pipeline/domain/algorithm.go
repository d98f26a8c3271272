package domain

// Known pose estimation algorithm variants. The id is an opaque selector
// handed to the external pose engine.
const (
	AlgorithmLite  = 1
	AlgorithmFull  = 2
	AlgorithmHeavy = 3
)

var algorithmNames = map[int]string{
	AlgorithmLite:  "pose_landmarker_lite",
	AlgorithmFull:  "pose_landmarker_full",
	AlgorithmHeavy: "pose_landmarker_heavy",
}

// KnownAlgorithm reports whether id selects a known pose algorithm variant.
func KnownAlgorithm(id int) bool {
	_, ok := algorithmNames[id]
	return ok
}

// AlgorithmName returns the engine-facing name of a variant, or "" for an
// unknown id.
func AlgorithmName(id int) string {
	return algorithmNames[id]
}
