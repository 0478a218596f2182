package pipeline

import "context"

// Tensor is a dense float32 array in row-major order.
type Tensor struct {
	Shape []int
	Data  []float32
}

// RawSpec locates the raw volume and the crop taken around each location.
type RawSpec struct {
	InputShape []int // z, y, x voxels
	VoxelSize  []int // z, y, x nanometres
	Container  string
	Dataset    string
}

// ModelSpec describes the network architecture a checkpoint was trained with.
type ModelSpec struct {
	InputShape        []int
	FMaps             int
	DownsampleFactors [][]int
	NumClasses        int
	// SynapseTypes names the synapse kinds the network was trained on. It is
	// passed through unchanged; loaders that do not need it ignore it.
	SynapseTypes []string
}

// RawSource crops the raw volume around locations given in (z, y, x) order.
// It returns the raw crops and their normalised form, both batched along the
// first axis in the order of locations.
type RawSource interface {
	FetchRaw(ctx context.Context, locations [][3]int64, spec RawSpec) (raw, normalized Tensor, err error)
}

// Classifier scores a normalised batch, returning one vector per batch entry.
type Classifier interface {
	Predict(ctx context.Context, batch Tensor) ([][]float64, error)
}

// ClassifierLoader restores a classifier from a local checkpoint file.
type ClassifierLoader interface {
	LoadClassifier(ctx context.Context, checkpointPath string, spec ModelSpec) (Classifier, error)
}

// ClassifierLoaderFunc adapts a function to ClassifierLoader.
type ClassifierLoaderFunc func(ctx context.Context, checkpointPath string, spec ModelSpec) (Classifier, error)

// LoadClassifier calls f.
func (f ClassifierLoaderFunc) LoadClassifier(ctx context.Context, checkpointPath string, spec ModelSpec) (Classifier, error) {
	return f(ctx, checkpointPath, spec)
}
