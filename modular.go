// Package modular implements a predictive lossless coder for planar
// integer channel data.
//
// Each pixel is predicted from its causal neighborhood, either by one
// of a fixed set of simple predictors or by an adaptive predictor that
// blends four of them by their recent errors. A decision tree over
// per-pixel properties selects, for every pixel, the predictor and the
// entropy context of the prediction residual. The tree is learned from
// a deterministic sample of the image, serialized into the stream, and
// flattened before coding so that most traversals resolve in a couple
// of table lookups.
//
// Encode and Decode handle self-contained streams. EncodeWithTree and
// DecodeWithTree share one tree across many streams, which pays off
// when coding many small groups with similar statistics; GatherTreeData
// and LearnTree build such a shared tree from sampled pixels of the
// images it will serve.
package modular

// Compress encodes img with default options.
func Compress(img *Image) ([]byte, error) {
	return Encode(img, nil)
}

// Decompress decodes data into the pre-shaped channels of img with
// default options.
func Decompress(data []byte, img *Image) error {
	return Decode(data, img, nil)
}
