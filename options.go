package modular

// Options configures the modular coder. The zero value is not useful;
// start from DefaultOptions and override fields as needed.
type Options struct {
	// Predictor is the default predictor, used for trivial trees and
	// as the sole learner arm when Predictors is empty.
	Predictor Predictor

	// WPMode selects the adaptive (weighted) predictor parameter
	// preset (0..3). Serialized in the group header.
	WPMode int

	// NbRepeats is the target fraction of pixels sampled while
	// learning the tree. Values above 1 behave like 1; a value of 0
	// disables learning entirely. Small channels (under ~1024 pixels)
	// are always fully sampled.
	NbRepeats float64

	// MaxChanSize is the maximum width or height of a non-meta channel
	// coded inline; larger channels end the channel loop.
	MaxChanSize int

	// SkipChannels skips the first n channels entirely.
	SkipChannels int

	// MaxProperties is the number of back-referencing (previous
	// channel) context properties made available to the tree.
	MaxProperties int

	// SplittingHeuristicsThreshold is the minimum estimated coding-cost
	// reduction, in bits, for a tree split to be accepted. Lower values
	// grow bigger trees.
	SplittingHeuristicsThreshold float64

	// FastDecodeMultiplier inflates the estimated cost of the weighted
	// predictor during tree learning, biasing leaves toward predictors
	// that decode faster. 1.0 is neutral.
	FastDecodeMultiplier float64

	// Predictors lists the learner's candidate predictor arms. Empty
	// means [Predictor].
	Predictors []Predictor

	// TreeObserver, when set, is called with the learned tree before it
	// is encoded. Read-only debug hook; never required for correctness.
	TreeObserver func(*Tree)
}

// DefaultOptions returns the coder defaults.
func DefaultOptions() *Options {
	return &Options{
		Predictor:                    PredGradient,
		NbRepeats:                    0.5,
		MaxChanSize:                  0xffffff,
		SplittingHeuristicsThreshold: 96,
		FastDecodeMultiplier:         1.0,
	}
}

// norm fills in usable values for unset fields and returns the options
// to use. A nil receiver yields the defaults.
func (o *Options) norm() *Options {
	if o == nil {
		o = DefaultOptions()
	}
	out := *o
	if out.NbRepeats < 0 {
		out.NbRepeats = 0
	}
	if out.MaxChanSize == 0 {
		out.MaxChanSize = 0xffffff
	}
	if out.SplittingHeuristicsThreshold == 0 {
		out.SplittingHeuristicsThreshold = 96
	}
	if out.FastDecodeMultiplier <= 0 {
		out.FastDecodeMultiplier = 1.0
	}
	if len(out.Predictors) == 0 {
		out.Predictors = []Predictor{out.Predictor}
	}
	return &out
}
