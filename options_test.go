package modular

import "testing"

func TestNormNilOptions(t *testing.T) {
	o := (*Options)(nil).norm()
	if len(o.Predictors) == 0 {
		t.Fatal("norm(nil) left Predictors empty")
	}
	if o.Predictors[0] != o.Predictor {
		t.Fatalf("default arm %v, want %v", o.Predictors[0], o.Predictor)
	}
	if o.MaxChanSize == 0 || o.SplittingHeuristicsThreshold == 0 || o.FastDecodeMultiplier <= 0 {
		t.Fatalf("norm(nil) left zero fields: %+v", o)
	}
}

func TestNormZeroOptions(t *testing.T) {
	o := (&Options{}).norm()
	if len(o.Predictors) != 1 || o.Predictors[0] != PredZero {
		t.Fatalf("zero options arms = %v, want [Zero]", o.Predictors)
	}
	if o.NbRepeats != 0 {
		t.Fatalf("NbRepeats = %v, zero must stay zero to disable learning", o.NbRepeats)
	}
}

func TestNormKeepsCallerValues(t *testing.T) {
	in := &Options{NbRepeats: 0.25, MaxChanSize: 7, SkipChannels: 2}
	o := in.norm()
	if o.NbRepeats != 0.25 || o.MaxChanSize != 7 || o.SkipChannels != 2 {
		t.Fatalf("norm rewrote caller values: %+v", o)
	}
	if in.Predictors != nil {
		t.Fatal("norm mutated its receiver")
	}
}
