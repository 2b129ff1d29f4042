package cm3

import "math"

// JointSettings are the limits shared by the joint constraints.
type JointSettings struct {
	// MaxForce is the largest force the joint may apply.
	MaxForce float64
	// ErrorBias is the fraction of joint error left uncorrected after one second.
	ErrorBias float64
	// MaxBias caps the speed at which joint error is corrected.
	MaxBias float64
}

// DefaultJointSettings returns an unlimited joint that corrects 10% of its error every 1/60 s.
func DefaultJointSettings() JointSettings {
	return JointSettings{
		MaxForce:  math.Inf(1),
		ErrorBias: math.Pow(1.0-0.1, 60.0),
		MaxBias:   math.Inf(1),
	}
}
