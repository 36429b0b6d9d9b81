package prior

import "math"

// Support is the closed interval a distribution lives on. Infinite bounds
// mean the side is unbounded.
type Support struct {
	Lower, Upper float64
}

func Real() Support                   { return Support{math.Inf(-1), math.Inf(1)} }
func Positive() Support               { return Support{0, math.Inf(1)} }
func Interval(lo, hi float64) Support { return Support{lo, hi} }

func (s Support) Contains(x float64) bool {
	return x >= s.Lower && x <= s.Upper
}

// Forward maps an unconstrained coordinate into the support.
func (s Support) Forward(z float64) float64 {
	lo, hi := !math.IsInf(s.Lower, -1), !math.IsInf(s.Upper, 1)
	switch {
	case lo && hi:
		return s.Lower + (s.Upper-s.Lower)*sigmoid(z)
	case lo:
		return s.Lower + math.Exp(z)
	case hi:
		return s.Upper - math.Exp(z)
	default:
		return z
	}
}

// Inverse maps a value inside the support to its unconstrained coordinate.
// Values on or beyond a bound are nudged inside first.
func (s Support) Inverse(x float64) float64 {
	lo, hi := !math.IsInf(s.Lower, -1), !math.IsInf(s.Upper, 1)
	switch {
	case lo && hi:
		u := (x - s.Lower) / (s.Upper - s.Lower)
		u = math.Min(math.Max(u, 1e-12), 1-1e-12)
		return math.Log(u) - math.Log1p(-u)
	case lo:
		return math.Log(math.Max(x-s.Lower, 1e-300))
	case hi:
		return math.Log(math.Max(s.Upper-x, 1e-300))
	default:
		return x
	}
}

// LogDetJacobian is log|dx/dz| of Forward at z.
func (s Support) LogDetJacobian(z float64) float64 {
	lo, hi := !math.IsInf(s.Lower, -1), !math.IsInf(s.Upper, 1)
	switch {
	case lo && hi:
		// log sigmoid(z) + log(1 - sigmoid(z))
		return math.Log(s.Upper-s.Lower) - softplus(-z) - softplus(z)
	case lo, hi:
		return z
	default:
		return 0
	}
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func softplus(z float64) float64 {
	if z > 30 {
		return z
	}
	return math.Log1p(math.Exp(z))
}
