package program

import "math/rand/v2"

// Source yields one value per random site, in Sites() order, for a single
// simulation call. Implementations must be safe for concurrent use when each
// caller passes its own rng.
type Source interface {
	Values(rng *rand.Rand) ([]float64, error)
}

// Prior returns the program's prior as a Source.
func (p *Program) Prior() Source { return priorSource{p} }

type priorSource struct{ p *Program }

func (s priorSource) Values(rng *rand.Rand) ([]float64, error) {
	sample, err := s.p.Draw(rng)
	if err != nil {
		return nil, err
	}
	return sample.Values, nil
}
