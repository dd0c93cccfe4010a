package signalio

// Files reads and writes session resources on the local filesystem.
type Files struct{}

func (Files) LoadMono(path string) ([]float64, int, error) { return LoadMono(path) }

func (Files) LoadCoefficients(path string) ([]float64, error) { return LoadCoefficients(path) }

func (Files) SaveCoefficients(path string, coeffs []float64) error {
	return SaveCoefficients(path, coeffs)
}
