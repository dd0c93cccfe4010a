package session

// Devices opens blocking audio streams. Buffers exchanged with a stream hold
// exactly one block; stereo output is interleaved.
type Devices interface {
	OpenOutput(channels int, sampleRate float64, blockSize, device int) (Output, error)
	OpenInput(sampleRate float64, blockSize, device int) (Input, error)
}

// Output is a blocking playback stream.
type Output interface {
	Write(block []float32) error
	Close() error
}

// Input is a blocking capture stream.
type Input interface {
	Read(block []float32) error
	Close() error
}

// Store loads session resources from persistent storage.
type Store interface {
	// LoadMono returns the samples of a single-channel signal and its rate.
	LoadMono(path string) ([]float64, int, error)
	// LoadCoefficients returns a one-dimensional coefficient vector.
	LoadCoefficients(path string) ([]float64, error)
	SaveCoefficients(path string, coeffs []float64) error
}

// Recorder captures the error microphone signal for later inspection.
type Recorder interface {
	Write(block []float32) error
	Close() error
}

// RecorderFactory opens a Recorder for a session.
type RecorderFactory func(path string, sampleRate, blockSize int) (Recorder, error)
