// Package delay provides delay line implementations for audio effects
package delay

// Line implements a basic delay line with linear interpolation
type Line struct {
	buffer     []float32
	bufferSize int
	writePos   int
	sampleRate float64
}

// New creates a new delay line with the specified maximum delay time
func New(maxDelaySeconds, sampleRate float64) *Line {
	bufferSize := int(maxDelaySeconds*sampleRate) + 1
	return &Line{
		buffer:     make([]float32, bufferSize),
		bufferSize: bufferSize,
		writePos:   0,
		sampleRate: sampleRate,
	}
}

// Reset clears the delay buffer
func (d *Line) Reset() {
	for i := range d.buffer {
		d.buffer[i] = 0
	}
	d.writePos = 0
}

// Write adds a sample to the delay line
func (d *Line) Write(sample float32) {
	d.buffer[d.writePos] = sample
	d.writePos++
	if d.writePos >= d.bufferSize {
		d.writePos = 0
	}
}

// Read gets a delayed sample (delay in samples)
func (d *Line) Read(delaySamples float64) float32 {
	// Calculate read position
	readPos := float64(d.writePos) - delaySamples
	if readPos < 0 {
		readPos += float64(d.bufferSize)
	}

	// Linear interpolation
	readPosInt := int(readPos)
	frac := float32(readPos - float64(readPosInt))

	// Get two samples for interpolation
	s1 := d.buffer[readPosInt]
	s2 := d.buffer[(readPosInt+1)%d.bufferSize]

	// Linear interpolation
	return s1*(1.0-frac) + s2*frac
}

// ReadMs gets a delayed sample (delay in milliseconds)
func (d *Line) ReadMs(delayMs float64) float32 {
	delaySamples := delayMs * d.sampleRate / 1000.0
	return d.Read(delaySamples)
}
