// Package tuner sizes the worker pools of an organize run from the CPU
// cores and memory of the machine.
package tuner

// SystemResources contains detected system resources.
type SystemResources struct {
	// CPUCores is the number of logical CPU cores available.
	CPUCores int

	// TotalRAM is the total physical RAM in bytes.
	TotalRAM int64

	// AvailableRAM is the free RAM in bytes. It may be an estimate.
	AvailableRAM int64
}

// defaultTotalRAM is assumed when memory cannot be detected.
const defaultTotalRAM = 8 * 1024 * 1024 * 1024

// Worker limits.
const (
	maxWorkers        = 64
	minWalkWorkers    = 4
	minAnalyzeWorkers = 2
)

// Memory budget for the analyze pool. Each worker holds one text sample
// plus a parser working set.
const (
	memoryFraction  = 0.10
	workerOverhead  = 32 * 1024 * 1024
	fallbackSamples = 64 * 1024
)

// Plan is a worker configuration for one machine.
type Plan struct {
	// WalkWorkers is the number of directory walking workers.
	WalkWorkers int

	// AnalyzeWorkers is the number of files fingerprinted, sampled and
	// categorized at once.
	AnalyzeWorkers int
}

// Calculate returns a plan for res when every analyze worker may hold up
// to sampleBytes of extracted text.
//
//   - WalkWorkers: NumCPU, at least 4; walking is metadata bound
//   - AnalyzeWorkers: NumCPU * 2, at least 2, then capped so the pool
//     fits in a tenth of the available memory
//   - both are capped at 64
func Calculate(res SystemResources, sampleBytes int64) Plan {
	walk := min(max(res.CPUCores, minWalkWorkers), maxWorkers)

	analyze := min(max(res.CPUCores*2, minAnalyzeWorkers), maxWorkers)

	if sampleBytes <= 0 {
		sampleBytes = fallbackSamples
	}
	avail := res.AvailableRAM
	if avail <= 0 {
		avail = defaultTotalRAM / 2
	}
	fit := int(float64(avail) * memoryFraction / float64(sampleBytes+workerOverhead))
	analyze = max(min(analyze, fit), minAnalyzeWorkers)

	return Plan{WalkWorkers: walk, AnalyzeWorkers: analyze}
}

// WithOverride replaces the analyze worker count when workers > 0. The
// cap of 64 still applies.
func (p Plan) WithOverride(workers int) Plan {
	if workers > 0 {
		p.AnalyzeWorkers = min(workers, maxWorkers)
	}
	return p
}
