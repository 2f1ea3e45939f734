package models

// Batch is one (input, target) pair group, already placed in the
// representation its holder expects. Orchestration code never inspects the
// raw values; it hands batches to the step executor by reference.
type Batch struct {
	Inputs [][]float64 `json:"inputs"`
	Labels []float64   `json:"labels"`
}

func (b *Batch) Size() int {
	return len(b.Inputs)
}
