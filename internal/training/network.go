package training

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/privtrain/privtrain/internal/core/models"
)

// Canonical parameter names, in model order.
const (
	ParamInputToHidden  = "input_to_hidden_weights"
	ParamHiddenBias     = "hidden_bias"
	ParamHiddenToOutput = "hidden_to_output_weights"
	ParamOutputBias     = "output_bias"
)

// ErrNumericalInstability marks a forward/backward pass that produced
// NaN or Inf. It is fatal to the run; callers must not continue training.
var ErrNumericalInstability = fmt.Errorf("numerical instability: NaN/Inf in training step")

// Network is a two-layer feed-forward classifier. The hidden layer is ReLU;
// the output layer is linear, with the loss function deciding how outputs
// are interpreted (softmax cross entropy or mean squared error against a
// one-hot target).
type Network struct {
	inputSize  int
	hiddenSize int
	outputSize int
	loss       string

	weights1 [][]float64 // input to hidden
	weights2 [][]float64 // hidden to output
	bias1    []float64
	bias2    []float64
}

func NewNetwork(inputSize, hiddenSize, outputSize int, loss string, seed int64) (*Network, error) {
	if inputSize <= 0 || hiddenSize <= 0 || outputSize <= 0 {
		return nil, fmt.Errorf("invalid network dimensions: %dx%dx%d", inputSize, hiddenSize, outputSize)
	}
	switch loss {
	case models.LossMSE, models.LossCrossEntropy:
	default:
		return nil, fmt.Errorf("unsupported loss function: %s", loss)
	}

	n := &Network{
		inputSize:  inputSize,
		hiddenSize: hiddenSize,
		outputSize: outputSize,
		loss:       loss,
	}
	n.initializeWeights(rand.New(rand.NewSource(seed)))
	return n, nil
}

func (n *Network) initializeWeights(rng *rand.Rand) {
	// Xavier/Glorot initialization
	inputRange := math.Sqrt(6.0 / float64(n.inputSize+n.hiddenSize))
	hiddenRange := math.Sqrt(6.0 / float64(n.hiddenSize+n.outputSize))
	if inputRange > 1.0 {
		inputRange = 1.0
	}
	if hiddenRange > 1.0 {
		hiddenRange = 1.0
	}

	n.weights1 = make([][]float64, n.inputSize)
	for i := range n.weights1 {
		n.weights1[i] = make([]float64, n.hiddenSize)
		for j := range n.weights1[i] {
			n.weights1[i][j] = (rng.Float64()*2 - 1) * inputRange
		}
	}

	n.weights2 = make([][]float64, n.hiddenSize)
	for i := range n.weights2 {
		n.weights2[i] = make([]float64, n.outputSize)
		for j := range n.weights2[i] {
			n.weights2[i][j] = (rng.Float64()*2 - 1) * hiddenRange
		}
	}

	// Small random biases to break symmetry
	n.bias1 = make([]float64, n.hiddenSize)
	for i := range n.bias1 {
		n.bias1[i] = (rng.Float64() - 0.5) * 0.02
	}
	n.bias2 = make([]float64, n.outputSize)
	for i := range n.bias2 {
		n.bias2[i] = (rng.Float64() - 0.5) * 0.02
	}
}

func (n *Network) InputSize() int  { return n.inputSize }
func (n *Network) OutputSize() int { return n.outputSize }
func (n *Network) Loss() string    { return n.loss }

func (n *Network) hiddenForward(input []float64) []float64 {
	hidden := make([]float64, n.hiddenSize)
	for j := 0; j < n.hiddenSize; j++ {
		sum := n.bias1[j]
		for i := 0; i < n.inputSize; i++ {
			sum += input[i] * n.weights1[i][j]
		}
		if sum > 0 {
			hidden[j] = sum
		}
	}
	return hidden
}

func (n *Network) outputForward(hidden []float64) []float64 {
	output := make([]float64, n.outputSize)
	for j := 0; j < n.outputSize; j++ {
		sum := n.bias2[j]
		for i := 0; i < n.hiddenSize; i++ {
			sum += hidden[i] * n.weights2[i][j]
		}
		output[j] = sum
	}
	return output
}

func softmax(logits []float64) []float64 {
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	probs := make([]float64, len(logits))
	sum := 0.0
	for i, v := range logits {
		probs[i] = math.Exp(v - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// sampleLossAndError computes the per-sample loss and the output-layer
// error term for backpropagation. For both supported losses the error term
// is (prediction - target).
func (n *Network) sampleLossAndError(output []float64, label float64) (float64, []float64, error) {
	target := make([]float64, n.outputSize)
	labelIndex := int(label)
	if labelIndex < 0 || labelIndex >= n.outputSize {
		return 0, nil, fmt.Errorf("label %v outside output range [0,%d)", label, n.outputSize)
	}
	target[labelIndex] = 1.0

	outputError := make([]float64, n.outputSize)
	var loss float64
	switch n.loss {
	case models.LossCrossEntropy:
		probs := softmax(output)
		p := probs[labelIndex]
		if p < 1e-12 {
			p = 1e-12
		}
		loss = -math.Log(p)
		for i := range outputError {
			outputError[i] = probs[i] - target[i]
		}
	case models.LossMSE:
		for i := range outputError {
			diff := output[i] - target[i]
			loss += diff * diff
			outputError[i] = diff
		}
		loss /= 2.0
	}

	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, nil, ErrNumericalInstability
	}
	return loss, outputError, nil
}

// TrainBatch runs forward, loss, backward and one SGD step over the batch.
// It mutates the network in place and returns the mean per-sample loss and
// the number of correct predictions. A NaN/Inf anywhere aborts before the
// weight update so a poisoned step never lands.
func (n *Network) TrainBatch(batch *models.Batch, learningRate float64) (float64, int, error) {
	batchSize := batch.Size()
	if batchSize == 0 {
		return 0, 0, fmt.Errorf("empty batch")
	}

	gradWeights1 := make([][]float64, n.inputSize)
	for i := range gradWeights1 {
		gradWeights1[i] = make([]float64, n.hiddenSize)
	}
	gradWeights2 := make([][]float64, n.hiddenSize)
	for i := range gradWeights2 {
		gradWeights2[i] = make([]float64, n.outputSize)
	}
	gradBias1 := make([]float64, n.hiddenSize)
	gradBias2 := make([]float64, n.outputSize)

	totalLoss := 0.0
	correct := 0

	for s := 0; s < batchSize; s++ {
		input := batch.Inputs[s]
		if len(input) != n.inputSize {
			return 0, 0, fmt.Errorf("sample %d has %d features, network expects %d", s, len(input), n.inputSize)
		}

		hidden := n.hiddenForward(input)
		output := n.outputForward(hidden)

		loss, outputError, err := n.sampleLossAndError(output, batch.Labels[s])
		if err != nil {
			return 0, 0, err
		}
		totalLoss += loss
		if n.predictIndex(output) == int(batch.Labels[s]) {
			correct++
		}

		// Output layer gradients
		for i := 0; i < n.outputSize; i++ {
			gradBias2[i] += outputError[i]
		}
		for i := 0; i < n.hiddenSize; i++ {
			for j := 0; j < n.outputSize; j++ {
				gradWeights2[i][j] += hidden[i] * outputError[j]
			}
		}

		// Hidden layer gradients through the ReLU
		hiddenError := make([]float64, n.hiddenSize)
		for i := 0; i < n.hiddenSize; i++ {
			if hidden[i] <= 0 {
				continue
			}
			for j := 0; j < n.outputSize; j++ {
				hiddenError[i] += outputError[j] * n.weights2[i][j]
			}
			gradBias1[i] += hiddenError[i]
		}
		for i := 0; i < n.inputSize; i++ {
			if input[i] == 0 {
				continue
			}
			for j := 0; j < n.hiddenSize; j++ {
				gradWeights1[i][j] += input[i] * hiddenError[j]
			}
		}
	}

	scale := learningRate / float64(batchSize)
	for i := 0; i < n.inputSize; i++ {
		for j := 0; j < n.hiddenSize; j++ {
			n.weights1[i][j] -= scale * gradWeights1[i][j]
		}
	}
	for i := 0; i < n.hiddenSize; i++ {
		for j := 0; j < n.outputSize; j++ {
			n.weights2[i][j] -= scale * gradWeights2[i][j]
		}
	}
	for i := 0; i < n.hiddenSize; i++ {
		n.bias1[i] -= scale * gradBias1[i]
	}
	for i := 0; i < n.outputSize; i++ {
		n.bias2[i] -= scale * gradBias2[i]
	}

	meanLoss := totalLoss / float64(batchSize)
	if math.IsNaN(meanLoss) || math.IsInf(meanLoss, 0) {
		return 0, 0, ErrNumericalInstability
	}
	return meanLoss, correct, nil
}

// EvaluateBatch runs inference only; the network is not mutated.
func (n *Network) EvaluateBatch(batch *models.Batch) (float64, int, error) {
	totalLoss := 0.0
	correct := 0
	for s := 0; s < batch.Size(); s++ {
		hidden := n.hiddenForward(batch.Inputs[s])
		output := n.outputForward(hidden)
		loss, _, err := n.sampleLossAndError(output, batch.Labels[s])
		if err != nil {
			return 0, 0, err
		}
		totalLoss += loss
		if n.predictIndex(output) == int(batch.Labels[s]) {
			correct++
		}
	}
	return totalLoss, correct, nil
}

func (n *Network) predictIndex(output []float64) int {
	maxIdx := 0
	for i := 1; i < len(output); i++ {
		if output[i] > output[maxIdx] {
			maxIdx = i
		}
	}
	return maxIdx
}

// ExportModel snapshots the parameters into a Model in canonical order.
func (n *Network) ExportModel() *models.Model {
	m := models.NewModel()
	w1 := make([]float64, 0, n.inputSize*n.hiddenSize)
	for i := 0; i < n.inputSize; i++ {
		w1 = append(w1, n.weights1[i]...)
	}
	w2 := make([]float64, 0, n.hiddenSize*n.outputSize)
	for i := 0; i < n.hiddenSize; i++ {
		w2 = append(w2, n.weights2[i]...)
	}

	// AddParam cannot fail here: shapes are computed from the slices
	_ = m.AddParam(ParamInputToHidden, []int{n.inputSize, n.hiddenSize}, w1)
	_ = m.AddParam(ParamHiddenBias, []int{n.hiddenSize}, append([]float64(nil), n.bias1...))
	_ = m.AddParam(ParamHiddenToOutput, []int{n.hiddenSize, n.outputSize}, w2)
	_ = m.AddParam(ParamOutputBias, []int{n.outputSize}, append([]float64(nil), n.bias2...))
	return m
}

// NetworkFromModel builds a network sized from a model snapshot and loads
// its parameters.
func NetworkFromModel(m *models.Model, loss string) (*Network, error) {
	inShape, ok := m.Shapes[ParamInputToHidden]
	if !ok || len(inShape) != 2 {
		return nil, fmt.Errorf("model missing %s shape", ParamInputToHidden)
	}
	outShape, ok := m.Shapes[ParamHiddenToOutput]
	if !ok || len(outShape) != 2 {
		return nil, fmt.Errorf("model missing %s shape", ParamHiddenToOutput)
	}
	n, err := NewNetwork(inShape[0], inShape[1], outShape[1], loss, 0)
	if err != nil {
		return nil, err
	}
	if err := n.ImportModel(m); err != nil {
		return nil, err
	}
	return n, nil
}

// ImportModel loads parameters from a Model snapshot into the network.
func (n *Network) ImportModel(m *models.Model) error {
	if err := m.Validate(); err != nil {
		return err
	}
	w1, ok := m.Params[ParamInputToHidden]
	if !ok || len(w1) != n.inputSize*n.hiddenSize {
		return fmt.Errorf("model missing or mis-sized %s", ParamInputToHidden)
	}
	b1, ok := m.Params[ParamHiddenBias]
	if !ok || len(b1) != n.hiddenSize {
		return fmt.Errorf("model missing or mis-sized %s", ParamHiddenBias)
	}
	w2, ok := m.Params[ParamHiddenToOutput]
	if !ok || len(w2) != n.hiddenSize*n.outputSize {
		return fmt.Errorf("model missing or mis-sized %s", ParamHiddenToOutput)
	}
	b2, ok := m.Params[ParamOutputBias]
	if !ok || len(b2) != n.outputSize {
		return fmt.Errorf("model missing or mis-sized %s", ParamOutputBias)
	}

	for i := 0; i < n.inputSize; i++ {
		copy(n.weights1[i], w1[i*n.hiddenSize:(i+1)*n.hiddenSize])
	}
	for i := 0; i < n.hiddenSize; i++ {
		copy(n.weights2[i], w2[i*n.outputSize:(i+1)*n.outputSize])
	}
	copy(n.bias1, b1)
	copy(n.bias2, b2)
	return nil
}
