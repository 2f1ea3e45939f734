package training

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/privtrain/privtrain/internal/core/models"
)

// ErrStreamExhausted is returned by a batch cursor once the epoch's lazy
// batch sequence ends. Cursors are epoch-scoped and not restartable.
var ErrStreamExhausted = errors.New("batch stream exhausted")

// Dataset holds labeled examples in memory.
type Dataset struct {
	Features [][]float64
	Labels   []float64
}

func (d *Dataset) Size() int {
	return len(d.Features)
}

// LoadDataset reads a dataset from a local file or an HTTP URL.
func LoadDataset(ctx context.Context, source, format string) (*Dataset, error) {
	var r io.ReadCloser
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch data: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("fetching %s: unexpected status %s", source, resp.Status)
		}
		r = resp.Body
	} else {
		f, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("failed to open dataset: %w", err)
		}
		r = f
	}
	defer r.Close()

	var ds *Dataset
	var err error
	switch strings.ToLower(format) {
	case "csv":
		ds, err = parseCSV(r)
	case "json":
		ds, err = parseJSON(r)
	default:
		return nil, fmt.Errorf("unsupported data format: %s", format)
	}
	if err != nil {
		return nil, err
	}
	if err := ds.validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

func parseCSV(r io.Reader) (*Dataset, error) {
	csvReader := csv.NewReader(r)

	// Skip header
	if _, err := csvReader.Read(); err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	ds := &Dataset{}
	labelMap := make(map[string]float64)
	nextLabelValue := 0.0

	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}

		// Last column is the label
		featureVals := make([]float64, len(record)-1)
		for i := 0; i < len(record)-1; i++ {
			val, err := strconv.ParseFloat(record[i], 64)
			if err != nil {
				return nil, fmt.Errorf("failed to parse feature value: %w", err)
			}
			featureVals[i] = val
		}

		labelStr := record[len(record)-1]
		var label float64
		if labelValue, err := strconv.ParseFloat(labelStr, 64); err == nil {
			label = labelValue
		} else {
			// Categorical label, map to a stable numeric value
			if labelValue, exists := labelMap[labelStr]; exists {
				label = labelValue
			} else {
				labelMap[labelStr] = nextLabelValue
				label = nextLabelValue
				nextLabelValue++
			}
		}

		ds.Features = append(ds.Features, featureVals)
		ds.Labels = append(ds.Labels, label)
	}

	return ds, nil
}

func parseJSON(r io.Reader) (*Dataset, error) {
	var data struct {
		Features [][]float64 `json:"features"`
		Labels   []float64   `json:"labels"`
	}
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to parse JSON data: %w", err)
	}
	if len(data.Features) != len(data.Labels) {
		return nil, fmt.Errorf("mismatched features and labels length")
	}
	return &Dataset{Features: data.Features, Labels: data.Labels}, nil
}

func (d *Dataset) validate() error {
	if d.Size() == 0 {
		return fmt.Errorf("no data loaded")
	}
	width := len(d.Features[0])
	for i, row := range d.Features {
		if len(row) != width {
			return fmt.Errorf("sample %d has %d features, expected %d", i, len(row), width)
		}
	}
	return nil
}

// NumClasses counts distinct labels.
func (d *Dataset) NumClasses() int {
	seen := make(map[float64]bool)
	for _, l := range d.Labels {
		seen[l] = true
	}
	return len(seen)
}

// Split shuffles deterministically under seed and carves off a held-out
// test set of the given fraction.
func (d *Dataset) Split(testFraction float64, seed int64) (*Dataset, *Dataset) {
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(d.Size())

	testSize := int(float64(d.Size()) * testFraction)
	test := &Dataset{}
	train := &Dataset{}
	for i, idx := range perm {
		if i < testSize {
			test.Features = append(test.Features, d.Features[idx])
			test.Labels = append(test.Labels, d.Labels[idx])
		} else {
			train.Features = append(train.Features, d.Features[idx])
			train.Labels = append(train.Labels, d.Labels[idx])
		}
	}
	return train, test
}

// Partition splits the dataset into n disjoint shards. Example i goes to
// shard i mod n, so shards differ in size by at most one example.
func (d *Dataset) Partition(n int) []*Dataset {
	shards := make([]*Dataset, n)
	for i := range shards {
		shards[i] = &Dataset{}
	}
	for i := range d.Features {
		shard := shards[i%n]
		shard.Features = append(shard.Features, d.Features[i])
		shard.Labels = append(shard.Labels, d.Labels[i])
	}
	return shards
}

// BatchCursor yields the epoch's batches lazily, in a deterministic
// shuffled order. Once exhausted it stays exhausted.
type BatchCursor struct {
	dataset   *Dataset
	order     []int
	batchSize int
	pos       int
}

// Batches opens an epoch-scoped cursor over the dataset. The shuffle is
// derived from seed and epoch so re-runs reproduce the same batch order.
func (d *Dataset) Batches(batchSize int, seed int64, epoch int) *BatchCursor {
	rng := rand.New(rand.NewSource(seed + int64(epoch)))
	return &BatchCursor{
		dataset:   d,
		order:     rng.Perm(d.Size()),
		batchSize: batchSize,
	}
}

// Next returns the next batch or ErrStreamExhausted.
func (c *BatchCursor) Next() (*models.Batch, error) {
	if c.pos >= len(c.order) {
		return nil, ErrStreamExhausted
	}
	end := c.pos + c.batchSize
	if end > len(c.order) {
		end = len(c.order)
	}
	batch := &models.Batch{
		Inputs: make([][]float64, 0, end-c.pos),
		Labels: make([]float64, 0, end-c.pos),
	}
	for _, idx := range c.order[c.pos:end] {
		batch.Inputs = append(batch.Inputs, c.dataset.Features[idx])
		batch.Labels = append(batch.Labels, c.dataset.Labels[idx])
	}
	c.pos = end
	return batch, nil
}

// Remaining reports how many examples the epoch still holds.
func (c *BatchCursor) Remaining() int {
	return len(c.order) - c.pos
}
