package updateprocessor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/geowork/internal/interfaces"
	"github.com/ternarybob/geowork/internal/models"
)

// aggregator implements the batching rules of spec §4.4: inputs destined for
// a step with hasAggregatedOutput are grouped into batches by item-count and
// byte-size limits, in sorted arrival order, and a batch is sealed (emitting
// one READY item) when a limit is hit or the upstream step fully completes.
type aggregator struct {
	batches interfaces.AggregationBatchStorage
}

func newAggregator(batches interfaces.AggregationBatchStorage) *aggregator {
	return &aggregator{batches: batches}
}

// syntheticCatalog builds the pointer to the batch's constructed STAC
// catalog, listing its inputs. The core treats STAC catalogs as opaque URIs
// (spec GLOSSARY); here the "catalog" is a deterministic JSON document
// embedding the input list, which a real deployment would instead write to
// the object store and reference by URI.
func syntheticCatalog(inputs []string) string {
	body, _ := json.Marshal(inputs)
	return fmt.Sprintf("batch-catalog:%s", string(body))
}

// addInput appends input to the step's open batch and seals it once either
// limit is reached (item count == batchSize, or total bytes >= the byte cap),
// returning the sealed batch's catalog pointer
// (empty string if nothing sealed).
func (a *aggregator) addInput(ctx context.Context, step models.WorkflowStep, input string, sizeBytes int64) (sealedCatalog string, err error) {
	b, err := a.batches.AppendInput(ctx, step.JobID, step.StepIndex, input, sizeBytes)
	if err != nil {
		return "", err
	}

	overCount := step.BatchSize > 0 && b.ItemCount >= step.BatchSize
	overBytes := b.TotalBytes >= step.EffectiveMaxBatchSizeBytes()
	if !overCount && !overBytes {
		return "", nil
	}

	sealed, err := a.batches.SealBatch(ctx, step.JobID, step.StepIndex)
	if err != nil {
		return "", err
	}
	if sealed == nil {
		return "", nil
	}
	return syntheticCatalog(sealed.Inputs), nil
}

// sealTrailing seals a step's trailing partial batch, if any, used once the
// upstream step has fully completed (spec §4.4 rule b).
func (a *aggregator) sealTrailing(ctx context.Context, step models.WorkflowStep) (string, error) {
	sealed, err := a.batches.SealBatch(ctx, step.JobID, step.StepIndex)
	if err != nil {
		return "", err
	}
	if sealed == nil {
		return "", nil
	}
	return syntheticCatalog(sealed.Inputs), nil
}
