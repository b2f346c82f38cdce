package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditlens/auditlens/internal/model"
	"github.com/auditlens/auditlens/internal/pipeline"
	"github.com/auditlens/auditlens/internal/temporal"
)

func TestPrintValidationOutput(t *testing.T) {
	var buf bytes.Buffer
	res := &temporal.Result{
		TopK:              12,
		PrecisionTrain:    0.5,
		PrecisionValid:    0.4,
		Regression:        true,
		ObservedLift:      6.1,
		NullMean:          1.0,
		NullStd:           0.3,
		ZScore:            4.2,
		EnsembleAgreement: 0.75,
		LiftByYear:        map[int]float64{2021: 5.5, 2019: 6.0},
		LiftRange:         0.5,
		Drift: []model.FeatureDrift{
			{Feature: "log_value", PSI: 0.25, Status: "retrain"},
			{Feature: "award_month", PSI: 0.02, Status: "stable"},
		},
	}

	require.NoError(t, printValidation(&buf, res))
	out := buf.String()

	assert.Contains(t, out, "Precision@12")
	assert.Contains(t, out, "(REGRESSION)")
	assert.Contains(t, out, "top-K sub-model overlap 0.75")
	assert.Contains(t, out, "1/2 features stable")
	assert.Contains(t, out, "log_value")
	assert.NotContains(t, out, "award_month")
	// Years print in ascending order.
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("2019")), bytes.Index(buf.Bytes(), []byte("2021")))
}

func TestPartitionScores(t *testing.T) {
	result := &pipeline.Result{
		Scores: []model.ScoreReport{
			{ContractID: "CO-1"}, {ContractID: "CO-2"}, {ContractID: "CO-3"},
		},
		TrainMatrix: &model.Matrix{IDs: []string{"CO-1"}},
		ValidMatrix: &model.Matrix{IDs: []string{"CO-2"}},
	}

	train, valid := partitionScores(result)
	require.Len(t, train, 1)
	require.Len(t, valid, 1)
	assert.Equal(t, "CO-1", train[0].ContractID)
	assert.Equal(t, "CO-2", valid[0].ContractID)
}
