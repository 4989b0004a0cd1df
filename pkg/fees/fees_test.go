package fees

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEstimatorFlatOnchainInputFee(t *testing.T) {
	e, err := NewEstimator(Config{IntentOnchainInputProgram: "500.0"})
	require.NoError(t, err)

	fee, err := e.EvalOnchainInput(OnchainInput{Amount: 100000})
	require.NoError(t, err)
	require.Equal(t, Amount(500.0), fee)
}

func TestEstimatorPercentageOffchainOutputFee(t *testing.T) {
	e, err := NewEstimator(Config{IntentOffchainOutputProgram: "amount * 0.01"})
	require.NoError(t, err)

	fee, err := e.EvalOffchainOutput(Output{Amount: 10000})
	require.NoError(t, err)
	require.Equal(t, Amount(100.0), fee)
}

func TestEstimatorUnconfiguredProgramIsZero(t *testing.T) {
	e, err := NewEstimator(Config{})
	require.NoError(t, err)

	fee, err := e.EvalOffchainInput(OffchainInput{Amount: 1000, InputType: VtxoTypeVtxo, Weight: 1.0})
	require.NoError(t, err)
	require.Equal(t, Amount(0), fee)
}

func TestEstimatorRejectsNonDoubleProgram(t *testing.T) {
	_, err := NewEstimator(Config{IntentOnchainInputProgram: `"not a number"`})
	require.Error(t, err)
}

func TestEstimatorRejectsMalformedProgram(t *testing.T) {
	_, err := NewEstimator(Config{IntentOnchainInputProgram: "amount +"})
	require.Error(t, err)
}

func TestEstimatorUsesVtxoTypeAndWeight(t *testing.T) {
	e, err := NewEstimator(Config{
		IntentOffchainInputProgram: `inputType == "recoverable" ? amount * weight * 0.02 : amount * weight * 0.01`,
	})
	require.NoError(t, err)

	vtxoFee, err := e.EvalOffchainInput(OffchainInput{Amount: 10000, InputType: VtxoTypeVtxo, Weight: 1.0})
	require.NoError(t, err)
	require.Equal(t, Amount(100.0), vtxoFee)

	recoverableFee, err := e.EvalOffchainInput(OffchainInput{Amount: 10000, InputType: VtxoTypeRecoverable, Weight: 1.0})
	require.NoError(t, err)
	require.Equal(t, Amount(200.0), recoverableFee)
}

func TestEstimatorEvalSumsAllCategories(t *testing.T) {
	e, err := NewEstimator(Config{
		IntentOffchainInputProgram:  "10.0",
		IntentOnchainInputProgram:   "20.0",
		IntentOffchainOutputProgram: "5.0",
		IntentOnchainOutputProgram:  "15.0",
	})
	require.NoError(t, err)

	total, err := e.Eval(
		[]OffchainInput{{Amount: 1000}, {Amount: 2000}},
		[]OnchainInput{{Amount: 3000}},
		[]Output{{Amount: 500}},
		[]Output{{Amount: 500}, {Amount: 500}},
	)
	require.NoError(t, err)
	require.Equal(t, Amount(10+10+20+5+15+15), total)
}

func TestAmountSatoshisRoundsUpAndClampsNegative(t *testing.T) {
	require.Equal(t, uint64(5), Amount(4.1).Satoshis())
	require.Equal(t, uint64(4), Amount(4.0).Satoshis())
	require.Equal(t, uint64(0), Amount(-3.5).Satoshis())
}
