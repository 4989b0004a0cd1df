// Package fees evaluates operator-supplied CEL expressions to price the
// inputs and outputs of an intent, grounded on
// original_source/ark-fees/src/lib.rs.
package fees

import (
	"time"

	"github.com/arkwire/ark-client-core/pkg/arkerror"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// Amount is a fee in satoshis, carried as a float until the final
// ceiling-round so partial-satoshi program outputs can be summed without
// losing precision.
type Amount float64

// Satoshis rounds up to a whole number of satoshis, clamping negative
// totals to zero: a misconfigured program should never produce a refund.
func (a Amount) Satoshis() uint64 {
	v := float64(a)
	if v < 0 {
		v = 0
	}
	return uint64(ceil(v))
}

func ceil(f float64) float64 {
	i := float64(int64(f))
	if f > i {
		return i + 1
	}
	return i
}

// VtxoType distinguishes the three kinds of offchain input an intent can
// spend, each potentially priced differently.
type VtxoType int

const (
	VtxoTypeVtxo VtxoType = iota
	VtxoTypeRecoverable
	VtxoTypeNote
)

func (t VtxoType) String() string {
	switch t {
	case VtxoTypeRecoverable:
		return "recoverable"
	case VtxoTypeNote:
		return "note"
	default:
		return "vtxo"
	}
}

// OffchainInput is one VTXO being spent, priced by weight, age and type.
type OffchainInput struct {
	Amount    uint64
	Expiry    *int64
	Birth     *int64
	InputType VtxoType
	Weight    float64
}

// OnchainInput is one boarding UTXO being spent.
type OnchainInput struct {
	Amount uint64
}

// Output is one planned output, offchain or onchain.
type Output struct {
	Amount uint64
	Script string // hex-encoded pkscript
}

// Config holds the four CEL program sources. An empty program source
// means that category of fee is always zero.
type Config struct {
	IntentOffchainInputProgram  string
	IntentOnchainInputProgram   string
	IntentOffchainOutputProgram string
	IntentOnchainOutputProgram  string
}

type programKind int

const (
	kindOffchainInput programKind = iota
	kindOnchainInput
	kindOutput
)

// Estimator evaluates the four compiled CEL programs against concrete
// inputs and outputs.
type Estimator struct {
	offchainInput  cel.Program
	onchainInput   cel.Program
	offchainOutput cel.Program
	onchainOutput  cel.Program
}

var nowOverload = cel.Function("now",
	cel.Overload("now_double", nil, cel.DoubleType,
		cel.FunctionBinding(func(args ...ref.Val) ref.Val {
			return types.Double(float64(time.Now().Unix()))
		}),
	),
)

func envFor(kind programKind) (*cel.Env, error) {
	var opts []cel.EnvOption
	switch kind {
	case kindOffchainInput:
		opts = []cel.EnvOption{
			cel.Variable("amount", cel.DoubleType),
			cel.Variable("inputType", cel.StringType),
			cel.Variable("weight", cel.DoubleType),
			cel.Variable("expiry", cel.DoubleType),
			cel.Variable("birth", cel.DoubleType),
		}
	case kindOnchainInput:
		opts = []cel.EnvOption{
			cel.Variable("amount", cel.DoubleType),
		}
	case kindOutput:
		opts = []cel.EnvOption{
			cel.Variable("amount", cel.DoubleType),
			cel.Variable("script", cel.StringType),
		}
	}
	opts = append(opts, nowOverload)
	return cel.NewEnv(opts...)
}

// compileProgram compiles source and validates, via a dry run with dummy
// values, that it returns a double: any other return type is a
// configuration error caught at startup rather than mid-batch.
func compileProgram(source string, kind programKind) (cel.Program, error) {
	env, err := envFor(kind)
	if err != nil {
		return nil, arkerror.Context("failed to build cel environment", err)
	}

	ast, iss := env.Compile(source)
	if iss != nil && iss.Err() != nil {
		return nil, arkerror.Context("failed to compile fee program", iss.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, arkerror.Context("failed to build fee program", err)
	}

	out, _, err := prg.Eval(validationVars(kind))
	if err != nil {
		return nil, arkerror.Context("failed to dry-run fee program", err)
	}
	if _, ok := out.Value().(float64); !ok {
		return nil, arkerror.AdHocf("fee program must return a double, got %s", out.Type().TypeName())
	}

	return prg, nil
}

func validationVars(kind programKind) map[string]interface{} {
	switch kind {
	case kindOffchainInput:
		return map[string]interface{}{
			"amount": 0.0, "inputType": "vtxo", "weight": 0.0, "expiry": 0.0, "birth": 0.0,
		}
	case kindOnchainInput:
		return map[string]interface{}{"amount": 0.0}
	default:
		return map[string]interface{}{"amount": 0.0, "script": ""}
	}
}

// NewEstimator compiles every non-empty program in cfg.
func NewEstimator(cfg Config) (*Estimator, error) {
	e := &Estimator{}
	var err error

	if cfg.IntentOffchainInputProgram != "" {
		if e.offchainInput, err = compileProgram(cfg.IntentOffchainInputProgram, kindOffchainInput); err != nil {
			return nil, err
		}
	}
	if cfg.IntentOnchainInputProgram != "" {
		if e.onchainInput, err = compileProgram(cfg.IntentOnchainInputProgram, kindOnchainInput); err != nil {
			return nil, err
		}
	}
	if cfg.IntentOffchainOutputProgram != "" {
		if e.offchainOutput, err = compileProgram(cfg.IntentOffchainOutputProgram, kindOutput); err != nil {
			return nil, err
		}
	}
	if cfg.IntentOnchainOutputProgram != "" {
		if e.onchainOutput, err = compileProgram(cfg.IntentOnchainOutputProgram, kindOutput); err != nil {
			return nil, err
		}
	}

	return e, nil
}

func evalProgram(prg cel.Program, vars map[string]interface{}) (Amount, error) {
	if prg == nil {
		return 0, nil
	}
	out, _, err := prg.Eval(vars)
	if err != nil {
		return 0, arkerror.Context("failed to evaluate fee program", err)
	}
	switch v := out.Value().(type) {
	case float64:
		return Amount(v), nil
	case int64:
		return Amount(v), nil
	case uint64:
		return Amount(v), nil
	default:
		return 0, arkerror.AdHocf("fee program must return a numeric type, got %s", out.Type().TypeName())
	}
}

// EvalOffchainInput prices one VTXO input.
func (e *Estimator) EvalOffchainInput(in OffchainInput) (Amount, error) {
	vars := map[string]interface{}{
		"amount":    float64(in.Amount),
		"inputType": in.InputType.String(),
		"weight":    in.Weight,
		"expiry":    0.0,
		"birth":     0.0,
	}
	if in.Expiry != nil {
		vars["expiry"] = float64(*in.Expiry)
	}
	if in.Birth != nil {
		vars["birth"] = float64(*in.Birth)
	}
	return evalProgram(e.offchainInput, vars)
}

// EvalOnchainInput prices one boarding input.
func (e *Estimator) EvalOnchainInput(in OnchainInput) (Amount, error) {
	return evalProgram(e.onchainInput, map[string]interface{}{"amount": float64(in.Amount)})
}

// EvalOffchainOutput prices one offchain (VTXO) output.
func (e *Estimator) EvalOffchainOutput(out Output) (Amount, error) {
	return evalProgram(e.offchainOutput, map[string]interface{}{"amount": float64(out.Amount), "script": out.Script})
}

// EvalOnchainOutput prices one onchain (collaborative exit) output.
func (e *Estimator) EvalOnchainOutput(out Output) (Amount, error) {
	return evalProgram(e.onchainOutput, map[string]interface{}{"amount": float64(out.Amount), "script": out.Script})
}

// Eval sums the fee across every input and output of an intent.
func (e *Estimator) Eval(offchainInputs []OffchainInput, onchainInputs []OnchainInput, offchainOutputs, onchainOutputs []Output) (Amount, error) {
	var total Amount

	for _, in := range offchainInputs {
		fee, err := e.EvalOffchainInput(in)
		if err != nil {
			return 0, err
		}
		total += fee
	}
	for _, in := range onchainInputs {
		fee, err := e.EvalOnchainInput(in)
		if err != nil {
			return 0, err
		}
		total += fee
	}
	for _, out := range offchainOutputs {
		fee, err := e.EvalOffchainOutput(out)
		if err != nil {
			return 0, err
		}
		total += fee
	}
	for _, out := range onchainOutputs {
		fee, err := e.EvalOnchainOutput(out)
		if err != nil {
			return 0, err
		}
		total += fee
	}

	return total, nil
}
