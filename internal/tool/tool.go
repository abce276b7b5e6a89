// Package tool maps the abstract operations of the taint rewriter onto the
// concrete mnemonics and runtime call targets of one instrumentation backend.
//
// The rewriter never spells an instruction itself; swapping the Kind changes
// the emitted text and nothing else.
package tool

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported is returned when a backend does not implement an operation.
var ErrUnsupported = errors.New("operation not supported by tool strategy")

// Op is an abstract rewriter operation.
type Op int

const (
	OpMoveTaint Op = iota
	OpMoveTaintWide
	OpMoveResultTaint
	OpUnionTaint
	OpConst
	OpConstString
	OpMoveObject
	OpMoveWide
	OpInvokeStatic
	OpRangeSuffix

	OpInvokeVirtual
	OpInvokeDirect
	OpInvokeInterface
	OpMoveResult
	OpMoveResultWide
	OpMoveResultObject
	OpReturn
	OpReturnWide
	OpReturnObject
	OpReturnVoid

	OpGetParamTaint
	OpSetParamTaint
	OpGetReturnTaint
	OpSetReturnTaint
	OpGetExceptionTaint
	OpSetExceptionTaint

	OpFieldTaintGet
	OpFieldTaintPut
	OpStaticFieldTaintGet
	OpStaticFieldTaintPut
	OpSetFieldTaint

	OpSourceLabel
	OpCheckSink

	OpGetIntentTaint
	OpAddIntentTaint
	OpAddIntentTaintObject
	OpGetBundleTaint
	OpAddBundleTaint
	OpAddBundleTaintObject
	OpGetParcelTaint
	OpAddParcelTaint
	OpUnionContainerTaint
	OpGetOrderedIntentTaint
	OpSetOrderedIntentTaint
	OpGetStartIntentTaint

	OpGetArrayTaint
	OpAddArrayTaint

	OpCoverageHit

	opCount
)

var opNames = [opCount]string{
	OpMoveTaint:             "move-taint",
	OpMoveTaintWide:         "move-taint/16",
	OpMoveResultTaint:       "move-result-taint",
	OpUnionTaint:            "union-taint",
	OpConst:                 "const",
	OpConstString:           "const-string",
	OpMoveObject:            "move-object",
	OpMoveWide:              "move-wide",
	OpInvokeStatic:          "invoke-static",
	OpRangeSuffix:           "range-suffix",
	OpInvokeVirtual:         "invoke-virtual",
	OpInvokeDirect:          "invoke-direct",
	OpInvokeInterface:       "invoke-interface",
	OpMoveResult:            "move-result",
	OpMoveResultWide:        "move-result-wide",
	OpMoveResultObject:      "move-result-object",
	OpReturn:                "return",
	OpReturnWide:            "return-wide",
	OpReturnObject:          "return-object",
	OpReturnVoid:            "return-void",
	OpGetParamTaint:         "get-param-taint",
	OpSetParamTaint:         "set-param-taint",
	OpGetReturnTaint:        "get-return-taint",
	OpSetReturnTaint:        "set-return-taint",
	OpGetExceptionTaint:     "get-exception-taint",
	OpSetExceptionTaint:     "set-exception-taint",
	OpFieldTaintGet:         "field-taint-get",
	OpFieldTaintPut:         "field-taint-put",
	OpStaticFieldTaintGet:   "static-field-taint-get",
	OpStaticFieldTaintPut:   "static-field-taint-put",
	OpSetFieldTaint:         "set-field-taint",
	OpSourceLabel:           "source-label",
	OpCheckSink:             "check-sink",
	OpGetIntentTaint:        "get-intent-taint",
	OpAddIntentTaint:        "add-intent-taint",
	OpAddIntentTaintObject:  "add-intent-taint-object",
	OpGetBundleTaint:        "get-bundle-taint",
	OpAddBundleTaint:        "add-bundle-taint",
	OpAddBundleTaintObject:  "add-bundle-taint-object",
	OpGetParcelTaint:        "get-parcel-taint",
	OpAddParcelTaint:        "add-parcel-taint",
	OpUnionContainerTaint:   "union-container-taint",
	OpGetOrderedIntentTaint: "get-ordered-intent-taint",
	OpSetOrderedIntentTaint: "set-ordered-intent-taint",
	OpGetStartIntentTaint:   "get-start-intent-taint",
	OpGetArrayTaint:         "get-array-taint",
	OpAddArrayTaint:         "add-array-taint",
	OpCoverageHit:           "coverage-hit",
}

func (op Op) String() string {
	if op < 0 || op >= opCount {
		return fmt.Sprintf("Op(%d)", int(op))
	}
	return opNames[op]
}

// Ops returns every defined operation.
func Ops() []Op {
	ops := make([]Op, opCount)
	for i := range ops {
		ops[i] = Op(i)
	}
	return ops
}

// Kind selects one of the closed set of backends.
type Kind int

const (
	// Full emits complete taint tracking against the taint runtime.
	Full Kind = iota
	// Compat targets the older runtime without object-threading setters.
	Compat
	// NoOp emits nothing; every method passes through unchanged.
	NoOp
	// Coverage only emits method-entry hits.
	Coverage
)

var kindNames = map[Kind]string{
	Full:     "full",
	Compat:   "compat",
	NoOp:     "noop",
	Coverage: "coverage",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind parses a strategy name as used in configuration.
func ParseKind(s string) (Kind, error) {
	for k, n := range kindNames {
		if strings.EqualFold(n, s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown tool strategy %q", s)
}

// Strategy is the active backend. The zero value is the Full strategy.
type Strategy struct {
	kind Kind
}

// New returns the strategy for kind.
func New(kind Kind) Strategy {
	return Strategy{kind: kind}
}

// Kind returns the backend kind.
func (s Strategy) Kind() Kind { return s.kind }

// Tracks reports whether the backend emits taint shadows.
func (s Strategy) Tracks() bool {
	return s.kind == Full || s.kind == Compat
}

// Covers reports whether the backend emits coverage hits.
func (s Strategy) Covers() bool {
	return s.kind == Coverage
}

// Name returns the mnemonic or call target for op. An empty name with a nil
// error means the backend has nothing to emit for op.
func (s Strategy) Name(op Op) (string, error) {
	if op < 0 || op >= opCount {
		return "", fmt.Errorf("%w: %v", ErrUnsupported, op)
	}
	switch s.kind {
	case Full:
		return fullTable[op], nil
	case Compat:
		if n, ok := compatOverrides[op]; ok {
			if n == "" {
				return "", fmt.Errorf("%w: %v in %v", ErrUnsupported, op, s.kind)
			}
			return n, nil
		}
		return strings.ReplaceAll(fullTable[op], fullRuntime, compatRuntime), nil
	case NoOp:
		return "", nil
	case Coverage:
		return coverageTable[op], nil
	default:
		return "", fmt.Errorf("%w: unknown kind %v", ErrUnsupported, s.kind)
	}
}

// MustName is Name for operations every tracking backend implements.
func (s Strategy) MustName(op Op) string {
	n, err := s.Name(op)
	if err != nil {
		panic(err)
	}
	return n
}
