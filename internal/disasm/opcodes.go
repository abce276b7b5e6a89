package disasm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownOpcode is returned for a mnemonic that is not a Dalvik opcode.
var ErrUnknownOpcode = errors.New("unknown opcode")

// Family groups opcodes that share taint-propagation behaviour.
type Family int

const (
	FamNop Family = iota
	FamMove
	FamMoveResult
	FamMoveException
	FamReturnVoid
	FamReturn
	FamConst
	FamConstString
	FamConstClass
	FamConstMethod
	FamMonitor
	FamCheckCast
	FamInstanceOf
	FamArrayLength
	FamNewInstance
	FamNewArray
	FamFilledNewArray
	FamFillArrayData
	FamThrow
	FamGoto
	FamSwitch
	FamCmp
	FamIf
	FamIfZ
	FamAGet
	FamAPut
	FamIGet
	FamIPut
	FamSGet
	FamSPut
	FamInvoke
	FamInvokeCustom
	FamUnOp
	FamBinOp
	FamBinOp2Addr
	FamBinOpLit
)

// Opcode describes one mnemonic.
type Opcode struct {
	Name   string
	Family Family
	Units  int  // size in 16-bit code units
	Wide   bool // operates on register pairs
	Object bool // operates on references
	Range  bool // register range form
}

var opcodes = map[string]Opcode{}

func add(fam Family, units int, names ...string) {
	for _, n := range names {
		opcodes[n] = Opcode{
			Name:   n,
			Family: fam,
			Units:  units,
			Wide:   strings.Contains(n, "-wide") || strings.HasSuffix(n, "-long") || strings.HasSuffix(n, "-double") || strings.Contains(n, "-long/") || strings.Contains(n, "-double/"),
			Object: strings.Contains(n, "-object"),
			Range:  strings.HasSuffix(n, "/range"),
		}
	}
}

func init() {
	add(FamNop, 1, "nop")
	add(FamMove, 1, "move", "move-wide", "move-object")
	add(FamMove, 2, "move/from16", "move-wide/from16", "move-object/from16")
	add(FamMove, 3, "move/16", "move-wide/16", "move-object/16")
	add(FamMoveResult, 1, "move-result", "move-result-wide", "move-result-object")
	add(FamMoveException, 1, "move-exception")
	add(FamReturnVoid, 1, "return-void")
	add(FamReturn, 1, "return", "return-wide", "return-object")
	add(FamConst, 1, "const/4")
	add(FamConst, 2, "const/16", "const/high16", "const-wide/16", "const-wide/high16")
	add(FamConst, 3, "const", "const-wide/32")
	add(FamConst, 5, "const-wide")
	add(FamConstString, 2, "const-string")
	add(FamConstString, 3, "const-string/jumbo")
	add(FamConstClass, 2, "const-class")
	add(FamConstMethod, 2, "const-method-handle", "const-method-type")
	add(FamMonitor, 1, "monitor-enter", "monitor-exit")
	add(FamCheckCast, 2, "check-cast")
	add(FamInstanceOf, 2, "instance-of")
	add(FamArrayLength, 1, "array-length")
	add(FamNewInstance, 2, "new-instance")
	add(FamNewArray, 2, "new-array")
	add(FamFilledNewArray, 3, "filled-new-array", "filled-new-array/range")
	add(FamFillArrayData, 3, "fill-array-data")
	add(FamThrow, 1, "throw")
	add(FamGoto, 1, "goto")
	add(FamGoto, 2, "goto/16")
	add(FamGoto, 3, "goto/32")
	add(FamSwitch, 3, "packed-switch", "sparse-switch")
	add(FamCmp, 2, "cmpl-float", "cmpg-float", "cmpl-double", "cmpg-double", "cmp-long")
	add(FamIf, 2, "if-eq", "if-ne", "if-lt", "if-ge", "if-gt", "if-le")
	add(FamIfZ, 2, "if-eqz", "if-nez", "if-ltz", "if-gez", "if-gtz", "if-lez")

	for _, sfx := range []string{"", "-wide", "-object", "-boolean", "-byte", "-char", "-short"} {
		add(FamAGet, 2, "aget"+sfx)
		add(FamAPut, 2, "aput"+sfx)
		add(FamIGet, 2, "iget"+sfx)
		add(FamIPut, 2, "iput"+sfx)
		add(FamSGet, 2, "sget"+sfx)
		add(FamSPut, 2, "sput"+sfx)
	}

	for _, k := range []string{"virtual", "super", "direct", "static", "interface"} {
		add(FamInvoke, 3, "invoke-"+k, "invoke-"+k+"/range")
	}
	add(FamInvokeCustom, 4, "invoke-polymorphic", "invoke-polymorphic/range")
	add(FamInvokeCustom, 3, "invoke-custom", "invoke-custom/range")

	add(FamUnOp, 1,
		"neg-int", "not-int", "neg-long", "not-long", "neg-float", "neg-double",
		"int-to-long", "int-to-float", "int-to-double", "long-to-int", "long-to-float",
		"long-to-double", "float-to-int", "float-to-long", "float-to-double",
		"double-to-int", "double-to-long", "double-to-float", "int-to-byte",
		"int-to-char", "int-to-short")

	for _, t := range []string{"int", "long"} {
		for _, o := range []string{"add", "sub", "mul", "div", "rem", "and", "or", "xor", "shl", "shr", "ushr"} {
			add(FamBinOp, 2, o+"-"+t)
			add(FamBinOp2Addr, 1, o+"-"+t+"/2addr")
		}
	}
	for _, t := range []string{"float", "double"} {
		for _, o := range []string{"add", "sub", "mul", "div", "rem"} {
			add(FamBinOp, 2, o+"-"+t)
			add(FamBinOp2Addr, 1, o+"-"+t+"/2addr")
		}
	}
	add(FamBinOpLit, 2, "add-int/lit16", "rsub-int", "mul-int/lit16", "div-int/lit16",
		"rem-int/lit16", "and-int/lit16", "or-int/lit16", "xor-int/lit16")
	add(FamBinOpLit, 2, "add-int/lit8", "rsub-int/lit8", "mul-int/lit8", "div-int/lit8",
		"rem-int/lit8", "and-int/lit8", "or-int/lit8", "xor-int/lit8", "shl-int/lit8",
		"shr-int/lit8", "ushr-int/lit8")
}

// Lookup returns the opcode for a mnemonic.
func Lookup(op string) (Opcode, bool) {
	o, ok := opcodes[op]
	return o, ok
}

// MustLookup returns the opcode or an ErrUnknownOpcode error naming the line.
func MustLookup(inst Inst) (Opcode, error) {
	o, ok := opcodes[inst.Op]
	if !ok {
		return Opcode{}, fmt.Errorf("%w %q at line %d", ErrUnknownOpcode, inst.Op, inst.Line)
	}
	return o, nil
}

// PayloadUnits returns the size of a switch or array-data payload given its
// opening directive and the number of entry lines it holds.
func PayloadUnits(directive string, entries int) int {
	f := strings.Fields(strings.TrimSpace(directive))
	if len(f) == 0 {
		return 0
	}
	switch f[0] {
	case ".packed-switch":
		return 4 + 2*entries
	case ".sparse-switch":
		return 2 + 4*entries
	case ".array-data":
		width := 1
		if len(f) > 1 {
			if w, err := strconv.Atoi(f[1]); err == nil && w > 0 {
				width = w
			}
		}
		return 4 + (width*entries+1)/2
	}
	return 0
}

// IsPayloadStart reports whether a directive opens a literal payload block.
func IsPayloadStart(name string) bool {
	return name == "packed-switch" || name == "sparse-switch" || name == "array-data"
}
