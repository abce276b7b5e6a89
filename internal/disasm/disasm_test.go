package disasm

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		line string
		want Kind
	}{
		{"", Blank},
		{"   ", Blank},
		{"    # comment", Comment},
		{".method public foo()V", Directive},
		{"    .locals 2", Directive},
		{"    :cond_0", Label},
		{"    const/4 v0, 0x1", Instruction},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.line), tt.line)
	}
}

func TestDirectiveName(t *testing.T) {
	assert.Equal(t, "end method", DirectiveName(".end method"))
	assert.Equal(t, "locals", DirectiveName("    .locals 3"))
	assert.Equal(t, "end local", DirectiveName("    .end local v0    # \"x\""))
	assert.Equal(t, "prologue", DirectiveName(".prologue"))
	assert.Equal(t, "", DirectiveName("const v0, 0x1"))
}

func TestParseInst(t *testing.T) {
	tests := []struct {
		name string
		text string
		op   string
		args []string
	}{
		{"no operands", "    return-void", "return-void", nil},
		{"two regs", "    move-object v0, p1", "move-object", []string{"v0", "p1"}},
		{
			"invoke list",
			"    invoke-virtual {p0, v1}, Landroid/os/Bundle;->putString(Ljava/lang/String;Ljava/lang/String;)V",
			"invoke-virtual",
			[]string{"{p0, v1}", "Landroid/os/Bundle;->putString(Ljava/lang/String;Ljava/lang/String;)V"},
		},
		{
			"range",
			"    invoke-static/range {v0 .. v5}, La;->b(IIIIII)V",
			"invoke-static/range",
			[]string{"{v0 .. v5}", "La;->b(IIIIII)V"},
		},
		{
			"string with comma and hash",
			`    const-string v2, "a, b # c"    # trailing`,
			"const-string",
			[]string{"v2", `"a, b # c"`},
		},
		{"escaped quote", `    const-string v0, "say \"hi\", ok"`, "const-string", []string{"v0", `"say \"hi\", ok"`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := ParseInst(7, tt.text)
			require.NoError(t, err)
			assert.Equal(t, 7, inst.Line)
			assert.Equal(t, tt.op, inst.Op)
			assert.Equal(t, tt.args, inst.Args)
		})
	}

	_, err := ParseInst(1, `    const-string v0, "open`)
	assert.Error(t, err)
	_, err = ParseInst(2, "   # only a comment")
	assert.Error(t, err)
}

func TestRegisters(t *testing.T) {
	inst, err := ParseInst(1, "    invoke-static/range {v3 .. v6}, La;->b(IIII)V")
	require.NoError(t, err)
	regs, err := Registers(inst)
	require.NoError(t, err)
	assert.Equal(t, []string{"v3", "v4", "v5", "v6"}, regs)

	inst, err = ParseInst(2, "    iget-object v0, p0, La;->f:Ljava/lang/String;")
	require.NoError(t, err)
	regs, err = Registers(inst)
	require.NoError(t, err)
	assert.Equal(t, []string{"v0", "p0"}, regs)

	_, err = ExpandList("{v4 .. v2}")
	assert.Error(t, err)
	_, err = ExpandList("{v1, x}")
	assert.Error(t, err)
	empty, err := ExpandList("{}")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRenameRegisters(t *testing.T) {
	shift := func(r string) string {
		p, n, _ := ParseRegister(r)
		if p == 'p' {
			return Reg(n + 10)
		}
		return r
	}
	inst, err := ParseInst(1, "    invoke-virtual {p0, v1, p2}, La;->b(II)V")
	require.NoError(t, err)
	got := RenameRegisters(inst, shift)
	assert.Equal(t, "    invoke-virtual {v10, v1, v12}, La;->b(II)V", got.String())

	inst, err = ParseInst(2, "    invoke-virtual/range {p0 .. p3}, La;->c(III)V")
	require.NoError(t, err)
	assert.Equal(t, "    invoke-virtual/range {v10 .. v13}, La;->c(III)V", RenameRegisters(inst, shift).String())

	// field references that merely look like registers are untouched
	inst, err = ParseInst(3, "    iget v0, p0, La;->p0:I")
	require.NoError(t, err)
	assert.Equal(t, "    iget v0, v10, La;->p0:I", RenameRegisters(inst, shift).String())
}

func TestParseRegister(t *testing.T) {
	p, n, ok := ParseRegister("v255")
	require.True(t, ok)
	assert.Equal(t, byte('v'), p)
	assert.Equal(t, 255, n)

	for _, bad := range []string{"v", "x1", "v-1", "vx", "{v1}"} {
		_, _, ok := ParseRegister(bad)
		assert.False(t, ok, bad)
	}
}

func TestLookup(t *testing.T) {
	tests := []struct {
		op    string
		fam   Family
		units int
	}{
		{"nop", FamNop, 1},
		{"move/16", FamMove, 3},
		{"move-object/from16", FamMove, 2},
		{"const-wide", FamConst, 5},
		{"const-string/jumbo", FamConstString, 3},
		{"invoke-virtual/range", FamInvoke, 3},
		{"invoke-polymorphic", FamInvokeCustom, 4},
		{"aget-object", FamAGet, 2},
		{"sput-wide", FamSPut, 2},
		{"add-int/2addr", FamBinOp2Addr, 1},
		{"rsub-int", FamBinOpLit, 2},
		{"rem-double", FamBinOp, 2},
		{"int-to-char", FamUnOp, 1},
		{"cmp-long", FamCmp, 2},
		{"packed-switch", FamSwitch, 3},
		{"goto/32", FamGoto, 3},
	}
	for _, tt := range tests {
		o, ok := Lookup(tt.op)
		require.True(t, ok, tt.op)
		assert.Equal(t, tt.fam, o.Family, tt.op)
		assert.Equal(t, tt.units, o.Units, tt.op)
	}

	o, _ := Lookup("invoke-static/range")
	assert.True(t, o.Range)
	o, _ = Lookup("move-result-wide")
	assert.True(t, o.Wide)
	o, _ = Lookup("iget-object")
	assert.True(t, o.Object)

	_, err := MustLookup(Inst{Line: 9, Op: "frobnicate"})
	assert.True(t, errors.Is(err, ErrUnknownOpcode))
	assert.True(t, strings.Contains(err.Error(), "line 9"))
}

func TestPayloadUnits(t *testing.T) {
	assert.Equal(t, 4+2*3, PayloadUnits(".packed-switch 0x1", 3))
	assert.Equal(t, 2+4*2, PayloadUnits(".sparse-switch", 2))
	assert.Equal(t, 4+(4*3+1)/2, PayloadUnits(".array-data 4", 3))
	assert.Equal(t, 4+(1*5+1)/2, PayloadUnits(".array-data 1", 5))
	assert.Equal(t, 0, PayloadUnits(".locals 3", 1))
	assert.True(t, IsPayloadStart("array-data"))
	assert.False(t, IsPayloadStart("annotation"))
}
