package instrument

import (
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smalitaint/internal/analysis"
	"smalitaint/internal/disasm"
	"smalitaint/internal/hierarchy"
	"smalitaint/internal/oracle"
	"smalitaint/internal/tool"
)

const (
	deviceID = "Landroid/telephony/TelephonyManager;->getDeviceId()Ljava/lang/String;"
	write    = "Ljava/io/OutputStream;->write([B)V"
)

func smali(s string) []string { return strings.Split(strings.TrimSpace(s), "\n") }

func testOracle(t *testing.T, sources, sinks []string) *oracle.Oracle {
	t.Helper()
	o, err := oracle.New(sources, sinks)
	require.NoError(t, err)
	return o
}

// analyze runs the first pass over files and builds the plan.
func analyze(t *testing.T, o *oracle.Oracle, files map[string][]string) (*hierarchy.Index, *analysis.Plan, *analysis.Stats) {
	t.Helper()
	ix, err := hierarchy.Scan(files)
	require.NoError(t, err)
	stats := &analysis.Stats{}
	facts := analysis.NewFacts()
	e := NewEngine(Options{Oracle: o, Classes: ix, Facts: facts, Stats: stats})
	paths := lo.Keys(files)
	sort.Strings(paths)
	for _, p := range paths {
		require.NoError(t, e.AnalyzeFile(p, files[p]))
	}
	return ix, analysis.BuildPlan(facts, ix), stats
}

func inject(t *testing.T, o *oracle.Oracle, ts tool.Strategy, path string, files map[string][]string) ([]string, *analysis.Stats, error) {
	t.Helper()
	ix, p, stats := analyze(t, o, files)
	e := NewEngine(Options{Oracle: o, Tool: ts, Classes: ix, Plan: p, Stats: stats})
	out, err := e.InjectFile(path, files[path])
	return out, stats, err
}

func trimmed(lines []string) []string {
	return lo.Map(lines, func(l string, _ int) string { return strings.TrimSpace(l) })
}

func indexOf(t *testing.T, lines []string, want string) int {
	t.Helper()
	i := lo.IndexOf(trimmed(lines), want)
	require.GreaterOrEqual(t, i, 0, "missing line %q in\n%s", want, strings.Join(lines, "\n"))
	return i
}

var leakClass = smali(`
.class public Lcom/app/Leak;
.super Ljava/lang/Object;

.method public leak(Landroid/telephony/TelephonyManager;Ljava/io/OutputStream;)V
    .locals 2

    invoke-virtual {p1}, Landroid/telephony/TelephonyManager;->getDeviceId()Ljava/lang/String;

    move-result-object v0

    invoke-virtual {v0}, Ljava/lang/String;->getBytes()[B

    move-result-object v1

    invoke-virtual {p2, v1}, Ljava/io/OutputStream;->write([B)V

    return-void
.end method
`)

func TestSourceToSink(t *testing.T) {
	o := testOracle(t, []string{deviceID}, []string{write + ", 0"})
	files := map[string][]string{"Leak.smali": leakClass}

	out, stats, err := inject(t, o, tool.New(tool.Full), "Leak.smali", files)
	require.NoError(t, err)

	snap := stats.Snapshot()
	assert.Equal(t, int64(1), snap.SourceCalls)
	assert.Equal(t, int64(1), snap.SinkCalls)
	assert.Equal(t, int64(1), snap.TaintedMethods)
	assert.Equal(t, int64(1), snap.Augmented)
	assert.Equal(t, int64(1), snap.Bridges)

	// header and frame: 2 locals + 3 params, temp block of 4, shadows at v9..v13
	indexOf(t, out, ".method public leak(Landroid/telephony/TelephonyManager;Ljava/io/OutputStream;III)V")
	indexOf(t, out, ".locals 14")
	indexOf(t, out, "move-object/16 v3, v15")
	indexOf(t, out, "move/from16 v12, v18")

	mr := indexOf(t, out, "move-result-object v0")
	label := indexOf(t, out, "invoke-static {v6}, Lsmalitaint/runtime/Taint;->sourceLabel(I)I")
	assert.Equal(t, mr+2, label)
	assert.Equal(t, "move-result v9", strings.TrimSpace(out[label+1]))

	// getBytes passes the label on to v1
	indexOf(t, out, "move/from16 v10, v9")

	check := indexOf(t, out, "invoke-static {v5, v6}, Lsmalitaint/runtime/Taint;->checkSink(ILjava/lang/String;)V")
	assert.Greater(t, check, label)
	assert.Equal(t, "move/from16 v5, v10", strings.TrimSpace(out[check-2]))
	assert.Equal(t, `const-string v6, "Ljava/io/OutputStream;->write([B)V"`, strings.TrimSpace(out[check-1]))
	sink := indexOf(t, out, "invoke-virtual {v4, v1}, Ljava/io/OutputStream;->write([B)V")
	assert.Greater(t, sink, check)
	// the stream absorbs the label of the bytes written into it
	assert.Equal(t, "or-int v13, v13, v10", strings.TrimSpace(out[sink-1]))

	// bridge under the original descriptor
	b := indexOf(t, out, ".method public synthetic leak(Landroid/telephony/TelephonyManager;Ljava/io/OutputStream;)V")
	assert.Equal(t, ".locals 6", strings.TrimSpace(out[b+1]))
	indexOf(t, out, "invoke-virtual/range {v0 .. v5}, Lcom/app/Leak;->leak(Landroid/telephony/TelephonyManager;Ljava/io/OutputStream;III)V")
}

var senderClass = smali(`
.class public Lcom/app/Sender;
.super Ljava/lang/Object;

.method public static send(Landroid/os/Bundle;Landroid/telephony/TelephonyManager;Landroid/os/Parcelable;)V
    .locals 2

    const-string v0, "k"

    invoke-virtual {p1}, Landroid/telephony/TelephonyManager;->getDeviceId()Ljava/lang/String;

    move-result-object v1

    invoke-virtual {p0, v0, v1}, Landroid/os/Bundle;->putString(Ljava/lang/String;Ljava/lang/String;)V

    invoke-virtual {p0, v0, p2}, Landroid/os/Bundle;->putParcelable(Ljava/lang/String;Landroid/os/Parcelable;)V

    return-void
.end method
`)

func TestContainerPuts(t *testing.T) {
	o := testOracle(t, []string{deviceID}, []string{write + ", 0"})
	files := map[string][]string{"Sender.smali": senderClass}

	out, stats, err := inject(t, o, tool.New(tool.Full), "Sender.smali", files)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Snapshot().ContainerSites)

	put := indexOf(t, out, "invoke-virtual {v2, v0, v1}, Landroid/os/Bundle;->putString(Ljava/lang/String;Ljava/lang/String;)V")
	assert.Equal(t, "invoke-static {v2, v10}, Lsmalitaint/runtime/Taint;->addBundleTaint(Landroid/os/BaseBundle;I)V",
		strings.TrimSpace(out[put+1]))

	parcel := indexOf(t, out, "invoke-virtual {v2, v0, v4}, Landroid/os/Bundle;->putParcelable(Ljava/lang/String;Landroid/os/Parcelable;)V")
	assert.Equal(t, "invoke-static {v2, v13, v4}, Lsmalitaint/runtime/Taint;->addBundleTaint(Landroid/os/BaseBundle;ILjava/lang/Object;)V",
		strings.TrimSpace(out[parcel+1]))
}

func TestContainersNeedSinks(t *testing.T) {
	o := testOracle(t, []string{deviceID}, nil)
	files := map[string][]string{"Sender.smali": senderClass}

	out, stats, err := inject(t, o, tool.New(tool.Full), "Sender.smali", files)
	require.NoError(t, err)
	assert.Zero(t, stats.Snapshot().ContainerSites)
	assert.NotContains(t, strings.Join(out, "\n"), "addBundleTaint")
	// the default rule still merges the value into the receiver
	indexOf(t, out, "or-int v5, v5, v9")
}

func TestCompatRejectsObjectPuts(t *testing.T) {
	o := testOracle(t, []string{deviceID}, []string{write + ", 0"})
	files := map[string][]string{"Sender.smali": senderClass}

	_, _, err := inject(t, o, tool.New(tool.Compat), "Sender.smali", files)
	require.Error(t, err)
	assert.True(t, errors.Is(err, tool.ErrUnsupported))
}

func TestHighRegisters(t *testing.T) {
	o := testOracle(t, []string{"Lcom/vendor/Ids;->id()I"}, nil)
	files := map[string][]string{"Big.smali": smali(`
.class public Lcom/app/Big;
.super Ljava/lang/Object;

.method public static big(I)I
    .locals 130

    invoke-static {}, Lcom/vendor/Ids;->id()I

    move-result v129

    add-int v0, v129, p0

    return v0
.end method
`)}

	out, _, err := inject(t, o, tool.New(tool.Full), "Big.smali", files)
	require.NoError(t, err)

	indexOf(t, out, ".method public static big(III)I")
	indexOf(t, out, ".locals 267")
	indexOf(t, out, "move/16 v130, v267")
	indexOf(t, out, "move/16 v266, v269")

	// the source label lands in a shadow beyond v255 through the temp block
	indexOf(t, out, "invoke-static/range {v132 .. v132}, Lsmalitaint/runtime/Taint;->sourceLabel(I)I")
	indexOf(t, out, "move/16 v264, v131")

	add := indexOf(t, out, "add-int v0, v129, v130")
	assert.Equal(t, []string{
		"move/from16 v131, v264",
		"move/from16 v132, v265",
		"or-int v131, v131, v132",
		"move/from16 v135, v131",
	}, trimmed(out[add+1:add+5]))

	for _, l := range trimmed(out) {
		if !strings.HasPrefix(l, "or-int ") {
			continue
		}
		inst, err := disasm.ParseInst(0, l)
		require.NoError(t, err)
		for _, a := range inst.Args {
			_, n, _ := disasm.ParseRegister(a)
			assert.LessOrEqual(t, n, HighRegister, l)
		}
	}
	indexOf(t, out, "invoke-static/range {v133 .. v133}, Lsmalitaint/runtime/Taint;->setReturnTaint(I)V")
}

func TestFieldShadows(t *testing.T) {
	o := testOracle(t, []string{deviceID}, nil)
	files := map[string][]string{"Holder.smali": smali(`
.class public Lcom/app/Holder;
.super Ljava/lang/Object;

.field private secret:Ljava/lang/String;

.method public store(Landroid/telephony/TelephonyManager;)V
    .locals 1

    invoke-virtual {p1}, Landroid/telephony/TelephonyManager;->getDeviceId()Ljava/lang/String;

    move-result-object v0

    iput-object v0, p0, Lcom/app/Holder;->secret:Ljava/lang/String;

    return-void
.end method
`)}

	out, stats, err := inject(t, o, tool.New(tool.Full), "Holder.smali", files)
	require.NoError(t, err)

	put := indexOf(t, out, "iput-object v0, v1, Lcom/app/Holder;->secret:Ljava/lang/String;")
	assert.Equal(t, []string{
		"move/from16 v4, v7",
		"iput v4, v1, Lcom/app/Holder;->secret_taint:I",
	}, trimmed(out[put+1:put+3]))
	indexOf(t, out, ".field public secret_taint:I")
	assert.Equal(t, int64(1), stats.Snapshot().ShadowFields)
}

var holderClass = smali(`
.class public Lcom/app/Holder;
.super Ljava/lang/Object;

.field private secret:[B

.field private self:Lcom/app/Holder;

.method public store(Landroid/telephony/TelephonyManager;)V
    .locals 15

    invoke-virtual {p1}, Landroid/telephony/TelephonyManager;->getDeviceId()Ljava/lang/String;

    move-result-object v0

    invoke-virtual {v0}, Ljava/lang/String;->getBytes()[B

    move-result-object v1

    iput-object v1, p0, Lcom/app/Holder;->secret:[B

    iget-object v2, p0, Lcom/app/Holder;->secret:[B

    iput-object p0, p0, Lcom/app/Holder;->self:Lcom/app/Holder;

    :try_start_0
    iput-object v2, p0, Lcom/app/Holder;->secret:[B
    :try_end_0
    .catchall {:try_start_0 .. :try_end_0} :catch_0

    :catch_0
    return-void
.end method

.method public load(Ljava/io/OutputStream;)V
    .locals 1

    iget-object v0, p0, Lcom/app/Holder;->secret:[B

    invoke-virtual {p1, v0}, Ljava/io/OutputStream;->write([B)V

    return-void
.end method
`)

func TestFieldTaintAcrossFrames(t *testing.T) {
	o := testOracle(t, []string{deviceID}, []string{write + ", 0"})
	files := map[string][]string{"Holder.smali": holderClass}

	out, _, err := inject(t, o, tool.New(tool.Full), "Holder.smali", files)
	require.NoError(t, err)
	text := strings.Join(out, "\n")
	assert.NotContains(t, text, "addArrayTaint")
	assert.NotContains(t, text, "getArrayTaint")

	// store: 15 locals, temps from v17, shadows from v21; the label rides
	// in the value's own register while the value waits in v19
	put := indexOf(t, out, "iput-object v1, v15, Lcom/app/Holder;->secret:[B")
	assert.Equal(t, []string{
		"move-object/16 v19, v1",
		"move/from16 v1, v22",
		"iput v1, v15, Lcom/app/Holder;->secret_taint:I",
		"move-object/16 v1, v19",
	}, trimmed(out[put+1:put+5]))

	get := indexOf(t, out, "iget-object v2, v15, Lcom/app/Holder;->secret:[B")
	assert.Equal(t, []string{
		"move-object/16 v19, v15",
		"iget v15, v15, Lcom/app/Holder;->secret_taint:I",
		"move/from16 v18, v15",
		"move-object/16 v15, v19",
	}, trimmed(out[get-4:get]))
	assert.Equal(t, "move/from16 v23, v18", strings.TrimSpace(out[get+1]))

	// value and object share a register: the runtime writes the field by name
	self := indexOf(t, out, "iput-object v15, v15, Lcom/app/Holder;->self:Lcom/app/Holder;")
	assert.Equal(t, []string{
		`const-string v18, "Lcom/app/Holder;->self_taint:I"`,
		"move/from16 v19, v36",
		"move-object/16 v17, v15",
		"invoke-static/range {v17 .. v19}, Lsmalitaint/runtime/Taint;->setFieldTaint(Ljava/lang/Object;Ljava/lang/String;I)V",
	}, trimmed(out[self+1:self+5]))

	// inside a try region no original register is borrowed
	guarded := indexOf(t, out, "iput-object v2, v15, Lcom/app/Holder;->secret:[B")
	assert.Equal(t, []string{
		`const-string v18, "Lcom/app/Holder;->secret_taint:I"`,
		"move/from16 v19, v23",
		"move-object/16 v17, v15",
		"invoke-static/range {v17 .. v19}, Lsmalitaint/runtime/Taint;->setFieldTaint(Ljava/lang/Object;Ljava/lang/String;I)V",
	}, trimmed(out[guarded+1:guarded+5]))

	// load: one local, the same shadow field feeds the sink check
	load := indexOf(t, out, "iget-object v0, v1, Lcom/app/Holder;->secret:[B")
	assert.Equal(t, "iget v4, v1, Lcom/app/Holder;->secret_taint:I", strings.TrimSpace(out[load-1]))
	assert.Equal(t, "move/from16 v7, v4", strings.TrimSpace(out[load+1]))
	check := indexOf(t, out, "invoke-static {v3, v4}, Lsmalitaint/runtime/Taint;->checkSink(ILjava/lang/String;)V")
	assert.Equal(t, "move/from16 v3, v7", strings.TrimSpace(out[check-2]))
	assert.Greater(t, check, load)

	indexOf(t, out, ".field public secret_taint:I")
	indexOf(t, out, ".field public self_taint:I")
}

func TestAbstractDeclarationsKeepOriginalDescriptor(t *testing.T) {
	o := testOracle(t, nil, []string{write + ", 0"})
	files := map[string][]string{
		"Sink.smali": smali(`
.class public interface abstract Lcom/app/Sink;
.super Ljava/lang/Object;

.method public abstract leak(Ljava/lang/String;)V
.end method
`),
		"Impl.smali": smali(`
.class public Lcom/app/Impl;
.super Ljava/lang/Object;
.implements Lcom/app/Sink;

.field private out:Ljava/io/OutputStream;

.method public leak(Ljava/lang/String;)V
    .locals 2

    invoke-virtual {p1}, Ljava/lang/String;->getBytes()[B

    move-result-object v0

    iget-object v1, p0, Lcom/app/Impl;->out:Ljava/io/OutputStream;

    invoke-virtual {v1, v0}, Ljava/io/OutputStream;->write([B)V

    return-void
.end method
`),
	}

	out, stats, err := inject(t, o, tool.New(tool.Full), "Sink.smali", files)
	require.NoError(t, err)
	aug := indexOf(t, out, ".method public abstract leak(Ljava/lang/String;II)V")
	orig := indexOf(t, out, ".method public abstract leak(Ljava/lang/String;)V")
	assert.Greater(t, orig, aug)
	assert.Equal(t, int64(1), stats.Snapshot().Bridges)

	// the implementation forwards the old descriptor to the augmented one
	out, _, err = inject(t, o, tool.New(tool.Full), "Impl.smali", files)
	require.NoError(t, err)
	b := indexOf(t, out, ".method public synthetic leak(Ljava/lang/String;)V")
	assert.Equal(t, []string{
		".locals 4",
		"",
		"move-object/16 v0, v4",
		"move-object/16 v1, v5",
		"const/16 v2, 0",
		"const/16 v3, 0",
		"invoke-virtual/range {v0 .. v3}, Lcom/app/Impl;->leak(Ljava/lang/String;II)V",
		"return-void",
		".end method",
	}, trimmed(out[b+1:b+10]))
}

func TestStructuralErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{
			name: "try end without start",
			body: `
    :try_end_0
    return-void`,
			want: ErrRegionImbalance,
		},
		{
			name: "try region left open",
			body: `
    :try_start_0
    return-void`,
			want: ErrRegionImbalance,
		},
		{
			name: "unknown opcode",
			body: `
    frobnicate v0
    return-void`,
			want: disasm.ErrUnknownOpcode,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := smali(`
.class public Lcom/app/Bad;
.super Ljava/lang/Object;

.method public static f()V
    .locals 1
` + tt.body + `
.end method
`)
			e := NewEngine(Options{})
			err := e.AnalyzeFile("Bad.smali", lines)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), err.Error())

			_, err = e.InjectFile("Bad.smali", lines)
			assert.True(t, errors.Is(err, tt.want))
		})
	}
}

func TestOversizedMethodPassesThrough(t *testing.T) {
	o := testOracle(t, []string{deviceID}, nil)
	lines := smali(`
.class public Lcom/app/Huge;
.super Ljava/lang/Object;

.method public static huge(Landroid/telephony/TelephonyManager;)Ljava/lang/String;
    .locals 300

    invoke-virtual {p0}, Landroid/telephony/TelephonyManager;->getDeviceId()Ljava/lang/String;

    move-result-object v0

    return-object v0
.end method
`)
	out, stats, err := inject(t, o, tool.New(tool.Full), "Huge.smali", map[string][]string{"Huge.smali": lines})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Snapshot().Oversized)

	indexOf(t, out, ".method public static huge(Landroid/telephony/TelephonyManager;II)Ljava/lang/String;")
	indexOf(t, out, ".locals 300")
	assert.NotContains(t, strings.Join(out, "\n"), "sourceLabel")
	// callers reaching it under the old descriptor go through the bridge
	b := indexOf(t, out, ".method public static synthetic huge(Landroid/telephony/TelephonyManager;)Ljava/lang/String;")
	assert.Equal(t, []string{
		".locals 3",
		"",
		"move-object/16 v0, v3",
		"const/16 v1, 0",
		"const/16 v2, 0",
		"invoke-static/range {v0 .. v2}, Lcom/app/Huge;->huge(Landroid/telephony/TelephonyManager;II)Ljava/lang/String;",
		"move-result-object v0",
		"return-object v0",
		".end method",
	}, trimmed(out[b+1:b+10]))
}

func TestCoverageAndNoOp(t *testing.T) {
	o := testOracle(t, []string{deviceID}, []string{write + ", 0"})
	files := map[string][]string{"Leak.smali": leakClass}

	out, stats, err := inject(t, o, tool.New(tool.Coverage), "Leak.smali", files)
	require.NoError(t, err)
	entry := indexOf(t, out, "const/16 v0, 0")
	assert.Equal(t, "invoke-static {v0}, Lsmalitaint/runtime/Coverage;->hit(I)V", strings.TrimSpace(out[entry+1]))
	assert.Equal(t, "invoke-virtual {p1}, Landroid/telephony/TelephonyManager;->getDeviceId()Ljava/lang/String;",
		strings.TrimSpace(out[entry+2]))
	assert.Equal(t, int64(1), stats.Snapshot().CoverageHits)
	indexOf(t, out, ".locals 2")

	out, _, err = inject(t, o, tool.New(tool.NoOp), "Leak.smali", files)
	require.NoError(t, err)
	assert.Equal(t, leakClass, out)
}

func TestUninstrumentedMethodsAreUntouched(t *testing.T) {
	o := testOracle(t, []string{deviceID}, nil)
	lines := smali(`
.class public Lcom/app/Quiet;
.super Ljava/lang/Object;

.method public static idle(I)I
    .locals 1

    add-int/lit8 v0, p0, 0x1

    return v0
.end method
`)
	out, stats, err := inject(t, o, tool.New(tool.Full), "Quiet.smali", map[string][]string{"Quiet.smali": lines})
	require.NoError(t, err)
	assert.Equal(t, lines, out)
	assert.Zero(t, stats.Snapshot().Instrumented)
}
