package analysis

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"smalitaint/internal/hierarchy"
)

func lines(s string) []string { return strings.Split(strings.TrimSpace(s), "\n") }

func testClasses(t *testing.T) *hierarchy.Index {
	t.Helper()
	ix, err := hierarchy.Scan(map[string][]string{
		"Leaker.smali": lines(`
.class public Lcom/app/Leaker;
.super Ljava/lang/Object;
.method public leak(Ljava/lang/String;)V
.end method
.method public static read()Ljava/lang/String;
.end method
.method public toString()Ljava/lang/String;
.end method
`),
		"Loud.smali": lines(`
.class public Lcom/app/Loud;
.super Lcom/app/Leaker;
.method public leak(Ljava/lang/String;)V
.end method
`),
		"Main.smali": lines(`
.class public Lcom/app/Main;
.super Landroid/app/Activity;
.method public onCreate(Landroid/os/Bundle;)V
.end method
.method private helper()V
.end method
.method public idle()V
.end method
`),
	})
	require.NoError(t, err)
	return ix
}

func fact(sig string, mut func(f *MethodFacts)) *MethodFacts {
	class, nd, _ := strings.Cut(sig, "->")
	f := &MethodFacts{Signature: sig, Class: class, NameAndDesc: nd, SourceLabel: -1}
	if mut != nil {
		mut(f)
	}
	return f
}

func testFacts() *Facts {
	fs := NewFacts()
	fs.Put(fact("Lcom/app/Leaker;->leak(Ljava/lang/String;)V", nil))
	fs.Put(fact("Lcom/app/Loud;->leak(Ljava/lang/String;)V", func(f *MethodFacts) { f.SinkCalls = 1 }))
	fs.Put(fact("Lcom/app/Leaker;->read()Ljava/lang/String;", func(f *MethodFacts) {
		f.Static = true
		f.SourceCalls = 1
	}))
	fs.Put(fact("Lcom/app/Leaker;->toString()Ljava/lang/String;", nil))
	fs.Put(fact("Lcom/app/Main;->onCreate(Landroid/os/Bundle;)V", func(f *MethodFacts) {
		f.Callees = []string{"Lcom/app/Main;->helper()V", "Lcom/app/Main;->helper()V"}
	}))
	fs.Put(fact("Lcom/app/Main;->helper()V", func(f *MethodFacts) {
		f.Callees = []string{"Lcom/app/Loud;->read()Ljava/lang/String;", "Lcom/app/Leaker;->leak(Ljava/lang/String;)V"}
	}))
	fs.Put(fact("Lcom/app/Main;->idle()V", nil))
	return fs
}

func TestBuildPlan(t *testing.T) {
	p := BuildPlan(testFacts(), testClasses(t))

	assert.Equal(t, []string{
		"Lcom/app/Leaker;->leak(Ljava/lang/String;)V",
		"Lcom/app/Leaker;->read()Ljava/lang/String;",
		"Lcom/app/Loud;->leak(Ljava/lang/String;)V",
		"Lcom/app/Main;->helper()V",
		"Lcom/app/Main;->onCreate(Landroid/os/Bundle;)V",
	}, p.InstrumentedMethods())

	// overriding family without framework ancestors, static and private
	// methods get taint parameters; framework callbacks do not
	assert.True(t, p.Augmented("Lcom/app/Leaker;->leak(Ljava/lang/String;)V"))
	assert.True(t, p.Augmented("Lcom/app/Loud;->leak(Ljava/lang/String;)V"))
	assert.True(t, p.Augmented("Lcom/app/Leaker;->read()Ljava/lang/String;"))
	assert.True(t, p.Augmented("Lcom/app/Main;->helper()V"))
	assert.False(t, p.Augmented("Lcom/app/Main;->onCreate(Landroid/os/Bundle;)V"))
	assert.False(t, p.Instrumented("Lcom/app/Main;->idle()V"))
	assert.False(t, p.Augmented("Lcom/app/Leaker;->toString()Ljava/lang/String;"))

	assert.Equal(t, p.Family("Lcom/app/Loud;->leak(Ljava/lang/String;)V"),
		p.Family("Lcom/app/Leaker;->leak(Ljava/lang/String;)V"))

	id, ok := p.MethodID("Lcom/app/Leaker;->leak(Ljava/lang/String;)V")
	require.True(t, ok)
	assert.Equal(t, 0, id)
}

func TestBuildPlanIsStable(t *testing.T) {
	ix := testClasses(t)
	a := BuildPlan(testFacts(), ix)
	b := BuildPlan(testFacts(), ix)
	assert.Equal(t, a.InstrumentedMethods(), b.InstrumentedMethods())
	assert.Equal(t, a.AugmentedMethods(), b.AugmentedMethods())
}

func TestNilPlan(t *testing.T) {
	var p *Plan
	assert.False(t, p.Instrumented("x"))
	assert.False(t, p.Augmented("x"))
	assert.Nil(t, p.InstrumentedMethods())
	_, ok := p.MethodID("x")
	assert.False(t, ok)
}

func TestStatsConcurrentAccumulation(t *testing.T) {
	var s Stats
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Methods.Add(2)
			s.SinkCalls.Add(1)
		}()
	}
	wg.Wait()
	snap := s.Snapshot()
	assert.Equal(t, int64(100), snap.Methods)
	assert.Equal(t, int64(50), snap.SinkCalls)

	one := Snapshot{Files: 1, Inserted: 3}
	two := Snapshot{Files: 2, Inserted: 4}
	assert.Equal(t, one.Plus(two), two.Plus(one))
	assert.Equal(t, int64(7), one.Plus(two).Inserted)
}

func TestReportEncodings(t *testing.T) {
	r := &Report{
		Tool:         "full",
		Input:        "in",
		Stats:        Snapshot{Methods: 4, TaintedMethods: 1},
		Instrumented: []string{"La;->b()V"},
	}

	js, err := r.Encode("json")
	require.NoError(t, err)
	var back map[string]any
	require.NoError(t, json.Unmarshal(js, &back))
	assert.Equal(t, "full", back["tool"])

	ym, err := r.Encode("yaml")
	require.NoError(t, err)
	var ydoc map[string]any
	require.NoError(t, yaml.Unmarshal(ym, &ydoc))
	assert.Equal(t, "in", ydoc["input"])

	md, err := r.Encode("markdown")
	require.NoError(t, err)
	assert.Contains(t, string(md), "| Tainted methods | 1 |")
	assert.Contains(t, string(md), "`La;->b()V`")

	_, err = r.Encode("xml")
	assert.Error(t, err)
}
