package hierarchy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listing(s string) []string {
	return strings.Split(strings.TrimSpace(s), "\n")
}

var testFiles = map[string][]string{
	"Base.smali": listing(`
.class public abstract Lcom/app/Base;
.super Ljava/lang/Object;

.field protected secret:Ljava/lang/String;
.field public static counter:I = 0x0

.method public abstract leak(Ljava/lang/String;)V
.end method

.method public constructor <init>()V
    .locals 0
    invoke-direct {p0}, Ljava/lang/Object;-><init>()V
    return-void
.end method
`),
	"Impl.smali": listing(`
.class public final Lcom/app/Impl;
.super Lcom/app/Base;
.implements Lcom/app/Sink;

.method public leak(Ljava/lang/String;)V
    .locals 0
    return-void
.end method
`),
	"Sink.smali": listing(`
.class public interface abstract Lcom/app/Sink;
.super Ljava/lang/Object;

.method public abstract leak(Ljava/lang/String;)V
.end method
`),
	"Main.smali": listing(`
.class public Lcom/app/MainActivity;
.super Landroid/app/Activity;

.method protected onCreate(Landroid/os/Bundle;)V
    .locals 0
    return-void
.end method

.method private static native hash(J)I
.end method
`),
}

func testIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Scan(testFiles)
	require.NoError(t, err)
	return ix
}

func TestParseClass(t *testing.T) {
	c, err := ParseClass("Base.smali", testFiles["Base.smali"])
	require.NoError(t, err)
	assert.Equal(t, "Lcom/app/Base;", c.Name)
	assert.Equal(t, ObjectClass, c.Super)
	assert.True(t, c.Abstract)
	assert.False(t, c.Interface)
	assert.Equal(t, Field{Name: "secret", Type: "Ljava/lang/String;"}, c.Fields["secret"])
	assert.True(t, c.Fields["counter"].Static)

	m, ok := c.Methods["leak(Ljava/lang/String;)V"]
	require.True(t, ok)
	assert.True(t, m.Abstract)
	assert.True(t, c.Methods["<init>()V"].IsConstructor())
}

func TestParseClassErrors(t *testing.T) {
	_, err := ParseClass("x.smali", []string{".super Ljava/lang/Object;"})
	assert.Error(t, err)

	_, err = ParseClass("y.smali", []string{".class public La;", ".method public"})
	assert.Error(t, err)
}

func TestParseMethodHeader(t *testing.T) {
	m, err := ParseMethodHeader(".method private static native hash(J)I")
	require.NoError(t, err)
	assert.Equal(t, "hash", m.Name)
	assert.Equal(t, "(J)I", m.Desc)
	assert.True(t, m.Static)
	assert.True(t, m.Private)
	assert.True(t, m.Native)
}

func TestImplementingClassesOf(t *testing.T) {
	ix := testIndex(t)

	got := ix.ImplementingClassesOf("Lcom/app/Base;", "leak(Ljava/lang/String;)V")
	assert.Equal(t, []string{"Lcom/app/Base;", ObjectClass, "Lcom/app/Impl;"}, got)

	got = ix.ImplementingClassesOf("Lcom/app/Impl;", "leak(Ljava/lang/String;)V")
	assert.Equal(t, []string{"Lcom/app/Impl;", "Lcom/app/Base;", "Lcom/app/Sink;", ObjectClass}, got)

	got = ix.ImplementingClassesOf("Lcom/app/MainActivity;", "getIntent()Landroid/content/Intent;")
	assert.Equal(t, []string{"Lcom/app/MainActivity;", "Landroid/app/Activity;"}, got)

	// unknown classes resolve to themselves
	got = ix.ImplementingClassesOf("Landroid/os/Bundle;", "size()I")
	assert.Equal(t, []string{"Landroid/os/Bundle;"}, got)

	again := ix.ImplementingClassesOf("Lcom/app/Base;", "leak(Ljava/lang/String;)V")
	assert.Equal(t, []string{"Lcom/app/Base;", ObjectClass, "Lcom/app/Impl;"}, again)
}

func TestDeclaringClassAndFields(t *testing.T) {
	ix := testIndex(t)

	d, ok := ix.DeclaringClass("Lcom/app/Impl;", "<init>()V")
	require.True(t, ok)
	assert.Equal(t, "Lcom/app/Base;", d)

	_, ok = ix.DeclaringClass("Lcom/app/MainActivity;", "getIntent()Landroid/content/Intent;")
	assert.False(t, ok)

	owner, f, ok := ix.FieldOwner("Lcom/app/Impl;", "secret")
	require.True(t, ok)
	assert.Equal(t, "Lcom/app/Base;", owner)
	assert.Equal(t, "Ljava/lang/String;", f.Type)

	_, _, ok = ix.FieldOwner("Lcom/app/MainActivity;", "mTitle")
	assert.False(t, ok)
}

func TestExternalAncestors(t *testing.T) {
	ix := testIndex(t)
	assert.False(t, ix.HasExternalAncestor("Lcom/app/Impl;"))
	assert.True(t, ix.HasExternalAncestor("Lcom/app/MainActivity;"))
	assert.True(t, ix.IsInterface("Lcom/app/Sink;"))
	assert.True(t, ix.IsApp("Lcom/app/Base;"))
	assert.False(t, ix.IsApp(ObjectClass))
	assert.Equal(t, []string{"Lcom/app/Impl;"}, ix.Descendants("Lcom/app/Sink;"))
	assert.Equal(t, 4, ix.Len())
}
