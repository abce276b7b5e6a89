package instrument

import (
	"strings"

	"smalitaint/internal/hierarchy"
	"smalitaint/internal/oracle"
	"smalitaint/internal/signature"
	"smalitaint/internal/tool"
)

// Family is a platform container type whose contents are opaque to the
// instrumented code.
type Family int

const (
	NoFamily Family = iota
	Envelope        // android.content.Intent
	Bundle          // android.os.Bundle and BaseBundle
	Parcel          // android.os.Parcel
	Receiver        // android.content.BroadcastReceiver
	Activity        // android.app.Activity
)

var familyClasses = map[string]Family{
	"Landroid/content/Intent;":            Envelope,
	"Landroid/os/Bundle;":                 Bundle,
	"Landroid/os/BaseBundle;":             Bundle,
	"Landroid/os/PersistableBundle;":      Bundle,
	"Landroid/os/Parcel;":                 Parcel,
	"Landroid/content/BroadcastReceiver;": Receiver,
	"Landroid/app/Activity;":              Activity,
}

func (f Family) String() string {
	switch f {
	case Envelope:
		return "envelope"
	case Bundle:
		return "bundle"
	case Parcel:
		return "parcel"
	case Receiver:
		return "receiver"
	case Activity:
		return "activity"
	}
	return "none"
}

// Site is one invoke considered for container propagation. Regs holds one
// register per parameter slot, receiver first.
type Site struct {
	Sig  *signature.Signature
	Regs []int
	// Dest is the register receiving the call's result, or -1.
	Dest int
	// Shadow maps an original register to its shadow.
	Shadow func(r int) (int, error)
	// Types holds known register types used to narrow declared value types.
	Types map[int]string
}

func (s Site) receiver() (int, bool) {
	if s.Sig.Static || len(s.Regs) == 0 {
		return 0, false
	}
	return s.Regs[0], true
}

// arg returns the register of declared parameter i.
func (s Site) arg(i int) (int, string, bool) {
	slot := s.Sig.ParamSlot(i)
	if slot < 0 || slot >= len(s.Regs) {
		return 0, "", false
	}
	return s.Regs[slot], s.Sig.Params[slot], true
}

// Insertions are the lines a rule adds around a call. Pre lines precede the
// invoke. Post lines follow the move-result when Dest is set, otherwise the
// invoke itself.
type Insertions struct {
	Family Family
	Rule   string
	Pre    []string
	Post   []string
}

// Empty reports whether nothing is inserted.
func (in Insertions) Empty() bool { return len(in.Pre) == 0 && len(in.Post) == 0 }

// ContainerRule emits the propagation sequence for one kind of container call.
type ContainerRule interface {
	Name() string
	Match(f Family, s Site) bool
	Emit(e *Emitter, f Family, s Site) (Insertions, error)
}

// Containers runs the first matching rule of a chain.
type Containers struct {
	oracle   *oracle.Oracle
	resolver hierarchy.Resolver
	rules    []ContainerRule
}

// NewContainers returns the default rule chain. resolver may be nil.
func NewContainers(o *oracle.Oracle, resolver hierarchy.Resolver) *Containers {
	return &Containers{
		oracle:   o,
		resolver: resolver,
		rules: []ContainerRule{
			bulkCopyRule{},
			putRule{},
			getRule{},
			orderedRule{},
			startIntentRule{},
		},
	}
}

// FamilyOf classifies the declaring class of a call, consulting the resolver
// when the class is not itself a known container.
func (c *Containers) FamilyOf(class, nameAndDesc string) Family {
	if f, ok := familyClasses[class]; ok {
		return f
	}
	if c.resolver == nil {
		return NoFamily
	}
	for _, k := range c.resolver.ImplementingClassesOf(class, nameAndDesc) {
		if f, ok := familyClasses[k]; ok {
			return f
		}
	}
	return NoFamily
}

// Enabled reports whether container propagation can emit anything at all.
func (c *Containers) Enabled() bool {
	return c.oracle != nil && c.oracle.HasSinks()
}

// Match returns the rule that would handle s.
func (c *Containers) Match(s Site) (Family, ContainerRule, bool) {
	if !c.Enabled() {
		return NoFamily, nil, false
	}
	f := c.FamilyOf(s.Sig.Class, s.Sig.NameAndDesc())
	if f == NoFamily {
		return NoFamily, nil, false
	}
	for _, r := range c.rules {
		if r.Match(f, s) {
			return f, r, true
		}
	}
	return f, nil, false
}

// Apply emits the insertions for s. A call no rule handles yields empty
// insertions and no error.
func (c *Containers) Apply(e *Emitter, s Site) (Insertions, error) {
	f, r, ok := c.Match(s)
	if !ok {
		return Insertions{}, nil
	}
	in, err := r.Emit(e, f, s)
	if err != nil {
		return Insertions{}, err
	}
	in.Family, in.Rule = f, r.Name()
	return in, nil
}

func isGetterName(name string) bool {
	return strings.HasPrefix(name, "get") || strings.HasPrefix(name, "read") ||
		strings.HasPrefix(name, "create")
}

// bulkCopyRule merges whole envelopes: putExtras, replaceExtras,
// writeToParcel and putAll.
type bulkCopyRule struct{}

func (bulkCopyRule) Name() string { return "bulk-copy" }

func (bulkCopyRule) Match(f Family, s Site) bool {
	switch s.Sig.Name {
	case "putExtras", "replaceExtras", "writeToParcel", "putAll":
	default:
		return false
	}
	if f != Envelope && f != Bundle {
		return false
	}
	_, ok := s.receiver()
	_, t, has := s.arg(0)
	return ok && has && signature.IsObject(t)
}

func (bulkCopyRule) Emit(e *Emitter, f Family, s Site) (Insertions, error) {
	recv, _ := s.receiver()
	other, _, _ := s.arg(0)
	e.Call(tool.OpUnionContainerTaint, recv, other)
	return Insertions{Post: e.Take()}, e.Err()
}

// putRule attaches the taint of a stored value to its container.
type putRule struct{}

func (putRule) Name() string { return "put" }

func (putRule) Match(f Family, s Site) bool {
	if _, ok := s.receiver(); !ok {
		return false
	}
	switch f {
	case Envelope, Bundle:
		if !strings.HasPrefix(s.Sig.Name, "put") {
			return false
		}
		_, key, ok := s.arg(0)
		_, _, hasVal := s.arg(1)
		return ok && hasVal && key == "Ljava/lang/String;"
	case Parcel:
		_, _, ok := s.arg(0)
		return strings.HasPrefix(s.Sig.Name, "write") && ok
	}
	return false
}

func (putRule) Emit(e *Emitter, f Family, s Site) (Insertions, error) {
	recv, _ := s.receiver()
	valueIdx := 1
	if f == Parcel {
		valueIdx = 0
	}
	val, typ, _ := s.arg(valueIdx)
	if known, ok := s.Types[val]; ok && isGenericReference(typ) {
		typ = known
	}
	sv, err := s.Shadow(val)
	if err != nil {
		return Insertions{}, err
	}
	switch {
	case f == Parcel:
		e.Call(tool.OpAddParcelTaint, recv, sv)
	case signature.IsReferenceValue(typ) && f == Envelope:
		e.Call(tool.OpAddIntentTaintObject, recv, sv, val)
	case signature.IsReferenceValue(typ):
		e.Call(tool.OpAddBundleTaintObject, recv, sv, val)
	case f == Envelope:
		e.Call(tool.OpAddIntentTaint, recv, sv)
	default:
		e.Call(tool.OpAddBundleTaint, recv, sv)
	}
	return Insertions{Post: e.Take()}, e.Err()
}

func isGenericReference(t string) bool {
	switch t {
	case "Ljava/lang/Object;", "Ljava/lang/CharSequence;", "Ljava/io/Serializable;":
		return true
	}
	return false
}

// getRule reads a container's aggregate taint into the result of a getter.
type getRule struct{}

func (getRule) Name() string { return "get" }

func (getRule) Match(f Family, s Site) bool {
	if _, ok := s.receiver(); !ok || s.Dest < 0 || s.Sig.IsVoid() {
		return false
	}
	switch f {
	case Envelope, Bundle, Parcel:
		return isGetterName(s.Sig.Name)
	}
	return false
}

func (getRule) Emit(e *Emitter, f Family, s Site) (Insertions, error) {
	recv, _ := s.receiver()
	var getter tool.Op
	switch f {
	case Envelope:
		getter = tool.OpGetIntentTaint
	case Parcel:
		getter = tool.OpGetParcelTaint
	default:
		getter = tool.OpGetBundleTaint
	}
	sd, err := s.Shadow(s.Dest)
	if err != nil {
		return Insertions{}, err
	}
	e.Call(tool.OpSetReturnTaint, sd)
	readStaged(e, getter, recv, true, sd)
	lines := e.Take()
	if s.Dest == recv {
		// the result overwrites the receiver, so query before the call
		return Insertions{Pre: lines}, e.Err()
	}
	return Insertions{Post: lines}, e.Err()
}

// readStaged calls a taint getter, passing the receiver when withRecv is set,
// and stores its result in dst. A dst beyond the 8-bit window routes the
// receiver through the staging block and writes dst with a 16-bit move.
func readStaged(e *Emitter, getter tool.Op, recv int, withRecv bool, dst int) {
	if dst <= HighRegister {
		if withRecv {
			e.Call(getter, recv)
		} else {
			e.Call(getter)
		}
		e.MoveResultTaint(dst)
		return
	}
	tmp := e.Temp(0)
	e.StageObject(tmp, recv)
	if withRecv {
		e.Call(getter, tmp)
	} else {
		e.Call(getter)
	}
	e.MoveResultTaint(e.Temp(1))
	e.StageObject(recv, tmp)
	e.MoveTaint(dst, e.Temp(1))
}

// orderedRule carries taint through the ordered-broadcast result slot.
type orderedRule struct{}

func (orderedRule) Name() string { return "ordered-broadcast" }

func (orderedRule) Match(f Family, s Site) bool {
	if f != Receiver {
		return false
	}
	if _, ok := s.receiver(); !ok {
		return false
	}
	switch s.Sig.Name {
	case "setResultData":
		return true
	case "getResultData":
		return s.Dest >= 0
	}
	return false
}

func (orderedRule) Emit(e *Emitter, f Family, s Site) (Insertions, error) {
	recv, _ := s.receiver()
	if s.Sig.Name == "setResultData" {
		srcs := make([]int, 0, len(s.Regs))
		for i, r := range s.Regs {
			if s.Sig.Params[i] == signature.Filler {
				continue
			}
			sr, err := s.Shadow(r)
			if err != nil {
				return Insertions{}, err
			}
			srcs = append(srcs, sr)
		}
		e.Union(e.Temp(2), srcs...)
		e.Call(tool.OpSetOrderedIntentTaint, e.Temp(2))
		return Insertions{Pre: e.Take()}, e.Err()
	}
	sd, err := s.Shadow(s.Dest)
	if err != nil {
		return Insertions{}, err
	}
	readStaged(e, tool.OpGetOrderedIntentTaint, recv, false, sd)
	e.Call(tool.OpSetReturnTaint, sd)
	return Insertions{Post: e.Take()}, e.Err()
}

// startIntentRule taints the intent returned by Activity.getIntent.
type startIntentRule struct{}

func (startIntentRule) Name() string { return "start-intent" }

func (startIntentRule) Match(f Family, s Site) bool {
	return f == Activity && s.Sig.Name == "getIntent" && s.Dest >= 0 && !s.Sig.Static
}

func (startIntentRule) Emit(e *Emitter, f Family, s Site) (Insertions, error) {
	sd, err := s.Shadow(s.Dest)
	if err != nil {
		return Insertions{}, err
	}
	e.Call(tool.OpGetStartIntentTaint, s.Dest)
	e.MoveResultTaint(sd)
	e.Call(tool.OpSetReturnTaint, sd)
	return Insertions{Post: e.Take()}, e.Err()
}
