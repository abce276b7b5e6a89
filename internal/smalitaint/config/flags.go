package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type ConfigType int

const (
	String ConfigType = iota
	Int
	Bool
)

// Def describes one configuration key and the flag that sets it.
type Def struct {
	Type     ConfigType // default to string
	Key      string
	KeyShort string // only valid in command line arguments, leave empty if not used
	Default  any
	Desc     string
}

var (
	CInput = Def{
		Key:      "input",
		KeyShort: "i",
		Default:  "",
		Desc:     "directory of smali listings",
	}
	COutput = Def{
		Key:      "output",
		KeyShort: "o",
		Default:  "",
		Desc:     "directory receiving the rewritten listings",
	}
	CSources = Def{
		Key:      "sources",
		KeyShort: "s",
		Default:  "",
		Desc:     "file listing source signatures",
	}
	CSinks = Def{
		Key:      "sinks",
		KeyShort: "k",
		Default:  "",
		Desc:     "file listing sink signatures and checked parameters",
	}
	CTool = Def{
		Key:      "tool",
		KeyShort: "t",
		Default:  "full",
		Desc:     "backend: full, compat, noop or coverage",
	}
	CConcurrency = Def{
		Type:     Int,
		Key:      "concurrency",
		KeyShort: "j",
		Default:  defaultConcurrency(),
		Desc:     "files processed in parallel",
	}
)

var (
	CReportPath = Def{
		Key:     "report.path",
		Default: "",
		Desc:    "write the run report to this file",
	}
	CReportFormat = Def{
		Key:     "report.format",
		Default: "markdown",
		Desc:    "report format: json, yaml or markdown",
	}
	CLogLevel = Def{
		Key:     "log.level",
		Default: "info",
		Desc:    "log level: debug, info, warn or error",
	}
)

// RunDefs are the keys of the commands that walk a listing tree.
var RunDefs = []Def{
	CInput,
	COutput,
	CSources,
	CSinks,
	CTool,
	CConcurrency,
	CReportPath,
	CReportFormat,
}

// All lists every key with a default.
var All = append(append([]Def{}, RunDefs...), CLogLevel)

// BuildFlagSet declares one flag per def.
func BuildFlagSet(name string, defs ...Def) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	for _, def := range defs {
		switch def.Type {
		case String:
			if def.KeyShort != "" {
				flagSet.StringP(def.Key, def.KeyShort, def.Default.(string), def.Desc)
			} else {
				flagSet.String(def.Key, def.Default.(string), def.Desc)
			}
		case Int:
			if def.KeyShort != "" {
				flagSet.IntP(def.Key, def.KeyShort, def.Default.(int), def.Desc)
			} else {
				flagSet.Int(def.Key, def.Default.(int), def.Desc)
			}
		case Bool:
			if def.KeyShort != "" {
				flagSet.BoolP(def.Key, def.KeyShort, def.Default.(bool), def.Desc)
			} else {
				flagSet.Bool(def.Key, def.Default.(bool), def.Desc)
			}
		}
	}
	return flagSet
}

// Bind ties the flags in set that carry a def's key to v.
func Bind(v *viper.Viper, set *pflag.FlagSet, defs ...Def) error {
	for _, def := range defs {
		f := set.Lookup(def.Key)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(def.Key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", def.Key, err)
		}
	}
	return nil
}
