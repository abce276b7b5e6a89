// Package config resolves a run configuration from flags, SMALITAINT_*
// environment variables and an optional smalitaint.yaml.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/spf13/viper"

	"smalitaint/internal/tool"
)

// EnvPrefix prefixes every environment variable the tool reads.
const EnvPrefix = "SMALITAINT"

// Config is the resolved configuration of one run.
type Config struct {
	Input       string `json:"input" jsonschema:"title=Input,description=Directory of smali listings to rewrite"`
	Output      string `json:"output,omitempty" jsonschema:"title=Output,description=Directory receiving the rewritten listings"`
	Sources     string `json:"sources" jsonschema:"title=Sources,description=File listing source method signatures"`
	Sinks       string `json:"sinks,omitempty" jsonschema:"title=Sinks,description=File listing sink signatures with checked parameters"`
	Tool        string `json:"tool" jsonschema:"title=Tool,enum=full,enum=compat,enum=noop,enum=coverage,default=full"`
	Concurrency int    `json:"concurrency" jsonschema:"title=Concurrency,minimum=1,description=Number of files processed in parallel"`
	Report      Report `json:"report" jsonschema:"title=Report"`
	Log         Log    `json:"log" jsonschema:"title=Log"`
}

// Report selects where and how the run report is written.
type Report struct {
	Path   string `json:"path,omitempty" jsonschema:"description=File receiving the report; stdout when empty"`
	Format string `json:"format" jsonschema:"enum=json,enum=yaml,enum=markdown,default=markdown"`
}

// Log configures the command's logger.
type Log struct {
	Level string `json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,default=info"`
}

// New returns a viper instance reading the given config file, or the file
// named by SMALITAINT_CONFIG, or ./smalitaint.yaml when present.
func New(configFile string) (*viper.Viper, error) {
	v := viper.New()
	if configFile == "" {
		configFile = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("smalitaint")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, def := range All {
		v.SetDefault(def.Key, def.Default)
	}
	return v, nil
}

// Decode reads the configuration out of v.
func Decode(v *viper.Viper) Config {
	return Config{
		Input:       v.GetString(CInput.Key),
		Output:      v.GetString(COutput.Key),
		Sources:     v.GetString(CSources.Key),
		Sinks:       v.GetString(CSinks.Key),
		Tool:        v.GetString(CTool.Key),
		Concurrency: v.GetInt(CConcurrency.Key),
		Report: Report{
			Path:   v.GetString(CReportPath.Key),
			Format: v.GetString(CReportFormat.Key),
		},
		Log: Log{Level: v.GetString(CLogLevel.Key)},
	}
}

// Validate checks the fields every run needs.
func (c Config) Validate() error {
	var errs []error
	if c.Input == "" {
		errs = append(errs, errors.New("no input directory"))
	}
	if c.Sources == "" {
		errs = append(errs, errors.New("no sources file"))
	}
	if _, err := tool.ParseKind(c.Tool); err != nil {
		errs = append(errs, err)
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency %d is below 1", c.Concurrency))
	}
	switch strings.ToLower(c.Report.Format) {
	case "json", "yaml", "yml", "md", "markdown":
	default:
		errs = append(errs, fmt.Errorf("unknown report format %q", c.Report.Format))
	}
	return errors.Join(errs...)
}

// Strategy returns the configured tool backend.
func (c Config) Strategy() (tool.Strategy, error) {
	k, err := tool.ParseKind(c.Tool)
	if err != nil {
		return tool.Strategy{}, err
	}
	return tool.New(k), nil
}

// Schema reflects Config into a JSON schema.
func Schema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	return json.MarshalIndent(r.Reflect(&Config{}), "", "  ")
}

func defaultConcurrency() int {
	return max(1, runtime.NumCPU())
}
