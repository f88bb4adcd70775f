// Package gwconfig holds the typed, validated, in-memory representation of
// the gateway's configuration file: runners, the models they serve, the
// retry policy for readiness, and the indices derived from them.
package gwconfig

// RunnerConfig identifies one worker process.
type RunnerConfig struct {
	// Name is the runner's unique name, taken from its key in the config
	// document.
	Name string
	// Path is the runner's executable path. For back-compat it may be
	// prefixed with one or more "NAME=VALUE" assignments or the literal
	// "env" command; EnvPrefix/Executable hold the parsed halves.
	Path string
	// Executable is Path with any legacy env-assignment prefix stripped.
	Executable string
	// EnvPrefix holds NAME=VALUE pairs parsed out of a legacy Path prefix.
	EnvPrefix map[string]string
	// InitialArgs holds any arguments that followed the executable within a
	// legacy Path string (e.g. "env FOO=1 /bin/runner --flag").
	InitialArgs []string
	// Host is the bind host the runner's backend listens on.
	Host string
	// Port is the runner's bind port. Must be unique across all runners.
	Port int
	// ExtraArgs are appended verbatim to the end of the runner's argument
	// vector, after model.Args.
	ExtraArgs []string
	// Env is an optional environment overlay applied after InheritEnv.
	Env map[string]string
	// InheritEnv controls whether the runner process inherits the gateway's
	// environment as its base layer. Defaults to true.
	InheritEnv bool
}

// ModelConfig identifies one model placement on a runner.
type ModelConfig struct {
	// Model is the model file path.
	Model string
	// Alias is the human-facing, globally unique name for this placement.
	// Defaults to the basename of Model.
	Alias string
	// Runner names the owning RunnerConfig.
	Runner string
	// Env is an optional environment overlay, applied after RunnerConfig.Env.
	Env map[string]string
	// Args is a free-form string, shell-split and appended after the mapped
	// tunables below and before RunnerConfig.ExtraArgs.
	Args string

	// Tunables. Pointer fields are nil when absent from the config document;
	// presence (not zero-value) drives inclusion in the argument vector.
	Mmproj      *string
	ModelAlias  *string
	ContextSize *int
	BatchSize   *int
	Threads     *int
	ChatTemplate *string
	SplitMode   *string
	Embedding   *bool
	Reranking   *bool
	OffloadKQV  *bool
	Jinja       *bool
	Pooling     *string
	FlashAttn   *string
	UseMlock    *bool
	MainGPU     *string
	TensorSplit []float64
	NGPULayers  *int
	CacheTypeK  *string
	CacheTypeV  *string
	RopeScaling *string
	RopeScale   *string
	YarnOrigCtx *string
}

// RetryPolicy governs ensure_model_ready_with_retry.
type RetryPolicy struct {
	MaxRetries         int
	BaseDelaySeconds   float64
	MaxDelaySeconds    float64
	RetryOnModelLoading bool
}

// DefaultRetryPolicy returns the spec-mandated defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:          5,
		BaseDelaySeconds:    2,
		MaxDelaySeconds:     30,
		RetryOnModelLoading: true,
	}
}

// APIConfig is the gateway's own HTTP bind configuration.
type APIConfig struct {
	Host string
	Port int
}

// Config is the immutable, validated, in-memory configuration, complete
// with the indices derived from the raw document.
type Config struct {
	API              APIConfig
	Retry            RetryPolicy
	AutoStartRunners bool

	Runners map[string]*RunnerConfig
	Models  map[string]*ModelConfig // keyed by alias

	// aliasToRunner maps alias -> owning runner name.
	aliasToRunner map[string]string
	// runnerAliases maps runner name -> aliases in declaration order.
	runnerAliases map[string][]string
	// declaredAliases preserves the order in which aliases appeared in the
	// "models" list of the raw config document.
	declaredAliases []string
}

// RunnerName returns the name of the runner owning alias, and whether the
// alias exists.
func (c *Config) RunnerName(alias string) (string, bool) {
	name, ok := c.aliasToRunner[alias]
	return name, ok
}

// AliasesForRunner returns the aliases assigned to runner, in declaration
// order.
func (c *Config) AliasesForRunner(runner string) []string {
	return c.runnerAliases[runner]
}

// AllAliases returns every configured alias in the order it was declared in
// the config document's "models" list.
func (c *Config) AllAliases() []string {
	return append([]string(nil), c.declaredAliases...)
}
