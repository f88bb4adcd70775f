package gwconfig

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// build converts a decoded document into a validated, immutable Config. It
// is the single place where the cross-field invariants from spec §3/§4.1
// are enforced; schema.go's structural pass has already run by the time
// build is called.
func build(log *logrus.Entry, doc document) (*Config, error) {
	if len(doc.Models) == 0 {
		return nil, ErrNoModels
	}

	runners := make(map[string]*RunnerConfig, len(doc.Runners))
	usedPorts := make(map[int]string)
	for name, raw := range doc.Runners {
		var r rawRunner
		if err := jsonUnmarshalStrict(raw, &r); err != nil {
			return nil, fmt.Errorf("runner %q: %w", name, err)
		}
		if r.Port <= 0 {
			return nil, fmt.Errorf("runner %q: %w", name, ErrInvalidPort)
		}
		if owner, taken := usedPorts[r.Port]; taken {
			return nil, fmt.Errorf("%w: port %d claimed by both %q and %q", ErrDuplicatePort, r.Port, owner, name)
		}
		usedPorts[r.Port] = name

		parsed, err := parseRunnerPath(log, name, r.Path)
		if err != nil {
			log.Warnf("runner %q: failed to parse path %q as shell tokens, using it verbatim: %v", name, r.Path, err)
			parsed = parsedPath{Executable: r.Path}
		}

		inheritEnv := true
		if r.InheritEnv != nil {
			inheritEnv = *r.InheritEnv
		}

		runners[name] = &RunnerConfig{
			Name:        name,
			Path:        r.Path,
			Executable:  parsed.Executable,
			EnvPrefix:   parsed.EnvPrefix,
			InitialArgs: parsed.InitialArgs,
			Host:        r.Host,
			Port:        r.Port,
			ExtraArgs:   r.ExtraArgs,
			Env:         r.Env,
			InheritEnv:  inheritEnv,
		}
		log.Infof("loaded runner %q: executable=%q host=%s port=%d inherit_env=%t", name, parsed.Executable, r.Host, r.Port, inheritEnv)
	}

	models := make(map[string]*ModelConfig, len(doc.Models))
	declaredAliases := make([]string, 0, len(doc.Models))
	aliasToRunner := make(map[string]string, len(doc.Models))
	runnerAliases := make(map[string][]string, len(runners))
	for _, m := range doc.Models {
		if _, ok := runners[m.Runner]; !ok {
			return nil, fmt.Errorf("%w: model %q names runner %q", ErrUnknownRunner, m.Model, m.Runner)
		}
		alias := m.Alias
		if alias == "" {
			alias = filepath.Base(m.Model)
		}
		if _, taken := models[alias]; taken {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateAlias, alias)
		}

		models[alias] = &ModelConfig{
			Model:        m.Model,
			Alias:        alias,
			Runner:       m.Runner,
			Env:          m.Env,
			Args:         m.Args,
			Mmproj:       m.Mmproj,
			ModelAlias:   m.ModelAlias,
			ContextSize:  m.ContextSize,
			BatchSize:    m.BatchSize,
			Threads:      m.Threads,
			ChatTemplate: m.ChatTemplate,
			SplitMode:    m.SplitMode,
			Embedding:    m.Embedding,
			Reranking:    m.Reranking,
			OffloadKQV:   m.OffloadKQV,
			Jinja:        m.Jinja,
			Pooling:      m.Pooling,
			FlashAttn:    m.FlashAttn,
			UseMlock:     m.UseMlock,
			MainGPU:      m.MainGPU,
			TensorSplit:  m.TensorSplit,
			NGPULayers:   m.NGPULayers,
			CacheTypeK:   m.CacheTypeK,
			CacheTypeV:   m.CacheTypeV,
			RopeScaling:  m.RopeScaling,
			RopeScale:    m.RopeScale,
			YarnOrigCtx:  m.YarnOrigCtx,
		}
		declaredAliases = append(declaredAliases, alias)
		aliasToRunner[alias] = m.Runner
		runnerAliases[m.Runner] = append(runnerAliases[m.Runner], alias)
	}

	retry := DefaultRetryPolicy()
	if doc.RetryConfig != nil {
		if doc.RetryConfig.MaxRetries != nil {
			retry.MaxRetries = *doc.RetryConfig.MaxRetries
		}
		if doc.RetryConfig.BaseDelaySeconds != nil {
			retry.BaseDelaySeconds = *doc.RetryConfig.BaseDelaySeconds
		}
		if doc.RetryConfig.MaxDelaySeconds != nil {
			retry.MaxDelaySeconds = *doc.RetryConfig.MaxDelaySeconds
		}
		if doc.RetryConfig.RetryOnModelLoading != nil {
			retry.RetryOnModelLoading = *doc.RetryConfig.RetryOnModelLoading
		}
	}
	if retry.MaxDelaySeconds < retry.BaseDelaySeconds {
		return nil, ErrInvalidRetryPolicy
	}

	autoStart := true
	if doc.AutoStartRunners != nil {
		autoStart = *doc.AutoStartRunners
	}

	cfg := &Config{
		API:              APIConfig{Host: doc.API.Host, Port: doc.API.Port},
		Retry:            retry,
		AutoStartRunners: autoStart,
		Runners:          runners,
		Models:           models,
		aliasToRunner:    aliasToRunner,
		runnerAliases:    runnerAliases,
		declaredAliases:  declaredAliases,
	}
	return cfg, nil
}
