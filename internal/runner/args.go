package runner

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/sirupsen/logrus"

	"github.com/flexllama/flexllama/internal/gwconfig"
)

// buildArgs constructs a runner's arguments per the fixed flag table in
// SPEC_FULL.md §6: [initial_args_from_path_prefix, --model, PATH, --host,
// HOST, --port, PORT, ...mapped tunables..., ...model.args (shell-split),
// ...runner.extra_args]. The executable itself is not part of the returned
// slice; the caller passes it separately to procgroup.Start.
func buildArgs(log *logrus.Entry, cfg *gwconfig.RunnerConfig, model *gwconfig.ModelConfig) []string {
	args := make([]string, 0, 32)
	args = append(args, cfg.InitialArgs...)
	args = append(args, "--model", model.Model)
	args = append(args, "--host", cfg.Host)
	args = append(args, "--port", strconv.Itoa(cfg.Port))

	if model.Mmproj != nil {
		args = append(args, "--mmproj", *model.Mmproj)
	}
	if model.ModelAlias != nil {
		args = append(args, "--alias", *model.ModelAlias)
	}
	if model.ContextSize != nil {
		args = append(args, "--ctx-size", strconv.Itoa(*model.ContextSize))
	}
	if model.BatchSize != nil {
		args = append(args, "--batch-size", strconv.Itoa(*model.BatchSize))
	}
	if model.Threads != nil {
		args = append(args, "--threads", strconv.Itoa(*model.Threads))
	}
	if model.ChatTemplate != nil {
		args = append(args, "--chat-template", *model.ChatTemplate)
	}
	if model.SplitMode != nil {
		args = append(args, "--split-mode", *model.SplitMode)
	}
	if model.Embedding != nil && *model.Embedding {
		args = append(args, "--embedding")
	}
	if model.Reranking != nil && *model.Reranking {
		args = append(args, "--reranking")
	}
	if model.OffloadKQV != nil && !*model.OffloadKQV {
		args = append(args, "--no-kv-offload")
	}
	if model.Jinja != nil && *model.Jinja {
		args = append(args, "--jinja")
	}
	if model.Pooling != nil {
		args = append(args, "--pooling", *model.Pooling)
	}
	if model.FlashAttn != nil {
		args = append(args, "--flash-attn", *model.FlashAttn)
	}
	if model.UseMlock != nil && *model.UseMlock {
		args = append(args, "--mlock")
	}
	if model.MainGPU != nil {
		args = append(args, "--main-gpu", *model.MainGPU)
	}
	if len(model.TensorSplit) > 0 {
		parts := make([]string, len(model.TensorSplit))
		for i, v := range model.TensorSplit {
			parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		args = append(args, "--tensor-split", strings.Join(parts, ","))
	}
	if model.NGPULayers != nil {
		args = append(args, "--n-gpu-layers", strconv.Itoa(*model.NGPULayers))
	}
	if model.CacheTypeK != nil {
		args = append(args, "--cache-type-k", *model.CacheTypeK)
	}
	if model.CacheTypeV != nil {
		args = append(args, "--cache-type-v", *model.CacheTypeV)
	}
	if model.RopeScaling != nil {
		args = append(args, "--rope-scaling", *model.RopeScaling)
	}
	if model.RopeScale != nil {
		args = append(args, "--rope-scale", *model.RopeScale)
	}
	if model.YarnOrigCtx != nil {
		args = append(args, "--yarn-orig-ctx", *model.YarnOrigCtx)
	}

	args = append(args, splitModelArgs(log, model.Args)...)
	args = append(args, cfg.ExtraArgs...)
	return args
}

// splitModelArgs shell-splits model.Args per POSIX rules, falling back to a
// whitespace split (and logging why) if the string isn't valid shell syntax
// (e.g. an unterminated quote).
func splitModelArgs(log *logrus.Entry, raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	tokens, err := shellwords.Parse(raw)
	if err != nil {
		log.Warnf("failed to shell-split model args %q, falling back to whitespace split: %v", raw, err)
		return strings.Fields(raw)
	}
	return tokens
}

// buildEnv composes the child's environment per SPEC_FULL.md §4.2 step 4:
// base (inherited or empty), then runner.env, then model.env, then the
// legacy path-prefix NAME=VALUE assignments, each layer overriding the
// last. Only variable names are logged, never values.
func buildEnv(log *logrus.Entry, cfg *gwconfig.RunnerConfig, model *gwconfig.ModelConfig) []string {
	merged := make(map[string]string)
	if cfg.InheritEnv {
		for _, kv := range os.Environ() {
			if idx := strings.IndexByte(kv, '='); idx >= 0 {
				merged[kv[:idx]] = kv[idx+1:]
			}
		}
	}
	applyOverlay(merged, cfg.Env)
	applyOverlay(merged, model.Env)
	applyOverlay(merged, cfg.EnvPrefix)

	names := make([]string, 0, len(merged))
	env := make([]string, 0, len(merged))
	for k, v := range merged {
		names = append(names, k)
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	log.Debugf("applying environment variables: %s", strings.Join(names, ", "))
	return env
}

func applyOverlay(dst, overlay map[string]string) {
	for k, v := range overlay {
		dst[k] = v
	}
}
