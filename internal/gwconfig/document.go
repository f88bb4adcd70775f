package gwconfig

import "encoding/json"

// document is the raw shape of the config JSON file, decoded before
// conversion into the typed Config. Per-runner objects are collected via the
// catch-all map and distinguished from the well-known top-level keys.
type document struct {
	API              rawAPI                     `json:"api"`
	Models           []rawModel                 `json:"models"`
	RetryConfig      *rawRetry                   `json:"retry_config"`
	AutoStartRunners *bool                       `json:"auto_start_runners"`
	Runners          map[string]json.RawMessage  `json:"-"`
}

type rawAPI struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type rawRetry struct {
	MaxRetries          *int     `json:"max_retries"`
	BaseDelaySeconds    *float64 `json:"base_delay_seconds"`
	MaxDelaySeconds     *float64 `json:"max_delay_seconds"`
	RetryOnModelLoading *bool    `json:"retry_on_model_loading"`
}

type rawModel struct {
	Model       string            `json:"model"`
	Alias       string            `json:"alias"`
	Runner      string            `json:"runner"`
	Env         map[string]string `json:"env"`
	Args        string            `json:"args"`
	Mmproj      *string           `json:"mmproj"`
	ModelAlias  *string           `json:"model_alias"`
	ContextSize *int              `json:"n_ctx"`
	BatchSize   *int              `json:"n_batch"`
	Threads     *int              `json:"n_threads"`
	ChatTemplate *string          `json:"chat_template"`
	SplitMode   *string           `json:"split_mode"`
	Embedding   *bool             `json:"embedding"`
	Reranking   *bool             `json:"reranking"`
	OffloadKQV  *bool             `json:"offload_kqv"`
	Jinja       *bool             `json:"jinja"`
	Pooling     *string           `json:"pooling"`
	FlashAttn   *string           `json:"flash_attn"`
	UseMlock    *bool             `json:"use_mlock"`
	MainGPU     *string           `json:"main_gpu"`
	TensorSplit []float64         `json:"tensor_split"`
	NGPULayers  *int              `json:"n_gpu_layers"`
	CacheTypeK  *string           `json:"cache-type-k"`
	CacheTypeV  *string           `json:"cache-type-v"`
	RopeScaling *string           `json:"rope-scaling"`
	RopeScale   *string           `json:"rope-scale"`
	YarnOrigCtx *string           `json:"yarn-orig-ctx"`
}

type rawRunner struct {
	Path       string            `json:"path"`
	Host       string            `json:"host"`
	Port       int               `json:"port"`
	ExtraArgs  []string          `json:"extra_args"`
	Env        map[string]string `json:"env"`
	InheritEnv *bool             `json:"inherit_env"`
}

// reservedTopLevelKeys are the top-level document keys that are not runner
// objects.
var reservedTopLevelKeys = map[string]bool{
	"api":                true,
	"models":             true,
	"retry_config":       true,
	"auto_start_runners": true,
}

// unmarshalDocument decodes raw into a document, separating the well-known
// top-level keys from the per-runner objects that share the top level.
func unmarshalDocument(raw []byte) (document, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return document{}, err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil {
		return document{}, err
	}
	doc.Runners = make(map[string]json.RawMessage, len(all))
	for key, value := range all {
		if reservedTopLevelKeys[key] {
			continue
		}
		doc.Runners[key] = value
	}
	return doc, nil
}
