package characteristics

import "github.com/caarlos0/env/v11"

// LoaderConfig configures a Loader for callers embedding this package
// as a library outside the aclctl CLI, where environment variables
// are the natural configuration surface rather than a YAML file.
type LoaderConfig struct {
	DSN    string `env:"ACLENGINE_CHAR_DSN,required,notEmpty"`
	Schema string `env:"ACLENGINE_CHAR_SCHEMA" envDefault:"public"`
}

// LoaderConfigFromEnv parses a LoaderConfig from the process
// environment.
func LoaderConfigFromEnv() (*LoaderConfig, error) {
	cfg := &LoaderConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
